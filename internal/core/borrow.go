package core

import (
	"fmt"

	"BlueLedger/internal/event"
	fpmath "BlueLedger/internal/math"
	"BlueLedger/internal/state"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Borrow draws loan tokens against onBehalf's collateral and sends them to
// receiver. The position must stay healthy and the market liquid.
func (c *DeterministicCore) Borrow(
	caller common.Address,
	params state.MarketParams,
	assets, shares *uint256.Int,
	onBehalf, receiver common.Address,
) (*uint256.Int, *uint256.Int, error) {
	assets, shares = fpmath.OrZero(assets), fpmath.OrZero(shares)
	err := c.atomic(func() error {
		id, err := c.requireMarket(params)
		if err != nil {
			return err
		}
		if !fpmath.ExactlyOneZero(assets, shares) {
			return state.ErrInconsistentInput
		}
		if isZeroAddr(receiver) {
			return fmt.Errorf("%w: receiver", state.ErrZeroAddress)
		}
		if err := c.requireAuthorized(caller, onBehalf); err != nil {
			return err
		}
		if err := c.accrueInterest(params, id); err != nil {
			return err
		}

		m := c.marketForUpdate(id)
		if !assets.IsZero() {
			shares, err = fpmath.ToSharesUp(assets, m.TotalBorrowAssets, m.TotalBorrowShares)
		} else {
			assets, err = fpmath.ToAssetsDown(shares, m.TotalBorrowAssets, m.TotalBorrowShares)
		}
		if err != nil {
			return err
		}

		pos := c.positionForUpdate(id, onBehalf)
		if pos.BorrowShares, err = fpmath.Add(pos.BorrowShares, shares); err != nil {
			return err
		}
		if m.TotalBorrowShares, err = fpmath.Add(m.TotalBorrowShares, shares); err != nil {
			return err
		}
		if m.TotalBorrowAssets, err = fpmath.Add(m.TotalBorrowAssets, assets); err != nil {
			return err
		}

		healthy, err := c.isHealthy(params, id, onBehalf)
		if err != nil {
			return err
		}
		if !healthy {
			return state.ErrInsufficientCollateral
		}
		if m.TotalBorrowAssets.Gt(m.TotalSupplyAssets) {
			return state.ErrInsufficientLiquidity
		}

		c.emit(&event.Borrowed{ID: id, Caller: caller, OnBehalf: onBehalf, Receiver: receiver, Assets: assets, Shares: shares})
		return c.push(params.LoanToken, receiver, assets)
	})
	if err != nil {
		return nil, nil, err
	}
	return assets, shares, nil
}

// Repay pays back onBehalf's debt. Anyone may repay for anyone. Market
// borrow assets floor at zero to absorb share rounding.
func (c *DeterministicCore) Repay(
	caller common.Address,
	params state.MarketParams,
	assets, shares *uint256.Int,
	onBehalf common.Address,
	data []byte,
	cb event.Callback,
) (*uint256.Int, *uint256.Int, error) {
	assets, shares = fpmath.OrZero(assets), fpmath.OrZero(shares)
	err := c.atomic(func() error {
		id, err := c.requireMarket(params)
		if err != nil {
			return err
		}
		if !fpmath.ExactlyOneZero(assets, shares) {
			return state.ErrInconsistentInput
		}
		if isZeroAddr(onBehalf) {
			return fmt.Errorf("%w: on behalf", state.ErrZeroAddress)
		}
		if err := c.accrueInterest(params, id); err != nil {
			return err
		}

		m := c.marketForUpdate(id)
		if !assets.IsZero() {
			shares, err = fpmath.ToSharesDown(assets, m.TotalBorrowAssets, m.TotalBorrowShares)
		} else {
			assets, err = fpmath.ToAssetsUp(shares, m.TotalBorrowAssets, m.TotalBorrowShares)
		}
		if err != nil {
			return err
		}

		pos := c.positionForUpdate(id, onBehalf)
		if pos.BorrowShares, err = fpmath.Sub(pos.BorrowShares, shares); err != nil {
			return fmt.Errorf("%w: repaid shares exceed debt", state.ErrInsufficientBalance)
		}
		if m.TotalBorrowShares, err = fpmath.Sub(m.TotalBorrowShares, shares); err != nil {
			return fmt.Errorf("%w: repaid shares exceed debt", state.ErrInsufficientBalance)
		}
		m.TotalBorrowAssets = fpmath.ZeroFloorSub(m.TotalBorrowAssets, assets)

		c.emit(&event.Repaid{ID: id, Caller: caller, OnBehalf: onBehalf, Assets: assets, Shares: shares})

		if cb != nil {
			if err := cb(assets.Clone(), data); err != nil {
				return fmt.Errorf("repay callback: %w", err)
			}
		}
		return c.pull(params.LoanToken, caller, assets)
	})
	if err != nil {
		return nil, nil, err
	}
	return assets, shares, nil
}
