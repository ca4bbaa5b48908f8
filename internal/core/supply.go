package core

import (
	"fmt"

	"BlueLedger/internal/event"
	fpmath "BlueLedger/internal/math"
	"BlueLedger/internal/state"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Supply lends loan tokens into a market on behalf of onBehalf and returns
// the assets and shares actually moved. Exactly one of assets and shares is
// non-zero. The callback, if any, runs before tokens are pulled from caller.
func (c *DeterministicCore) Supply(
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
			shares, err = fpmath.ToSharesDown(assets, m.TotalSupplyAssets, m.TotalSupplyShares)
		} else {
			assets, err = fpmath.ToAssetsUp(shares, m.TotalSupplyAssets, m.TotalSupplyShares)
		}
		if err != nil {
			return err
		}

		pos := c.positionForUpdate(id, onBehalf)
		if pos.SupplyShares, err = fpmath.Add(pos.SupplyShares, shares); err != nil {
			return err
		}
		if m.TotalSupplyShares, err = fpmath.Add(m.TotalSupplyShares, shares); err != nil {
			return err
		}
		if m.TotalSupplyAssets, err = fpmath.Add(m.TotalSupplyAssets, assets); err != nil {
			return err
		}

		c.emit(&event.Supplied{ID: id, Caller: caller, OnBehalf: onBehalf, Assets: assets, Shares: shares})

		if cb != nil {
			if err := cb(assets.Clone(), data); err != nil {
				return fmt.Errorf("supply callback: %w", err)
			}
		}
		return c.pull(params.LoanToken, caller, assets)
	})
	if err != nil {
		return nil, nil, err
	}
	return assets, shares, nil
}

// Withdraw redeems onBehalf's supply shares and sends the loan tokens to
// receiver. The caller must be onBehalf or authorized by it.
func (c *DeterministicCore) Withdraw(
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
			shares, err = fpmath.ToSharesUp(assets, m.TotalSupplyAssets, m.TotalSupplyShares)
		} else {
			assets, err = fpmath.ToAssetsDown(shares, m.TotalSupplyAssets, m.TotalSupplyShares)
		}
		if err != nil {
			return err
		}

		pos := c.positionForUpdate(id, onBehalf)
		if pos.SupplyShares, err = fpmath.Sub(pos.SupplyShares, shares); err != nil {
			return fmt.Errorf("%w: supply shares", state.ErrInsufficientBalance)
		}
		if m.TotalSupplyShares, err = fpmath.Sub(m.TotalSupplyShares, shares); err != nil {
			return fmt.Errorf("%w: supply shares", state.ErrInsufficientBalance)
		}
		if m.TotalSupplyAssets, err = fpmath.Sub(m.TotalSupplyAssets, assets); err != nil {
			return state.ErrInsufficientLiquidity
		}
		if m.TotalBorrowAssets.Gt(m.TotalSupplyAssets) {
			return state.ErrInsufficientLiquidity
		}

		c.emit(&event.Withdrawn{ID: id, Caller: caller, OnBehalf: onBehalf, Receiver: receiver, Assets: assets, Shares: shares})
		return c.push(params.LoanToken, receiver, assets)
	})
	if err != nil {
		return nil, nil, err
	}
	return assets, shares, nil
}
