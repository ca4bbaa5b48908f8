package core

import (
	"fmt"

	"BlueLedger/internal/event"
	fpmath "BlueLedger/internal/math"
	"BlueLedger/internal/state"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// SupplyCollateral posts collateral for onBehalf. Collateral earns nothing
// and never leaves the market except by withdrawal or liquidation.
func (c *DeterministicCore) SupplyCollateral(
	caller common.Address,
	params state.MarketParams,
	assets *uint256.Int,
	onBehalf common.Address,
	data []byte,
	cb event.Callback,
) error {
	return c.atomic(func() error {
		id, err := c.requireMarket(params)
		if err != nil {
			return err
		}
		if assets == nil || assets.IsZero() {
			return state.ErrZeroAssets
		}
		if isZeroAddr(onBehalf) {
			return fmt.Errorf("%w: on behalf", state.ErrZeroAddress)
		}
		if err := c.accrueInterest(params, id); err != nil {
			return err
		}

		pos := c.positionForUpdate(id, onBehalf)
		if pos.Collateral, err = fpmath.Add(pos.Collateral, assets); err != nil {
			return err
		}

		c.emit(&event.CollateralSupplied{ID: id, Caller: caller, OnBehalf: onBehalf, Assets: assets.Clone()})

		if cb != nil {
			if err := cb(assets.Clone(), data); err != nil {
				return fmt.Errorf("supply collateral callback: %w", err)
			}
		}
		return c.pull(params.CollateralToken, caller, assets)
	})
}

// WithdrawCollateral releases onBehalf's collateral to receiver as long as
// the position stays healthy.
func (c *DeterministicCore) WithdrawCollateral(
	caller common.Address,
	params state.MarketParams,
	assets *uint256.Int,
	onBehalf, receiver common.Address,
) error {
	return c.atomic(func() error {
		id, err := c.requireMarket(params)
		if err != nil {
			return err
		}
		if assets == nil || assets.IsZero() {
			return state.ErrZeroAssets
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

		pos := c.positionForUpdate(id, onBehalf)
		if pos.Collateral, err = fpmath.Sub(pos.Collateral, assets); err != nil {
			return fmt.Errorf("%w: withdrawing more than posted", state.ErrInsufficientCollateral)
		}

		healthy, err := c.isHealthy(params, id, onBehalf)
		if err != nil {
			return err
		}
		if !healthy {
			return state.ErrInsufficientCollateral
		}

		c.emit(&event.CollateralWithdrawn{ID: id, Caller: caller, OnBehalf: onBehalf, Receiver: receiver, Assets: assets.Clone()})
		return c.push(params.CollateralToken, receiver, assets)
	})
}
