package core

import (
	"fmt"

	"BlueLedger/internal/event"
	fpmath "BlueLedger/internal/math"
	"BlueLedger/internal/state"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Liquidate repays part of an unhealthy borrower's debt in exchange for
// collateral at the market's incentive factor. Exactly one of seizedAssets
// and repaidShares is non-zero. Collateral reaches the caller before the
// callback runs and before loan tokens are pulled. Debt left on a position
// without collateral is written off against suppliers. A position that keeps
// debt must come out with a strictly higher health ratio.
func (c *DeterministicCore) Liquidate(
	caller common.Address,
	params state.MarketParams,
	borrower common.Address,
	seizedAssets, repaidShares *uint256.Int,
	data []byte,
	cb event.Callback,
) (*uint256.Int, *uint256.Int, error) {
	seizedAssets, repaidShares = fpmath.OrZero(seizedAssets), fpmath.OrZero(repaidShares)
	var seizure state.Seizure
	err := c.atomic(func() error {
		id, err := c.requireMarket(params)
		if err != nil {
			return err
		}
		if !fpmath.ExactlyOneZero(seizedAssets, repaidShares) {
			return state.ErrInconsistentInput
		}
		if err := c.accrueInterest(params, id); err != nil {
			return err
		}

		price, err := c.price(params)
		if err != nil {
			return err
		}
		m := c.marketForUpdate(id)
		healthy, err := state.IsHealthy(params, m, c.positions.View(id, borrower), price)
		if err != nil {
			return err
		}
		if healthy {
			return state.ErrHealthyPosition
		}
		before, err := state.ReadHealth(params, m, c.positions.View(id, borrower), price)
		if err != nil {
			return err
		}

		seizure, err = c.opts.Liquidation.ComputeSeizure(m, params.Lltv, price, seizedAssets, repaidShares)
		if err != nil {
			return err
		}

		pos := c.positionForUpdate(id, borrower)
		if pos.BorrowShares, err = fpmath.Sub(pos.BorrowShares, seizure.RepaidShares); err != nil {
			return fmt.Errorf("%w: repaid shares exceed debt", state.ErrInsufficientBalance)
		}
		if m.TotalBorrowShares, err = fpmath.Sub(m.TotalBorrowShares, seizure.RepaidShares); err != nil {
			return fmt.Errorf("%w: repaid shares exceed debt", state.ErrInsufficientBalance)
		}
		m.TotalBorrowAssets = fpmath.ZeroFloorSub(m.TotalBorrowAssets, seizure.RepaidAssets)
		if pos.Collateral, err = fpmath.Sub(pos.Collateral, seizure.SeizedAssets); err != nil {
			return fmt.Errorf("%w: seizing more than posted", state.ErrInsufficientCollateral)
		}

		bad, err := state.RealizeBadDebt(m, pos)
		if err != nil {
			return err
		}
		if !pos.BorrowShares.IsZero() {
			after, err := state.ReadHealth(params, m, pos, price)
			if err != nil {
				return err
			}
			if !before.ImprovedBy(after) {
				return fmt.Errorf("%w: %s/%s after %s/%s", state.ErrLiquidationWorsensHealth,
					after.MaxBorrow.Dec(), after.Borrowed.Dec(), before.MaxBorrow.Dec(), before.Borrowed.Dec())
			}
		}
		rec := &event.Liquidated{
			ID:            id,
			Caller:        caller,
			Borrower:      borrower,
			RepaidAssets:  seizure.RepaidAssets,
			RepaidShares:  seizure.RepaidShares,
			SeizedAssets:  seizure.SeizedAssets,
			BadDebtAssets: fpmath.Zero(),
			BadDebtShares: fpmath.Zero(),
		}
		if !bad.IsZero() {
			rec.BadDebtAssets = bad.Assets
			rec.BadDebtShares = bad.Shares
		}
		c.emit(rec)

		if err := c.push(params.CollateralToken, caller, seizure.SeizedAssets); err != nil {
			return err
		}
		if cb != nil {
			if err := cb(seizure.RepaidAssets.Clone(), data); err != nil {
				return fmt.Errorf("liquidate callback: %w", err)
			}
		}
		return c.pull(params.LoanToken, caller, seizure.RepaidAssets)
	})
	if err != nil {
		return nil, nil, err
	}
	return seizure.SeizedAssets, seizure.RepaidAssets, nil
}
