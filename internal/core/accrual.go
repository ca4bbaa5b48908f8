package core

import (
	"fmt"

	"BlueLedger/internal/event"
	fpmath "BlueLedger/internal/math"
	"BlueLedger/internal/state"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// accrual is the outcome of compounding a market forward in time.
type accrual struct {
	rate      *uint256.Int
	interest  *uint256.Int
	feeShares *uint256.Int
	elapsed   uint64
}

// AccrueInterest brings a market's totals up to the current block time.
func (c *DeterministicCore) AccrueInterest(params state.MarketParams) error {
	return c.atomic(func() error {
		id, err := c.requireMarket(params)
		if err != nil {
			return err
		}
		return c.accrueInterest(params, id)
	})
}

func (c *DeterministicCore) accrueInterest(params state.MarketParams, id state.MarketID) error {
	if c.registry.Market(id).LastUpdate == c.now {
		return nil
	}

	m := c.marketForUpdate(id)
	a, err := c.project(params, m, c.now)
	if err != nil {
		return err
	}
	if a.feeShares != nil && !a.feeShares.IsZero() {
		pos := c.positionForUpdate(id, c.registry.FeeRecipient)
		if pos.SupplyShares, err = fpmath.Add(pos.SupplyShares, a.feeShares); err != nil {
			return err
		}
	}
	if a.interest != nil {
		c.emit(&event.InterestAccrued{
			ID:         id,
			BorrowRate: a.rate,
			Interest:   a.interest,
			FeeShares:  a.feeShares,
			Elapsed:    a.elapsed,
		})
	}
	return nil
}

// project compounds m in place up to now. Fee shares are added to the
// market's supply shares but not to any position.
func (c *DeterministicCore) project(params state.MarketParams, m *state.Market, now uint64) (accrual, error) {
	a := accrual{}
	if now <= m.LastUpdate {
		return a, nil
	}
	a.elapsed = now - m.LastUpdate
	m.LastUpdate = now

	if isZeroAddr(params.RateModel) {
		return a, nil
	}
	rm, err := c.rateModel(params.RateModel)
	if err != nil {
		return a, err
	}
	rate, err := rm.BorrowRate(params, *m.Clone())
	if err != nil {
		return a, fmt.Errorf("rate model %s: %w", params.RateModel.Hex(), err)
	}
	growth, err := c.opts.Compounding.Growth(rate, a.elapsed)
	if err != nil {
		return a, err
	}
	interest, err := fpmath.WMulDown(m.TotalBorrowAssets, growth)
	if err != nil {
		return a, err
	}
	if m.TotalBorrowAssets, err = fpmath.Add(m.TotalBorrowAssets, interest); err != nil {
		return a, err
	}
	if m.TotalSupplyAssets, err = fpmath.Add(m.TotalSupplyAssets, interest); err != nil {
		return a, err
	}

	feeShares := fpmath.Zero()
	if !m.Fee.IsZero() {
		feeAmount, err := fpmath.WMulDown(interest, m.Fee)
		if err != nil {
			return a, err
		}
		// Priced against totals that already include the interest.
		if feeShares, err = fpmath.ToSharesDown(feeAmount, m.TotalSupplyAssets, m.TotalSupplyShares); err != nil {
			return a, err
		}
		if m.TotalSupplyShares, err = fpmath.Add(m.TotalSupplyShares, feeShares); err != nil {
			return a, err
		}
	}

	a.rate = rate
	a.interest = interest
	a.feeShares = feeShares
	return a, nil
}

// ExpectedMarketBalances returns the market totals as they would be after
// accruing interest up to now, without changing state.
func (c *DeterministicCore) ExpectedMarketBalances(params state.MarketParams, now uint64) (*state.Market, error) {
	id, err := c.requireMarket(params)
	if err != nil {
		return nil, err
	}
	m := c.registry.Market(id).Clone()
	if _, err := c.project(params, m, now); err != nil {
		return nil, err
	}
	return m, nil
}

// ExpectedSupplyAssets values user's supply shares at now, rounding down.
func (c *DeterministicCore) ExpectedSupplyAssets(params state.MarketParams, user common.Address, now uint64) (*uint256.Int, error) {
	m, err := c.ExpectedMarketBalances(params, now)
	if err != nil {
		return nil, err
	}
	pos := c.positions.View(params.ID(), user).Clone()
	if user == c.registry.FeeRecipient {
		// Pending fee shares belong to the recipient.
		cur := c.registry.Market(params.ID())
		pending, err := fpmath.Sub(m.TotalSupplyShares, cur.TotalSupplyShares)
		if err != nil {
			return nil, err
		}
		if pos.SupplyShares, err = fpmath.Add(pos.SupplyShares, pending); err != nil {
			return nil, err
		}
	}
	return fpmath.ToAssetsDown(pos.SupplyShares, m.TotalSupplyAssets, m.TotalSupplyShares)
}

// ExpectedBorrowAssets values user's debt at now, rounding up.
func (c *DeterministicCore) ExpectedBorrowAssets(params state.MarketParams, user common.Address, now uint64) (*uint256.Int, error) {
	m, err := c.ExpectedMarketBalances(params, now)
	if err != nil {
		return nil, err
	}
	pos := c.positions.View(params.ID(), user)
	return fpmath.ToAssetsUp(pos.BorrowShares, m.TotalBorrowAssets, m.TotalBorrowShares)
}
