package core

import (
	"BlueLedger/internal/ledger"
	"BlueLedger/internal/oracle"
	"BlueLedger/internal/state"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// Views read committed state. They must run on the sequencer goroutine or
// while no command is in flight.

// Now returns the block time of the last applied command.
func (c *DeterministicCore) Now() uint64 {
	return c.now
}

func (c *DeterministicCore) Owner() common.Address {
	return c.registry.Owner
}

func (c *DeterministicCore) FeeRecipient() common.Address {
	return c.registry.FeeRecipient
}

// Market returns a copy of the market's stored totals.
func (c *DeterministicCore) Market(id state.MarketID) (*state.Market, bool) {
	if !c.registry.HasMarket(id) {
		return nil, false
	}
	return c.registry.Market(id).Clone(), true
}

func (c *DeterministicCore) MarketParams(id state.MarketID) (state.MarketParams, bool) {
	return c.registry.Params(id)
}

func (c *DeterministicCore) MarketIDs() []state.MarketID {
	return c.registry.MarketIDs()
}

// Position returns a copy of user's position; absent positions are zero.
func (c *DeterministicCore) Position(id state.MarketID, user common.Address) *state.Position {
	return c.positions.View(id, user).Clone()
}

// MarketPositions lists the positions held in a market.
func (c *DeterministicCore) MarketPositions(id state.MarketID) []PositionState {
	keys := c.positions.MarketPositions(id)
	out := make([]PositionState, 0, len(keys))
	for _, key := range keys {
		out = append(out, PositionState{Key: key, Position: c.positions.View(key.Market, key.User).Clone()})
	}
	return out
}

func (c *DeterministicCore) IsAuthorized(authorizer, delegate common.Address) bool {
	return c.auths.IsAuthorized(authorizer, delegate)
}

func (c *DeterministicCore) IsRateModelEnabled(irm common.Address) bool {
	return c.registry.IsRateModelEnabled(irm)
}

func (c *DeterministicCore) IsLltvEnabled(lltv *uint256.Int) bool {
	return c.registry.IsLltvEnabled(lltv)
}

// HealthFactor values user's position at the oracle price. ok is false
// when the position has no debt.
func (c *DeterministicCore) HealthFactor(params state.MarketParams, user common.Address) (decimal.Decimal, bool, error) {
	id, err := c.requireMarket(params)
	if err != nil {
		return decimal.Zero, false, err
	}
	pos := c.positions.View(id, user)
	if !pos.HasDebt() {
		return decimal.Zero, false, nil
	}
	price, err := c.price(params)
	if err != nil {
		return decimal.Zero, false, err
	}
	return state.HealthFactor(params, c.registry.Market(id), pos, price)
}

// BalanceOf returns holder's custody-book balance of asset.
func (c *DeterministicCore) BalanceOf(asset, holder common.Address) *uint256.Int {
	return c.book.BalanceOf(asset, holder)
}

func (c *DeterministicCore) Allowance(asset, owner, spender common.Address) *uint256.Int {
	return c.book.Allowance(asset, owner, spender)
}

// Custody is the account holding the ledger's own tokens.
func (c *DeterministicCore) Custody() common.Address {
	return c.opts.Custody
}

// Book exposes the custody book for configuration and inspection.
func (c *DeterministicCore) Book() *ledger.Book {
	return c.book
}

// Feed exposes the price feed for inspection.
func (c *DeterministicCore) Feed() *oracle.Feed {
	return c.feed
}

// BorrowRate is the market's current per-second borrow rate. Markets
// without a rate model accrue nothing.
func (c *DeterministicCore) BorrowRate(params state.MarketParams) (*uint256.Int, error) {
	id, err := c.requireMarket(params)
	if err != nil {
		return nil, err
	}
	if isZeroAddr(params.RateModel) {
		return new(uint256.Int), nil
	}
	rm, err := c.rateModel(params.RateModel)
	if err != nil {
		return nil, err
	}
	return rm.BorrowRate(params, *c.registry.Market(id))
}

// Price is the collateral price the market's oracle currently quotes.
func (c *DeterministicCore) Price(params state.MarketParams) (*uint256.Int, error) {
	return c.price(params)
}
