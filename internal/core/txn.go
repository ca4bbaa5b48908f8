package core

import (
	"BlueLedger/internal/event"
	"BlueLedger/internal/state"

	"github.com/ethereum/go-ethereum/common"
)

// checkpoint marks a point the core can roll back to.
type checkpoint struct {
	undo    int
	records int
	book    int
	tokens  int
}

func (c *DeterministicCore) checkpoint() checkpoint {
	cp := checkpoint{
		undo:    len(c.undo),
		records: len(c.records),
		book:    c.book.Snapshot(),
	}
	if c.extTokens != nil {
		cp.tokens = c.extTokens.Snapshot()
	}
	return cp
}

func (c *DeterministicCore) revert(cp checkpoint) {
	for i := len(c.undo) - 1; i >= cp.undo; i-- {
		c.undo[i]()
	}
	c.undo = c.undo[:cp.undo]
	c.records = c.records[:cp.records]
	c.book.RevertToSnapshot(cp.book)
	if c.extTokens != nil {
		c.extTokens.RevertToSnapshot(cp.tokens)
	}
}

func (c *DeterministicCore) commit() {
	c.undo = c.undo[:0]
	c.book.Commit()
	if c.extTokens != nil {
		c.extTokens.Commit()
	}
}

// atomic runs fn so that a failure leaves no trace. Operations invoked from
// callbacks nest inside the outer operation and commit with it.
func (c *DeterministicCore) atomic(fn func() error) error {
	cp := c.checkpoint()
	c.depth++
	err := fn()
	c.depth--
	if err != nil {
		c.revert(cp)
		return err
	}
	if c.depth == 0 {
		c.commit()
	}
	return nil
}

func (c *DeterministicCore) onUndo(fn func()) {
	c.undo = append(c.undo, fn)
}

func (c *DeterministicCore) emit(r event.Record) {
	c.records = append(c.records, r)
}

// marketForUpdate returns the live market and records its prior value.
func (c *DeterministicCore) marketForUpdate(id state.MarketID) *state.Market {
	m := c.registry.Market(id)
	prev := m.Clone()
	c.onUndo(func() { c.registry.SetMarket(id, prev) })
	c.touchedMarkets[id] = true
	return m
}

// positionForUpdate returns the live position, creating it if needed, and
// records its prior value.
func (c *DeterministicCore) positionForUpdate(id state.MarketID, user common.Address) *state.Position {
	key := state.PositionKey{Market: id, User: user}
	if prev := c.positions.GetPosition(id, user); prev != nil {
		saved := prev.Clone()
		c.onUndo(func() { c.positions.SetPosition(key, saved) })
	} else {
		c.onUndo(func() { c.positions.DeletePosition(key) })
	}
	c.touchedPositions[key] = true
	return c.positions.GetOrCreatePosition(id, user)
}

func (c *DeterministicCore) resetTouched() {
	c.touchedMarkets = make(map[state.MarketID]bool)
	c.touchedPositions = make(map[state.PositionKey]bool)
	c.records = c.records[:0]
}
