package oracle

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var ErrNoPrice = errors.New("oracle: no price published")

// PriceState is the latest published price of one oracle. Prices are
// collateral quoted in loan token, scaled by 1e36.
type PriceState struct {
	Price    *uint256.Int `json:"price"`
	Sequence int64        `json:"sequence"`
}

// Feed stores pushed prices for every oracle address the ledger knows.
type Feed struct {
	mu     sync.RWMutex
	prices map[common.Address]*PriceState
}

func NewFeed() *Feed {
	return &Feed{prices: make(map[common.Address]*PriceState)}
}

// Update publishes a price. Updates at or below the current sequence are
// stale and ignored; gaps are accepted. prev is the replaced state (nil when
// the oracle had none).
func (f *Feed) Update(oracle common.Address, price *uint256.Int, sequence int64) (prev *PriceState, applied bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	current := f.prices[oracle]
	if current != nil && sequence <= current.Sequence {
		return current, false
	}

	f.prices[oracle] = &PriceState{Price: price.Clone(), Sequence: sequence}
	return current, true
}

// Restore sets or clears an oracle's state without ordering checks (undo
// and snapshot restore).
func (f *Feed) Restore(oracle common.Address, ps *PriceState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ps == nil {
		delete(f.prices, oracle)
		return
	}
	f.prices[oracle] = ps
}

// Latest returns the current state of an oracle
func (f *Feed) Latest(oracle common.Address) (*PriceState, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	ps, ok := f.prices[oracle]
	return ps, ok
}

// Oracles returns every oracle with a published price, in address order
func (f *Feed) Oracles() []common.Address {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]common.Address, 0, len(f.prices))
	for a := range f.prices {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}

// Source returns the oracle at addr backed by this feed.
func (f *Feed) Source(addr common.Address) *FeedOracle {
	return &FeedOracle{feed: f, addr: addr}
}

// FeedOracle reads one address of a Feed.
type FeedOracle struct {
	feed *Feed
	addr common.Address
}

func (o *FeedOracle) Price() (*uint256.Int, error) {
	ps, ok := o.feed.Latest(o.addr)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoPrice, o.addr.Hex())
	}
	return ps.Price.Clone(), nil
}

// Fixed is an oracle whose price is set directly.
type Fixed struct {
	mu    sync.RWMutex
	price *uint256.Int
}

func NewFixed(price *uint256.Int) *Fixed {
	return &Fixed{price: price.Clone()}
}

func (o *Fixed) SetPrice(price *uint256.Int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.price = price.Clone()
}

func (o *Fixed) Price() (*uint256.Int, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.price == nil {
		return nil, ErrNoPrice
	}
	return o.price.Clone(), nil
}
