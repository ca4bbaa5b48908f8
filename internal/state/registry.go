package state

import (
	"bytes"
	"fmt"
	"sort"

	fpmath "BlueLedger/internal/math"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Registry holds the owner-governed configuration: the owner, the fee
// recipient, the whitelists and the parameters of every created market.
type Registry struct {
	Owner        common.Address
	FeeRecipient common.Address

	rateModels map[common.Address]bool
	lltvs      map[uint256.Int]bool
	params     map[MarketID]MarketParams
	markets    map[MarketID]*Market
}

func NewRegistry(owner common.Address) *Registry {
	return &Registry{
		Owner:      owner,
		rateModels: make(map[common.Address]bool),
		lltvs:      make(map[uint256.Int]bool),
		params:     make(map[MarketID]MarketParams),
		markets:    make(map[MarketID]*Market),
	}
}

func (r *Registry) IsRateModelEnabled(irm common.Address) bool {
	return r.rateModels[irm]
}

func (r *Registry) SetRateModelEnabled(irm common.Address, enabled bool) {
	if enabled {
		r.rateModels[irm] = true
		return
	}
	delete(r.rateModels, irm)
}

func (r *Registry) IsLltvEnabled(lltv *uint256.Int) bool {
	return r.lltvs[*lltv]
}

func (r *Registry) SetLltvEnabled(lltv *uint256.Int, enabled bool) {
	if enabled {
		r.lltvs[*lltv] = true
		return
	}
	delete(r.lltvs, *lltv)
}

// RateModels returns enabled rate models in address order
func (r *Registry) RateModels() []common.Address {
	out := make([]common.Address, 0, len(r.rateModels))
	for a := range r.rateModels {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}

// Lltvs returns enabled LLTVs in ascending order
func (r *Registry) Lltvs() []*uint256.Int {
	out := make([]*uint256.Int, 0, len(r.lltvs))
	for v := range r.lltvs {
		out = append(out, new(uint256.Int).Set(&v))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Lt(out[j]) })
	return out
}

// ValidateLltv checks that an LLTV can be whitelisted.
func ValidateLltv(lltv *uint256.Int) error {
	if lltv.Cmp(fpmath.WAD) >= 0 {
		return fmt.Errorf("%w: %s", ErrLltvTooHigh, lltv.Dec())
	}
	return nil
}

// ValidateFee checks that a fee does not exceed MaxFee.
func ValidateFee(fee *uint256.Int) error {
	if fee.Gt(MaxFee) {
		return fmt.Errorf("%w: %s", ErrFeeTooHigh, fee.Dec())
	}
	return nil
}

// Market returns the market state, or nil if it was never created.
func (r *Registry) Market(id MarketID) *Market {
	return r.markets[id]
}

// Params returns the creation parameters of a market.
func (r *Registry) Params(id MarketID) (MarketParams, bool) {
	p, ok := r.params[id]
	return p, ok
}

func (r *Registry) HasMarket(id MarketID) bool {
	_, ok := r.markets[id]
	return ok
}

// PutMarket stores a market and its params (create, snapshot restore and undo).
func (r *Registry) PutMarket(params MarketParams, m *Market) {
	id := params.ID()
	r.params[id] = params
	r.markets[id] = m
}

// SetMarket replaces the state of an existing market.
func (r *Registry) SetMarket(id MarketID, m *Market) {
	r.markets[id] = m
}

// RemoveMarket undoes a creation.
func (r *Registry) RemoveMarket(id MarketID) {
	delete(r.params, id)
	delete(r.markets, id)
}

// MarketIDs returns every created market id in byte order.
func (r *Registry) MarketIDs() []MarketID {
	out := make([]MarketID, 0, len(r.markets))
	for id := range r.markets {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}
