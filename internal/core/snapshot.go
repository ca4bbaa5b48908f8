package core

import (
	"fmt"

	"BlueLedger/internal/ledger"
	"BlueLedger/internal/oracle"
	"BlueLedger/internal/state"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// SnapshotState is a complete, JSON-serializable image of the core.
// Restoring it and replaying later envelopes reproduces the same hashes.
type SnapshotState struct {
	Sequence  int64       `json:"sequence"`
	StateHash common.Hash `json:"state_hash"`
	Now       uint64      `json:"now"`

	Owner        common.Address   `json:"owner"`
	FeeRecipient common.Address   `json:"fee_recipient"`
	RateModels   []common.Address `json:"rate_models"`
	Lltvs        []*uint256.Int   `json:"lltvs"`

	Markets        []MarketState            `json:"markets"`
	Positions      []PositionState          `json:"positions"`
	Authorizations []state.AuthorizationKey `json:"authorizations"`

	Tokens     []common.Address        `json:"tokens"`
	Balances   []SnapshotBalance       `json:"balances"`
	Allowances []ledger.AllowanceEntry `json:"allowances"`
	Prices     []SnapshotPrice         `json:"prices"`

	Partitions      map[string]int64 `json:"partitions"`
	IdempotencyKeys []string         `json:"idempotency_keys"`
}

type SnapshotBalance struct {
	Account string       `json:"account"`
	Balance *uint256.Int `json:"balance"`
}

type SnapshotPrice struct {
	Oracle   common.Address `json:"oracle"`
	Price    *uint256.Int   `json:"price"`
	Sequence int64          `json:"sequence"`
}

// CreateSnapshotState captures the core between commands.
func (c *DeterministicCore) CreateSnapshotState() *SnapshotState {
	snap := &SnapshotState{
		Sequence:     c.sequence,
		StateHash:    common.Hash(c.hasher.GetPrevHash()),
		Now:          c.now,
		Owner:        c.registry.Owner,
		FeeRecipient: c.registry.FeeRecipient,
		RateModels:   c.registry.RateModels(),
		Lltvs:        c.registry.Lltvs(),
		Tokens:       c.book.Tokens(),
		Allowances:   c.book.Allowances(),
		Partitions:   c.sequenceValidator.GetAllPartitions(),
	}

	for _, id := range c.registry.MarketIDs() {
		params, _ := c.registry.Params(id)
		snap.Markets = append(snap.Markets, MarketState{ID: id, Params: params, Market: c.registry.Market(id).Clone()})
	}

	keys := c.positions.Keys()
	state.SortPositionKeys(keys)
	for _, key := range keys {
		pos := c.positions.View(key.Market, key.User)
		if pos.IsEmpty() {
			continue
		}
		snap.Positions = append(snap.Positions, PositionState{Key: key, Position: pos.Clone()})
	}

	snap.Authorizations = c.auths.Grants()

	tracker := c.book.Tracker()
	for _, key := range tracker.Accounts() {
		bal := tracker.GetBalance(key)
		if bal.IsZero() {
			continue
		}
		snap.Balances = append(snap.Balances, SnapshotBalance{Account: key.AccountPath(), Balance: bal.Clone()})
	}

	for _, addr := range c.feed.Oracles() {
		ps, _ := c.feed.Latest(addr)
		snap.Prices = append(snap.Prices, SnapshotPrice{Oracle: addr, Price: ps.Price.Clone(), Sequence: ps.Sequence})
	}

	snap.IdempotencyKeys = c.idempotency.Keys()
	return snap
}

// RestoreFromSnapshot loads a snapshot into a freshly constructed core.
// Registered oracles and rate models are configuration and are kept.
func (c *DeterministicCore) RestoreFromSnapshot(snap *SnapshotState) error {
	if c.sequence != 0 || len(c.registry.MarketIDs()) != 0 {
		return fmt.Errorf("restore into a non-empty core")
	}

	c.sequence = snap.Sequence
	c.now = snap.Now
	c.hasher.SetPrevHash(snap.StateHash)

	c.registry.Owner = snap.Owner
	c.registry.FeeRecipient = snap.FeeRecipient
	for _, irm := range snap.RateModels {
		c.registry.SetRateModelEnabled(irm, true)
	}
	for _, lltv := range snap.Lltvs {
		c.registry.SetLltvEnabled(lltv, true)
	}
	for _, ms := range snap.Markets {
		if ms.Params.ID() != ms.ID {
			return fmt.Errorf("snapshot market %s does not match its params", ms.ID.Hex())
		}
		c.registry.PutMarket(ms.Params, ms.Market.Clone())
	}
	for _, ps := range snap.Positions {
		c.positions.SetPosition(ps.Key, ps.Position.Clone())
	}
	for _, g := range snap.Authorizations {
		c.auths.Set(g.Authorizer, g.Delegate, true)
	}

	for _, t := range snap.Tokens {
		c.book.ListToken(t)
	}
	for _, b := range snap.Balances {
		key, err := ledger.ParseAccountPath(b.Account)
		if err != nil {
			return fmt.Errorf("snapshot balance: %w", err)
		}
		c.book.Tracker().SetBalance(key, b.Balance.Clone())
	}
	for _, a := range snap.Allowances {
		c.book.RestoreAllowance(a.Asset, a.Owner, a.Spender, a.Amount)
	}
	for _, p := range snap.Prices {
		c.feed.Restore(p.Oracle, &oracle.PriceState{Price: p.Price.Clone(), Sequence: p.Sequence})
	}

	for partition, next := range snap.Partitions {
		c.sequenceValidator.RestorePartition(partition, next)
	}
	c.idempotency.Warm(snap.IdempotencyKeys)

	if err := c.validator.ValidateGlobalBalance(); err != nil {
		return fmt.Errorf("snapshot ledger: %w", err)
	}
	return nil
}

// WarmLRU preloads composite idempotency keys read from Postgres.
func (c *DeterministicCore) WarmLRU(keys []string) {
	c.idempotency.Warm(keys)
}

// GetSequence returns the next sequence the core will assign
func (c *DeterministicCore) GetSequence() int64 {
	return c.sequence
}

// GetStateHash returns the hash of the last applied command
func (c *DeterministicCore) GetStateHash() [32]byte {
	return c.hasher.GetPrevHash()
}
