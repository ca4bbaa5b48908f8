package ledger

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// BalanceTracker maintains in-memory account balances. External accounts
// hold the outstanding issuance of their asset, so for every asset the
// holder balances sum to the external balance.
type BalanceTracker struct {
	balances map[AccountKey]*uint256.Int
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]*uint256.Int),
	}
}

// GetBalance returns the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) *uint256.Int {
	if v := bt.balances[key]; v != nil {
		return v.Clone()
	}
	return new(uint256.Int)
}

// SetBalance overwrites a balance (snapshot restore and undo)
func (bt *BalanceTracker) SetBalance(key AccountKey, v *uint256.Int) {
	if v == nil || v.IsZero() {
		delete(bt.balances, key)
		return
	}
	bt.balances[key] = v.Clone()
}

// ApplyJournal applies a single journal entry to balances
func (bt *BalanceTracker) ApplyJournal(j Journal) error {
	if err := bt.ValidateSufficient(j.CreditAccount, j.Amount); err != nil {
		return err
	}
	bt.move(j.CreditAccount, j.Amount, false)
	bt.move(j.DebitAccount, j.Amount, true)
	return nil
}

// move adjusts one side of an entry. External accounts are sign-flipped:
// a credit to the boundary grows issuance.
func (bt *BalanceTracker) move(key AccountKey, amount *uint256.Int, debit bool) {
	increase := debit
	if key.Scope == AccountScopeExternal {
		increase = !debit
	}
	cur := bt.GetBalance(key)
	if increase {
		cur.Add(cur, amount)
	} else {
		cur.Sub(cur, amount)
	}
	bt.SetBalance(key, cur)
}

// ApplyBatch applies all journals in a batch
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}
	for _, j := range batch.Journals {
		if err := bt.ApplyJournal(j); err != nil {
			return err
		}
	}
	return nil
}

// ValidateSufficient checks that a holder account can give amount. External
// accounts can always mint; they can only burn what was issued.
func (bt *BalanceTracker) ValidateSufficient(key AccountKey, amount *uint256.Int) error {
	if key.Scope == AccountScopeExternal {
		return nil
	}
	have := bt.GetBalance(key)
	if have.Lt(amount) {
		return fmt.Errorf("insufficient balance in %s: have=%s, need=%s", key.AccountPath(), have.Dec(), amount.Dec())
	}
	return nil
}

// ComputeGlobalBalance returns, per asset, holder total and issuance
func (bt *BalanceTracker) ComputeGlobalBalance() map[common.Address][2]*uint256.Int {
	totals := make(map[common.Address][2]*uint256.Int)
	for key, balance := range bt.balances {
		t, ok := totals[key.Asset]
		if !ok {
			t = [2]*uint256.Int{new(uint256.Int), new(uint256.Int)}
			totals[key.Asset] = t
		}
		idx := 0
		if key.Scope == AccountScopeExternal {
			idx = 1
		}
		t[idx].Add(t[idx], balance)
	}
	return totals
}

// Accounts returns every non-zero account in canonical order
func (bt *BalanceTracker) Accounts() []AccountKey {
	keys := make([]AccountKey, 0, len(bt.balances))
	for k := range bt.balances {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if c := bytes.Compare(keys[i].Asset[:], keys[j].Asset[:]); c != 0 {
			return c < 0
		}
		if keys[i].Scope != keys[j].Scope {
			return keys[i].Scope < keys[j].Scope
		}
		return bytes.Compare(keys[i].Holder[:], keys[j].Holder[:]) < 0
	})
	return keys
}

// Snapshot returns a copy of all balances (for state hashing)
func (bt *BalanceTracker) Snapshot() map[AccountKey]*uint256.Int {
	snapshot := make(map[AccountKey]*uint256.Int, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = v.Clone()
	}
	return snapshot
}
