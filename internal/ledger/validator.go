package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies batch is balanced
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateGlobalBalance verifies that holder balances equal issuance per asset
func (v *InvariantValidator) ValidateGlobalBalance() error {
	for asset, t := range v.tracker.ComputeGlobalBalance() {
		if !t[0].Eq(t[1]) {
			return fmt.Errorf("global balance for %s is unbalanced: holders=%s issued=%s",
				asset.Hex(), t[0].Dec(), t[1].Dec())
		}
	}
	return nil
}

// ValidateCustody verifies that the custodian holds at least the given amount
func (v *InvariantValidator) ValidateCustody(custodian, asset common.Address, owed *uint256.Int) error {
	have := v.tracker.GetBalance(NewHolderAccountKey(custodian, asset))
	if have.Lt(owed) {
		return fmt.Errorf("custody shortfall for %s: have=%s, owed=%s", asset.Hex(), have.Dec(), owed.Dec())
	}
	return nil
}
