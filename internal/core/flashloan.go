package core

import (
	"fmt"

	"BlueLedger/internal/event"
	"BlueLedger/internal/state"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// FlashLoan lends assets of any custodied token to caller for the duration
// of cb. The loan is repaid by pulling the same amount back; if the custody
// balance ends below where it started the whole command reverts.
func (c *DeterministicCore) FlashLoan(caller, token common.Address, assets *uint256.Int, data []byte, cb event.Callback) error {
	return c.atomic(func() error {
		if assets == nil || assets.IsZero() {
			return state.ErrZeroAssets
		}
		if cb == nil {
			return state.ErrMissingCallback
		}
		t, err := c.token(token)
		if err != nil {
			return err
		}
		before := t.BalanceOf(c.opts.Custody)

		if err := c.push(token, caller, assets); err != nil {
			return err
		}
		c.emit(&event.FlashLoaned{Caller: caller, Token: token, Assets: assets.Clone()})

		if err := cb(assets.Clone(), data); err != nil {
			return fmt.Errorf("flash loan callback: %w", err)
		}
		if err := c.pull(token, caller, assets); err != nil {
			return fmt.Errorf("%w: %v", state.ErrFlashLoanNotRepaid, err)
		}
		if t.BalanceOf(c.opts.Custody).Lt(before) {
			return state.ErrFlashLoanNotRepaid
		}
		return nil
	})
}
