package core

import (
	"fmt"
	"slices"

	"BlueLedger/internal/event"
	"BlueLedger/internal/state"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ListToken makes asset available for custody. Listing is configuration,
// not a command, and is expected before the first command is processed.
func (c *DeterministicCore) ListToken(asset common.Address) {
	c.book.ListToken(asset)
}

// DepositToken credits account with tokens bridged in from outside.
func (c *DeterministicCore) DepositToken(caller, token, account common.Address, amount *uint256.Int) error {
	return c.atomic(func() error {
		if amount == nil || amount.IsZero() {
			return state.ErrZeroAssets
		}
		if isZeroAddr(account) {
			return fmt.Errorf("%w: account", state.ErrZeroAddress)
		}
		if err := mapLedgerErr(c.book.Deposit(token, account, amount)); err != nil {
			return err
		}
		c.emit(&event.TokenDeposited{Token: token, Account: account, Amount: amount.Clone()})
		return nil
	})
}

// WithdrawToken sends caller's tokens out of the ledger.
func (c *DeterministicCore) WithdrawToken(caller, token common.Address, amount *uint256.Int) error {
	return c.atomic(func() error {
		if amount == nil || amount.IsZero() {
			return state.ErrZeroAssets
		}
		if err := mapLedgerErr(c.book.Withdraw(token, caller, amount)); err != nil {
			return err
		}
		c.emit(&event.TokenWithdrawn{Token: token, Account: caller, Amount: amount.Clone()})
		return nil
	})
}

// ApproveToken sets spender's allowance over caller's tokens.
func (c *DeterministicCore) ApproveToken(caller, token, spender common.Address, amount *uint256.Int) error {
	return c.atomic(func() error {
		if amount == nil {
			return fmt.Errorf("%w: missing amount", state.ErrInconsistentInput)
		}
		if isZeroAddr(spender) {
			return fmt.Errorf("%w: spender", state.ErrZeroAddress)
		}
		if err := mapLedgerErr(c.book.Approve(token, caller, spender, amount)); err != nil {
			return err
		}
		c.emit(&event.TokenApproved{Token: token, Owner: caller, Spender: spender, Amount: amount.Clone()})
		return nil
	})
}

// UpdatePrice publishes a feed price. When price reporters are configured
// only they may publish. Stale sequences are ignored.
func (c *DeterministicCore) UpdatePrice(caller, oracleAddr common.Address, price *uint256.Int, seq int64) error {
	return c.atomic(func() error {
		if len(c.opts.PriceReporters) > 0 && !slices.Contains(c.opts.PriceReporters, caller) {
			return fmt.Errorf("%w: %s is not a price reporter", state.ErrNotAuthorized, caller.Hex())
		}
		if price == nil || price.IsZero() {
			return fmt.Errorf("%w: zero price", state.ErrInconsistentInput)
		}
		prev, applied := c.feed.Update(oracleAddr, price.Clone(), seq)
		if !applied {
			return nil
		}
		c.onUndo(func() { c.feed.Restore(oracleAddr, prev) })
		c.emit(&event.PriceUpdated{Oracle: oracleAddr, Price: price.Clone(), PriceSequence: seq})
		return nil
	})
}
