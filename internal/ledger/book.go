package ledger

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrUnknownToken          = errors.New("ledger: unknown token")
	ErrInsufficientBalance   = errors.New("ledger: insufficient balance")
	ErrInsufficientAllowance = errors.New("ledger: insufficient allowance")
	ErrZeroAmount            = errors.New("ledger: zero amount")
)

// MaxAllowance is never decremented by transferFrom.
var MaxAllowance = new(uint256.Int).SetAllOne()

type allowanceKey struct {
	Owner   common.Address
	Spender common.Address
	Asset   common.Address
}

// Book is the custody ledger of every listed token: balances, allowances
// and the journal entries produced since the last drain. Every mutation is
// undoable back to a snapshot.
type Book struct {
	tracker    *BalanceTracker
	tokens     map[common.Address]bool
	allowances map[allowanceKey]*uint256.Int
	pending    []Journal
	undo       []func()
}

func NewBook() *Book {
	return &Book{
		tracker:    NewBalanceTracker(),
		tokens:     make(map[common.Address]bool),
		allowances: make(map[allowanceKey]*uint256.Int),
	}
}

// Tracker exposes balances for invariant checks and snapshots
func (b *Book) Tracker() *BalanceTracker {
	return b.tracker
}

// ListToken registers an asset. Listing is configuration and is not undoable.
func (b *Book) ListToken(asset common.Address) {
	b.tokens[asset] = true
}

func (b *Book) IsListed(asset common.Address) bool {
	return b.tokens[asset]
}

// Tokens returns listed assets in canonical order
func (b *Book) Tokens() []common.Address {
	keys := make([]common.Address, 0, len(b.tokens))
	for a := range b.tokens {
		keys = append(keys, a)
	}
	sortAddresses(keys)
	return keys
}

func (b *Book) BalanceOf(asset, holder common.Address) *uint256.Int {
	return b.tracker.GetBalance(NewHolderAccountKey(holder, asset))
}

func (b *Book) Allowance(asset, owner, spender common.Address) *uint256.Int {
	if v := b.allowances[allowanceKey{Owner: owner, Spender: spender, Asset: asset}]; v != nil {
		return v.Clone()
	}
	return new(uint256.Int)
}

// Deposit brings tokens across the external boundary into holder's balance.
func (b *Book) Deposit(asset, holder common.Address, amount *uint256.Int) error {
	if err := b.checkAsset(asset, amount); err != nil {
		return err
	}
	return b.post(NewHolderAccountKey(holder, asset), NewExternalAccountKey(asset), amount, JournalTypeDeposit)
}

// Withdraw sends tokens from holder's balance across the external boundary.
func (b *Book) Withdraw(asset, holder common.Address, amount *uint256.Int) error {
	if err := b.checkAsset(asset, amount); err != nil {
		return err
	}
	return b.post(NewExternalAccountKey(asset), NewHolderAccountKey(holder, asset), amount, JournalTypeWithdrawal)
}

// Approve sets the amount spender may pull from owner.
func (b *Book) Approve(asset, owner, spender common.Address, amount *uint256.Int) error {
	if !b.tokens[asset] {
		return fmt.Errorf("%w: %s", ErrUnknownToken, asset.Hex())
	}
	b.setAllowance(allowanceKey{Owner: owner, Spender: spender, Asset: asset}, amount)
	return nil
}

// Transfer moves tokens between holders.
func (b *Book) Transfer(asset, from, to common.Address, amount *uint256.Int) error {
	if err := b.checkAsset(asset, amount); err != nil {
		return err
	}
	if from == to {
		return b.requireBalance(asset, from, amount)
	}
	return b.post(NewHolderAccountKey(to, asset), NewHolderAccountKey(from, asset), amount, JournalTypeTransfer)
}

// TransferFrom moves tokens out of from on behalf of spender, consuming allowance.
func (b *Book) TransferFrom(asset, spender, from, to common.Address, amount *uint256.Int) error {
	if err := b.checkAsset(asset, amount); err != nil {
		return err
	}
	if spender != from {
		key := allowanceKey{Owner: from, Spender: spender, Asset: asset}
		allowed := b.Allowance(asset, from, spender)
		if allowed.Lt(amount) {
			return fmt.Errorf("%w: %s allows %s %s, need %s",
				ErrInsufficientAllowance, from.Hex(), spender.Hex(), allowed.Dec(), amount.Dec())
		}
		if !allowed.Eq(MaxAllowance) {
			b.setAllowance(key, new(uint256.Int).Sub(allowed, amount))
		}
	}
	if from == to {
		return b.requireBalance(asset, from, amount)
	}
	return b.post(NewHolderAccountKey(to, asset), NewHolderAccountKey(from, asset), amount, JournalTypeTransferFrom)
}

func (b *Book) checkAsset(asset common.Address, amount *uint256.Int) error {
	if !b.tokens[asset] {
		return fmt.Errorf("%w: %s", ErrUnknownToken, asset.Hex())
	}
	if amount == nil {
		return ErrZeroAmount
	}
	return nil
}

func (b *Book) requireBalance(asset, holder common.Address, amount *uint256.Int) error {
	if have := b.BalanceOf(asset, holder); have.Lt(amount) {
		return fmt.Errorf("%w: %s holds %s, need %s", ErrInsufficientBalance, holder.Hex(), have.Dec(), amount.Dec())
	}
	return nil
}

// post records and applies one journal entry. Zero amounts are accepted
// and leave no entry.
func (b *Book) post(debit, credit AccountKey, amount *uint256.Int, jt JournalType) error {
	if amount.IsZero() {
		return nil
	}
	if err := b.tracker.ValidateSufficient(credit, amount); err != nil {
		return fmt.Errorf("%w: %v", ErrInsufficientBalance, err)
	}

	prevDebit, prevCredit := b.tracker.GetBalance(debit), b.tracker.GetBalance(credit)
	b.undo = append(b.undo, func() {
		b.tracker.SetBalance(debit, prevDebit)
		b.tracker.SetBalance(credit, prevCredit)
	})

	j := Journal{
		DebitAccount:  debit,
		CreditAccount: credit,
		Amount:        amount.Clone(),
		JournalType:   jt,
	}
	if err := b.tracker.ApplyJournal(j); err != nil {
		return err
	}

	n := len(b.pending)
	b.pending = append(b.pending, j)
	b.undo = append(b.undo, func() { b.pending = b.pending[:n] })
	return nil
}

func (b *Book) setAllowance(key allowanceKey, amount *uint256.Int) {
	prev := b.allowances[key]
	b.undo = append(b.undo, func() {
		if prev == nil {
			delete(b.allowances, key)
		} else {
			b.allowances[key] = prev
		}
	})
	if amount == nil || amount.IsZero() {
		delete(b.allowances, key)
		return
	}
	b.allowances[key] = amount.Clone()
}

// Snapshot returns an id that RevertToSnapshot can roll back to.
func (b *Book) Snapshot() int {
	return len(b.undo)
}

// RevertToSnapshot undoes every mutation made after the snapshot was taken.
func (b *Book) RevertToSnapshot(id int) {
	for i := len(b.undo) - 1; i >= id; i-- {
		b.undo[i]()
	}
	b.undo = b.undo[:id]
}

// Commit discards undo history. Snapshots taken before Commit become invalid.
func (b *Book) Commit() {
	b.undo = b.undo[:0]
}

// DrainJournals returns and clears the entries posted since the last drain.
func (b *Book) DrainJournals() []Journal {
	out := b.pending
	b.pending = nil
	return out
}

// RestoreAllowance sets an allowance without undo history (snapshot restore)
func (b *Book) RestoreAllowance(asset, owner, spender common.Address, amount *uint256.Int) {
	b.allowances[allowanceKey{Owner: owner, Spender: spender, Asset: asset}] = amount.Clone()
}

// AllowanceEntry is one non-zero allowance
type AllowanceEntry struct {
	Asset   common.Address `json:"asset"`
	Owner   common.Address `json:"owner"`
	Spender common.Address `json:"spender"`
	Amount  *uint256.Int   `json:"amount"`
}

// Allowances returns every non-zero allowance in canonical order
func (b *Book) Allowances() []AllowanceEntry {
	out := make([]AllowanceEntry, 0, len(b.allowances))
	for k, v := range b.allowances {
		out = append(out, AllowanceEntry{Asset: k.Asset, Owner: k.Owner, Spender: k.Spender, Amount: v.Clone()})
	}
	sortAllowances(out)
	return out
}

// View binds a token to the address whose funds Transfer spends.
func (b *Book) View(asset, self common.Address) (*TokenView, error) {
	if !b.tokens[asset] {
		return nil, fmt.Errorf("%w: %s", ErrUnknownToken, asset.Hex())
	}
	return &TokenView{book: b, asset: asset, self: self}, nil
}

// TokenView is a single token as seen by one account.
type TokenView struct {
	book  *Book
	asset common.Address
	self  common.Address
}

func (v *TokenView) Address() common.Address {
	return v.asset
}

// Transfer sends from the bound account.
func (v *TokenView) Transfer(to common.Address, amount *uint256.Int) error {
	return v.book.Transfer(v.asset, v.self, to, amount)
}

// TransferFrom pulls using the bound account's allowance.
func (v *TokenView) TransferFrom(from, to common.Address, amount *uint256.Int) error {
	return v.book.TransferFrom(v.asset, v.self, from, to, amount)
}

func (v *TokenView) BalanceOf(account common.Address) *uint256.Int {
	return v.book.BalanceOf(v.asset, account)
}

// PendingJournals returns the entries posted since the last drain without clearing them.
func (b *Book) PendingJournals() []Journal {
	out := make([]Journal, len(b.pending))
	copy(out, b.pending)
	return out
}
