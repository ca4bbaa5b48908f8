package ledger_test

import (
	"testing"

	"BlueLedger/internal/ledger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

var (
	usdc  = common.HexToAddress("0x2000000000000000000000000000000000000001")
	weth  = common.HexToAddress("0x2000000000000000000000000000000000000002")
	alice = common.HexToAddress("0xa11ce00000000000000000000000000000000000")
	bob   = common.HexToAddress("0xb0b0000000000000000000000000000000000000")
	blue  = common.HexToAddress("0xb1de000000000000000000000000000000000000")
)

func u(n uint64) *uint256.Int { return uint256.NewInt(n) }

func newBook(t *testing.T) *ledger.Book {
	t.Helper()
	b := ledger.NewBook()
	b.ListToken(usdc)
	b.ListToken(weth)
	return b
}

// ============================================================================
// Test: AccountKey
// ============================================================================

func TestAccountKey_HolderPath(t *testing.T) {
	key := ledger.NewHolderAccountKey(alice, usdc)
	path := key.AccountPath()
	require.Equal(t, "holder:0xa11ce00000000000000000000000000000000000:0x2000000000000000000000000000000000000001", path)

	parsed, err := ledger.ParseAccountPath(path)
	require.NoError(t, err)
	require.Equal(t, key, parsed)
}

func TestAccountKey_ExternalPath(t *testing.T) {
	key := ledger.NewExternalAccountKey(usdc)
	parsed, err := ledger.ParseAccountPath(key.AccountPath())
	require.NoError(t, err)
	require.Equal(t, key, parsed)

	_, err = ledger.ParseAccountPath("system:fees:USDT")
	require.Error(t, err)
}

// ============================================================================
// Test: Book
// ============================================================================

func TestBook_DepositWithdraw(t *testing.T) {
	b := newBook(t)
	require.NoError(t, b.Deposit(usdc, alice, u(100)))
	require.Equal(t, uint64(100), b.BalanceOf(usdc, alice).Uint64())

	require.NoError(t, b.Withdraw(usdc, alice, u(40)))
	require.Equal(t, uint64(60), b.BalanceOf(usdc, alice).Uint64())

	err := b.Withdraw(usdc, alice, u(61))
	require.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	require.NoError(t, ledger.NewInvariantValidator(b.Tracker()).ValidateGlobalBalance())
}

func TestBook_UnknownToken(t *testing.T) {
	b := newBook(t)
	other := common.HexToAddress("0x9")
	require.ErrorIs(t, b.Deposit(other, alice, u(1)), ledger.ErrUnknownToken)
	_, err := b.View(other, blue)
	require.ErrorIs(t, err, ledger.ErrUnknownToken)
}

func TestBook_TransferFromConsumesAllowance(t *testing.T) {
	b := newBook(t)
	require.NoError(t, b.Deposit(usdc, alice, u(100)))

	err := b.TransferFrom(usdc, blue, alice, blue, u(10))
	require.ErrorIs(t, err, ledger.ErrInsufficientAllowance)

	require.NoError(t, b.Approve(usdc, alice, blue, u(30)))
	require.NoError(t, b.TransferFrom(usdc, blue, alice, blue, u(10)))
	require.Equal(t, uint64(20), b.Allowance(usdc, alice, blue).Uint64())
	require.Equal(t, uint64(10), b.BalanceOf(usdc, blue).Uint64())
}

func TestBook_MaxAllowanceIsNotDecremented(t *testing.T) {
	b := newBook(t)
	require.NoError(t, b.Deposit(usdc, alice, u(100)))
	require.NoError(t, b.Approve(usdc, alice, blue, ledger.MaxAllowance))
	require.NoError(t, b.TransferFrom(usdc, blue, alice, blue, u(100)))
	require.True(t, b.Allowance(usdc, alice, blue).Eq(ledger.MaxAllowance))
}

func TestBook_TokenView(t *testing.T) {
	b := newBook(t)
	require.NoError(t, b.Deposit(usdc, blue, u(50)))

	v, err := b.View(usdc, blue)
	require.NoError(t, err)
	require.NoError(t, v.Transfer(bob, u(20)))
	require.Equal(t, uint64(20), v.BalanceOf(bob).Uint64())
	require.Equal(t, uint64(30), v.BalanceOf(blue).Uint64())
}

func TestBook_RevertToSnapshot(t *testing.T) {
	b := newBook(t)
	require.NoError(t, b.Deposit(usdc, alice, u(100)))
	b.Commit()
	b.DrainJournals()

	snap := b.Snapshot()
	require.NoError(t, b.Approve(usdc, alice, blue, u(100)))
	require.NoError(t, b.TransferFrom(usdc, blue, alice, bob, u(70)))
	require.Len(t, b.PendingJournals(), 1)

	b.RevertToSnapshot(snap)
	require.Equal(t, uint64(100), b.BalanceOf(usdc, alice).Uint64())
	require.True(t, b.BalanceOf(usdc, bob).IsZero())
	require.True(t, b.Allowance(usdc, alice, blue).IsZero())
	require.Empty(t, b.DrainJournals())
}

func TestBook_ZeroTransferLeavesNoJournal(t *testing.T) {
	b := newBook(t)
	require.NoError(t, b.Transfer(usdc, alice, bob, u(0)))
	require.Empty(t, b.DrainJournals())
}

// ============================================================================
// Test: Batch
// ============================================================================

func TestNewBatch_DeterministicIDs(t *testing.T) {
	b := newBook(t)
	require.NoError(t, b.Deposit(usdc, alice, u(5)))
	entries := b.DrainJournals()

	b1 := ledger.NewBatch("cmd-1", 7, 1000, entries)
	b2 := ledger.NewBatch("cmd-1", 7, 1000, entries)
	require.Equal(t, b1.BatchID, b2.BatchID)
	require.Equal(t, b1.Journals[0].JournalID, b2.Journals[0].JournalID)
	require.NoError(t, b1.Validate())
}

func TestBatchValidate_EmptyBatch_Fails(t *testing.T) {
	require.Error(t, ledger.NewBatch("cmd", 1, 0, nil).Validate())
}

func TestBatchValidate_SelfTransfer_Fails(t *testing.T) {
	key := ledger.NewHolderAccountKey(alice, usdc)
	batch := ledger.NewBatch("cmd", 1, 0, []ledger.Journal{{DebitAccount: key, CreditAccount: key, Amount: u(1)}})
	require.Error(t, batch.Validate())
}

func TestBatchValidate_ZeroAmount_Fails(t *testing.T) {
	batch := ledger.NewBatch("cmd", 1, 0, []ledger.Journal{{
		DebitAccount:  ledger.NewHolderAccountKey(alice, usdc),
		CreditAccount: ledger.NewExternalAccountKey(usdc),
		Amount:        u(0),
	}})
	require.Error(t, batch.Validate())
}

// ============================================================================
// Test: InvariantValidator
// ============================================================================

func TestInvariantValidator_Custody(t *testing.T) {
	b := newBook(t)
	require.NoError(t, b.Deposit(weth, blue, u(10)))
	v := ledger.NewInvariantValidator(b.Tracker())
	require.NoError(t, v.ValidateCustody(blue, weth, u(10)))
	require.Error(t, v.ValidateCustody(blue, weth, u(11)))
}

func TestInvariantValidator_DetectsImbalance(t *testing.T) {
	b := newBook(t)
	require.NoError(t, b.Deposit(usdc, alice, u(10)))
	b.Tracker().SetBalance(ledger.NewHolderAccountKey(bob, usdc), u(1))
	require.Error(t, ledger.NewInvariantValidator(b.Tracker()).ValidateGlobalBalance())
}
