package ledger

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeDeposit JournalType = iota
	JournalTypeWithdrawal
	JournalTypeTransfer
	JournalTypeTransferFrom
)

func (jt JournalType) String() string {
	switch jt {
	case JournalTypeDeposit:
		return "deposit"
	case JournalTypeWithdrawal:
		return "withdrawal"
	case JournalTypeTransfer:
		return "transfer"
	case JournalTypeTransferFrom:
		return "transfer_from"
	default:
		return "unknown"
	}
}

// journalNamespace seeds deterministic journal ids so replays reproduce them.
var journalNamespace = uuid.MustParse("6d2b0f1e-3c1a-5b7e-9f0d-4a8e2c6b1d37")

// Journal represents a single double-entry journal entry
type Journal struct {
	JournalID     uuid.UUID
	BatchID       uuid.UUID
	EventRef      string
	Sequence      int64
	DebitAccount  AccountKey // balance increases
	CreditAccount AccountKey // balance decreases
	Amount        *uint256.Int
	JournalType   JournalType
	Timestamp     uint64
}

// Batch represents the journal entries produced by one command
type Batch struct {
	BatchID   uuid.UUID
	EventRef  string
	Sequence  int64
	Timestamp uint64
	Journals  []Journal
}

// NewBatch stamps pending entries with deterministic ids derived from the
// command's idempotency key.
func NewBatch(eventRef string, sequence int64, timestamp uint64, entries []Journal) *Batch {
	batchID := uuid.NewSHA1(journalNamespace, []byte(eventRef))
	batch := &Batch{
		BatchID:   batchID,
		EventRef:  eventRef,
		Sequence:  sequence,
		Timestamp: timestamp,
		Journals:  make([]Journal, 0, len(entries)),
	}
	for i, j := range entries {
		j.JournalID = uuid.NewSHA1(batchID, []byte(fmt.Sprintf("%d", i)))
		j.BatchID = batchID
		j.EventRef = eventRef
		j.Sequence = sequence
		j.Timestamp = timestamp
		batch.Journals = append(batch.Journals, j)
	}
	return batch
}

// Validate ensures the batch is well-formed. Each entry moves one positive
// amount from its credit account to its debit account, so every entry is
// balanced by construction.
func (b *Batch) Validate() error {
	if len(b.Journals) == 0 {
		return fmt.Errorf("batch %s is empty", b.BatchID)
	}

	for _, j := range b.Journals {
		if j.Amount == nil || j.Amount.IsZero() {
			return fmt.Errorf("journal %s has zero amount", j.JournalID)
		}
		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}
		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}
		if j.DebitAccount.Asset != j.CreditAccount.Asset {
			return fmt.Errorf("journal %s moves between assets", j.JournalID)
		}
	}

	return nil
}

// CanonicalBytes returns deterministic serialization for hashing
func (j Journal) CanonicalBytes() []byte {
	buf := make([]byte, 0, 128)
	buf = append(buf, byte(j.DebitAccount.Scope))
	buf = append(buf, j.DebitAccount.Holder[:]...)
	buf = append(buf, byte(j.CreditAccount.Scope))
	buf = append(buf, j.CreditAccount.Holder[:]...)
	buf = append(buf, j.DebitAccount.Asset[:]...)
	amount := j.Amount.Bytes32()
	buf = append(buf, amount[:]...)
	return append(buf, byte(j.JournalType))
}
