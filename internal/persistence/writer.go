package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"BlueLedger/internal/core"
	"BlueLedger/internal/event"
	"BlueLedger/internal/ledger"
)

// Execer is satisfied by *sql.DB and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// EventLogWriter writes envelopes and journals to Postgres using multi-row INSERT.
type EventLogWriter struct {
	db *sql.DB
}

// EventRow represents a row in event_log.events
type EventRow struct {
	Sequence       int64
	CommandType    string
	IdempotencyKey string
	MarketID       *string
	Caller         string
	Source         string
	SourceSequence int64
	BlockTime      int64
	Payload        []byte // JSON-encoded command
	Records        []byte // JSON-encoded records, nil when rejected
	Rejected       bool
	Error          *string
	StateHash      []byte
	PrevHash       []byte
}

// JournalRow represents a row in event_log.journal
type JournalRow struct {
	JournalID     string
	BatchID       string
	EventRef      string
	Sequence      int64
	DebitAccount  string
	CreditAccount string
	Asset         string
	Amount        string // decimal, NUMERIC(78,0)
	JournalType   string
	BlockTime     int64
}

func NewEventLogWriter(db *sql.DB) *EventLogWriter {
	return &EventLogWriter{db: db}
}

// DB returns the underlying handle.
func (w *EventLogWriter) DB() *sql.DB {
	return w.db
}

// NewEventRow converts an envelope into its event_log row.
func NewEventRow(env *event.EventEnvelope) EventRow {
	row := EventRow{
		Sequence:       env.Sequence,
		CommandType:    env.CommandType.String(),
		IdempotencyKey: env.IdempotencyKey,
		Caller:         strings.ToLower(env.Caller.Hex()),
		Source:         env.Source,
		SourceSequence: env.SourceSequence,
		BlockTime:      int64(env.Timestamp),
		Payload:        env.Payload,
		Records:        env.Records,
		Rejected:       env.Rejected,
		StateHash:      append([]byte(nil), env.StateHash[:]...),
		PrevHash:       append([]byte(nil), env.PrevHash[:]...),
	}
	if env.MarketID != nil {
		id := env.MarketID.Hex()
		row.MarketID = &id
	}
	if env.Error != "" {
		msg := env.Error
		row.Error = &msg
	}
	return row
}

// NewJournalRows converts a core batch into journal rows. A nil batch yields none.
func NewJournalRows(batch *ledger.Batch) []JournalRow {
	if batch == nil {
		return nil
	}
	rows := make([]JournalRow, 0, len(batch.Journals))
	for _, j := range batch.Journals {
		rows = append(rows, JournalRow{
			JournalID:     j.JournalID.String(),
			BatchID:       j.BatchID.String(),
			EventRef:      j.EventRef,
			Sequence:      j.Sequence,
			DebitAccount:  j.DebitAccount.AccountPath(),
			CreditAccount: j.CreditAccount.AccountPath(),
			Asset:         strings.ToLower(j.DebitAccount.Asset.Hex()),
			Amount:        j.Amount.Dec(),
			JournalType:   j.JournalType.String(),
			BlockTime:     int64(j.Timestamp),
		})
	}
	return rows
}

// FromCoreOutput converts one core output into the rows it persists as.
func FromCoreOutput(out core.CoreOutput) CoreOutput {
	return CoreOutput{
		EventRow:    NewEventRow(out.Envelope),
		JournalRows: NewJournalRows(out.Batch),
	}
}

// WriteEventBatch writes a batch of envelopes to event_log.events.
func (w *EventLogWriter) WriteEventBatch(ctx context.Context, ex Execer, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}

	const cols = 14
	query := `INSERT INTO event_log.events
		(sequence, command_type, idempotency_key, market_id, caller, source, source_sequence,
		 block_time, payload, records, rejected, error, state_hash, prev_hash)
		VALUES `

	values := make([]string, 0, len(events))
	args := make([]any, 0, len(events)*cols)

	for i, e := range events {
		values = append(values, placeholders(i*cols, cols))
		args = append(args,
			e.Sequence, e.CommandType, e.IdempotencyKey, e.MarketID, e.Caller, e.Source,
			e.SourceSequence, e.BlockTime, jsonText(e.Payload), jsonText(e.Records),
			e.Rejected, e.Error, e.StateHash, e.PrevHash,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

// WriteJournalBatch writes a batch of journal entries to event_log.journal.
func (w *EventLogWriter) WriteJournalBatch(ctx context.Context, ex Execer, journals []JournalRow) error {
	if len(journals) == 0 {
		return nil
	}

	const cols = 10
	query := `INSERT INTO event_log.journal
		(journal_id, batch_id, event_ref, sequence, debit_account, credit_account, asset, amount, journal_type, block_time)
		VALUES `

	values := make([]string, 0, len(journals))
	args := make([]any, 0, len(journals)*cols)

	for i, j := range journals {
		values = append(values, placeholders(i*cols, cols))
		args = append(args,
			j.JournalID, j.BatchID, j.EventRef, j.Sequence,
			j.DebitAccount, j.CreditAccount, j.Asset, j.Amount,
			j.JournalType, j.BlockTime,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (journal_id) DO NOTHING"

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

func placeholders(base, n int) string {
	var sb strings.Builder
	sb.WriteByte('(')
	for k := 1; k <= n; k++ {
		if k > 1 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "$%d", base+k)
	}
	sb.WriteByte(')')
	return sb.String()
}

// jsonText passes JSON to a JSONB column as text; lib/pq would send []byte as bytea.
func jsonText(b []byte) sql.NullString {
	if b == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}
