package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"BlueLedger/internal/core"
	"BlueLedger/internal/event"

	"github.com/google/uuid"
)

// snapshotFormatVersion tags the JSON layout of core.SnapshotState.
const snapshotFormatVersion = 1

// SnapshotManager stores core snapshots and reads the event log back for
// warm and cold restarts.
type SnapshotManager struct {
	db *sql.DB
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SaveSnapshot persists a snapshot and returns its encoded size.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *core.SnapshotState) (int, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return 0, fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO event_log.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $6
	`, uuid.New(), snap.Sequence, string(data), snap.StateHash.Bytes(), snapshotFormatVersion, len(data), time.Now().UTC())
	if err != nil {
		return 0, err
	}
	return len(data), nil
}

// LoadLatestSnapshot loads the most recent verified snapshot, or nil on a cold start.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*core.SnapshotState, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT data, format_version FROM event_log.snapshots
		WHERE verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`)

	var (
		data    []byte
		version int
	)
	if err := row.Scan(&data, &version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	if version != snapshotFormatVersion {
		return nil, fmt.Errorf("unsupported snapshot format %d", version)
	}

	var snap core.SnapshotState
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// MarkVerified marks a snapshot as verified after its hash was checked.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := sm.db.ExecContext(ctx, `
		UPDATE event_log.snapshots SET verified = TRUE WHERE sequence = $1
	`, sequence)
	return err
}

// LoadEventsFrom loads envelopes with sequence >= fromSequence in order.
func (sm *SnapshotManager) LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]EventRow, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, command_type, idempotency_key, market_id, caller, source, source_sequence,
		       block_time, payload, records, rejected, error, state_hash, prev_hash
		FROM event_log.events
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var (
			e       EventRow
			records sql.NullString
		)
		if err := rows.Scan(
			&e.Sequence, &e.CommandType, &e.IdempotencyKey, &e.MarketID, &e.Caller, &e.Source,
			&e.SourceSequence, &e.BlockTime, &e.Payload, &records, &e.Rejected, &e.Error,
			&e.StateHash, &e.PrevHash,
		); err != nil {
			return nil, err
		}
		if records.Valid {
			e.Records = []byte(records.String)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// GetLatestSequence returns the highest persisted sequence, or -1 for an empty log.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := sm.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM event_log.events
	`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return -1, nil
	}
	return seq.Int64, nil
}

// Command decodes the stored payload back into a replayable command.
func (e EventRow) Command() (event.Command, error) {
	ct := event.ParseCommandType(e.CommandType)
	if ct == event.CommandTypeUnknown {
		return nil, fmt.Errorf("unknown command type %q at sequence %d", e.CommandType, e.Sequence)
	}
	return event.DecodeCommand(ct, e.Payload)
}
