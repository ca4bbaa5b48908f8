package persistence

import (
	"context"
	"database/sql"
	"errors"
	"sync/atomic"
	"time"
)

// PostgresIdempotencyChecker is the second dedup tier behind the core's LRU.
// It starts inactive so replaying the log does not flag every command;
// the caller activates it once replay has caught up.
type PostgresIdempotencyChecker struct {
	db      *sql.DB
	timeout time.Duration
	active  atomic.Bool
}

func NewPostgresIdempotencyChecker(db *sql.DB) *PostgresIdempotencyChecker {
	return &PostgresIdempotencyChecker{
		db:      db,
		timeout: 500 * time.Millisecond,
	}
}

// SetActive turns the database lookup on or off.
func (pic *PostgresIdempotencyChecker) SetActive(active bool) {
	pic.active.Store(active)
}

// IsDuplicate reports whether the event log already holds the key.
func (pic *PostgresIdempotencyChecker) IsDuplicate(commandType string, idempotencyKey string) (bool, error) {
	if !pic.active.Load() {
		return false, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), pic.timeout)
	defer cancel()

	var exists int
	err := pic.db.QueryRowContext(ctx, `
		SELECT 1
		FROM event_log.events
		WHERE command_type = $1 AND idempotency_key = $2
		LIMIT 1
	`, commandType, idempotencyKey).Scan(&exists)

	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
