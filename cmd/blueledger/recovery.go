package main

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"time"

	"BlueLedger/internal/config"
	"BlueLedger/internal/core"
	"BlueLedger/internal/observability"
	"BlueLedger/internal/persistence"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
)

const replayBatchSize = 1000

func openDB(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return db, nil
}

// newCore builds a core from the genesis file with its oracles, rate
// models and tokens registered.
func newCore(
	cfg config.Config,
	persistChan, projectionChan chan<- core.CoreOutput,
	dbChecker core.DBIdempotencyChecker,
	metrics *observability.Metrics,
) (*core.DeterministicCore, error) {
	genesis, err := config.LoadGenesis(cfg.GenesisFile)
	if err != nil {
		return nil, err
	}
	opts, err := genesis.Options()
	if err != nil {
		return nil, err
	}
	opts.IdempotencyCapacity = cfg.IdempotencyLRUCapacity

	c := core.NewDeterministicCore(opts, persistChan, projectionChan, dbChecker, metrics)
	if err := genesis.Apply(c); err != nil {
		return nil, err
	}
	return c, nil
}

// restoreSnapshot loads the latest verified snapshot into c. It returns
// false on a cold start.
func restoreSnapshot(ctx context.Context, c *core.DeterministicCore, snapMgr *persistence.SnapshotManager, logger zerolog.Logger) (bool, error) {
	snap, err := snapMgr.LoadLatestSnapshot(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to load snapshot, replaying from genesis")
		return false, nil
	}
	if snap == nil {
		logger.Info().Msg("no snapshot found, cold start from sequence 0")
		return false, nil
	}
	if err := c.RestoreFromSnapshot(snap); err != nil {
		return false, fmt.Errorf("restore snapshot at %d: %w", snap.Sequence, err)
	}
	logger.Info().Int64("sequence", snap.Sequence).Msg("restored snapshot")
	return true, nil
}

// replayEventLog feeds every stored envelope from the core's next sequence
// through ProcessEvent and checks that each one lands on the same sequence
// and state hash it was persisted with.
func replayEventLog(
	ctx context.Context,
	c *core.DeterministicCore,
	snapMgr *persistence.SnapshotManager,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) (int64, error) {
	start := time.Now()
	from := c.GetSequence()
	var replayed int64

	for {
		rows, err := snapMgr.LoadEventsFrom(ctx, from, replayBatchSize)
		if err != nil {
			return replayed, fmt.Errorf("load events from %d: %w", from, err)
		}
		if len(rows) == 0 {
			break
		}

		for _, row := range rows {
			if row.Sequence != c.GetSequence() {
				return replayed, fmt.Errorf("event log gap: core expects %d, log has %d", c.GetSequence(), row.Sequence)
			}
			cmd, err := row.Command()
			if err != nil {
				return replayed, fmt.Errorf("decode sequence %d: %w", row.Sequence, err)
			}
			if _, err := c.ProcessEvent(cmd); err != nil {
				logger.Debug().Err(err).Int64("sequence", row.Sequence).Msg("replayed rejection")
			}
			if c.GetSequence() != row.Sequence+1 {
				return replayed, fmt.Errorf("sequence %d was not re-applied (duplicate or out of order)", row.Sequence)
			}
			if hash := c.GetStateHash(); !bytes.Equal(hash[:], row.StateHash) {
				return replayed, fmt.Errorf("state hash mismatch at sequence %d: log %x, replay %x", row.Sequence, row.StateHash, hash)
			}
			replayed++
		}
		from = rows[len(rows)-1].Sequence + 1
	}

	if metrics != nil {
		metrics.ReplayEventsTotal.Add(float64(replayed))
		metrics.ReplayDuration.Set(time.Since(start).Seconds())
	}
	if replayed > 0 {
		logger.Info().
			Int64("replayed", replayed).
			Int64("sequence", c.GetSequence()).
			Dur("took", time.Since(start)).
			Msg("event log replayed")
	}
	return replayed, nil
}

// takeSnapshot persists an image of c. read runs fn on the goroutine that
// owns the core.
func takeSnapshot(
	ctx context.Context,
	read func(context.Context, func(*core.DeterministicCore)) error,
	snapMgr *persistence.SnapshotManager,
	metrics *observability.Metrics,
) (int64, error) {
	start := time.Now()

	var snap *core.SnapshotState
	if err := read(ctx, func(c *core.DeterministicCore) {
		snap = c.CreateSnapshotState()
	}); err != nil {
		return 0, err
	}

	size, err := snapMgr.SaveSnapshot(ctx, snap)
	if err != nil {
		return 0, fmt.Errorf("save snapshot: %w", err)
	}
	// Taken from live state, so it needs no replay check.
	if err := snapMgr.MarkVerified(ctx, snap.Sequence); err != nil {
		return 0, fmt.Errorf("mark snapshot verified: %w", err)
	}

	if metrics != nil {
		metrics.SnapshotTaken.Inc()
		metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
		metrics.SnapshotSizeBytes.Set(float64(size))
		metrics.SnapshotLastSeq.Set(float64(snap.Sequence))
	}
	return snap.Sequence, nil
}

// directRead runs fn on the caller's goroutine, for a core nobody else
// touches.
func directRead(c *core.DeterministicCore) func(context.Context, func(*core.DeterministicCore)) error {
	return func(_ context.Context, fn func(*core.DeterministicCore)) error {
		fn(c)
		return nil
	}
}
