package main

import (
	"context"
	"fmt"

	"BlueLedger/internal/config"
	"BlueLedger/internal/core"
	"BlueLedger/internal/observability"
	"BlueLedger/internal/persistence"
	"BlueLedger/internal/projection"

	"github.com/spf13/cobra"
)

func newReplayCmd(configFile *string) *cobra.Command {
	var (
		fromSnapshot bool
		projections  bool
	)
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay the event log offline and check every state hash",
		Long: "Replay rebuilds the core from genesis (or the latest verified snapshot) " +
			"and re-applies every stored command, failing on the first sequence whose " +
			"state hash differs from the log. With --projections it also rewrites the " +
			"projection tables from the replayed outputs.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd.Flags(), *configFile)
			if err != nil {
				return err
			}
			return replay(cmd.Context(), cmd, cfg, fromSnapshot, projections)
		},
	}

	defaults := config.Defaults()
	f := cmd.Flags()
	f.String("postgres-dsn", defaults["postgres_dsn"].(string), "Postgres connection string")
	f.String("genesis-file", defaults["genesis_file"].(string), "genesis TOML the log was written under")
	f.String("log-level", defaults["log_level"].(string), "debug, info, warn or error")
	f.BoolVar(&fromSnapshot, "from-snapshot", false, "start from the latest verified snapshot instead of genesis")
	f.BoolVar(&projections, "projections", false, "rebuild projection tables while replaying")
	return cmd
}

func replay(ctx context.Context, cmd *cobra.Command, cfg config.Config, fromSnapshot, projections bool) error {
	logger := observability.NewLoggerWithLevel("replay", observability.ParseLevel(cfg.LogLevel))

	db, err := openDB(ctx, cfg.PostgresDSN)
	if err != nil {
		return err
	}
	defer db.Close()
	snapMgr := persistence.NewSnapshotManager(db)

	var (
		outputs chan core.CoreOutput
		applied chan error
	)
	if projections {
		if err := projection.RebuildProjections(ctx, db, logger); err != nil {
			return err
		}
		// Unbuffered so every output is applied before the next command runs.
		outputs = make(chan core.CoreOutput)
		applied = make(chan error, 1)
		worker := projection.NewProjectionWorker(db, nil, nil, logger)
		go func() {
			applied <- applyProjections(ctx, worker, outputs)
		}()
	}

	var persistChan chan<- core.CoreOutput
	if outputs != nil {
		persistChan = outputs
	}
	c, err := newCore(cfg, persistChan, nil, nil, nil)
	if err != nil {
		return err
	}
	if fromSnapshot {
		if _, err := restoreSnapshot(ctx, c, snapMgr, logger); err != nil {
			return err
		}
	}

	replayed, replayErr := replayEventLog(ctx, c, snapMgr, nil, logger)
	if outputs != nil {
		close(outputs)
		if err := <-applied; err != nil && replayErr == nil {
			replayErr = err
		}
	}
	if replayErr != nil {
		return replayErr
	}

	hash := c.GetStateHash()
	fmt.Fprintf(cmd.OutOrStdout(), "replayed %d commands, next sequence %d, state hash %x\n", replayed, c.GetSequence(), hash)
	return nil
}

func applyProjections(ctx context.Context, worker *projection.ProjectionWorker, outputs <-chan core.CoreOutput) error {
	var firstErr error
	for out := range outputs {
		if firstErr != nil || out.Envelope == nil || out.Envelope.Rejected {
			continue
		}
		p, err := projection.NewProjectionOutput(out)
		if err == nil {
			err = worker.Apply(ctx, p)
		}
		if err != nil {
			firstErr = fmt.Errorf("project sequence %d: %w", out.Envelope.Sequence, err)
		}
	}
	return firstErr
}
