package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"BlueLedger/internal/config"
	"BlueLedger/internal/core"
	"BlueLedger/internal/ingestion"
	"BlueLedger/internal/observability"
	"BlueLedger/internal/persistence"
	"BlueLedger/internal/projection"
	"BlueLedger/internal/query"
	"BlueLedger/internal/server"
	"BlueLedger/migrations"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func newServeCmd(configFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Recover from the event log and serve commands and queries",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd.Flags(), *configFile)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}

	defaults := config.Defaults()
	f := cmd.Flags()
	f.String("postgres-dsn", defaults["postgres_dsn"].(string), "Postgres connection string")
	f.String("nats-url", defaults["nats_url"].(string), "NATS server URL")
	f.String("genesis-file", defaults["genesis_file"].(string), "genesis TOML with owner, tokens, oracles and rate models")
	f.String("grpc-addr", defaults["grpc_addr"].(string), "gRPC listen address")
	f.String("http-addr", defaults["http_addr"].(string), "HTTP/JSON gateway listen address")
	f.String("metrics-addr", defaults["metrics_addr"].(string), "Prometheus metrics listen address")
	f.String("log-level", defaults["log_level"].(string), "debug, info, warn or error")
	f.Int64("snapshot-interval", int64(defaults["snapshot_interval"].(int)), "take a snapshot every N sequences")
	f.Bool("disable-nats", false, "accept commands over gRPC and HTTP only")
	return cmd
}

// serve runs the ledger until SIGINT, SIGTERM or a component failure.
// Shutdown stops intake first, lets the sequencer finish, drains the
// persist pipeline and then snapshots the final state.
func serve(parent context.Context, cfg config.Config) error {
	level := observability.ParseLevel(cfg.LogLevel)
	newLogger := func(component string) zerolog.Logger {
		return observability.NewLoggerWithLevel(component, level)
	}
	logger := newLogger("blueledger")
	logger.Info().Str("postgres", cfg.Redacted()).Str("genesis", cfg.GenesisFile).Msg("BlueLedger starting")

	if os.Getenv("GOGC") == "" {
		logger.Warn().Msg("GOGC not set, recommend GOGC=400 for production")
	}

	// Intake: sequencer, NATS, gRPC and HTTP. Cancelled first on shutdown.
	ingestCtx, stopIngest := context.WithCancel(parent)
	defer stopIngest()
	// Workers drain until their inputs close.
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	// --- Postgres ---
	db, err := openDB(ingestCtx, cfg.PostgresDSN)
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Info().Msg("Postgres connected")

	if err := migrator(db, cfg, logger).Up(ingestCtx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	snapMgr := persistence.NewSnapshotManager(db)
	persistedHead, err := snapMgr.GetLatestSequence(ingestCtx)
	if err != nil {
		return fmt.Errorf("read event log head: %w", err)
	}

	// --- Observability ---
	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	healthChecker := observability.NewHealthChecker()

	// --- Channels ---
	// The core blocks on persist and drops on projection.
	persistCoreChan := make(chan core.CoreOutput, cfg.PersistChanSize)
	projectionCoreChan := make(chan core.CoreOutput, cfg.ProjectionChanSize)
	persistWorkerChan := make(chan persistence.CoreOutput, cfg.PersistChanSize)
	publishChan := make(chan ingestion.PublishableRecord, cfg.PublishChanSize)

	// --- Deterministic core ---
	dbChecker := persistence.NewPostgresIdempotencyChecker(db)
	c, err := newCore(cfg, persistCoreChan, projectionCoreChan, dbChecker, metrics)
	if err != nil {
		return err
	}

	errChan := make(chan error, 16)
	var workers sync.WaitGroup
	goWorker := func(name string, run func() error) {
		workers.Add(1)
		go func() {
			defer workers.Done()
			if err := run(); err != nil && !errors.Is(err, context.Canceled) {
				errChan <- fmt.Errorf("%s: %w", name, err)
			}
		}()
	}

	// Output pipeline runs before replay: replayed outputs still flow
	// through the core's channels.
	persistWorker := persistence.NewPersistenceWorker(db, persistWorkerChan, cfg.PersistBatchSize, cfg.PersistFlushTimeout, metrics, newLogger("persist"))
	goWorker("persistence worker", func() error { return persistWorker.Run(workerCtx) })

	projWorker := projection.NewProjectionWorker(db, projectionCoreChan, metrics, newLogger("projection"))
	goWorker("projection worker", func() error { return projWorker.Run(workerCtx) })

	bridgeDone := make(chan struct{})
	go func() {
		defer close(bridgeDone)
		bridgeCoreOutputs(persistCoreChan, persistWorkerChan, publishChan, persistedHead, healthChecker, metrics, logger)
	}()

	// --- Recovery ---
	restored, err := restoreSnapshot(ingestCtx, c, snapMgr, logger)
	if err != nil {
		return err
	}
	replayed, err := replayEventLog(ingestCtx, c, snapMgr, metrics, logger)
	if err != nil {
		return fmt.Errorf("event replay: %w", err)
	}
	if restored && replayed == 0 {
		logger.Info().Int64("sequence", c.GetSequence()).Msg("snapshot state matches event log head")
	}
	dbChecker.SetActive(true)
	healthChecker.SetSequence(c.GetSequence() - 1)

	// --- Sequencer ---
	sequencer := core.NewSequencer(c, cfg.IngestChanSize, newLogger("sequencer"))
	sequencerDone := make(chan struct{})
	go func() {
		defer close(sequencerDone)
		sequencer.Run(ingestCtx)
	}()

	// --- NATS ---
	var natsSubscriber *ingestion.NATSSubscriber
	if !cfg.DisableNATS {
		natsLogger := newLogger("nats")
		nc, js, err := ingestion.ConnectNATS(cfg.NATSURL, natsLogger)
		if err != nil {
			return err
		}
		defer nc.Close()

		if err := ingestion.EnsureStreams(ingestCtx, js, natsLogger); err != nil {
			return fmt.Errorf("ensure NATS streams: %w", err)
		}
		if err := ingestion.EnsureOutboundStream(ingestCtx, js, natsLogger); err != nil {
			return fmt.Errorf("ensure outbound stream: %w", err)
		}

		rawChan := make(chan ingestion.RawEvent, cfg.IngestChanSize)
		natsSubscriber = ingestion.NewNATSSubscriber(js, rawChan, natsLogger)
		if err := natsSubscriber.Subscribe(ingestCtx, ingestion.DefaultSubjects()); err != nil {
			return fmt.Errorf("nats subscribe: %w", err)
		}
		go runIngestionLoop(ingestCtx, rawChan, sequencer, natsLogger)

		publisher := ingestion.NewOutboundPublisher(js, publishChan, metrics, newLogger("publisher"))
		goWorker("outbound publisher", func() error { return publisher.Run(workerCtx) })
	} else {
		logger.Warn().Msg("NATS disabled, records are not published")
		goWorker("publish sink", func() error {
			for range publishChan {
			}
			return nil
		})
	}

	// --- gRPC + HTTP gateway ---
	grpcServer := server.NewGRPCServer(cfg.GRPCAddr, cfg.HTTPAddr, &server.ServerDeps{
		DB:            db,
		QueryService:  query.NewQueryService(db, sequencer, metrics),
		IngestService: ingestion.NewGRPCIngestService(sequencer),
		SnapshotMgr:   snapMgr,
		HealthChecker: healthChecker,
		Logger:        newLogger("server"),
	})
	go func() {
		if err := grpcServer.StartGRPC(ingestCtx); err != nil {
			errChan <- fmt.Errorf("grpc server: %w", err)
		}
	}()
	go func() {
		if err := grpcServer.StartHTTPGateway(ingestCtx); err != nil {
			errChan <- fmt.Errorf("http gateway: %w", err)
		}
	}()
	go serveMetrics(ingestCtx, cfg.MetricsAddr, errChan, logger)

	// --- Periodic snapshots ---
	go runPeriodicSnapshots(ingestCtx, sequencer, snapMgr, cfg, metrics, persistCoreChan, projectionCoreChan, logger)

	healthChecker.SetReady(true)
	grpcServer.SetServing(true)
	logger.Info().
		Int64("sequence", c.GetSequence()).
		Str("grpc", cfg.GRPCAddr).
		Str("http", cfg.HTTPAddr).
		Str("metrics", cfg.MetricsAddr).
		Msg("BlueLedger ready")

	// --- Wait for shutdown ---
	var runErr error
	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case runErr = <-errChan:
		logger.Error().Err(runErr).Msg("component failed, shutting down")
	case <-parent.Done():
	}

	healthChecker.SetReady(false)
	grpcServer.SetServing(false)
	if natsSubscriber != nil {
		natsSubscriber.Stop()
	}
	stopIngest()
	<-sequencerDone

	// The sequencer goroutine was the only sender.
	close(persistCoreChan)
	close(projectionCoreChan)
	<-bridgeDone

	drained := make(chan struct{})
	go func() {
		workers.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(30 * time.Second):
		logger.Error().Msg("workers did not drain in 30s")
		stopWorkers()
		<-drained
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if seq, err := takeSnapshot(shutdownCtx, directRead(c), snapMgr, metrics); err != nil {
		logger.Error().Err(err).Msg("final snapshot failed")
	} else {
		logger.Info().Int64("sequence", seq).Msg("final snapshot saved")
	}

	logger.Info().Msg("BlueLedger shutdown complete")
	return runErr
}

func migrator(db *sql.DB, cfg config.Config, logger zerolog.Logger) *persistence.Migrator {
	if cfg.MigrationsDir != "" {
		return persistence.NewMigrator(db, cfg.MigrationsDir, logger)
	}
	return persistence.NewMigratorFS(db, migrations.FS, logger)
}

// bridgeCoreOutputs converts core outputs into persisted rows and
// publishable records. Outputs at or below persistedHead come from replay
// and are already stored and published. It closes both outputs when in
// closes.
func bridgeCoreOutputs(
	in <-chan core.CoreOutput,
	persistOut chan<- persistence.CoreOutput,
	publishOut chan<- ingestion.PublishableRecord,
	persistedHead int64,
	health *observability.HealthChecker,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) {
	defer close(persistOut)
	defer close(publishOut)

	for out := range in {
		if out.Envelope == nil || out.Envelope.Sequence <= persistedHead {
			continue
		}

		persistOut <- persistence.FromCoreOutput(out)
		health.SetSequence(out.Envelope.Sequence)

		records, err := ingestion.RecordsFromOutput(out)
		if err != nil {
			logger.Warn().Err(err).Int64("sequence", out.Envelope.Sequence).Msg("encode outbound records")
			continue
		}
		for _, rec := range records {
			select {
			case publishOut <- rec:
			default:
				metrics.PublishDrops.Inc()
			}
		}
	}
}

// runIngestionLoop parses NATS messages and hands them to the sequencer.
// Messages are acked once sequenced, not once applied; rejections are
// recorded in the event log. Unparseable messages are terminated so they
// are not redelivered.
func runIngestionLoop(ctx context.Context, rawChan <-chan ingestion.RawEvent, seq *core.Sequencer, logger zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw := <-rawChan:
			cmd, err := ingestion.ParseRawEvent(raw)
			if err != nil {
				logger.Warn().Err(err).Str("subject", raw.Subject).Msg("dropping malformed message")
				raw.TermFunc()
				continue
			}
			if err := seq.Enqueue(ctx, cmd); err != nil {
				raw.NakFunc()
				continue
			}
			raw.AckFunc()
		}
	}
}

// runPeriodicSnapshots snapshots once SnapshotInterval sequences have been
// applied since the last one, checking every SnapshotCheckInterval. It also
// samples channel depths.
func runPeriodicSnapshots(
	ctx context.Context,
	seq *core.Sequencer,
	snapMgr *persistence.SnapshotManager,
	cfg config.Config,
	metrics *observability.Metrics,
	persistChan, projectionChan chan core.CoreOutput,
	logger zerolog.Logger,
) {
	interval := cfg.SnapshotInterval
	if interval <= 0 {
		interval = 100_000
	}
	check := cfg.SnapshotCheckInterval
	if check <= 0 {
		check = 10 * time.Second
	}

	var last int64
	if err := seq.Read(ctx, func(c *core.DeterministicCore) { last = c.GetSequence() }); err != nil {
		return
	}

	ticker := time.NewTicker(check)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.SetChannelMetrics("persist", len(persistChan), cap(persistChan))
			metrics.SetChannelMetrics("projection", len(projectionChan), cap(projectionChan))

			var current int64
			if err := seq.Read(ctx, func(c *core.DeterministicCore) { current = c.GetSequence() }); err != nil {
				return
			}
			if current-last < interval {
				continue
			}
			taken, err := takeSnapshot(ctx, seq.Read, snapMgr, metrics)
			if err != nil {
				logger.Warn().Err(err).Msg("periodic snapshot failed")
				continue
			}
			last = taken
			logger.Info().Int64("sequence", taken).Msg("periodic snapshot saved")
		}
	}
}

func serveMetrics(ctx context.Context, addr string, errChan chan<- error, logger zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	logger.Info().Str("addr", addr).Msg("metrics server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errChan <- fmt.Errorf("metrics server: %w", err)
	}
}
