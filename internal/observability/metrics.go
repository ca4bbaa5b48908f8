package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for BlueLedger.
type Metrics struct {
	// --- Core processing ---
	CoreEventsApplied  *prometheus.CounterVec
	CoreEventsRejected *prometheus.CounterVec
	CoreEventDuration  *prometheus.HistogramVec
	CoreJournals       *prometheus.CounterVec
	CoreStateHashDur   prometheus.Histogram
	CoreSequence       prometheus.Gauge

	// --- Latency ---
	IngestToApply       *prometheus.HistogramVec
	ApplyToPersist      prometheus.Histogram
	QueryFreshnessLag   *prometheus.HistogramVec
	NATSPullLatency     *prometheus.HistogramVec
	PersistBatchDur     prometheus.Histogram
	ProjectionUpdateDur *prometheus.HistogramVec

	// --- Channels and backpressure ---
	ChannelSize         *prometheus.GaugeVec
	ChannelCapacity     *prometheus.GaugeVec
	ChannelUtilization  *prometheus.GaugeVec
	ProjectionDrops     *prometheus.CounterVec
	PublishDrops        prometheus.Counter
	PersistBackpressure prometheus.Counter

	// --- Idempotency and ordering ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge
	DedupLRUEvictions     prometheus.Counter
	EventSequenceGap      *prometheus.CounterVec
	EventOutOfOrder       *prometheus.CounterVec

	// --- Lending ---
	MarketsCreated     prometheus.Counter
	InterestAccrued    *prometheus.CounterVec
	Liquidations       *prometheus.CounterVec
	BadDebtRealized    *prometheus.CounterVec
	FlashLoans         *prometheus.CounterVec
	PriceUpdates       *prometheus.CounterVec
	MarketUtilization  *prometheus.GaugeVec
	MarketSupplyAssets *prometheus.GaugeVec
	MarketBorrowAssets *prometheus.GaugeVec

	// --- Persistence ---
	PersistEventsWritten   prometheus.Counter
	PersistJournalsWritten prometheus.Counter
	PersistBatchSize       prometheus.Histogram
	PersistErrors          *prometheus.CounterVec
	PersistRetry           prometheus.Counter
	PersistLastSequence    prometheus.Gauge

	// --- Snapshot and replay ---
	SnapshotTaken     prometheus.Counter
	SnapshotDuration  prometheus.Histogram
	SnapshotSizeBytes prometheus.Gauge
	SnapshotLastSeq   prometheus.Gauge
	ReplayEventsTotal prometheus.Counter
	ReplayDuration    prometheus.Gauge

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg. A nil reg
// uses the default Prometheus registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	ingestBuckets := []float64{
		0.00001, 0.000025, 0.00005, 0.0001, 0.00025,
		0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		// Core processing
		CoreEventsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "blue_core_commands_applied_total",
			Help: "Commands applied by core",
		}, []string{"command_type"}),

		CoreEventsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "blue_core_commands_rejected_total",
			Help: "Commands rejected (duplicate, sequence, operation error)",
		}, []string{"command_type", "reason"}),

		CoreEventDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "blue_core_command_apply_duration_seconds",
			Help:    "Time to apply a single command in core",
			Buckets: latencyBuckets,
		}, []string{"command_type"}),

		CoreJournals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "blue_core_journals_generated_total",
			Help: "Journal entries generated",
		}, []string{"journal_type"}),

		CoreStateHashDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "blue_core_state_hash_duration_seconds",
			Help:    "Time to compute state hash",
			Buckets: latencyBuckets,
		}),

		CoreSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "blue_core_sequence",
			Help: "Current global sequence number",
		}),

		// Latency
		IngestToApply: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "blue_ingest_to_apply_seconds",
			Help:    "Ingress receive to core apply complete",
			Buckets: ingestBuckets,
		}, []string{"source"}),

		ApplyToPersist: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "blue_apply_to_persist_seconds",
			Help:    "Core apply to Postgres commit",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),

		QueryFreshnessLag: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "blue_query_freshness_lag_seconds",
			Help:    "Projection lag behind the core sequence",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"projection"}),

		NATSPullLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "blue_nats_pull_latency_seconds",
			Help:    "NATS fetch round trip",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"stream"}),

		PersistBatchDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "blue_persist_batch_duration_seconds",
			Help:    "Time to write one persistence batch",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),

		ProjectionUpdateDur: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "blue_projection_update_duration_seconds",
			Help:    "Time to update a projection",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}, []string{"projection"}),

		// Channels
		ChannelSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "blue_channel_size",
			Help: "Buffered items in channel",
		}, []string{"channel"}),

		ChannelCapacity: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "blue_channel_capacity",
			Help: "Channel capacity",
		}, []string{"channel"}),

		ChannelUtilization: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "blue_channel_utilization",
			Help: "Channel size over capacity",
		}, []string{"channel"}),

		ProjectionDrops: f.NewCounterVec(prometheus.CounterOpts{
			Name: "blue_projection_drops_total",
			Help: "Outputs dropped because the projection channel was full",
		}, []string{"projection"}),

		PublishDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "blue_publish_drops_total",
			Help: "Records dropped by the publisher",
		}),

		PersistBackpressure: f.NewCounter(prometheus.CounterOpts{
			Name: "blue_persist_backpressure_total",
			Help: "Times the core blocked on the persist channel",
		}),

		// Idempotency
		IdempotencyDuplicates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "blue_idempotency_duplicates_total",
			Help: "Duplicate commands detected",
		}, []string{"command_type", "tier"}),

		DedupLRUSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "blue_dedup_lru_size",
			Help: "Keys held in the dedup LRU",
		}),

		DedupLRUEvictions: f.NewCounter(prometheus.CounterOpts{
			Name: "blue_dedup_lru_evictions_total",
			Help: "Keys evicted from the dedup LRU",
		}),

		EventSequenceGap: f.NewCounterVec(prometheus.CounterOpts{
			Name: "blue_command_sequence_gap_total",
			Help: "Source sequence gaps",
		}, []string{"partition"}),

		EventOutOfOrder: f.NewCounterVec(prometheus.CounterOpts{
			Name: "blue_command_out_of_order_total",
			Help: "Out-of-order source sequences",
		}, []string{"partition"}),

		// Lending
		MarketsCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "blue_markets_created_total",
			Help: "Markets created",
		}),

		InterestAccrued: f.NewCounterVec(prometheus.CounterOpts{
			Name: "blue_interest_accruals_total",
			Help: "Interest accruals that moved market totals",
		}, []string{"market"}),

		Liquidations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "blue_liquidations_total",
			Help: "Liquidations executed",
		}, []string{"market"}),

		BadDebtRealized: f.NewCounterVec(prometheus.CounterOpts{
			Name: "blue_bad_debt_realized_total",
			Help: "Liquidations that socialized bad debt",
		}, []string{"market"}),

		FlashLoans: f.NewCounterVec(prometheus.CounterOpts{
			Name: "blue_flash_loans_total",
			Help: "Flash loans repaid",
		}, []string{"token"}),

		PriceUpdates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "blue_price_updates_total",
			Help: "Feed prices applied",
		}, []string{"oracle"}),

		MarketUtilization: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "blue_market_utilization",
			Help: "Borrow assets over supply assets",
		}, []string{"market"}),

		MarketSupplyAssets: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "blue_market_supply_assets",
			Help: "Total supply assets (float approximation)",
		}, []string{"market"}),

		MarketBorrowAssets: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "blue_market_borrow_assets",
			Help: "Total borrow assets (float approximation)",
		}, []string{"market"}),

		// Persistence
		PersistEventsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "blue_persist_events_written_total",
			Help: "Envelopes written to the event log",
		}),

		PersistJournalsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "blue_persist_journals_written_total",
			Help: "Journal entries written",
		}),

		PersistBatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "blue_persist_batch_size",
			Help:    "Outputs per persistence batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "blue_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"kind"}),

		PersistRetry: f.NewCounter(prometheus.CounterOpts{
			Name: "blue_persist_retry_total",
			Help: "Persistence retries",
		}),

		PersistLastSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "blue_persist_last_sequence",
			Help: "Last sequence committed to Postgres",
		}),

		// Snapshot
		SnapshotTaken: f.NewCounter(prometheus.CounterOpts{
			Name: "blue_snapshot_taken_total",
			Help: "Snapshots written",
		}),

		SnapshotDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "blue_snapshot_duration_seconds",
			Help:    "Time to take a snapshot",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		}),

		SnapshotSizeBytes: f.NewGauge(prometheus.GaugeOpts{
			Name: "blue_snapshot_size_bytes",
			Help: "Size of the last snapshot",
		}),

		SnapshotLastSeq: f.NewGauge(prometheus.GaugeOpts{
			Name: "blue_snapshot_last_sequence",
			Help: "Sequence of the last snapshot",
		}),

		ReplayEventsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "blue_replay_events_total",
			Help: "Envelopes replayed at startup",
		}),

		ReplayDuration: f.NewGauge(prometheus.GaugeOpts{
			Name: "blue_replay_duration_seconds",
			Help: "Duration of the last replay",
		}),

		// Query API
		QueryRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "blue_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint"}),

		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "blue_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),

		QueryErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "blue_query_errors_total",
			Help: "Query errors",
		}, []string{"endpoint", "code"}),
	}
}

// SetChannelMetrics updates channel utilization metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}
