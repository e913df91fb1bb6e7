package telemetry

import "github.com/prometheus/client_golang/prometheus"

// Metrics is the engine's prometheus metric set. It replaces the teacher's
// hand-rolled atomic-counter MetricsCollector (monitoring.go) with real
// prometheus/client_golang collectors, registered once per process and
// threaded through walkmgr/driver/dynstore by reference.
type Metrics struct {
	BlocksLoaded    prometheus.Counter
	BlockBytesRead  prometheus.Histogram
	BlockLoadErrors *prometheus.CounterVec // by walkerr.Kind

	WalksActive   prometheus.Gauge
	WalksSeeded   prometheus.Counter
	WalksMoved    prometheus.Counter
	WalksFinished *prometheus.CounterVec // by reason: max_hop, dead_end, manual

	WalksOnDisk prometheus.Gauge

	CompactionsTotal    prometheus.Counter
	CompactionDuration  prometheus.Histogram
	BlockSplitsTotal    prometheus.Counter

	BucketSpillsTotal prometheus.Counter
}

// NewMetrics constructs and registers a fresh Metrics set against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		BlocksLoaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vertexwalk",
			Name:      "blocks_loaded_total",
			Help:      "Number of CSR blocks loaded from the static store.",
		}),
		BlockBytesRead: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "vertexwalk",
			Name:      "block_bytes_read",
			Help:      "Bytes read (beg_pos + csr) per block load.",
			Buckets:   prometheus.ExponentialBuckets(1<<10, 4, 12),
		}),
		BlockLoadErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vertexwalk",
			Name:      "block_load_errors_total",
			Help:      "Block load failures, labeled by error kind.",
		}, []string{"kind"}),
		WalksActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "vertexwalk",
			Name:      "walks_active",
			Help:      "Live walks across all buckets, in memory or spilled to disk.",
		}),
		WalksSeeded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vertexwalk",
			Name:      "walks_seeded_total",
			Help:      "Total walks seeded since process start.",
		}),
		WalksMoved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vertexwalk",
			Name:      "walks_moved_total",
			Help:      "Walks handed off from one block's bucket to another's.",
		}),
		WalksFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vertexwalk",
			Name:      "walks_finished_total",
			Help:      "Walks that stopped advancing, labeled by reason.",
		}, []string{"reason"}),
		WalksOnDisk: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "vertexwalk",
			Name:      "walks_on_disk",
			Help:      "Walks currently spilled to the overflow queue.",
		}),
		CompactionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vertexwalk",
			Name:      "compactions_total",
			Help:      "Dynamic-store compactions run.",
		}),
		CompactionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "vertexwalk",
			Name:      "compaction_duration_seconds",
			Help:      "Wall time spent compacting one block's edge logs.",
			Buckets:   prometheus.DefBuckets,
		}),
		BlockSplitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vertexwalk",
			Name:      "block_splits_total",
			Help:      "Blocks split after exceeding the size threshold.",
		}),
		BucketSpillsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vertexwalk",
			Name:      "bucket_spills_total",
			Help:      "Walk bucket spill-to-disk events.",
		}),
	}
	reg.MustRegister(
		m.BlocksLoaded, m.BlockBytesRead, m.BlockLoadErrors,
		m.WalksActive, m.WalksSeeded, m.WalksMoved, m.WalksFinished, m.WalksOnDisk,
		m.CompactionsTotal, m.CompactionDuration, m.BlockSplitsTotal,
		m.BucketSpillsTotal,
	)
	return m
}

// NewTestMetrics returns a Metrics registered against a private registry, for
// use in package tests that don't want to touch prometheus.DefaultRegisterer.
func NewTestMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}
