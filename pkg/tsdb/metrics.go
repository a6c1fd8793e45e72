package tsdb

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors exercised by this package.
// Construction pattern grounded on tree_db/internal/metrics.NewMetrics
// (promauto-registered CounterVec/HistogramVec/Gauge), relabeled from
// document/node counters to commit/flush/split/cache counters.
type Metrics struct {
	Commits      prometheus.Counter
	CommitErrors prometheus.Counter
	PageFlushes  prometheus.Counter
	PageSplits   prometheus.Counter
	CacheHits    prometheus.Counter
	CacheMisses  prometheus.Counter
	CursorSeeks  prometheus.Counter

	CommitDuration prometheus.Histogram
}

// NewMetrics registers a fresh set of collectors against reg. Pass
// prometheus.NewRegistry() in tests to avoid colliding with the default
// global registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Commits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "zdb",
			Name:      "commits_total",
			Help:      "Number of committed transactions.",
		}),
		CommitErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "zdb",
			Name:      "commit_errors_total",
			Help:      "Number of transactions that failed to commit.",
		}),
		PageFlushes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "zdb",
			Name:      "page_flushes_total",
			Help:      "Number of pages flushed to disk.",
		}),
		PageSplits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "zdb",
			Name:      "page_splits_total",
			Help:      "Number of page splits performed by cursors.",
		}),
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "zdb",
			Name:      "page_cache_hits_total",
			Help:      "Page map GetPage calls served from a resident buffer.",
		}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "zdb",
			Name:      "page_cache_misses_total",
			Help:      "Page map GetPage calls that loaded from disk.",
		}),
		CursorSeeks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "zdb",
			Name:      "cursor_seeks_total",
			Help:      "Number of Cursor.SeekTo calls.",
		}),
		CommitDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "zdb",
			Name:      "commit_duration_seconds",
			Help:      "Time spent in Transaction.Commit.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}
