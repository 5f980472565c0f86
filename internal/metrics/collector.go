package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector records Prometheus metrics for the memory layer.
type Collector struct {
	// Retrieval metrics
	retrievalsTotal    *prometheus.CounterVec
	retrievalDuration  *prometheus.HistogramVec
	sourceFailures     *prometheus.CounterVec
	contextConfidence  prometheus.Histogram
	contextTruncations prometheus.Counter

	// Episode cache metrics
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	// Consolidation metrics
	consolidationRuns   *prometheus.CounterVec
	consolidationTouch  *prometheus.CounterVec
	consolidationErrors prometheus.Counter

	// Session metrics
	sessionsLive      prometheus.Gauge
	sessionsEvicted   *prometheus.CounterVec
	snapshotFailures  *prometheus.CounterVec
	pendingFactsDepth prometheus.Histogram

	logger *zap.Logger
}

// NewCollector creates a metrics collector registered on the default
// registry under the given namespace.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.retrievalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrievals_total",
			Help:      "Total number of context retrieval requests",
		},
		[]string{"agent", "task_type"},
	)

	c.retrievalDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_duration_seconds",
			Help:      "Context retrieval duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"agent"},
	)

	c.sourceFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_failures_total",
			Help:      "Total number of failed retrieval source calls",
		},
		[]string{"source"},
	)

	c.contextConfidence = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "context_confidence",
			Help:      "Confidence of assembled contexts",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		},
	)

	c.contextTruncations = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "context_truncations_total",
			Help:      "Total number of rendered contexts cut at the length limit",
		},
	)

	c.cacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	c.cacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	c.consolidationRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consolidation_runs_total",
			Help:      "Total number of consolidation runs",
		},
		[]string{"outcome"}, // touched, noop
	)

	c.consolidationTouch = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consolidation_records_total",
			Help:      "Total records affected by consolidation, by phase",
		},
		[]string{"phase"},
	)

	c.consolidationErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consolidation_errors_total",
			Help:      "Total number of consolidation phase errors",
		},
	)

	c.sessionsLive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_live",
			Help:      "Number of live working memory sessions",
		},
	)

	c.sessionsEvicted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_evicted_total",
			Help:      "Total number of evicted sessions",
		},
		[]string{"reason"}, // idle, capacity, explicit
	)

	c.snapshotFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_failures_total",
			Help:      "Total number of failed session snapshot operations",
		},
		[]string{"operation"}, // load, save
	)

	c.pendingFactsDepth = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pending_facts_depth",
			Help:      "Pending facts per buffer observed at consolidation time",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 8),
		},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// RecordRetrieval records one context assembly.
func (c *Collector) RecordRetrieval(agent, taskType string, duration time.Duration, confidence float64) {
	c.retrievalsTotal.WithLabelValues(agent, taskType).Inc()
	c.retrievalDuration.WithLabelValues(agent).Observe(duration.Seconds())
	c.contextConfidence.Observe(confidence)
}

// RecordSourceFailure records a failed fan-out branch.
func (c *Collector) RecordSourceFailure(source string) {
	c.sourceFailures.WithLabelValues(source).Inc()
}

// RecordTruncation records a rendered context cut at the length limit.
func (c *Collector) RecordTruncation() {
	c.contextTruncations.Inc()
}

// RecordCacheHit records a cache hit.
func (c *Collector) RecordCacheHit(cacheType string) {
	c.cacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss records a cache miss.
func (c *Collector) RecordCacheMiss(cacheType string) {
	c.cacheMisses.WithLabelValues(cacheType).Inc()
}

// RecordConsolidation records the outcome of one consolidation run.
func (c *Collector) RecordConsolidation(promoted, decayed, merged, removed, goalsArchived, patternsReinforced, errCount int) {
	outcome := "noop"
	if promoted+decayed+merged+removed+goalsArchived+patternsReinforced > 0 {
		outcome = "touched"
	}
	c.consolidationRuns.WithLabelValues(outcome).Inc()
	c.consolidationTouch.WithLabelValues("promoted").Add(float64(promoted))
	c.consolidationTouch.WithLabelValues("decayed").Add(float64(decayed))
	c.consolidationTouch.WithLabelValues("merged").Add(float64(merged))
	c.consolidationTouch.WithLabelValues("removed").Add(float64(removed))
	c.consolidationTouch.WithLabelValues("goals_archived").Add(float64(goalsArchived))
	c.consolidationTouch.WithLabelValues("patterns_reinforced").Add(float64(patternsReinforced))
	c.consolidationErrors.Add(float64(errCount))
}

// SetLiveSessions sets the live session gauge.
func (c *Collector) SetLiveSessions(n int) {
	c.sessionsLive.Set(float64(n))
}

// RecordEviction records a session eviction.
func (c *Collector) RecordEviction(reason string) {
	c.sessionsEvicted.WithLabelValues(reason).Inc()
}

// RecordSnapshotFailure records a failed snapshot load or save.
func (c *Collector) RecordSnapshotFailure(operation string) {
	c.snapshotFailures.WithLabelValues(operation).Inc()
}

// ObservePendingFacts records a buffer's pending-fact depth.
func (c *Collector) ObservePendingFacts(n int) {
	c.pendingFactsDepth.Observe(float64(n))
}
