// Package telemetry exposes pipeline metrics and the shared logging
// convention: one std logger per component with a bracketed prefix.
package telemetry

import (
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// NewLogger returns a logger with the component prefix, e.g. "[PIPELINE] ".
func NewLogger(component string) *log.Logger {
	return log.New(log.Writer(), "["+component+"] ", log.LstdFlags)
}

// Metrics holds the pipeline's prometheus collectors.
type Metrics struct {
	StageDuration *prometheus.HistogramVec
	StageArticles *prometheus.GaugeVec
	CacheHits     *prometheus.CounterVec
	CacheMisses   *prometheus.CounterVec
	CostDollars   prometheus.Counter
	RunsTotal     *prometheus.CounterVec
}

// NewMetrics registers the collectors against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		StageDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "feedigest",
			Name:      "stage_duration_seconds",
			Help:      "Wall time spent per pipeline stage.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
		StageArticles: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "feedigest",
			Name:      "stage_articles",
			Help:      "Articles leaving each stage in the last run.",
		}, []string{"stage"}),
		CacheHits: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "feedigest",
			Name:      "cache_hits_total",
			Help:      "Decision cache hits per stage.",
		}, []string{"stage"}),
		CacheMisses: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "feedigest",
			Name:      "cache_misses_total",
			Help:      "Decision cache misses per stage.",
		}, []string{"stage"}),
		CostDollars: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "feedigest",
			Name:      "classifier_cost_dollars_total",
			Help:      "Cumulative classifier spend in dollars.",
		}),
		RunsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "feedigest",
			Name:      "runs_total",
			Help:      "Pipeline runs by terminal status.",
		}, []string{"status"}),
	}
}

// ObserveStage records duration and output size for one stage.
func (m *Metrics) ObserveStage(stage string, elapsed time.Duration, out int) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
	m.StageArticles.WithLabelValues(stage).Set(float64(out))
}

// ObserveCache records cache counter deltas for one stage.
func (m *Metrics) ObserveCache(stage string, hits, misses int64) {
	if m == nil {
		return
	}
	m.CacheHits.WithLabelValues(stage).Add(float64(hits))
	m.CacheMisses.WithLabelValues(stage).Add(float64(misses))
}

// ObserveRun records the terminal status and spend of a run.
func (m *Metrics) ObserveRun(status string, cost float64) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(status).Inc()
	if cost > 0 {
		m.CostDollars.Add(cost)
	}
}
