// Package metrics exposes Prometheus collectors for the sync engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "kitchensync"

// Delivery results.
const (
	ResultSynced   = "synced"
	ResultFailed   = "failed"
	ResultDeferred = "deferred"
)

// Collector holds the engine's metrics. A nil *Collector is valid and
// records nothing.
type Collector struct {
	registry *prometheus.Registry

	SyncRuns     prometheus.Counter
	Deliveries   *prometheus.CounterVec
	Pending      prometheus.Gauge
	Failed       prometheus.Gauge
	SyncDuration prometheus.Histogram
	Conflicts    *prometheus.CounterVec
}

// New registers the collectors on reg. A nil reg gets a fresh registry.
func New(reg *prometheus.Registry) *Collector {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	c := &Collector{
		registry: reg,
		SyncRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_runs_total",
			Help:      "Completed sync passes.",
		}),
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Backend delivery outcomes by result.",
		}, []string{"result"}),
		Pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_actions",
			Help:      "Actions waiting for backend confirmation.",
		}),
		Failed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "failed_actions",
			Help:      "Pending actions currently in the failed state.",
		}),
		SyncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_duration_seconds",
			Help:      "Wall time of a sync pass.",
			Buckets:   prometheus.DefBuckets,
		}),
		Conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conflicts_total",
			Help:      "Detected conflicts by winning side.",
		}, []string{"winner"}),
	}

	reg.MustRegister(c.SyncRuns, c.Deliveries, c.Pending, c.Failed, c.SyncDuration, c.Conflicts)
	return c
}

// ObserveDelivery counts one delivery outcome.
func (c *Collector) ObserveDelivery(result string) {
	if c == nil {
		return
	}
	c.Deliveries.WithLabelValues(result).Inc()
}

// ObserveSync records a finished sync pass.
func (c *Collector) ObserveSync(d time.Duration) {
	if c == nil {
		return
	}
	c.SyncRuns.Inc()
	c.SyncDuration.Observe(d.Seconds())
}

// ObserveConflict counts a conflict won by winner ("local" or "remote").
func (c *Collector) ObserveConflict(winner string) {
	if c == nil {
		return
	}
	c.Conflicts.WithLabelValues(winner).Inc()
}

// SetQueue publishes the queue depth.
func (c *Collector) SetQueue(pending, failed int) {
	if c == nil {
		return
	}
	c.Pending.Set(float64(pending))
	c.Failed.Set(float64(failed))
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
