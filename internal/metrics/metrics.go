// Package metrics exposes Prometheus instrumentation for fetch handling and
// lifecycle transitions.
//
// A nil *Metrics is valid and records nothing, so components can take one
// unconditionally and callers that do not want metrics pass nil.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Fetch outcomes.
const (
	OutcomeNetwork  = "network"
	OutcomeCache    = "cache"
	OutcomeFallback = "fallback"
	OutcomeError    = "error"
	OutcomeMiss     = "miss"
)

// Metrics holds the collectors registered for one process.
type Metrics struct {
	reg prometheus.Gatherer

	fetches         *prometheus.CounterVec
	fetchDuration   *prometheus.HistogramVec
	cacheWrites     *prometheus.CounterVec
	revalidations   *prometheus.CounterVec
	transitions     *prometheus.CounterVec
	signals         *prometheus.CounterVec
	policyPushes    *prometheus.CounterVec
	cachesDeleted   prometheus.Counter
	precachedAssets prometheus.Counter
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.NewRegistry())
}

// NewWithRegistry registers the collectors on reg.
func NewWithRegistry(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		fetches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "swkit_fetch_total",
			Help: "Intercepted requests by strategy and where the response came from",
		}, []string{"strategy", "outcome"}),
		fetchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "swkit_fetch_duration_seconds",
			Help:    "Time to resolve an intercepted request",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"strategy"}),
		cacheWrites: f.NewCounterVec(prometheus.CounterOpts{
			Name: "swkit_cache_writes_total",
			Help: "Responses written to Cache Storage by result",
		}, []string{"result"}), // "stored", "skipped", "failed"
		revalidations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "swkit_revalidations_total",
			Help: "Background stale-while-revalidate refreshes by result",
		}, []string{"result"}),
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "swkit_registration_transitions_total",
			Help: "Registration state transitions on the host",
		}, []string{"state"}),
		signals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "swkit_lifecycle_signals_total",
			Help: "Lifecycle signals raised to subscribers",
		}, []string{"signal"}),
		policyPushes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "swkit_policy_pushes_total",
			Help: "Policy map deliveries to the worker",
		}, []string{"delivery"}), // "controller", "deferred", "dropped"
		cachesDeleted: f.NewCounter(prometheus.CounterOpts{
			Name: "swkit_caches_deleted_total",
			Help: "Stale cache generations deleted on activation",
		}),
		precachedAssets: f.NewCounter(prometheus.CounterOpts{
			Name: "swkit_precached_assets_total",
			Help: "Assets stored during install",
		}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveFetch(strategy, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(strategy, outcome).Inc()
	m.fetchDuration.WithLabelValues(strategy).Observe(d.Seconds())
}

func (m *Metrics) CacheWrite(result string) {
	if m == nil {
		return
	}
	m.cacheWrites.WithLabelValues(result).Inc()
}

func (m *Metrics) Revalidation(result string) {
	if m == nil {
		return
	}
	m.revalidations.WithLabelValues(result).Inc()
}

func (m *Metrics) Transition(state string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(state).Inc()
}

func (m *Metrics) Signal(name string) {
	if m == nil {
		return
	}
	m.signals.WithLabelValues(name).Inc()
}

func (m *Metrics) PolicyPush(delivery string) {
	if m == nil {
		return
	}
	m.policyPushes.WithLabelValues(delivery).Inc()
}

func (m *Metrics) CachesDeleted(n int) {
	if m == nil {
		return
	}
	m.cachesDeleted.Add(float64(n))
}

func (m *Metrics) Precached(n int) {
	if m == nil {
		return
	}
	m.precachedAssets.Add(float64(n))
}
