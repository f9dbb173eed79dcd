// Package metrics exposes Prometheus instrumentation for the transcription
// pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all pipeline counters. A nil *Metrics is valid and records
// nothing, so components do not need wiring in tests.
type Metrics struct {
	jobsTotal           *prometheus.CounterVec
	cacheHitsTotal      prometheus.Counter
	cacheMissesTotal    prometheus.Counter
	rateLimitedTotal    prometheus.Counter
	rotationsTotal      prometheus.Counter
	breakerTransitions  *prometheus.CounterVec
	pollObservations    prometheus.Counter
}

// New registers all pipeline metrics on the given registerer. Pass
// prometheus.DefaultRegisterer in production and a fresh
// prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		jobsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "echoscribe_jobs_total",
			Help: "Transcription jobs by terminal outcome (completed, failed, rate_limited, cached)",
		}, []string{"outcome"}),
		cacheHitsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "echoscribe_cache_hits_total",
			Help: "Result cache hits",
		}),
		cacheMissesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "echoscribe_cache_misses_total",
			Help: "Result cache misses",
		}),
		rateLimitedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "echoscribe_rate_limited_total",
			Help: "Jobs rejected by admission control",
		}),
		rotationsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "echoscribe_credential_rotations_total",
			Help: "Forced credential rotations after quota or auth rejections",
		}),
		breakerTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "echoscribe_breaker_transitions_total",
			Help: "Circuit breaker state transitions by dependency and new state",
		}, []string{"dependency", "to"}),
		pollObservations: factory.NewCounter(prometheus.CounterOpts{
			Name: "echoscribe_poll_observations_total",
			Help: "Status polls issued against the provider",
		}),
	}
}

// JobOutcome records a terminal job outcome.
func (m *Metrics) JobOutcome(outcome string) {
	if m == nil {
		return
	}
	m.jobsTotal.WithLabelValues(outcome).Inc()
}

// CacheHit records a result cache hit.
func (m *Metrics) CacheHit() {
	if m == nil {
		return
	}
	m.cacheHitsTotal.Inc()
}

// CacheMiss records a result cache miss.
func (m *Metrics) CacheMiss() {
	if m == nil {
		return
	}
	m.cacheMissesTotal.Inc()
}

// RateLimited records an admission rejection.
func (m *Metrics) RateLimited() {
	if m == nil {
		return
	}
	m.rateLimitedTotal.Inc()
}

// CredentialRotated records a forced rotation.
func (m *Metrics) CredentialRotated() {
	if m == nil {
		return
	}
	m.rotationsTotal.Inc()
}

// BreakerTransition records a circuit breaker state change.
func (m *Metrics) BreakerTransition(dependency, to string) {
	if m == nil {
		return
	}
	m.breakerTransitions.WithLabelValues(dependency, to).Inc()
}

// PollObserved records one status poll against the provider.
func (m *Metrics) PollObserved() {
	if m == nil {
		return
	}
	m.pollObservations.Inc()
}
