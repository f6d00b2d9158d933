package observability

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"rozgar/ledger"
)

// LedgerMetrics tracks calls made against the system of record.
type LedgerMetrics struct {
	calls    *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	finality *prometheus.CounterVec
	wait     *prometheus.HistogramVec
}

// LifecycleMetrics tracks lifecycle requests as they move through validation,
// authorization and the ledger.
type LifecycleMetrics struct {
	transitions *prometheus.CounterVec
	denials     *prometheus.CounterVec
	validations *prometheus.CounterVec
	retries     *prometheus.CounterVec
}

// RosterMetrics tracks participant and global scans.
type RosterMetrics struct {
	scans    *prometheus.CounterVec
	failures *prometheus.CounterVec
	duration *prometheus.HistogramVec
	gigs     *prometheus.GaugeVec
}

type gatewayMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	ledgerMetricsOnce sync.Once
	ledgerRegistry    *LedgerMetrics

	lifecycleMetricsOnce sync.Once
	lifecycleRegistry    *LifecycleMetrics

	rosterMetricsOnce sync.Once
	rosterRegistry    *RosterMetrics

	gatewayMetricsOnce sync.Once
	gatewayRegistry    *gatewayMetrics
)

// Ledger returns the lazily-initialised ledger metrics registry.
func Ledger() *LedgerMetrics {
	ledgerMetricsOnce.Do(func() {
		ledgerRegistry = &LedgerMetrics{
			calls: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "rozgar",
				Subsystem: "ledger",
				Name:      "calls_total",
				Help:      "Ledger calls segmented by backend, method and failure kind.",
			}, []string{"backend", "method", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "rozgar",
				Subsystem: "ledger",
				Name:      "call_duration_seconds",
				Help:      "Latency distribution for ledger calls.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"backend", "method"}),
			finality: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "rozgar",
				Subsystem: "ledger",
				Name:      "finality_total",
				Help:      "Finality outcomes segmented by action and outcome.",
			}, []string{"action", "outcome"}),
			wait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "rozgar",
				Subsystem: "ledger",
				Name:      "finality_wait_seconds",
				Help:      "Time spent waiting for a submitted request to become final.",
				Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120, 300},
			}, []string{"action"}),
		}
		prometheus.MustRegister(
			ledgerRegistry.calls,
			ledgerRegistry.latency,
			ledgerRegistry.finality,
			ledgerRegistry.wait,
		)
	})
	return ledgerRegistry
}

// Outcome maps an error to a stable metric label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ledger.ErrNotFound):
		return "not_found"
	}
	if kind := ledger.KindOf(err); kind != ledger.KindUnknown {
		return kind.String()
	}
	return "error"
}

// ObserveCall records one ledger call.
func (m *LedgerMetrics) ObserveCall(backend, method string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	if backend == "" {
		backend = "unknown"
	}
	m.calls.WithLabelValues(backend, method, Outcome(err)).Inc()
	m.latency.WithLabelValues(backend, method).Observe(duration.Seconds())
}

// ObserveFinality records how an awaited request ended and how long it took.
func (m *LedgerMetrics) ObserveFinality(action string, err error, waited time.Duration) {
	if m == nil {
		return
	}
	if action == "" {
		action = "unknown"
	}
	m.finality.WithLabelValues(action, Outcome(err)).Inc()
	m.wait.WithLabelValues(action).Observe(waited.Seconds())
}

// Lifecycle returns the lazily-initialised lifecycle metrics registry.
func Lifecycle() *LifecycleMetrics {
	lifecycleMetricsOnce.Do(func() {
		lifecycleRegistry = &LifecycleMetrics{
			transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "rozgar",
				Subsystem: "lifecycle",
				Name:      "requests_total",
				Help:      "Lifecycle requests segmented by action and outcome.",
			}, []string{"action", "outcome"}),
			denials: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "rozgar",
				Subsystem: "lifecycle",
				Name:      "denials_total",
				Help:      "Requests refused before submission segmented by action and reason.",
			}, []string{"action", "reason"}),
			validations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "rozgar",
				Subsystem: "lifecycle",
				Name:      "validation_failures_total",
				Help:      "Creation drafts rejected by validation segmented by field reason.",
			}, []string{"reason"}),
			retries: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "rozgar",
				Subsystem: "lifecycle",
				Name:      "retries_total",
				Help:      "Explicit retries segmented by action and whether the request was resubmitted.",
			}, []string{"action", "result"}),
		}
		prometheus.MustRegister(
			lifecycleRegistry.transitions,
			lifecycleRegistry.denials,
			lifecycleRegistry.validations,
			lifecycleRegistry.retries,
		)
	})
	return lifecycleRegistry
}

// RecordRequest counts a create or transition request by its final outcome.
func (m *LifecycleMetrics) RecordRequest(action string, err error) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(action, Outcome(err)).Inc()
}

// RecordDenial counts an authorization refusal.
func (m *LifecycleMetrics) RecordDenial(action, reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.denials.WithLabelValues(action, reason).Inc()
}

// RecordValidationFailure counts one failing draft field.
func (m *LifecycleMetrics) RecordValidationFailure(reason string) {
	if m == nil {
		return
	}
	m.validations.WithLabelValues(reason).Inc()
}

// RecordRetry counts an explicit retry. result is "resubmitted" or "already_applied".
func (m *LifecycleMetrics) RecordRetry(action, result string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(action, result).Inc()
}

// Roster returns the lazily-initialised roster metrics registry.
func Roster() *RosterMetrics {
	rosterMetricsOnce.Do(func() {
		rosterRegistry = &RosterMetrics{
			scans: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "rozgar",
				Subsystem: "roster",
				Name:      "scans_total",
				Help:      "Roster scans segmented by scope and completeness.",
			}, []string{"scope", "result"}),
			failures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "rozgar",
				Subsystem: "roster",
				Name:      "fetch_failures_total",
				Help:      "Per-gig fetch failures observed during scans.",
			}, []string{"scope"}),
			duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "rozgar",
				Subsystem: "roster",
				Name:      "scan_duration_seconds",
				Help:      "Wall time of roster scans.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"scope"}),
			gigs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "rozgar",
				Subsystem: "roster",
				Name:      "ledger_gig_count",
				Help:      "Gig count observed by the most recent scan.",
			}, []string{"scope"}),
		}
		prometheus.MustRegister(
			rosterRegistry.scans,
			rosterRegistry.failures,
			rosterRegistry.duration,
			rosterRegistry.gigs,
		)
	})
	return rosterRegistry
}

// ObserveScan records one scan. err is the call-level failure, if any.
func (m *RosterMetrics) ObserveScan(scope string, count uint64, failed int, err error, duration time.Duration) {
	if m == nil {
		return
	}
	result := "complete"
	switch {
	case err != nil:
		result = "failed"
	case failed > 0:
		result = "incomplete"
	}
	m.scans.WithLabelValues(scope, result).Inc()
	if failed > 0 {
		m.failures.WithLabelValues(scope).Add(float64(failed))
	}
	if err == nil {
		m.gigs.WithLabelValues(scope).Set(float64(count))
	}
	m.duration.WithLabelValues(scope).Observe(duration.Seconds())
}

// Gateway returns the lazily-initialised HTTP gateway metrics registry.
func Gateway() *gatewayMetrics {
	gatewayMetricsOnce.Do(func() {
		gatewayRegistry = &gatewayMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "rozgar",
				Subsystem: "gateway",
				Name:      "requests_total",
				Help:      "Total gateway requests segmented by route and outcome.",
			}, []string{"route", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "rozgar",
				Subsystem: "gateway",
				Name:      "errors_total",
				Help:      "Total gateway errors segmented by route and status code.",
			}, []string{"route", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "rozgar",
				Subsystem: "gateway",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for gateway handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "rozgar",
				Subsystem: "gateway",
				Name:      "throttles_total",
				Help:      "Requests rejected due to throttling policies.",
			}, []string{"route", "reason"}),
		}
		prometheus.MustRegister(
			gatewayRegistry.requests,
			gatewayRegistry.errors,
			gatewayRegistry.latency,
			gatewayRegistry.throttles,
		)
	})
	return gatewayRegistry
}

// Observe records the outcome of a gateway request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *gatewayMetrics) Observe(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
		m.errors.WithLabelValues(route, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.requests.WithLabelValues(route, method, outcome).Inc()
	m.latency.WithLabelValues(route, method).Observe(duration.Seconds())
}

// Requests exposes the request counter for scraping in tests.
func (m *gatewayMetrics) Requests() *prometheus.CounterVec { return m.requests }

// RecordThrottle increments the throttle counter. Reasons should be stable
// strings such as "rate_limit".
func (m *gatewayMetrics) RecordThrottle(route, reason string) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(route, reason).Inc()
}
