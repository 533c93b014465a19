package observability

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	relayMetricsOnce sync.Once
	relayRegistry    *RelayMetrics

	syncMetricsOnce sync.Once
	syncRegistry    *SyncMetrics
)

// RelayMetrics wraps collectors tracking delegated submission health.
type RelayMetrics struct {
	submissions *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	errors      *prometheus.CounterVec
}

// Relay returns the lazily-initialised metrics registry for delegated
// transaction submissions.
func Relay() *RelayMetrics {
	relayMetricsOnce.Do(func() {
		relayRegistry = &RelayMetrics{
			submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "billrelay",
				Subsystem: "relay",
				Name:      "submissions_total",
				Help:      "Count of delegated submissions segmented by action and outcome.",
			}, []string{"action", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "billrelay",
				Subsystem: "relay",
				Name:      "submission_duration_seconds",
				Help:      "Latency distribution for delegated submissions including confirmation wait.",
				Buckets:   prometheus.ExponentialBuckets(0.25, 2, 12),
			}, []string{"action"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "billrelay",
				Subsystem: "relay",
				Name:      "errors_total",
				Help:      "Count of failed delegated submissions segmented by action and reason.",
			}, []string{"action", "reason"}),
		}
		prometheus.MustRegister(
			relayRegistry.submissions,
			relayRegistry.latency,
			relayRegistry.errors,
		)
	})
	return relayRegistry
}

// Observe records the outcome and latency of a delegated submission.
func (m *RelayMetrics) Observe(action string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	action = labelAction(action)
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.submissions.WithLabelValues(action, outcome).Inc()
	m.latency.WithLabelValues(action).Observe(duration.Seconds())
}

// RecordError increments the error counter with a stable reason label.
func (m *RelayMetrics) RecordError(action, reason string) {
	if m == nil {
		return
	}
	if reason = strings.TrimSpace(reason); reason == "" {
		reason = "unspecified"
	}
	m.errors.WithLabelValues(labelAction(action), reason).Inc()
}

// SyncMetrics bundles collectors for the balance reconciliation sweep.
type SyncMetrics struct {
	sweeps         *prometheus.CounterVec
	walletFailures prometheus.Counter
	walletsSynced  prometheus.Gauge
	lastSweep      prometheus.Gauge
}

// Sync returns the metrics registry for the balance synchronizer.
func Sync() *SyncMetrics {
	syncMetricsOnce.Do(func() {
		syncRegistry = &SyncMetrics{
			sweeps: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "billrelay",
				Subsystem: "sync",
				Name:      "sweeps_total",
				Help:      "Count of balance sweeps segmented by outcome.",
			}, []string{"outcome"}),
			walletFailures: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "billrelay",
				Subsystem: "sync",
				Name:      "wallet_failures_total",
				Help:      "Count of per-wallet failures recorded across sweeps.",
			}),
			walletsSynced: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "billrelay",
				Subsystem: "sync",
				Name:      "wallets_synced",
				Help:      "Number of wallets updated during the most recent sweep.",
			}),
			lastSweep: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "billrelay",
				Subsystem: "sync",
				Name:      "last_sweep_timestamp_seconds",
				Help:      "Unix timestamp of the most recent completed sweep.",
			}),
		}
		prometheus.MustRegister(
			syncRegistry.sweeps,
			syncRegistry.walletFailures,
			syncRegistry.walletsSynced,
			syncRegistry.lastSweep,
		)
	})
	return syncRegistry
}

// RecordSweep records the result of one full sweep.
func (m *SyncMetrics) RecordSweep(synced, failed int, at time.Time) {
	if m == nil {
		return
	}
	outcome := "clean"
	if failed > 0 {
		outcome = "partial"
	}
	m.sweeps.WithLabelValues(outcome).Inc()
	m.walletFailures.Add(float64(failed))
	m.walletsSynced.Set(float64(synced))
	m.lastSweep.Set(float64(at.Unix()))
}

func labelAction(action string) string {
	trimmed := strings.TrimSpace(action)
	if trimmed == "" {
		return "unknown"
	}
	return strings.ToLower(trimmed)
}
