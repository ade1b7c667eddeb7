// Package metrics registers the Prometheus instrumentation for the scan
// pipeline: one metric per concern (scan timing, cache effectiveness,
// worker-pool saturation, subscriber count, classification outcomes).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus collector the engine exposes, each
// registered into its own Registry rather than prometheus.DefaultRegisterer
// — every Engine (and every test that constructs one) gets an isolated set
// of collectors instead of fighting over global registration.
type Metrics struct {
	Registry *prometheus.Registry

	ScanDuration     prometheus.Histogram
	ScanTotal        *prometheus.CounterVec
	ScanNextInterval prometheus.Gauge

	SignatureCacheHits   prometheus.Counter
	SignatureCacheMisses prometheus.Counter

	WorkerPoolLive prometheus.Gauge
	WorkerPoolBusy prometheus.Gauge

	Subscribers prometheus.Gauge

	ClassifyLevelTotal *prometheus.CounterVec

	AuditLogWrites *prometheus.CounterVec

	RemoteStoreChanged prometheus.Counter
}

// New creates a fresh Registry and registers all metrics into it.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		ScanDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "procscope_scan_duration_seconds",
			Help:    "Wall-clock duration of one full scan iteration.",
			Buckets: prometheus.DefBuckets,
		}),
		ScanTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "procscope_scan_total",
			Help: "Total scans completed, by outcome.",
		}, []string{"outcome"}), // outcome: committed, timed_out

		ScanNextInterval: f.NewGauge(prometheus.GaugeOpts{
			Name: "procscope_scan_next_interval_seconds",
			Help: "The adaptive interval chosen for the next scan.",
		}),

		SignatureCacheHits: f.NewCounter(prometheus.CounterOpts{
			Name: "procscope_signature_cache_hits_total",
			Help: "Signature cache lookups that hit a valid entry.",
		}),
		SignatureCacheMisses: f.NewCounter(prometheus.CounterOpts{
			Name: "procscope_signature_cache_misses_total",
			Help: "Signature cache lookups that missed or were invalidated.",
		}),

		WorkerPoolLive: f.NewGauge(prometheus.GaugeOpts{
			Name: "procscope_codesign_pool_live_workers",
			Help: "Number of live codesign worker-pool workers.",
		}),
		WorkerPoolBusy: f.NewGauge(prometheus.GaugeOpts{
			Name: "procscope_codesign_pool_busy_workers",
			Help: "Number of codesign worker-pool workers currently executing a task.",
		}),

		Subscribers: f.NewGauge(prometheus.GaugeOpts{
			Name: "procscope_push_subscribers",
			Help: "Currently attached /ws subscribers.",
		}),

		ClassifyLevelTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "procscope_classify_level_total",
			Help: "Classified processes by suspicion level, per scan.",
		}, []string{"level"}),

		AuditLogWrites: f.NewCounterVec(prometheus.CounterOpts{
			Name: "procscope_audit_log_writes_total",
			Help: "Audit log append attempts, by outcome.",
		}, []string{"outcome"}), // outcome: written, dedup_skipped, error

		RemoteStoreChanged: f.NewCounter(prometheus.CounterOpts{
			Name: "procscope_remote_store_changed_total",
			Help: "Cross-instance store-changed signals received over the Redis fan-out bus.",
		}),
	}
}

// RecordScan records one scan's outcome and duration.
func (m *Metrics) RecordScan(outcome string, durationSeconds float64) {
	m.ScanTotal.WithLabelValues(outcome).Inc()
	if outcome == "committed" {
		m.ScanDuration.Observe(durationSeconds)
	}
}

// SetNextInterval records the adaptive cadence chosen for the next scan.
func (m *Metrics) SetNextInterval(seconds float64) {
	m.ScanNextInterval.Set(seconds)
}

// RecordCacheLookup records a signature-cache hit or miss.
func (m *Metrics) RecordCacheLookup(hit bool) {
	if hit {
		m.SignatureCacheHits.Inc()
	} else {
		m.SignatureCacheMisses.Inc()
	}
}

// RecordClassifyLevels tallies one scan's level distribution.
func (m *Metrics) RecordClassifyLevels(low, med, high, critical int) {
	m.ClassifyLevelTotal.WithLabelValues("LOW").Add(float64(low))
	m.ClassifyLevelTotal.WithLabelValues("MED").Add(float64(med))
	m.ClassifyLevelTotal.WithLabelValues("HIGH").Add(float64(high))
	m.ClassifyLevelTotal.WithLabelValues("CRITICAL").Add(float64(critical))
}

// RecordAuditWrite records the outcome of one audit-log append attempt.
func (m *Metrics) RecordAuditWrite(outcome string) {
	m.AuditLogWrites.WithLabelValues(outcome).Inc()
}

// RecordRemoteStoreChanged records one store-changed signal received from
// another instance over the fan-out bus.
func (m *Metrics) RecordRemoteStoreChanged() {
	m.RemoteStoreChanged.Inc()
}
