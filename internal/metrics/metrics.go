// Package metrics defines the Prometheus collectors for the export pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "lotus_export"

// Metrics holds the exporter's collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	windows        *prometheus.CounterVec
	lines          *prometheus.CounterVec
	bytes          *prometheus.CounterVec
	windowDuration *prometheus.HistogramVec
	pending        *prometheus.GaugeVec
	lastSuccess    *prometheus.GaugeVec
	runs           *prometheus.CounterVec
	skippedTicks   prometheus.Counter
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		windows: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "windows_total",
			Help:      "Hour windows processed, by outcome.",
		}, []string{"extractor", "status"}),
		lines: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lines_total",
			Help:      "Log lines handled by the transform, by result.",
		}, []string{"extractor", "result"}),
		bytes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compressed_bytes_total",
			Help:      "Compressed bytes written to the object store.",
		}, []string{"extractor"}),
		windowDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "window_duration_seconds",
			Help:      "Time to export one hour window.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14), // 100ms to ~27min
		}, []string{"extractor"}),
		pending: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_windows",
			Help:      "Windows in the latest plan that were not yet exported.",
		}, []string{"extractor"}),
		lastSuccess: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successfully exported window.",
		}, []string{"extractor"}),
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Extractor runs, by outcome.",
		}, []string{"extractor", "status"}),
		skippedTicks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "skipped_ticks_total",
			Help:      "Scheduled ticks skipped because the previous run was still active.",
		}),
	}
}

// WindowExported records a successful window.
func (m *Metrics) WindowExported(extractor string, written, skipped, failed int, bytes int64, took time.Duration) {
	if m == nil {
		return
	}
	m.windows.WithLabelValues(extractor, "exported").Inc()
	m.lines.WithLabelValues(extractor, "written").Add(float64(written))
	m.lines.WithLabelValues(extractor, "skipped").Add(float64(skipped))
	m.lines.WithLabelValues(extractor, "failed").Add(float64(failed))
	m.bytes.WithLabelValues(extractor).Add(float64(bytes))
	m.windowDuration.WithLabelValues(extractor).Observe(took.Seconds())
	m.lastSuccess.WithLabelValues(extractor).SetToCurrentTime()
	m.pending.WithLabelValues(extractor).Dec()
}

// WindowFailed records a window that did not produce an object.
func (m *Metrics) WindowFailed(extractor string, took time.Duration) {
	if m == nil {
		return
	}
	m.windows.WithLabelValues(extractor, "failed").Inc()
	m.windowDuration.WithLabelValues(extractor).Observe(took.Seconds())
}

// Planned sets the pending window count for extractor.
func (m *Metrics) Planned(extractor string, n int) {
	if m == nil {
		return
	}
	m.pending.WithLabelValues(extractor).Set(float64(n))
}

// RunFinished counts one extractor run.
func (m *Metrics) RunFinished(extractor string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.runs.WithLabelValues(extractor, status).Inc()
}

// TickSkipped counts a scheduled tick dropped due to overlap.
func (m *Metrics) TickSkipped() {
	if m == nil {
		return
	}
	m.skippedTicks.Inc()
}
