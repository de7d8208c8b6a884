// Package metrics records sync pass metrics on a private prometheus
// registry and exports them in the node-exporter textfile format.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/pimsync/internal/engine"
)

const namespace = "pimsync"

// PassMetrics holds the instruments for sync passes.
type PassMetrics struct {
	registry *prometheus.Registry

	results      *prometheus.CounterVec
	passes       *prometheus.CounterVec
	passDuration prometheus.Histogram
	lastPass     prometheus.Gauge
	lastFailures prometheus.Gauge
}

var _ engine.Recorder = (*PassMetrics)(nil)

// New creates PassMetrics registered on a fresh registry.
func New() *PassMetrics {
	m := &PassMetrics{
		registry: prometheus.NewRegistry(),
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "match_results_total",
			Help:      "Matches processed, by action and outcome.",
		}, []string{"action", "outcome"}),
		passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "passes_total",
			Help:      "Sync passes run, by status.",
		}, []string{"status"}),
		passDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pass_duration_seconds",
			Help:      "Duration of sync passes in seconds.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		lastPass: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_pass_timestamp_seconds",
			Help:      "Unix time the last pass started.",
		}),
		lastFailures: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_pass_failures",
			Help:      "Skipped plus failed matches in the last pass.",
		}),
	}
	m.registry.MustRegister(m.results, m.passes, m.passDuration, m.lastPass, m.lastFailures)
	return m
}

// Registry exposes the private registry.
func (m *PassMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveResult counts one processed match.
func (m *PassMetrics) ObserveResult(res engine.Result) {
	if m == nil {
		return
	}
	m.results.WithLabelValues(res.Action.String(), string(res.Outcome)).Inc()
}

// ObservePass records the pass duration and status. A pass that returned
// an error is "aborted" even when it produced a partial summary.
func (m *PassMetrics) ObservePass(s *engine.Summary, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	switch {
	case err != nil:
		status = "aborted"
	case s != nil && s.Failures() > 0:
		status = "partial"
	}
	m.passes.WithLabelValues(status).Inc()
	m.passDuration.Observe(elapsed.Seconds())
	if s != nil {
		m.lastPass.Set(float64(s.StartedAt.Unix()))
		m.lastFailures.Set(float64(s.Failures()))
	}
}

// WriteTextfile writes every metric to path for a textfile collector.
func (m *PassMetrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics %s: %w", path, err)
	}
	return nil
}
