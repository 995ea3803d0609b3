package telemetry

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the engine's private Prometheus registry. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	runs              *prometheus.CounterVec
	stageDuration     *prometheus.HistogramVec
	stageDegraded     *prometheus.CounterVec
	mcTrials          prometheus.Counter
	cascadeIterations prometheus.Histogram
	twinRuns          *prometheus.CounterVec
	pTop              *prometheus.GaugeVec
	twinPTop          *prometheus.GaugeVec
}

// NewMetrics registers every engine collector on a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "praxis_pipeline_runs_total",
			Help: "Pipeline runs by outcome.",
		}, []string{"outcome"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "praxis_stage_duration_seconds",
			Help:    "Wall-clock time spent per pipeline stage.",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"stage"}),
		stageDegraded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "praxis_stage_degraded_total",
			Help: "Stages whose output degraded to their input.",
		}, []string{"stage"}),
		mcTrials: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "praxis_mc_trials_total",
			Help: "Completed Monte Carlo trials.",
		}),
		cascadeIterations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "praxis_cascade_iterations",
			Help:    "Cascade iterations used per run.",
			Buckets: []float64{0, 1, 2, 4, 8, 16, 32, 64},
		}),
		twinRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "praxis_twin_runs_total",
			Help: "Adversarial twin runs by mode and outcome.",
		}, []string{"mode", "outcome"}),
		pTop: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "praxis_top_event_probability",
			Help: "Latest top-event probability by scenario and method.",
		}, []string{"scenario", "method"}),
		twinPTop: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "praxis_twin_top_event_probability",
			Help: "Top-event probability across the twins of one mode.",
		}, []string{"scenario", "mode", "stat"}),
	}

	registry.MustRegister(
		m.runs,
		m.stageDuration,
		m.stageDegraded,
		m.mcTrials,
		m.cascadeIterations,
		m.twinRuns,
		m.pTop,
		m.twinPTop,
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// IncRun counts one pipeline run.
func (m *Metrics) IncRun(outcome string) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(outcome).Inc()
}

// ObserveStage records a stage duration.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// IncDegraded counts a degraded stage.
func (m *Metrics) IncDegraded(stage string) {
	if m == nil {
		return
	}
	m.stageDegraded.WithLabelValues(stage).Inc()
}

// AddMCTrials adds completed Monte Carlo trials.
func (m *Metrics) AddMCTrials(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.mcTrials.Add(float64(n))
}

// ObserveCascadeIterations records iterations used by one propagation.
func (m *Metrics) ObserveCascadeIterations(n int) {
	if m == nil {
		return
	}
	m.cascadeIterations.Observe(float64(n))
}

// IncTwin counts one twin run.
func (m *Metrics) IncTwin(mode, outcome string) {
	if m == nil {
		return
	}
	m.twinRuns.WithLabelValues(mode, outcome).Inc()
}

// SetPTop records the latest top-event probability.
func (m *Metrics) SetPTop(scenario, method string, p float64) {
	if m == nil {
		return
	}
	m.pTop.WithLabelValues(scenario, method).Set(p)
}

// SetTwinPTop records one aggregate (mean, max, ...) of a twin mode.
func (m *Metrics) SetTwinPTop(scenario, mode, stat string, p float64) {
	if m == nil {
		return
	}
	m.twinPTop.WithLabelValues(scenario, mode, stat).Set(p)
}

// WriteTextfile writes the registry for the node-exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile %s: %w", path, err)
	}
	return nil
}
