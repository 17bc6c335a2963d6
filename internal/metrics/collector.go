// Package metrics exposes Prometheus collectors for workflow runs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Step outcomes.
const (
	OutcomeCompleted = "completed"
	OutcomeSuspended = "suspended"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
)

// Collector records run and step metrics. A nil *Collector is a valid no-op.
type Collector struct {
	runsTotal       *prometheus.CounterVec
	stepsTotal      *prometheus.CounterVec
	stepDuration    *prometheus.HistogramVec
	transitions     *prometheus.CounterVec
	diagnostics     *prometheus.CounterVec
	activeRuns      prometheus.Gauge
	snapshotsPruned prometheus.Counter
}

// NewCollector registers the collectors on reg under namespace.
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		runsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Workflow runs by workflow and final status of the invocation",
			},
			[]string{"workflow", "status"},
		),
		stepsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "steps_total",
				Help:      "Executed steps by node kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		stepDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "step_duration_seconds",
				Help:      "Step processor duration in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"kind"},
		),
		transitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transitions_total",
				Help:      "Edges taken by selection mode",
			},
			[]string{"mode"},
		),
		diagnostics: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "step_diagnostics_total",
				Help:      "Non-fatal step diagnostics by code",
			},
			[]string{"code"},
		),
		activeRuns: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_runs",
			Help:      "Runs currently executing",
		}),
		snapshotsPruned: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_pruned_total",
			Help:      "Finished snapshots removed by the janitor",
		}),
	}
}

// RunStarted marks a run invocation as active.
func (c *Collector) RunStarted() {
	if c == nil {
		return
	}
	c.activeRuns.Inc()
}

// RunFinished records the status an invocation ended in.
func (c *Collector) RunFinished(workflow, status string) {
	if c == nil {
		return
	}
	c.activeRuns.Dec()
	c.runsTotal.WithLabelValues(workflow, status).Inc()
}

// StepObserved records one step execution.
func (c *Collector) StepObserved(kind, outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.stepsTotal.WithLabelValues(kind, outcome).Inc()
	if outcome != OutcomeSkipped {
		c.stepDuration.WithLabelValues(kind).Observe(d.Seconds())
	}
}

// TransitionTaken records how an edge was selected: hint, guard, default or return.
func (c *Collector) TransitionTaken(mode string) {
	if c == nil {
		return
	}
	c.transitions.WithLabelValues(mode).Inc()
}

// Diagnostic records a non-fatal step problem.
func (c *Collector) Diagnostic(code string) {
	if c == nil {
		return
	}
	c.diagnostics.WithLabelValues(code).Inc()
}

// SnapshotsPruned adds n pruned snapshots.
func (c *Collector) SnapshotsPruned(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.snapshotsPruned.Add(float64(n))
}
