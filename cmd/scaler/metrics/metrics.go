// Package metrics provides Prometheus instrumentation for the scaler.
//
// Metrics exposed on /metrics:
//   - stepscaler_tick_duration_seconds: Histogram of scaling tick durations
//   - stepscaler_tick_errors_total: Counter of failed ticks by stage
//   - stepscaler_decisions_total: Counter of decisions by outcome
//   - stepscaler_metric_value: Gauge of the last metric value evaluated
//   - stepscaler_current_capacity: Gauge of the capacity seen before the last decision
//   - stepscaler_desired_capacity: Gauge of the last desired capacity
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/HatiCode/stepscaler/pkg/stepscaling"
)

// Decision outcomes.
const (
	OutcomeScaleOut   = "scale_out"
	OutcomeScaleIn    = "scale_in"
	OutcomeUnchanged  = "unchanged"
	OutcomeSuppressed = "suppressed"
)

type Metrics struct {
	TickDuration    prometheus.Histogram
	TickErrors      *prometheus.CounterVec
	Decisions       *prometheus.CounterVec
	MetricValue     prometheus.Gauge
	CurrentCapacity prometheus.Gauge
	DesiredCapacity prometheus.Gauge
}

// New registers the scaler metrics with the default registry. Call it once
// per process.
func New() *Metrics {
	return &Metrics{
		TickDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "stepscaler_tick_duration_seconds",
			Help:    "Duration of scaling ticks",
			Buckets: prometheus.DefBuckets,
		}),

		TickErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "stepscaler_tick_errors_total",
			Help: "Total number of failed scaling ticks by stage",
		}, []string{"stage"}),

		Decisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "stepscaler_decisions_total",
			Help: "Total number of scaling decisions by outcome",
		}, []string{"outcome"}),

		MetricValue: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "stepscaler_metric_value",
			Help: "Last metric value evaluated against the policy",
		}),

		CurrentCapacity: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "stepscaler_current_capacity",
			Help: "Capacity in effect before the last decision",
		}),

		DesiredCapacity: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "stepscaler_desired_capacity",
			Help: "Desired capacity of the last decision",
		}),
	}
}

func (m *Metrics) ObserveTick(seconds float64) {
	m.TickDuration.Observe(seconds)
}

func (m *Metrics) RecordTickError(stage string) {
	m.TickErrors.WithLabelValues(stage).Inc()
}

func (m *Metrics) RecordDecision(d stepscaling.Decision, applied bool) {
	m.MetricValue.Set(d.MetricValue)
	m.CurrentCapacity.Set(float64(d.CurrentCapacity))
	m.DesiredCapacity.Set(float64(d.DesiredCapacity))
	m.Decisions.WithLabelValues(Outcome(d, applied)).Inc()
}

// Outcome classifies a decision for the decisions counter.
func Outcome(d stepscaling.Decision, applied bool) string {
	switch {
	case d.Suppressed:
		return OutcomeSuppressed
	case !applied || !d.Changed():
		return OutcomeUnchanged
	case d.DesiredCapacity > d.CurrentCapacity:
		return OutcomeScaleOut
	default:
		return OutcomeScaleIn
	}
}
