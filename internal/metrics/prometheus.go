// Package metrics provides Prometheus-based metrics recording for planning
// cycles.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/banshee-data/velocity.planner/internal/decision"
	"github.com/banshee-data/velocity.planner/internal/planner"
)

// Recorder implements planner.Observer using Prometheus metrics.
type Recorder struct {
	sessionsTotal   prometheus.Counter
	cyclesTotal     *prometheus.CounterVec
	cycleDuration   prometheus.Histogram
	overBudgetTotal prometheus.Counter
	laneChanges     *prometheus.CounterVec
	brakingTotal    prometheus.Counter
	targetSpeed     prometheus.Gauge
	reusedPoints    prometheus.Histogram
}

// NewRecorder registers the planner metrics with reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		sessionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "planner_sessions_total",
			Help: "Total number of simulator sessions started",
		}),
		cyclesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "planner_cycles_total",
				Help: "Total number of successful planning cycles by maneuver",
			},
			[]string{"maneuver"},
		),
		cycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "planner_cycle_duration_seconds",
			Help:    "Duration of planning cycles in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12),
		}),
		overBudgetTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "planner_cycles_over_budget_total",
			Help: "Total number of cycles that took longer than the cycle period",
		}),
		laneChanges: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "planner_lane_changes_total",
				Help: "Total number of lane changes by direction",
			},
			[]string{"direction"},
		),
		brakingTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "planner_braking_cycles_total",
			Help: "Total number of cycles that lowered the target speed",
		}),
		targetSpeed: factory.NewGauge(prometheus.GaugeOpts{
			Name: "planner_target_speed",
			Help: "Target speed of the most recent cycle in the configured speed unit",
		}),
		reusedPoints: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "planner_reused_points",
			Help:    "Number of previous path points reused per cycle",
			Buckets: prometheus.LinearBuckets(0, 10, 6),
		}),
	}
}

// ObserveSession implements planner.Observer.
func (r *Recorder) ObserveSession(*planner.Session, string) {
	r.sessionsTotal.Inc()
}

// ObserveCycle implements planner.Observer.
func (r *Recorder) ObserveCycle(c planner.CycleReport) {
	r.cyclesTotal.WithLabelValues(c.Maneuver.String()).Inc()
	r.cycleDuration.Observe(c.Latency.Seconds())
	if c.OverBudget {
		r.overBudgetTotal.Inc()
	}
	if c.Maneuver.IsLaneChange() {
		dir := "right"
		if c.Maneuver == decision.ChangingLeft {
			dir = "left"
		}
		r.laneChanges.WithLabelValues(dir).Inc()
	}
	if c.Maneuver.Decelerating() {
		r.brakingTotal.Inc()
	}
	r.targetSpeed.Set(c.TargetSpeed)
	r.reusedPoints.Observe(float64(c.Reused))
}
