package optimizer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kilianp07/ugs/core/milp"
)

var (
	solveDuration *prometheus.HistogramVec
	solveRuns     *prometheus.CounterVec
	solveNodes    prometheus.Histogram
)

// newCollectors creates new metric collectors.
func newCollectors() (*prometheus.HistogramVec, *prometheus.CounterVec, prometheus.Histogram) {
	dur := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ugs_solve_duration_seconds",
			Help:    "Wall time spent in the MILP solver",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		},
		[]string{"status"},
	)
	runs := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ugs_solve_runs_total",
			Help: "Number of solver invocations by termination status",
		},
		[]string{"status"},
	)
	nodes := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ugs_solve_nodes",
			Help:    "Branch-and-bound nodes explored per solve",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10),
		},
	)
	return dur, runs, nodes
}

func init() {
	solveDuration, solveRuns, solveNodes = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers solver metrics on the provided registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(solveDuration, solveRuns, solveNodes)
}

// ResetMetrics reinitializes metrics collectors for testing purposes and
// registers them on the provided registry if not nil.
func ResetMetrics(reg prometheus.Registerer) {
	solveDuration, solveRuns, solveNodes = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}

func observeSolve(sol milp.Solution, elapsed time.Duration) {
	status := sol.Status.String()
	solveRuns.WithLabelValues(status).Inc()
	solveDuration.WithLabelValues(status).Observe(elapsed.Seconds())
	solveNodes.Observe(float64(sol.Nodes))
}
