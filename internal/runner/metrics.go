package runner

import "github.com/prometheus/client_golang/prometheus"

var (
	testsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "modelbench",
			Subsystem: "tests",
			Name:      "results_total",
			Help:      "Test case outcomes by domain and result",
		},
		[]string{"domain", "result"},
	)

	testDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "modelbench",
			Subsystem: "tests",
			Name:      "case_duration_seconds",
			Help:      "Wall time per test case",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"domain"},
	)

	runsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "modelbench",
			Subsystem: "tests",
			Name:      "runs_total",
			Help:      "Test runs started",
		},
	)
)

func init() {
	prometheus.MustRegister(testsTotal, testDuration, runsTotal)
}
