package download

import "github.com/prometheus/client_golang/prometheus"

var (
	downloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "modelbench",
			Subsystem: "download",
			Name:      "attempts_total",
			Help:      "Download attempts by result",
		},
		[]string{"result"},
	)

	downloadBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "modelbench",
			Subsystem: "download",
			Name:      "bytes_total",
			Help:      "Bytes received from bundle downloads",
		},
	)

	downloadsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "modelbench",
			Subsystem: "download",
			Name:      "active",
			Help:      "Transfers currently in flight",
		},
	)
)

func init() {
	prometheus.MustRegister(downloadsTotal, downloadBytes, downloadsActive)
}
