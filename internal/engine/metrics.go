package engine

import "github.com/prometheus/client_golang/prometheus"

var (
	loadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "proofduck",
			Subsystem: "engine",
			Name:      "loads_total",
			Help:      "Engine loads by backend kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	evictionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "proofduck",
			Subsystem: "engine",
			Name:      "evictions_total",
			Help:      "Engines disposed to stay within the residency bound",
		},
	)

	residentEngines = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "proofduck",
			Subsystem: "engine",
			Name:      "resident",
			Help:      "Cached engines, loading or ready",
		},
	)
)

func init() {
	prometheus.MustRegister(loadsTotal, evictionsTotal, residentEngines)
}
