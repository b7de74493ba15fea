package orchestrator

import "github.com/prometheus/client_golang/prometheus"

var (
	generationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "proofduck",
		Subsystem: "generation",
		Name:      "total",
		Help:      "Finished generations by backend kind and outcome.",
	}, []string{"kind", "outcome"})
	generationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "proofduck",
		Subsystem: "generation",
		Name:      "duration_seconds",
		Help:      "Time from request to terminal event.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"kind"})
	updatesDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "proofduck",
		Subsystem: "generation",
		Name:      "updates_dropped_total",
		Help:      "Update events skipped because the consumer lagged.",
	})
)

func init() {
	prometheus.MustRegister(generationsTotal, generationSeconds, updatesDropped)
}
