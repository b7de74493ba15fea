package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "proofduck"

var (
	requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by route pattern, method and status.",
	}, []string{"path", "method", "status"})

	// Event streams stay open for the whole generation, so the buckets reach
	// past the default 10s.
	requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Time from request start to the last byte written.",
		Buckets:   []float64{.005, .025, .1, .5, 1, 2.5, 10, 30, 120},
	}, []string{"path", "method", "status"})

	openStreams = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: "http",
		Name:      "open_streams",
		Help:      "Server-sent event streams currently open.",
	}, []string{"path"})

	streamEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "http",
		Name:      "stream_events_total",
		Help:      "Events written to server-sent event streams, by event type.",
	}, []string{"type"})

	packageBytes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "http",
		Name:      "package_bytes_total",
		Help:      "Model package bytes received by import or sent by export.",
	}, []string{"direction"})

	backpressureTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "http",
		Name:      "backpressure_total",
		Help:      "Requests rejected with 429.",
	}, []string{"reason"})
)

func init() {
	prometheus.MustRegister(requestsTotal, requestDuration, openStreams, streamEvents, packageBytes, backpressureTotal)
}

// MetricsMiddleware counts and times requests. The path label is the chi
// route pattern, read after routing so ids never become label values.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		labels := []string{routePatternOrPath(r), r.Method, strconv.Itoa(status)}
		requestsTotal.WithLabelValues(labels...).Inc()
		requestDuration.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
	})
}

func routePatternOrPath(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}

// trackStream marks a stream on r's route as open until the returned func
// runs.
func trackStream(r *http.Request) func() {
	g := openStreams.WithLabelValues(routePatternOrPath(r))
	g.Inc()
	return g.Dec
}

// IncrementBackpressure records a 429 response.
func IncrementBackpressure(reason string) {
	if reason == "" {
		reason = "unspecified"
	}
	backpressureTotal.WithLabelValues(reason).Inc()
}
