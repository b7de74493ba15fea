package httpapi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"proofduck/pkg/types"
)

func scrape(t *testing.T) string {
	t.Helper()
	rr := httptest.NewRecorder()
	promhttp.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status=%d", rr.Code)
	}
	return rr.Body.String()
}

func TestMetricsMiddleware_LabelsByRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(MetricsMiddleware)
	r.Get("/v1/models/{id}/export", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/models/qwen-7b/export", nil))
	if rr.Code != http.StatusTeapot {
		t.Fatalf("status=%d", rr.Code)
	}

	body := scrape(t)
	if !strings.Contains(body, `proofduck_http_requests_total{method="GET",path="/v1/models/{id}/export",status="418"}`) {
		t.Fatalf("request counter with route pattern not found")
	}
	if strings.Contains(body, "qwen-7b") {
		t.Fatalf("raw path leaked into labels")
	}
}

func TestMetricsMiddleware_FallsBackToPath(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("ok")) })
	MetricsMiddleware(next).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/plain", nil))
	if !strings.Contains(scrape(t), `path="/plain",status="200"`) {
		t.Fatalf("fallback path label not found")
	}
}

func TestMetricsMiddleware_KeepsFlusher(t *testing.T) {
	flushed := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f, ok := w.(http.Flusher)
		if !ok {
			t.Fatal("wrapped writer must implement http.Flusher")
		}
		f.Flush()
		flushed = true
	})
	rr := httptest.NewRecorder()
	MetricsMiddleware(next).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/stream", nil))
	if !flushed || !rr.Flushed {
		t.Fatal("flush not forwarded")
	}
}

func TestStreamMetrics(t *testing.T) {
	complete := streamEvents.WithLabelValues(string(types.EventComplete))
	before := testutil.ToFloat64(complete)

	r := httptest.NewRequest(http.MethodGet, "/v1/events", nil)
	done := trackStream(r)
	if got := testutil.ToFloat64(openStreams.WithLabelValues("/v1/events")); got < 1 {
		t.Fatalf("open streams=%v", got)
	}
	sse := newSSE(httptest.NewRecorder(), nil)
	if err := sse.event(types.CompleteEvent("done", types.ModeProofread, "")); err != nil {
		t.Fatal(err)
	}
	done()
	if got := testutil.ToFloat64(openStreams.WithLabelValues("/v1/events")); got != 0 {
		t.Fatalf("open streams after close=%v", got)
	}
	if got := testutil.ToFloat64(complete) - before; got != 1 {
		t.Fatalf("complete events delta=%v", got)
	}
}

func TestIncrementBackpressure(t *testing.T) {
	IncrementBackpressure("")
	IncrementBackpressure("queue_full")
	body := scrape(t)
	for _, want := range []string{`reason="unspecified"`, `reason="queue_full"`} {
		if !strings.Contains(body, "proofduck_http_backpressure_total{"+want+"}") {
			t.Fatalf("missing backpressure series %s", want)
		}
	}
}
