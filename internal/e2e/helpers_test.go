package e2e

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"proofduck/internal/backend"
	"proofduck/internal/config"
	"proofduck/internal/daemon"
	"proofduck/internal/httpapi"
	"proofduck/pkg/types"
)

// newStack starts the daemon behind the real router on an httptest server.
func newStack(t *testing.T, mod func(*config.Config), opts ...daemon.Option) (*httptest.Server, *daemon.Daemon) {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.ModelsDir = t.TempDir()
	if mod != nil {
		mod(&cfg)
	}
	d, err := daemon.New(cfg.WithDefaults(), zerolog.Nop(), opts...)
	if err != nil {
		t.Fatalf("daemon: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	srv := httptest.NewServer(httpapi.NewMux(d, httpapi.Options{
		Logger:      zerolog.Nop(),
		BaseContext: ctx,
		CORSOrigins: []string{"chrome-extension://*"},
	}))
	t.Cleanup(func() {
		cancel()
		srv.Close()
		_ = d.Close()
	})
	return srv, d
}

// openAIServer streams chunks as chat completion deltas.
func openAIServer(t *testing.T, apiKey string, chunks ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" || r.Header.Get("Authorization") != "Bearer "+apiKey {
			http.Error(w, "unexpected request", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, c := range chunks {
			b, _ := json.Marshal(map[string]any{"choices": []any{map[string]any{"delta": map[string]string{"content": c}}}})
			fmt.Fprintf(w, "data: %s\n\n", b)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(srv.Close)
	return srv
}

type fakeHost struct{ chunks []string }

func (h *fakeHost) Availability(context.Context, string) (backend.Availability, error) {
	return backend.AvailabilityReadily, nil
}

func (h *fakeHost) CreateSession(context.Context, string) (backend.BuiltinSession, error) {
	return &fakeSession{chunks: h.chunks}, nil
}

type fakeSession struct{ chunks []string }

func (s *fakeSession) PromptStreaming(ctx context.Context, system, user string, onChunk func(string) error) error {
	for _, c := range s.chunks {
		if err := onChunk(c); err != nil {
			return err
		}
	}
	return nil
}

func (s *fakeSession) Destroy() error { return nil }

func do(t *testing.T, method, url, contentType string, body []byte) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), method, url, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	b, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, b
}

func sendJSON(t *testing.T, method, url string, v any) (*http.Response, []byte) {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return do(t, method, url, "application/json", b)
}

// scanEvents decodes the data lines of an SSE stream until r ends or stop
// returns true.
func scanEvents(t *testing.T, r io.Reader, stop func(types.Event) bool) []types.Event {
	t.Helper()
	var out []types.Event
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev types.Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			t.Fatalf("bad event %q: %v", line, err)
		}
		out = append(out, ev)
		if stop != nil && stop(ev) {
			break
		}
	}
	return out
}
