package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"proofduck/internal/backend"
	"proofduck/internal/orchestrator"
	"proofduck/internal/queue"
	"proofduck/pkg/types"
)

type mockService struct {
	mu sync.Mutex

	events    []types.Event
	handled   []types.Command
	genReqs   []types.GenerationRequest
	settings  types.BackendConfig
	saved     []types.BackendConfig
	status    types.StatusResponse
	models    []types.Model
	ready     bool
	quickErr  error
	export    []byte
	exportN   int
	imported  []byte
	importRes types.ImportResponse
	importErr error
	block     bool

	hub chan types.Event
}

func (m *mockService) feed() <-chan types.Event {
	ch := make(chan types.Event, len(m.events))
	for _, ev := range m.events {
		ch <- ev
	}
	close(ch)
	return ch
}

func (m *mockService) Handle(ctx context.Context, cmd types.Command) (<-chan types.Event, error) {
	m.mu.Lock()
	m.handled = append(m.handled, cmd)
	m.mu.Unlock()
	switch cmd.Type {
	case types.CommandLoad, types.CommandGenerate:
	case types.CommandReset:
		ch := make(chan types.Event)
		close(ch)
		return ch, nil
	default:
		return nil, &backend.ConfigError{Msg: "unknown command"}
	}
	return m.feed(), nil
}

func (m *mockService) Generate(ctx context.Context, req types.GenerationRequest) <-chan types.Event {
	m.mu.Lock()
	m.genReqs = append(m.genReqs, req)
	m.mu.Unlock()
	if m.block {
		return make(chan types.Event)
	}
	return m.feed()
}

func (m *mockService) Quick(ctx context.Context, text string, mode types.Mode) (types.QuickResponse, error) {
	if m.quickErr != nil {
		return types.QuickResponse{}, m.quickErr
	}
	return types.QuickResponse{Text: strings.ToUpper(text), Mode: mode, CorrelationID: "q1"}, nil
}

func (m *mockService) Settings(ctx context.Context) (types.BackendConfig, error) { return m.settings, nil }

func (m *mockService) SaveSettings(ctx context.Context, cfg types.BackendConfig) (types.SettingsResponse, error) {
	if !cfg.Kind.Valid() {
		return types.SettingsResponse{}, &backend.ConfigError{Msg: "bad kind"}
	}
	m.saved = append(m.saved, cfg)
	return types.SettingsResponse{Settings: cfg.Redacted(), Load: true, Status: "loading", ProgressText: "Warming up..."}, nil
}

func (m *mockService) Status(ctx context.Context) (types.StatusResponse, error) { return m.status, nil }

func (m *mockService) Subscribe(buffer int) (<-chan types.Event, func()) {
	return m.hub, func() {}
}

func (m *mockService) ListModels() []types.Model { return append([]types.Model(nil), m.models...) }

func (m *mockService) ExportModel(ctx context.Context, id string, w io.Writer) (int, error) {
	if m.export == nil {
		return 0, backend.ErrModelNotFound(id)
	}
	_, err := w.Write(m.export)
	return m.exportN, err
}

func (m *mockService) ImportPackage(ctx context.Context, data []byte) (types.ImportResponse, error) {
	m.imported = data
	return m.importRes, m.importErr
}

func (m *mockService) ExtractPage(html string) (string, error) {
	if !strings.Contains(html, "<p>") {
		return "", errors.New("pagetext: page has no readable text")
	}
	return "hello", nil
}

func (m *mockService) Ready() bool { return m.ready }

type mockHTTPError struct {
	msg  string
	code int
}

func (e mockHTTPError) Error() string   { return e.msg }
func (e mockHTTPError) StatusCode() int { return e.code }

func postJSON(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

// readSSE parses an event stream body into its events.
func readSSE(t *testing.T, body string) []types.Event {
	t.Helper()
	var out []types.Event
	sc := bufio.NewScanner(strings.NewReader(body))
	var name string
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			var ev types.Event
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
				t.Fatalf("bad data line %q: %v", line, err)
			}
			if string(ev.Type) != name {
				t.Fatalf("event name %q does not match type %q", name, ev.Type)
			}
			out = append(out, ev)
		}
	}
	return out
}

func TestGenerate_StreamsUntilTerminal(t *testing.T) {
	svc := &mockService{
		settings: types.BackendConfig{Kind: types.BackendLocalGPU, ModelID: "m1"},
		events: []types.Event{
			types.UpdateEvent("Th", types.ModeProofread, "c1"),
			types.UpdateEvent("This", types.ModeProofread, "c1"),
			types.CompleteEvent("This sentence.", types.ModeProofread, "c1"),
			types.UpdateEvent("never", types.ModeProofread, "c1"),
		},
	}
	h := NewMux(svc, Options{})
	w := postJSON(t, h, "/v1/generate", `{"text":"Ths sentence.","mode":"proofread","correlationId":"c1"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content-type=%s", ct)
	}
	evs := readSSE(t, w.Body.String())
	if len(evs) != 3 || evs[2].Type != types.EventComplete || evs[2].Text != "This sentence." {
		t.Fatalf("unexpected events: %+v", evs)
	}
	if len(svc.genReqs) != 1 {
		t.Fatalf("generate calls=%d", len(svc.genReqs))
	}
	got := svc.genReqs[0]
	if got.Backend.ModelID != "m1" || got.CorrelationID != "c1" || got.Mode != types.ModeProofread {
		t.Fatalf("saved settings not applied: %+v", got)
	}
}

func TestGenerate_UsesRequestBackend(t *testing.T) {
	svc := &mockService{
		settings: types.BackendConfig{Kind: types.BackendLocalGPU, ModelID: "m1"},
		events:   []types.Event{types.CompleteEvent("ok", types.ModeSummarize, "")},
	}
	h := NewMux(svc, Options{})
	w := postJSON(t, h, "/v1/generate", `{"text":"x","mode":"summarize","backendConfig":{"backendKind":"remote-http","remoteEndpoint":{"baseUrl":"http://r","modelName":"g"}}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	if k := svc.genReqs[0].Backend.Kind; k != types.BackendRemoteHTTP {
		t.Fatalf("backend=%s", k)
	}
}

func TestGenerate_Validation(t *testing.T) {
	h := NewMux(&mockService{}, Options{MaxBodyBytes: 64})
	if w := postJSON(t, h, "/v1/generate", `not-json`); w.Code != http.StatusBadRequest {
		t.Fatalf("bad json status=%d", w.Code)
	}
	if w := postJSON(t, h, "/v1/generate", `{"text":"  "}`); w.Code != http.StatusBadRequest {
		t.Fatalf("blank text status=%d", w.Code)
	}
	if w := postJSON(t, h, "/v1/generate", `{"text":"`+strings.Repeat("a", 128)+`"}`); w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("oversized status=%d", w.Code)
	}
	req := httptest.NewRequest(http.MethodPost, "/v1/generate", strings.NewReader(`{"text":"x"}`))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("missing content-type status=%d", w.Code)
	}
}

func TestGenerate_TimeoutEmitsError(t *testing.T) {
	svc := &mockService{block: true}
	h := NewMux(svc, Options{GenerateTimeout: 50 * time.Millisecond})
	w := postJSON(t, h, "/v1/generate", `{"text":"x","mode":"expand","correlationId":"c9"}`)
	evs := readSSE(t, w.Body.String())
	if len(evs) != 1 || evs[0].Type != types.EventError || evs[0].CorrelationID != "c9" {
		t.Fatalf("expected a timeout error event, got %+v", evs)
	}
}

func TestGenerate_BaseContextEndsStream(t *testing.T) {
	base, cancel := context.WithCancel(context.Background())
	svc := &mockService{block: true}
	h := NewMux(svc, Options{BaseContext: base})
	done := make(chan struct{})
	go func() {
		defer close(done)
		postJSON(t, h, "/v1/generate", `{"text":"x"}`)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not end on shutdown")
	}
}

func TestCommands(t *testing.T) {
	svc := &mockService{events: []types.Event{types.ProgressEvent(0.5, "Loading"), types.ReadyEvent()}}
	h := NewMux(svc, Options{})

	w := postJSON(t, h, "/v1/commands", `{"type":"load","backendConfig":{"backendKind":"local-cpu","modelId":"m"}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("load status=%d", w.Code)
	}
	if evs := readSSE(t, w.Body.String()); len(evs) != 2 || evs[1].Type != types.EventReady {
		t.Fatalf("load events: %+v", evs)
	}

	if w := postJSON(t, h, "/v1/commands", `{"type":"reset"}`); w.Code != http.StatusNoContent {
		t.Fatalf("reset status=%d", w.Code)
	}
	if w := postJSON(t, h, "/v1/commands", `{"type":"explode"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("unknown command status=%d", w.Code)
	}
	if len(svc.handled) != 3 {
		t.Fatalf("handled=%d", len(svc.handled))
	}
}

func TestQuick(t *testing.T) {
	h := NewMux(&mockService{}, Options{})
	w := postJSON(t, h, "/v1/quick", `{"text":"hola","mode":"translate"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	var res types.QuickResponse
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if res.Text != "HOLA" || res.Mode != types.ModeTranslate {
		t.Fatalf("unexpected %+v", res)
	}
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"timeout", orchestrator.ErrTimeout, http.StatusGatewayTimeout},
		{"superseded", orchestrator.ErrSuperseded, http.StatusConflict},
		{"closed", orchestrator.ErrClosed, http.StatusServiceUnavailable},
		{"queue full", queue.ErrQueueFull, http.StatusTooManyRequests},
		{"config", &backend.ConfigError{Msg: "no model"}, http.StatusBadRequest},
		{"not found", backend.ErrModelNotFound("m"), http.StatusNotFound},
		{"custom", mockHTTPError{msg: "teapot", code: http.StatusTeapot}, http.StatusTeapot},
		{"generic", io.EOF, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewMux(&mockService{quickErr: tc.err}, Options{})
			w := postJSON(t, h, "/v1/quick", `{"text":"x"}`)
			if w.Code != tc.want {
				t.Fatalf("status=%d want %d", w.Code, tc.want)
			}
			var body types.ErrorResponse
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("json: %v", err)
			}
			if body.Code != tc.want || body.Error == "" {
				t.Fatalf("unexpected body %+v", body)
			}
		})
	}
}

func TestSettings(t *testing.T) {
	svc := &mockService{settings: types.BackendConfig{
		Kind:   types.BackendRemoteHTTP,
		Remote: &types.RemoteEndpoint{BaseURL: "http://r", APIKey: "sk-secret", ModelName: "g"},
	}}
	h := NewMux(svc, Options{})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/settings", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("get status=%d", w.Code)
	}
	if strings.Contains(w.Body.String(), "sk-secret") {
		t.Fatal("api key leaked")
	}

	req := httptest.NewRequest(http.MethodPut, "/v1/settings", strings.NewReader(`{"backendKind":"local-gpu","modelId":"m2"}`))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("put status=%d", w.Code)
	}
	var res types.SettingsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if !res.Load || res.Settings.ModelID != "m2" || res.Status != "loading" {
		t.Fatalf("unexpected %+v", res)
	}

	req = httptest.NewRequest(http.MethodPut, "/v1/settings", strings.NewReader(`{"backendKind":"quantum"}`))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("invalid settings status=%d", w.Code)
	}
}

func TestStatusAndModels(t *testing.T) {
	svc := &mockService{
		status: types.StatusResponse{MaxEngines: 2, EngineStatus: "ready"},
		models: []types.Model{{ID: "m1"}, {ID: "m2"}},
	}
	h := NewMux(svc, Options{})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/status", nil))
	var st types.StatusResponse
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatal(err)
	}
	if st.MaxEngines != 2 || st.EngineStatus != "ready" {
		t.Fatalf("unexpected status %+v", st)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/models", nil))
	var models types.ModelsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &models); err != nil {
		t.Fatal(err)
	}
	if len(models.Models) != 2 {
		t.Fatalf("models=%d", len(models.Models))
	}
}

func TestExport(t *testing.T) {
	svc := &mockService{export: []byte("PKG1data"), exportN: 2}
	h := NewMux(svc, Options{})
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/models/qwen/export", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, `filename="qwen.pkg"`) {
		t.Fatalf("content-disposition=%q", cd)
	}
	if !bytes.Equal(w.Body.Bytes(), svc.export) {
		t.Fatalf("body=%q", w.Body.Bytes())
	}

	svc.export = nil
	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/models/missing/export", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing model status=%d", w.Code)
	}
	if w.Header().Get("Content-Disposition") != "" {
		t.Fatal("download headers set on error")
	}
}

func TestImport(t *testing.T) {
	svc := &mockService{importRes: types.ImportResponse{Entries: 2, Bytes: 10}}
	h := NewMux(svc, Options{})
	req := httptest.NewRequest(http.MethodPost, "/v1/models/import", strings.NewReader("package-bytes"))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK || string(svc.imported) != "package-bytes" {
		t.Fatalf("status=%d imported=%q", w.Code, svc.imported)
	}

	// Partial import reports the failure alongside the counts.
	svc.importRes = types.ImportResponse{Entries: 1, Skipped: []string{"http://evil/x"}}
	svc.importErr = errors.New("untrusted model URL: http://evil/x")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/models/import", strings.NewReader("p")))
	var res types.ImportResponse
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if w.Code != http.StatusOK || res.Error == "" || len(res.Skipped) != 1 {
		t.Fatalf("status=%d res=%+v", w.Code, res)
	}

	svc.importRes = types.ImportResponse{}
	svc.importErr = errors.New("boom")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/models/import", strings.NewReader("p")))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("failed import status=%d", w.Code)
	}

	h = NewMux(svc, Options{MaxPackageBytes: 4})
	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/models/import", strings.NewReader("too large")))
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("oversized status=%d", w.Code)
	}
}

func TestExtract(t *testing.T) {
	h := NewMux(&mockService{}, Options{})
	w := postJSON(t, h, "/v1/page/extract", `{"html":"<p>hello</p>"}`)
	var res types.PageExtractResponse
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if w.Code != http.StatusOK || res.Text != "hello" {
		t.Fatalf("status=%d res=%+v", w.Code, res)
	}
}

func TestEventsStream(t *testing.T) {
	hub := make(chan types.Event, 2)
	hub <- types.ProgressEvent(1, "done")
	hub <- types.ReadyEvent()
	close(hub)
	h := NewMux(&mockService{hub: hub}, Options{})
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/events", nil))
	evs := readSSE(t, w.Body.String())
	if len(evs) != 2 || evs[1].Type != types.EventReady {
		t.Fatalf("events: %+v", evs)
	}
}

func TestEventsHeartbeat(t *testing.T) {
	hub := make(chan types.Event)
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()
	h := NewMux(&mockService{hub: hub}, Options{Heartbeat: 20 * time.Millisecond})
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/events", nil).WithContext(ctx))
	if !strings.Contains(w.Body.String(), ": ping\n\n") {
		t.Fatalf("no heartbeat in %q", w.Body.String())
	}
}

func TestReadyz(t *testing.T) {
	h := NewMux(&mockService{ready: true}, Options{})
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}

	h = NewMux(&mockService{}, Options{})
	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusServiceUnavailable || !strings.Contains(w.Body.String(), "loading") {
		t.Fatalf("status=%d body=%q", w.Code, w.Body.String())
	}
}

func TestCORS(t *testing.T) {
	h := NewMux(&mockService{}, Options{CORSOrigins: []string{"chrome-extension://*"}})
	req := httptest.NewRequest(http.MethodOptions, "/v1/quick", nil)
	req.Header.Set("Origin", "chrome-extension://abcdef")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "chrome-extension://abcdef" {
		t.Fatalf("allow-origin=%q", got)
	}

	req = httptest.NewRequest(http.MethodOptions, "/v1/quick", nil)
	req.Header.Set("Origin", "https://evil.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("unexpected allow-origin %q", got)
	}
}
