package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proofduck/internal/backend"
	"proofduck/internal/config"
	"proofduck/internal/modelpkg"
	"proofduck/pkg/types"
)

type fakeHost struct{ chunks []string }

func (h *fakeHost) Availability(ctx context.Context, modelID string) (backend.Availability, error) {
	return backend.AvailabilityReadily, nil
}

func (h *fakeHost) CreateSession(ctx context.Context, modelID string) (backend.BuiltinSession, error) {
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

func newTestDaemon(t *testing.T, mod func(*config.Config), opts ...Option) *Daemon {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.ModelsDir = t.TempDir()
	if mod != nil {
		mod(&cfg)
	}
	d, err := New(cfg.WithDefaults(), zerolog.Nop(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func drain(t *testing.T, ch <-chan types.Event) []types.Event {
	t.Helper()
	var out []types.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatalf("stream did not finish; got %+v", out)
		}
	}
}

func TestNew_ScansModelsDir(t *testing.T) {
	models := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(models, "qwen2.5-1.5b-instruct.gguf"), []byte("GGUF"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(models, "notes.txt"), []byte("x"), 0o644))

	d := newTestDaemon(t, func(c *config.Config) { c.ModelsDir = models })
	list := d.ListModels()
	require.Len(t, list, 1)
	assert.Equal(t, "qwen2.5-1.5b-instruct", list[0].ID)
	assert.Equal(t, "qwen", list[0].Family)

	st, err := d.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, st.MaxEngines)
	assert.Empty(t, st.Engines)
	assert.True(t, d.Ready())
}

func TestRemoteGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" || r.Header.Get("Authorization") != "Bearer sk-test" {
			http.Error(w, "unexpected request", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, c := range []string{"Bon", "jour"} {
			b, _ := json.Marshal(map[string]any{"choices": []any{map[string]any{"delta": map[string]string{"content": c}}}})
			fmt.Fprintf(w, "data: %s\n\n", b)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	d := newTestDaemon(t, nil)
	cfg := types.BackendConfig{
		Kind:   types.BackendRemoteHTTP,
		Remote: &types.RemoteEndpoint{BaseURL: srv.URL + "/v1", APIKey: "sk-test", ModelName: "gpt-test"},
	}
	res, err := d.SaveSettings(context.Background(), cfg)
	require.NoError(t, err)
	assert.False(t, res.Load)
	assert.Equal(t, "ready", res.Status)
	assert.Empty(t, res.Settings.Remote.APIKey)

	saved, err := d.Settings(context.Background())
	require.NoError(t, err)
	events := drain(t, d.Generate(context.Background(), types.GenerationRequest{
		Text: "hello", Mode: types.ModeTranslate, Backend: saved, CorrelationID: "r1",
	}))
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, types.EventComplete, last.Type, "events: %+v", events)
	assert.Equal(t, "Bonjour", last.Text)
	assert.Equal(t, "r1", last.CorrelationID)
}

func TestBuiltinLoadAndQuick(t *testing.T) {
	d := newTestDaemon(t, func(c *config.Config) {
		c.Backend.Kind = string(types.BackendBuiltin)
		c.Backend.ModelID = ""
	}, WithBuiltin(&fakeHost{chunks: []string{"Hello", " world"}}))

	sub, unsubscribe := d.Subscribe(16)
	defer unsubscribe()

	ch, err := d.Handle(context.Background(), types.Command{
		Type: types.CommandLoad, Backend: types.BackendConfig{Kind: types.BackendBuiltin},
	})
	require.NoError(t, err)
	events := drain(t, ch)
	require.NotEmpty(t, events)
	assert.Equal(t, types.EventReady, events[len(events)-1].Type)

	select {
	case ev := <-sub:
		assert.NotEmpty(t, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("hub did not broadcast the load")
	}

	st, err := d.Status(context.Background())
	require.NoError(t, err)
	assert.Contains(t, st.ReadyConfigs, "builtin:default")
	assert.Equal(t, "builtin:", st.Current)

	q, err := d.Quick(context.Background(), "Bonjour le monde", "")
	require.NoError(t, err)
	assert.Equal(t, "Hello world", q.Text)
	assert.Equal(t, types.ModeTranslate, q.Mode)
}

func TestExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := newTestDaemon(t, nil)
	base := modelpkg.ShardBaseURL("tiny-model")
	require.NoError(t, src.content.Put(ctx, base+"params_shard_0.bin", []byte("weights")))
	require.NoError(t, src.content.Put(ctx, base+"tokenizer.json", []byte(`{"v":1}`)))
	require.NoError(t, src.content.Put(ctx, "https://huggingface.co/other/x.bin", []byte("other")))

	_, err := src.ExportModel(ctx, "missing-model", &bytes.Buffer{})
	assert.True(t, backend.IsModelNotFound(err))
	_, err = src.ExportModel(ctx, " ", &bytes.Buffer{})
	assert.True(t, backend.IsConfig(err))

	var pkg bytes.Buffer
	n, err := src.ExportModel(ctx, "tiny-model", &pkg)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	dst := newTestDaemon(t, nil)
	res, err := dst.ImportPackage(ctx, pkg.Bytes())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Entries)
	assert.Empty(t, res.Skipped)
	got, err := dst.content.Get(ctx, base+"tokenizer.json")
	require.NoError(t, err)
	assert.Equal(t, `{"v":1}`, string(got))
}

func TestImportSkipsUntrusted(t *testing.T) {
	ctx := context.Background()
	d := newTestDaemon(t, func(c *config.Config) { c.TrustedURLPrefixes = []string{"https://models.example/"} })
	data, err := modelpkg.Pack([]modelpkg.Entry{
		{URL: "https://models.example/a.bin", Payload: []byte("a")},
		{URL: "https://elsewhere.example/b.bin", Payload: []byte("b")},
	})
	require.NoError(t, err)

	res, err := d.ImportPackage(ctx, data)
	require.Error(t, err)
	assert.Equal(t, 1, res.Entries)
	assert.Equal(t, []string{"https://elsewhere.example/b.bin"}, res.Skipped)

	_, err = d.ImportPackage(ctx, []byte("garbage"))
	assert.ErrorIs(t, err, modelpkg.ErrBadMagic)
}

func TestImportedModelIsResolvable(t *testing.T) {
	ctx := context.Background()
	d := newTestDaemon(t, nil)
	data, err := modelpkg.Pack([]modelpkg.Entry{
		{URL: "https://huggingface.co/acme/phi-mini/resolve/main/phi-mini.gguf", Payload: []byte("GGUF")},
	})
	require.NoError(t, err)
	_, err = d.ImportPackage(ctx, data)
	require.NoError(t, err)

	listed := d.ListModels()
	require.Len(t, listed, 1, "imported model is listed before first use")
	assert.Equal(t, "phi-mini", listed[0].ID)
	assert.Equal(t, "phi", listed[0].Family)
	assert.Empty(t, listed[0].Path)

	path, err := d.catalog.ResolveModel(ctx, "phi-mini")
	require.NoError(t, err)
	assert.FileExists(t, path)
	listed = d.ListModels()
	require.Len(t, listed, 1)
	assert.Equal(t, path, listed[0].Path)
}

func TestExtractPage(t *testing.T) {
	d := newTestDaemon(t, nil)
	text, err := d.ExtractPage(`<html><body><nav>menu</nav><article><p>First.</p><p>Second.</p></article></body></html>`)
	require.NoError(t, err)
	assert.Contains(t, text, "First.")
	assert.NotContains(t, text, "menu")
}

func TestClose(t *testing.T) {
	d := newTestDaemon(t, nil)
	require.NoError(t, d.Close())
	assert.False(t, d.Ready())
	assert.NoError(t, d.Close())
}
