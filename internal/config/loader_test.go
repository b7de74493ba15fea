package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"proofduck/pkg/types"
)

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestLoadYAML(t *testing.T) {
	p := writeTempFile(t, t.TempDir(), "cfg.yaml", `
addr: :9999
models_dir: /tmp/models
max_engines: 3
cors_origins: [chrome-extension://abc]
backend:
  kind: local-cpu
  model_id: m1
llama:
  runtime: server
  threads: 4
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":9999" || cfg.ModelsDir != "/tmp/models" || cfg.MaxEngines != 3 ||
		cfg.Backend.Kind != "local-cpu" || cfg.Backend.ModelID != "m1" || cfg.Llama.Threads != 4 ||
		!reflect.DeepEqual(cfg.CORSOrigins, []string{"chrome-extension://abc"}) {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
}

func TestLoadJSON(t *testing.T) {
	p := writeTempFile(t, t.TempDir(), "cfg.json", `{"addr":":7070","queue_depth":8,"backend":{"kind":"remote-http","remote_base_url":"https://api.example.com/v1","remote_model":"gpt"}}`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":7070" || cfg.QueueDepth != 8 || cfg.Backend.RemoteModel != "gpt" {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
}

func TestLoadTOML(t *testing.T) {
	p := writeTempFile(t, t.TempDir(), "cfg.toml", "addr=\":8081\"\nquick_timeout_seconds=30\n[builtin]\nurl=\"http://h:1\"\nmodel=\"tiny\"\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":8081" || cfg.QuickTimeoutSeconds != 30 || cfg.Builtin.URL != "http://h:1" || cfg.Builtin.Model != "tiny" {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error on empty path")
	}
	p := writeTempFile(t, t.TempDir(), "cfg.ini", "addr=:1")
	if _, err := Load(p); err == nil {
		t.Fatalf("expected error on unsupported extension")
	}
}

func TestWithDefaults(t *testing.T) {
	cfg := Config{Backend: Backend{Kind: "local-cpu"}}.WithDefaults()
	d := Default()
	if cfg.Addr != d.Addr || cfg.MaxEngines != 2 || cfg.QuickTimeout().Seconds() != 15 {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if cfg.Backend.Kind != "local-cpu" || cfg.Backend.ModelID != d.Backend.ModelID {
		t.Fatalf("local backend should get the default model: %+v", cfg.Backend)
	}
	remote := Config{Backend: Backend{Kind: "remote-http"}}.WithDefaults()
	if remote.Backend.ModelID != "" {
		t.Fatalf("remote backend must not get a local model id: %+v", remote.Backend)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestValidate(t *testing.T) {
	bad := []Config{
		Config{Backend: Backend{Kind: "quantum"}}.WithDefaults(),
		Config{Llama: Llama{Runtime: "gpu-magic"}}.WithDefaults(),
		Config{Llama: Llama{PortStart: 9000, PortEnd: 8000}}.WithDefaults(),
	}
	for i, c := range bad {
		if err := c.Validate(); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
}

func TestBackendConfig(t *testing.T) {
	c := Config{Backend: Backend{Kind: "remote-http", RemoteBaseURL: "https://x/v1", RemoteModel: "m", RemoteAPIKey: "k", Tone: "casual"}}
	b := c.BackendConfig()
	if b.Kind != types.BackendRemoteHTTP || b.Tone != types.ToneCasual || b.Remote == nil ||
		*b.Remote != (types.RemoteEndpoint{BaseURL: "https://x/v1", APIKey: "k", ModelName: "m"}) {
		t.Fatalf("unexpected backend: %+v", b)
	}
	if local := (Config{Backend: Backend{Kind: "local-gpu", ModelID: "m"}}).BackendConfig(); local.Remote != nil {
		t.Fatalf("local backend should have no remote endpoint")
	}
}
