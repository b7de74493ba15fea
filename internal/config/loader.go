// Package config loads daemon settings from YAML, JSON or TOML files and
// PROOFDUCK_* environment variables.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"proofduck/internal/common/fsutil"
	"proofduck/pkg/types"
)

// Config holds runtime parameters for the daemon.
// Zero values mean "unspecified" and are replaced by Default's values in
// WithDefaults.
type Config struct {
	Addr      string `json:"addr" yaml:"addr" toml:"addr"`
	DataDir   string `json:"data_dir" yaml:"data_dir" toml:"data_dir"`
	ModelsDir string `json:"models_dir" yaml:"models_dir" toml:"models_dir"`
	// MaxEngines bounds simultaneously resident engines.
	MaxEngines int `json:"max_engines" yaml:"max_engines" toml:"max_engines"`
	// QueueDepth bounds pending local jobs; zero means unbounded.
	QueueDepth          int      `json:"queue_depth" yaml:"queue_depth" toml:"queue_depth"`
	QuickTimeoutSeconds int      `json:"quick_timeout_seconds" yaml:"quick_timeout_seconds" toml:"quick_timeout_seconds"`
	GenerateTimeoutSec  int      `json:"generate_timeout_seconds" yaml:"generate_timeout_seconds" toml:"generate_timeout_seconds"`
	CORSOrigins         []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`
	LogLevel            string   `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogFormat           string   `json:"log_format" yaml:"log_format" toml:"log_format"`
	// TrustedURLPrefixes restricts package imports; empty uses the built-in
	// allow-list.
	TrustedURLPrefixes []string `json:"trusted_url_prefixes" yaml:"trusted_url_prefixes" toml:"trusted_url_prefixes"`

	Backend Backend `json:"backend" yaml:"backend" toml:"backend"`
	Llama   Llama   `json:"llama" yaml:"llama" toml:"llama"`
	Builtin Builtin `json:"builtin" yaml:"builtin" toml:"builtin"`
}

// Backend is the default engine selection used when a request carries none.
type Backend struct {
	Kind           string `json:"kind" yaml:"kind" toml:"kind"`
	ModelID        string `json:"model_id" yaml:"model_id" toml:"model_id"`
	Tone           string `json:"tone" yaml:"tone" toml:"tone"`
	Detail         string `json:"detail" yaml:"detail" toml:"detail"`
	TargetLanguage string `json:"target_language" yaml:"target_language" toml:"target_language"`
	RemoteBaseURL  string `json:"remote_base_url" yaml:"remote_base_url" toml:"remote_base_url"`
	RemoteModel    string `json:"remote_model" yaml:"remote_model" toml:"remote_model"`
	// RemoteAPIKey is normally supplied through PROOFDUCK_REMOTE_API_KEY.
	RemoteAPIKey string `json:"remote_api_key" yaml:"remote_api_key" toml:"remote_api_key"`
}

// Llama configures the local llama.cpp runtime.
type Llama struct {
	// Runtime is "server" (llama-server subprocess) or "inprocess".
	Runtime             string   `json:"runtime" yaml:"runtime" toml:"runtime"`
	Bin                 string   `json:"bin" yaml:"bin" toml:"bin"`
	Host                string   `json:"host" yaml:"host" toml:"host"`
	PortStart           int      `json:"port_start" yaml:"port_start" toml:"port_start"`
	PortEnd             int      `json:"port_end" yaml:"port_end" toml:"port_end"`
	CtxSize             int      `json:"ctx_size" yaml:"ctx_size" toml:"ctx_size"`
	Threads             int      `json:"threads" yaml:"threads" toml:"threads"`
	GPULayers           int      `json:"gpu_layers" yaml:"gpu_layers" toml:"gpu_layers"`
	ExtraArgs           []string `json:"extra_args" yaml:"extra_args" toml:"extra_args"`
	ReadyTimeoutSeconds int      `json:"ready_timeout_seconds" yaml:"ready_timeout_seconds" toml:"ready_timeout_seconds"`
}

// Builtin configures the on-device model host.
type Builtin struct {
	URL   string `json:"url" yaml:"url" toml:"url"`
	Model string `json:"model" yaml:"model" toml:"model"`
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	data, err := fsutil.DataDir()
	if err != nil {
		data = ".proofduck"
	}
	return Config{
		Addr:                "127.0.0.1:8080",
		DataDir:             data,
		ModelsDir:           "~/models/llm",
		MaxEngines:          2,
		QuickTimeoutSeconds: 15,
		LogLevel:            "info",
		LogFormat:           "console",
		CORSOrigins:         []string{"chrome-extension://*", "moz-extension://*", "http://localhost:*", "http://127.0.0.1:*"},
		Backend: Backend{
			Kind:           string(types.BackendLocalGPU),
			ModelID:        "Qwen2.5-0.5B-Instruct-q4f16_1",
			Tone:           string(types.ToneProfessional),
			Detail:         string(types.DetailStandard),
			TargetLanguage: "中文",
		},
		Llama: Llama{
			Runtime:             "server",
			Host:                "127.0.0.1",
			CtxSize:             4096,
			ReadyTimeoutSeconds: 120,
		},
		Builtin: Builtin{
			URL:   "http://127.0.0.1:11434",
			Model: "gemma3:1b",
		},
	}
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &cfg)
	case ".json":
		err = json.Unmarshal(b, &cfg)
	case ".toml":
		err = toml.Unmarshal(b, &cfg)
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	if err != nil {
		return cfg, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return cfg, nil
}

// LoadFile is Load followed by WithDefaults and ApplyEnv. An empty path
// skips the file.
func LoadFile(path string) (Config, error) {
	var cfg Config
	if path != "" {
		var err error
		if cfg, err = Load(path); err != nil {
			return cfg, err
		}
	}
	cfg = cfg.WithDefaults()
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// WithDefaults fills every unspecified field from Default.
func (c Config) WithDefaults() Config {
	d := Default()
	str := func(v *string, def string) {
		if strings.TrimSpace(*v) == "" {
			*v = def
		}
	}
	num := func(v *int, def int) {
		if *v <= 0 {
			*v = def
		}
	}
	str(&c.Addr, d.Addr)
	str(&c.DataDir, d.DataDir)
	str(&c.ModelsDir, d.ModelsDir)
	num(&c.MaxEngines, d.MaxEngines)
	num(&c.QuickTimeoutSeconds, d.QuickTimeoutSeconds)
	str(&c.LogLevel, d.LogLevel)
	str(&c.LogFormat, d.LogFormat)
	if len(c.CORSOrigins) == 0 {
		c.CORSOrigins = d.CORSOrigins
	}
	str(&c.Backend.Kind, d.Backend.Kind)
	if types.BackendKind(c.Backend.Kind).Local() {
		str(&c.Backend.ModelID, d.Backend.ModelID)
	}
	str(&c.Backend.Tone, d.Backend.Tone)
	str(&c.Backend.Detail, d.Backend.Detail)
	str(&c.Backend.TargetLanguage, d.Backend.TargetLanguage)
	str(&c.Llama.Runtime, d.Llama.Runtime)
	str(&c.Llama.Host, d.Llama.Host)
	num(&c.Llama.CtxSize, d.Llama.CtxSize)
	num(&c.Llama.ReadyTimeoutSeconds, d.Llama.ReadyTimeoutSeconds)
	str(&c.Builtin.URL, d.Builtin.URL)
	str(&c.Builtin.Model, d.Builtin.Model)
	return c
}

// Validate rejects settings the daemon cannot start with.
func (c Config) Validate() error {
	if !types.BackendKind(c.Backend.Kind).Valid() {
		return fmt.Errorf("backend.kind: unknown backend kind %q", c.Backend.Kind)
	}
	switch c.Llama.Runtime {
	case "server", "inprocess":
	default:
		return fmt.Errorf("llama.runtime: must be server or inprocess, got %q", c.Llama.Runtime)
	}
	if c.Llama.PortStart > 0 && c.Llama.PortEnd > 0 && c.Llama.PortEnd < c.Llama.PortStart {
		return fmt.Errorf("llama.port_end %d is below port_start %d", c.Llama.PortEnd, c.Llama.PortStart)
	}
	return nil
}

// BackendConfig converts the default backend section to the wire type.
func (c Config) BackendConfig() types.BackendConfig {
	b := types.BackendConfig{
		Kind:           types.BackendKind(c.Backend.Kind),
		ModelID:        c.Backend.ModelID,
		Tone:           types.Tone(c.Backend.Tone),
		Detail:         types.Detail(c.Backend.Detail),
		TargetLanguage: c.Backend.TargetLanguage,
	}
	if c.Backend.RemoteBaseURL != "" || c.Backend.RemoteModel != "" || c.Backend.RemoteAPIKey != "" {
		b.Remote = &types.RemoteEndpoint{
			BaseURL:   c.Backend.RemoteBaseURL,
			APIKey:    c.Backend.RemoteAPIKey,
			ModelName: c.Backend.RemoteModel,
		}
	}
	return b
}

// QuickTimeout returns the bounded wait of one-shot generations.
func (c Config) QuickTimeout() time.Duration {
	return time.Duration(c.QuickTimeoutSeconds) * time.Second
}

// GenerateTimeout returns the optional HTTP generate timeout; zero disables it.
func (c Config) GenerateTimeout() time.Duration {
	return time.Duration(c.GenerateTimeoutSec) * time.Second
}

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overrides fields from PROOFDUCK_* variables.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	strs := map[string]*string{
		"PROOFDUCK_ADDR":            &c.Addr,
		"PROOFDUCK_DATA_DIR":        &c.DataDir,
		"PROOFDUCK_MODELS_DIR":      &c.ModelsDir,
		"PROOFDUCK_LOG_LEVEL":       &c.LogLevel,
		"PROOFDUCK_LOG_FORMAT":      &c.LogFormat,
		"PROOFDUCK_BACKEND":         &c.Backend.Kind,
		"PROOFDUCK_MODEL":           &c.Backend.ModelID,
		"PROOFDUCK_TARGET_LANGUAGE": &c.Backend.TargetLanguage,
		"PROOFDUCK_REMOTE_BASE_URL": &c.Backend.RemoteBaseURL,
		"PROOFDUCK_REMOTE_MODEL":    &c.Backend.RemoteModel,
		"PROOFDUCK_REMOTE_API_KEY":  &c.Backend.RemoteAPIKey,
		"PROOFDUCK_LLAMA_RUNTIME":   &c.Llama.Runtime,
		"PROOFDUCK_LLAMA_BIN":       &c.Llama.Bin,
		"PROOFDUCK_BUILTIN_URL":     &c.Builtin.URL,
		"PROOFDUCK_BUILTIN_MODEL":   &c.Builtin.Model,
	}
	for k, p := range strs {
		if v, ok := lookup(k); ok && strings.TrimSpace(v) != "" {
			*p = strings.TrimSpace(v)
		}
	}
	ints := map[string]*int{
		"PROOFDUCK_MAX_ENGINES":   &c.MaxEngines,
		"PROOFDUCK_QUEUE_DEPTH":   &c.QueueDepth,
		"PROOFDUCK_QUICK_TIMEOUT": &c.QuickTimeoutSeconds,
		"PROOFDUCK_LLAMA_THREADS": &c.Llama.Threads,
	}
	for k, p := range ints {
		v, ok := lookup(k)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", k, err)
		}
		*p = n
	}
	if v, ok := lookup("PROOFDUCK_CORS_ORIGINS"); ok && strings.TrimSpace(v) != "" {
		c.CORSOrigins = SplitCSV(v)
	}
	return nil
}

// SplitCSV splits a comma separated list, dropping blanks.
func SplitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
