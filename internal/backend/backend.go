// Package backend provides the text-generation providers behind a single
// Engine interface: llama.cpp on the local GPU or CPU, the host's built-in
// on-device model, and remote OpenAI-compatible HTTP APIs.
package backend

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"proofduck/pkg/types"
)

// Request is the chat input for one generation.
type Request struct {
	System string
	User   string
}

// Engine streams completions for one loaded model. Implementations must
// return promptly once ctx is cancelled. A non-nil error from onFragment
// stops the stream and is returned as is.
type Engine interface {
	Stream(ctx context.Context, req Request, onFragment func(string) error) error
	Close() error
}

// Progress reports model loading. Fraction is in [0,1].
type Progress struct {
	Fraction float64
	Text     string
}

// ProgressFunc receives load progress. It may be nil.
type ProgressFunc func(Progress)

func (f ProgressFunc) report(fraction float64, text string) {
	if f != nil {
		f(Progress{Fraction: fraction, Text: text})
	}
}

// Key identifies a cacheable engine.
type Key struct {
	Kind    types.BackendKind
	ModelID string
}

func (k Key) String() string { return string(k.Kind) + ":" + k.ModelID }

// KeyOf returns the cache key for a backend configuration.
func KeyOf(cfg types.BackendConfig) Key {
	return Key{Kind: cfg.Kind, ModelID: strings.TrimSpace(cfg.ModelID)}
}

// ModelResolver maps a model id to a GGUF file on disk.
type ModelResolver interface {
	ResolveModel(ctx context.Context, modelID string) (string, error)
}

// LocalRuntime starts a llama.cpp engine for a model file.
type LocalRuntime interface {
	Start(ctx context.Context, kind types.BackendKind, modelPath string, progress ProgressFunc) (Engine, error)
}

// LoaderConfig wires the per-kind providers.
type LoaderConfig struct {
	Models     ModelResolver
	Runtime    LocalRuntime
	Builtin    BuiltinHost
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// Loader creates engines, dispatching on the backend kind.
type Loader struct {
	cfg LoaderConfig
}

// NewLoader returns a Loader. A nil HTTPClient uses a client without a global
// timeout; every request carries its own context.
func NewLoader(cfg LoaderConfig) *Loader {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 0}
	}
	return &Loader{cfg: cfg}
}

// Load creates the engine for a cacheable key. Remote backends are never
// cached; use Remote for them.
func (l *Loader) Load(ctx context.Context, key Key, progress ProgressFunc) (Engine, error) {
	switch key.Kind {
	case types.BackendLocalGPU, types.BackendLocalCPU:
		return l.loadLocal(ctx, key, progress)
	case types.BackendBuiltin:
		return l.loadBuiltin(ctx, key, progress)
	case types.BackendRemoteHTTP:
		return nil, &ConfigError{Msg: "remote-http engines are not cached"}
	default:
		return nil, &ConfigError{Msg: fmt.Sprintf("unknown backend kind %q", key.Kind)}
	}
}

// Remote returns an engine for an OpenAI-compatible endpoint after validating
// the configuration. No network call is made.
func (l *Loader) Remote(cfg types.BackendConfig) (Engine, error) {
	return NewRemote(cfg.Remote, l.cfg.HTTPClient, l.cfg.Logger)
}

// CheckBuiltin runs the built-in model's capability check.
func (l *Loader) CheckBuiltin(ctx context.Context, modelID string) error {
	if l.cfg.Builtin == nil {
		return &CapabilityError{Msg: "no built-in model host configured", Remedy: defaultBuiltinRemedy}
	}
	return checkAvailability(ctx, l.cfg.Builtin, modelID)
}

func (l *Loader) loadLocal(ctx context.Context, key Key, progress ProgressFunc) (Engine, error) {
	if key.ModelID == "" {
		return nil, &ConfigError{Msg: "modelId is required for " + string(key.Kind)}
	}
	if l.cfg.Runtime == nil {
		return nil, &CapabilityError{Msg: "no local runtime configured", Remedy: "install llama.cpp and set llama.bin"}
	}
	path := key.ModelID
	if l.cfg.Models != nil {
		p, err := l.cfg.Models.ResolveModel(ctx, key.ModelID)
		if err != nil {
			return nil, err
		}
		path = p
	}
	progress.report(0, "Loading "+key.ModelID)
	l.cfg.Logger.Info().Str("kind", string(key.Kind)).Str("model", key.ModelID).Str("path", path).Msg("backend event=local_start")
	return l.cfg.Runtime.Start(ctx, key.Kind, path, progress)
}

func (l *Loader) loadBuiltin(ctx context.Context, key Key, progress ProgressFunc) (Engine, error) {
	if err := l.CheckBuiltin(ctx, key.ModelID); err != nil {
		return nil, err
	}
	progress.report(0, "Preparing built-in model")
	sess, err := l.cfg.Builtin.CreateSession(ctx, key.ModelID)
	if err != nil {
		return nil, fmt.Errorf("create built-in session: %w", err)
	}
	progress.report(1, "Built-in model ready")
	return &builtinEngine{host: l.cfg.Builtin, session: sess}, nil
}
