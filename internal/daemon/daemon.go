// Package daemon assembles the store, model catalog, engine registry and
// orchestrator into the service behind the HTTP API.
package daemon

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"proofduck/internal/backend"
	"proofduck/internal/common/fsutil"
	"proofduck/internal/config"
	"proofduck/internal/engine"
	"proofduck/internal/modelpkg"
	"proofduck/internal/orchestrator"
	"proofduck/internal/pagetext"
	"proofduck/internal/prompt"
	"proofduck/internal/registry"
	"proofduck/internal/store"
	"proofduck/pkg/types"
)

const dbName = "proofduck.db"

// DBPath is the settings and content database inside dataDir.
func DBPath(dataDir string) string { return filepath.Join(dataDir, dbName) }

// Daemon implements httpapi.Service.
type Daemon struct {
	cfg     config.Config
	log     zerolog.Logger
	store   *store.Store
	content *store.ContentCache
	catalog *registry.Catalog
	engines *engine.Registry
	orch    *orchestrator.Orchestrator
	allow   *modelpkg.AllowList
	started time.Time
	closed  atomic.Bool
}

// Option adjusts the components New builds.
type Option func(*backend.LoaderConfig)

// WithRuntime replaces the llama.cpp runtime selected by the config.
func WithRuntime(rt backend.LocalRuntime) Option {
	return func(c *backend.LoaderConfig) { c.Runtime = rt }
}

// WithBuiltin replaces the built-in model host.
func WithBuiltin(h backend.BuiltinHost) Option {
	return func(c *backend.LoaderConfig) { c.Builtin = h }
}

// New opens the database under cfg.DataDir and wires every component. cfg
// should already have defaults applied.
func New(cfg config.Config, log zerolog.Logger, opts ...Option) (*Daemon, error) {
	dataDir, err := fsutil.ExpandHome(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	if err := fsutil.EnsureDir(dataDir); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	st, err := store.Open(DBPath(dataDir), log)
	if err != nil {
		return nil, err
	}
	content := st.Content()

	catalog := registry.NewCatalog(registry.CatalogConfig{
		ModelsDir: cfg.ModelsDir,
		CacheDir:  filepath.Join(dataDir, "models"),
		Content:   content,
		Logger:    log,
	})
	if err := catalog.Refresh(context.Background()); err != nil {
		log.Warn().Err(err).Str("dir", cfg.ModelsDir).Msg("daemon event=catalog_scan_failed")
	}

	lc := backend.LoaderConfig{
		Models:  catalog,
		Runtime: newRuntime(cfg, log),
		Builtin: &backend.OllamaHost{BaseURL: cfg.Builtin.URL, DefaultModel: cfg.Builtin.Model},
		Logger:  log,
	}
	for _, o := range opts {
		o(&lc)
	}
	loader := backend.NewLoader(lc)
	engines := engine.New(engine.Config{
		Loader:     loader,
		MaxEngines: cfg.MaxEngines,
		Logger:     log,
	})
	orch := orchestrator.New(orchestrator.Config{
		Engines:      engines,
		Remotes:      loader,
		Store:        st,
		Builder:      prompt.Builder{},
		Defaults:     cfg.BackendConfig(),
		QueueDepth:   cfg.QueueDepth,
		QuickTimeout: cfg.QuickTimeout(),
		Logger:       log,
	})

	allow := modelpkg.DefaultAllowList()
	if len(cfg.TrustedURLPrefixes) > 0 {
		allow = &modelpkg.AllowList{Prefixes: append([]string(nil), cfg.TrustedURLPrefixes...)}
	}

	log.Info().Str("data_dir", dataDir).Int("models", len(catalog.List())).Str("runtime", cfg.Llama.Runtime).Msg("daemon event=started")
	return &Daemon{
		cfg:     cfg,
		log:     log,
		store:   st,
		content: content,
		catalog: catalog,
		engines: engines,
		orch:    orch,
		allow:   allow,
		started: time.Now(),
	}, nil
}

func newRuntime(cfg config.Config, log zerolog.Logger) backend.LocalRuntime {
	if cfg.Llama.Runtime == "inprocess" {
		return backend.NewInProcess(backend.InProcessConfig{
			CtxSize:   cfg.Llama.CtxSize,
			Threads:   cfg.Llama.Threads,
			GPULayers: cfg.Llama.GPULayers,
		})
	}
	return backend.NewLlamaServer(backend.LlamaServerConfig{
		Bin:          cfg.Llama.Bin,
		Host:         cfg.Llama.Host,
		PortStart:    cfg.Llama.PortStart,
		PortEnd:      cfg.Llama.PortEnd,
		CtxSize:      cfg.Llama.CtxSize,
		Threads:      cfg.Llama.Threads,
		GPULayers:    cfg.Llama.GPULayers,
		ExtraArgs:    cfg.Llama.ExtraArgs,
		ReadyTimeout: time.Duration(cfg.Llama.ReadyTimeoutSeconds) * time.Second,
		Logger:       log,
	})
}

func (d *Daemon) Handle(ctx context.Context, cmd types.Command) (<-chan types.Event, error) {
	return d.orch.Handle(ctx, cmd)
}

func (d *Daemon) Generate(ctx context.Context, req types.GenerationRequest) <-chan types.Event {
	return d.orch.Generate(ctx, req)
}

func (d *Daemon) Quick(ctx context.Context, text string, mode types.Mode) (types.QuickResponse, error) {
	return d.orch.Quick(ctx, text, mode)
}

func (d *Daemon) Settings(ctx context.Context) (types.BackendConfig, error) {
	return d.orch.Settings(ctx)
}

// SaveSettings persists cfg and reports the load it started, if any.
func (d *Daemon) SaveSettings(ctx context.Context, cfg types.BackendConfig) (types.SettingsResponse, error) {
	plan, err := d.orch.SaveSettings(ctx, cfg)
	if err != nil {
		return types.SettingsResponse{}, err
	}
	saved, err := d.orch.Settings(ctx)
	if err != nil {
		return types.SettingsResponse{}, err
	}
	return types.SettingsResponse{
		Settings:     saved.Redacted(),
		Load:         plan.Load,
		Status:       string(plan.Status),
		ProgressText: plan.ProgressText,
	}, nil
}

// Reload applies a changed config file: its backend section becomes the
// saved settings.
func (d *Daemon) Reload(ctx context.Context, cfg config.Config) error {
	res, err := d.SaveSettings(ctx, cfg.BackendConfig())
	if err != nil {
		return err
	}
	d.log.Info().Str("backend", string(res.Settings.Kind)).Str("model", res.Settings.ModelID).Bool("load", res.Load).Msg("daemon event=reloaded")
	return nil
}

func (d *Daemon) Status(ctx context.Context) (types.StatusResponse, error) {
	st, err := d.orch.Status(ctx)
	if err != nil {
		return types.StatusResponse{}, err
	}
	now := time.Now()
	res := types.StatusResponse{
		Engines:        d.engines.Snapshot(),
		MaxEngines:     d.engines.MaxEngines(),
		QueueLen:       d.orch.QueueLen(),
		Processing:     d.orch.Processing(),
		EngineStatus:   string(st.EngineStatus),
		ReadyConfigs:   st.ReadyConfigs,
		FailedConfigs:  st.FailedConfigs,
		UptimeSeconds:  int64(now.Sub(d.started).Seconds()),
		ServerTimeUnix: now.Unix(),
	}
	if k, ok := d.engines.Current(); ok {
		res.Current = k.String()
	}
	return res, nil
}

func (d *Daemon) Subscribe(buffer int) (<-chan types.Event, func()) {
	return d.orch.Hub().Subscribe(buffer)
}

func (d *Daemon) ListModels() []types.Model {
	return d.catalog.List()
}

// ExportModel writes the package for every cached file of modelID.
func (d *Daemon) ExportModel(ctx context.Context, modelID string, w io.Writer) (int, error) {
	if strings.TrimSpace(modelID) == "" {
		return 0, &backend.ConfigError{Msg: "model id is required"}
	}
	keys, err := d.content.Keys(ctx)
	if err != nil {
		return 0, err
	}
	found := false
	for _, k := range keys {
		if strings.Contains(k, modelID) {
			found = true
			break
		}
	}
	if !found {
		return 0, backend.ErrModelNotFound(modelID)
	}
	n, err := modelpkg.Export(ctx, d.content, modelID, w, d.progressLogger("export", modelID))
	if err != nil {
		return n, err
	}
	d.log.Info().Str("model", modelID).Int("entries", n).Msg("daemon event=exported")
	return n, nil
}

// ImportPackage caches the trusted entries of a package and rescans the
// catalog.
func (d *Daemon) ImportPackage(ctx context.Context, data []byte) (types.ImportResponse, error) {
	res, err := modelpkg.Import(ctx, d.content, data, modelpkg.ImportOptions{Allow: d.allow}, d.progressLogger("import", ""))
	out := types.ImportResponse{Entries: res.Entries, Bytes: res.Bytes, Skipped: res.Skipped}
	if res.Entries > 0 {
		if rerr := d.catalog.Refresh(ctx); rerr != nil {
			d.log.Warn().Err(rerr).Msg("daemon event=catalog_scan_failed")
		}
	}
	ev := d.log.Info()
	if err != nil {
		ev = d.log.Warn().Err(err)
	}
	ev.Int("entries", res.Entries).Int64("bytes", res.Bytes).Int("skipped", len(res.Skipped)).Msg("daemon event=imported")
	return out, err
}

// progressLogger logs transfer progress at every quarter.
func (d *Daemon) progressLogger(op, modelID string) modelpkg.ProgressFunc {
	var next atomic.Int64
	return func(p float64) {
		step := int64(p / 25)
		if cur := next.Load(); step < cur || !next.CompareAndSwap(cur, step+1) {
			return
		}
		d.log.Debug().Str("op", op).Str("model", modelID).Float64("percent", p).Msg("daemon event=transfer_progress")
	}
}

// ExtractPage returns the readable text of an HTML document.
func (d *Daemon) ExtractPage(html string) (string, error) {
	page, err := pagetext.ExtractString(html)
	if err != nil {
		return "", err
	}
	return page.Text, nil
}

func (d *Daemon) Ready() bool { return !d.closed.Load() }

// Close stops the orchestrator, unloads every engine and closes the store.
func (d *Daemon) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	d.orch.Close()
	d.engines.Close()
	d.log.Info().Msg("daemon event=stopped")
	return d.store.Close()
}
