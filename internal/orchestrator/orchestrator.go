// Package orchestrator routes generate, load and reset commands to the
// engine registry, the local generation queue or a remote endpoint, and turns
// their results into the event protocol.
//
// Local and built-in work (loads included) runs one job at a time through the
// queue; remote requests run concurrently. Every event is also broadcast on
// the Hub.
package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"proofduck/internal/backend"
	"proofduck/internal/prompt"
	"proofduck/internal/queue"
	"proofduck/internal/stream"
	"proofduck/pkg/types"
)

const (
	DefaultUpdateBuffer = 32
	DefaultQuickTimeout = 15 * time.Second

	quickScope = "quick"
)

// Engines hands out cached engines. *engine.Registry implements it.
type Engines interface {
	Acquire(ctx context.Context, key backend.Key, onProgress backend.ProgressFunc) (backend.Engine, error)
	Reset()
}

// Remotes builds uncached engines for remote endpoints. *backend.Loader
// implements it.
type Remotes interface {
	Remote(cfg types.BackendConfig) (backend.Engine, error)
}

// Config wires an Orchestrator.
type Config struct {
	Engines Engines
	Remotes Remotes
	Store   KV
	Builder prompt.Builder
	// Hub receives every event; one is created when nil.
	Hub *Hub
	// Defaults fill settings the user has not saved.
	Defaults types.BackendConfig
	// QueueDepth bounds pending local jobs; zero means unbounded.
	QueueDepth int
	// UpdateBuffer is the per-request channel size for non-terminal events.
	UpdateBuffer int
	QuickTimeout time.Duration
	Logger       zerolog.Logger
}

// Orchestrator is the single execution context for generation work.
type Orchestrator struct {
	cfg    Config
	log    zerolog.Logger
	hub    *Hub
	queue  *queue.Queue
	status *statusTracker
	corr   *Correlator

	epoch atomic.Uint64

	mu          sync.Mutex
	pending     map[string]*request
	apiKey      string
	resetCtx    context.Context
	resetCancel context.CancelFunc
	closed      bool
	wg          sync.WaitGroup
}

func New(cfg Config) *Orchestrator {
	if cfg.UpdateBuffer <= 0 {
		cfg.UpdateBuffer = DefaultUpdateBuffer
	}
	if cfg.QuickTimeout <= 0 {
		cfg.QuickTimeout = DefaultQuickTimeout
	}
	if cfg.Hub == nil {
		cfg.Hub = NewHub()
	}
	o := &Orchestrator{
		cfg:     cfg,
		log:     cfg.Logger,
		hub:     cfg.Hub,
		status:  &statusTracker{kv: cfg.Store, log: cfg.Logger},
		corr:    NewCorrelator(DefaultCorrelationTTL),
		pending: make(map[string]*request),
	}
	o.resetCtx, o.resetCancel = context.WithCancel(context.Background())
	o.queue = queue.New(queue.Config{
		MaxDepth: cfg.QueueDepth,
		OnError:  o.onJobError,
		OnDrop:   o.onJobDrop,
		Logger:   cfg.Logger,
	})
	return o
}

// Hub returns the broadcast hub.
func (o *Orchestrator) Hub() *Hub { return o.hub }

// QueueLen returns the number of pending local jobs.
func (o *Orchestrator) QueueLen() int { return o.queue.Len() }

// Processing reports whether a local job is running.
func (o *Orchestrator) Processing() bool { return o.queue.IsProcessing() }

// Status returns the persisted engine status.
func (o *Orchestrator) Status(ctx context.Context) (StoredStatus, error) {
	return o.status.load(ctx)
}

// Handle executes a command. Generate and load return their event stream;
// reset returns an already closed channel.
func (o *Orchestrator) Handle(ctx context.Context, cmd types.Command) (<-chan types.Event, error) {
	switch cmd.Type {
	case types.CommandLoad:
		return o.Load(ctx, cmd.Backend), nil
	case types.CommandGenerate:
		return o.Generate(ctx, types.GenerationRequest{
			Text:          cmd.Text,
			Mode:          cmd.Mode,
			Backend:       cmd.Backend,
			CorrelationID: cmd.CorrelationID,
		}), nil
	case types.CommandReset:
		o.Reset(ctx)
		ch := make(chan types.Event)
		close(ch)
		return ch, nil
	default:
		return nil, &backend.ConfigError{Msg: "unknown command type " + string(cmd.Type)}
	}
}

// Generate runs one generation and returns its events: zero or more progress
// and update events followed by exactly one complete or error event, after
// which the channel is closed. Update events carry the full text so far and
// may be skipped when the consumer lags.
func (o *Orchestrator) Generate(ctx context.Context, req types.GenerationRequest) <-chan types.Event {
	return o.start(ctx, req).ch
}

func (o *Orchestrator) start(ctx context.Context, req types.GenerationRequest) *request {
	if req.Mode == "" {
		req.Mode = types.ModeProofread
	}
	r := o.newRequest(uuid.NewString(), req)
	if err := o.validate(req.Backend); err != nil {
		r.fail(err)
		return r
	}
	o.log.Debug().Str("id", r.id).Str("kind", string(req.Backend.Kind)).Str("mode", string(req.Mode)).
		Str("correlation_id", req.CorrelationID).Msg("orchestrator event=generate")
	if req.Backend.Kind == types.BackendRemoteHTTP {
		o.goRemote(ctx, r, func(ctx context.Context) {
			eng, err := o.cfg.Remotes.Remote(req.Backend)
			if err != nil {
				r.fail(err)
				return
			}
			defer eng.Close()
			_ = o.stream(ctx, r, eng)
		})
		return r
	}
	o.enqueue(ctx, r, func(ctx context.Context) error {
		eng, err := o.cfg.Engines.Acquire(ctx, backend.KeyOf(req.Backend), func(p backend.Progress) {
			r.progress(p.Fraction, p.Text)
		})
		if err != nil {
			r.fail(err)
			return err
		}
		return o.stream(ctx, r, eng)
	})
	return r
}

// Load prepares the engine for cfg. The stream carries progress events and
// ends with ready or with an error event without a mode.
func (o *Orchestrator) Load(ctx context.Context, cfg types.BackendConfig) <-chan types.Event {
	r := o.newRequest(uuid.NewString(), types.GenerationRequest{Backend: cfg})
	if err := o.validate(cfg); err != nil {
		r.fail(err)
		return r.ch
	}
	o.log.Info().Str("id", r.id).Str("kind", string(cfg.Kind)).Str("model", cfg.ModelID).Msg("orchestrator event=load")
	if cfg.Kind == types.BackendRemoteHTTP {
		eng, err := o.cfg.Remotes.Remote(cfg)
		if err != nil {
			r.fail(err)
			return r.ch
		}
		_ = eng.Close()
		o.status.set(ctx, StatusReady)
		r.ready()
		return r.ch
	}
	key := cfg.ConfigKey()
	o.enqueue(ctx, r, func(ctx context.Context) error {
		if !o.status.isReady(ctx, key) {
			o.status.set(ctx, StatusLoading)
		}
		_, err := o.cfg.Engines.Acquire(ctx, backend.KeyOf(cfg), func(p backend.Progress) {
			r.progress(p.Fraction, p.Text)
			o.status.progress(ctx, LastProgress{Progress: p.Fraction, Text: p.Text})
		})
		if err != nil {
			if !r.stale() {
				o.status.failed(ctx, key, err.Error())
			}
			r.fail(err)
			return err
		}
		o.status.ready(ctx, key)
		r.ready()
		return nil
	})
	return r.ch
}

// Reset drops pending local jobs, cancels in-flight work, disposes engines
// and marks the engine idle. Results of requests started before the reset
// are discarded.
func (o *Orchestrator) Reset(ctx context.Context) {
	epoch := o.epoch.Add(1)
	o.mu.Lock()
	o.resetCancel()
	o.resetCtx, o.resetCancel = context.WithCancel(context.Background())
	o.mu.Unlock()

	o.queue.Reset()
	o.cfg.Engines.Reset()
	o.status.idle(ctx)
	o.log.Info().Uint64("epoch", epoch).Msg("orchestrator event=reset")
}

// Close resets and waits for background work. Later commands fail.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.mu.Unlock()
	o.epoch.Add(1)
	o.mu.Lock()
	o.resetCancel()
	o.mu.Unlock()
	o.queue.Close()
	o.wg.Wait()
}

// Quick runs a one-shot generation with the saved settings merged over the
// defaults and waits at most QuickTimeout. A newer Quick call supersedes an
// older one still waiting.
func (o *Orchestrator) Quick(ctx context.Context, text string, mode types.Mode) (types.QuickResponse, error) {
	if mode == "" {
		mode = types.ModeTranslate
	}
	cfg, err := o.Settings(ctx)
	if err != nil {
		return types.QuickResponse{}, err
	}
	id := uuid.NewString()
	o.corr.Track(quickScope, id)

	wctx, cancel := context.WithTimeout(ctx, o.cfg.QuickTimeout)
	defer cancel()
	r := o.start(wctx, types.GenerationRequest{Text: text, Mode: mode, Backend: cfg, CorrelationID: id})
	for {
		select {
		case _, ok := <-r.ch:
			if ok {
				continue
			}
			if !o.corr.Current(quickScope, id) {
				return types.QuickResponse{}, ErrSuperseded
			}
			o.corr.Done(quickScope, id)
			out, err := r.result()
			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
					return types.QuickResponse{}, ErrTimeout
				}
				return types.QuickResponse{}, err
			}
			return types.QuickResponse{Text: out, Mode: mode, CorrelationID: id}, nil
		case <-wctx.Done():
			if ctx.Err() != nil {
				return types.QuickResponse{}, ctx.Err()
			}
			return types.QuickResponse{}, ErrTimeout
		}
	}
}

// Settings returns the saved backend settings merged over the defaults, with
// the in-memory API key restored.
func (o *Orchestrator) Settings(ctx context.Context) (types.BackendConfig, error) {
	var saved types.BackendConfig
	ok, err := o.cfg.Store.GetJSON(ctx, keySettings, &saved)
	if err != nil {
		return types.BackendConfig{}, err
	}
	cfg := o.cfg.Defaults
	if ok {
		cfg = merge(cfg, saved)
	}
	o.mu.Lock()
	key := o.apiKey
	o.mu.Unlock()
	if key != "" && cfg.Remote != nil {
		r := *cfg.Remote
		r.APIKey = key
		cfg.Remote = &r
	}
	return cfg, nil
}

// SaveSettings persists cfg without its API key, which is kept in memory
// only, and starts a background load when PlanLoad asks for one.
func (o *Orchestrator) SaveSettings(ctx context.Context, cfg types.BackendConfig) (LoadPlan, error) {
	if !cfg.Kind.Valid() {
		return LoadPlan{}, unknownKind(string(cfg.Kind))
	}
	prev, err := o.Settings(ctx)
	if err != nil {
		return LoadPlan{}, err
	}
	st, err := o.status.load(ctx)
	if err != nil {
		return LoadPlan{}, err
	}
	if err := o.cfg.Store.SetJSON(ctx, keySettings, cfg.Redacted()); err != nil {
		return LoadPlan{}, err
	}
	if cfg.Remote != nil && cfg.Remote.APIKey != "" {
		o.mu.Lock()
		o.apiKey = cfg.Remote.APIKey
		o.mu.Unlock()
	}
	next, err := o.Settings(ctx)
	if err != nil {
		return LoadPlan{}, err
	}
	plan := PlanLoad(prev, next, st.EngineStatus, st.ReadyConfigs)
	if plan.Status != st.EngineStatus {
		o.status.set(ctx, plan.Status)
	}
	if plan.ProgressText != "" {
		o.status.progress(ctx, LastProgress{Text: plan.ProgressText})
	}
	o.log.Info().Str("kind", string(next.Kind)).Str("model", next.ModelID).Bool("load", plan.Load).
		Str("status", string(plan.Status)).Msg("orchestrator event=settings_saved")
	if plan.Load {
		events := o.Load(context.WithoutCancel(ctx), next)
		go func() {
			for range events {
			}
		}()
	}
	return plan, nil
}

func (o *Orchestrator) validate(cfg types.BackendConfig) error {
	if o.isClosed() {
		return ErrClosed
	}
	if !cfg.Kind.Valid() {
		return unknownKind(string(cfg.Kind))
	}
	if cfg.Kind.Local() && strings.TrimSpace(cfg.ModelID) == "" {
		return &backend.ConfigError{Msg: "modelId is required for " + string(cfg.Kind)}
	}
	return nil
}

func (o *Orchestrator) isClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

// stream runs the engine and assembles fragments into update events.
func (o *Orchestrator) stream(ctx context.Context, r *request, eng backend.Engine) error {
	p := o.cfg.Builder.Build(r.req.Mode, r.req.Backend)
	var asm stream.Assembler
	err := eng.Stream(ctx, backend.Request{System: p.System, User: p.WrapUserInput(r.req.Text)}, func(frag string) error {
		if r.stale() {
			return errStale
		}
		r.update(asm.Ingest(frag))
		return nil
	})
	if err != nil {
		r.fail(err)
		return err
	}
	r.complete(asm.Final())
	return nil
}

var errStale = errors.New("discarded after reset")

// goRemote runs fn concurrently on a context cancelled by the caller or by
// the next reset.
func (o *Orchestrator) goRemote(ctx context.Context, r *request, fn func(context.Context)) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		r.fail(ErrClosed)
		return
	}
	rctx := o.resetCtx
	o.wg.Add(1)
	o.mu.Unlock()
	go func() {
		defer o.wg.Done()
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		stop := context.AfterFunc(rctx, cancel)
		defer stop()
		fn(ctx)
	}()
}

// enqueue adds a local job bound to r. The job's context is also cancelled
// when the caller's ctx ends.
func (o *Orchestrator) enqueue(ctx context.Context, r *request, run func(context.Context) error) {
	o.mu.Lock()
	o.pending[r.id] = r
	o.mu.Unlock()
	err := o.queue.Enqueue(queue.Job{ID: r.id, Run: func(jctx context.Context) error {
		jctx, cancel := context.WithCancel(jctx)
		defer cancel()
		stop := context.AfterFunc(ctx, cancel)
		defer stop()
		if err := jctx.Err(); err != nil {
			r.fail(err)
			return err
		}
		return run(jctx)
	}})
	if err != nil {
		r.fail(err)
	}
}

func (o *Orchestrator) untrack(id string) {
	o.mu.Lock()
	delete(o.pending, id)
	o.mu.Unlock()
}

func (o *Orchestrator) lookup(id string) *request {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.pending[id]
}

// onJobError catches failures a job did not report itself, such as panics.
func (o *Orchestrator) onJobError(job queue.Job, err error) {
	if r := o.lookup(job.ID); r != nil {
		r.fail(err)
	}
}

func (o *Orchestrator) onJobDrop(job queue.Job) {
	if r := o.lookup(job.ID); r != nil {
		r.fail(context.Canceled)
	}
}

// merge overlays the non-empty fields of over on base.
func merge(base, over types.BackendConfig) types.BackendConfig {
	out := base
	if over.Kind != "" {
		out.Kind = over.Kind
	}
	if over.ModelID != "" {
		out.ModelID = over.ModelID
	}
	if over.Tone != "" {
		out.Tone = over.Tone
	}
	if over.Detail != "" {
		out.Detail = over.Detail
	}
	if over.TargetLanguage != "" {
		out.TargetLanguage = over.TargetLanguage
	}
	if over.Remote != nil {
		r := types.RemoteEndpoint{}
		if base.Remote != nil {
			r = *base.Remote
		}
		if over.Remote.BaseURL != "" {
			r.BaseURL = over.Remote.BaseURL
		}
		if over.Remote.APIKey != "" {
			r.APIKey = over.Remote.APIKey
		}
		if over.Remote.ModelName != "" {
			r.ModelName = over.Remote.ModelName
		}
		out.Remote = &r
	}
	return out
}
