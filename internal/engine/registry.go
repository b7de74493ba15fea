// Package engine caches loaded inference engines keyed by backend kind and
// model, bounds how many stay resident, and deduplicates concurrent loads.
package engine

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"proofduck/internal/backend"
	"proofduck/pkg/types"
)

// DefaultMaxEngines is the residency bound when Config.MaxEngines is unset.
const DefaultMaxEngines = 2

// State is the lifecycle state of a cache entry.
type State string

const (
	StateLoading State = "loading"
	StateReady   State = "ready"
)

// Loader creates engines. *backend.Loader implements it.
type Loader interface {
	Load(ctx context.Context, key backend.Key, progress backend.ProgressFunc) (backend.Engine, error)
}

// Config configures a Registry.
type Config struct {
	Loader     Loader
	MaxEngines int
	Logger     zerolog.Logger
	Publisher  EventPublisher
}

type entry struct {
	key      backend.Key
	seq      uint64
	engine   backend.Engine
	state    State
	lastUsed time.Time
	progress float64

	listeners map[uint64]*listener
	ctx       context.Context
}

// listener delivers progress to one waiting caller. The join catch-up and
// the load's own reports race outside r.mu, so each listener drops any value
// lower than one it has already delivered.
type listener struct {
	mu   sync.Mutex
	last float64
	sent bool
	fn   backend.ProgressFunc
}

func (l *listener) send(p backend.Progress) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sent && p.Fraction < l.last {
		return
	}
	l.last, l.sent = p.Fraction, true
	l.fn(p)
}

// Registry is the engine cache. All methods are safe for concurrent use.
type Registry struct {
	cfg Config

	mu         sync.Mutex
	entries    map[backend.Key]*entry
	current    backend.Key
	hasCurrent bool
	seq        uint64
	closed     bool

	// loads run on loadCtx, detached from callers; Reset cancels it.
	loadCtx context.Context
	cancel  context.CancelFunc
	loads   sync.WaitGroup
	sf      singleflight.Group
}

// New returns an empty registry.
func New(cfg Config) *Registry {
	if cfg.MaxEngines <= 0 {
		cfg.MaxEngines = DefaultMaxEngines
	}
	if cfg.Publisher == nil {
		cfg.Publisher = noopPublisher{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		cfg:     cfg,
		entries: make(map[backend.Key]*entry),
		loadCtx: ctx,
		cancel:  cancel,
	}
}

// MaxEngines returns the residency bound.
func (r *Registry) MaxEngines() int { return r.cfg.MaxEngines }

// Acquire returns a ready engine for key, loading it if needed. A ready entry
// is returned without reloading. Concurrent callers for the same key share a
// single load and all receive its progress. Cancelling ctx abandons the wait
// but not the load.
func (r *Registry) Acquire(ctx context.Context, key backend.Key, onProgress backend.ProgressFunc) (backend.Engine, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	if e, ok := r.entries[key]; ok && e.state == StateReady {
		e.lastUsed = time.Now()
		r.current, r.hasCurrent = key, true
		eng := e.engine
		r.mu.Unlock()
		return eng, nil
	}

	var evicted []*entry
	e, joining := r.entries[key]
	if !joining {
		evicted = r.evictLocked()
		r.seq++
		e = &entry{
			key:       key,
			seq:       r.seq,
			state:     StateLoading,
			lastUsed:  time.Now(),
			listeners: make(map[uint64]*listener),
			ctx:       r.loadCtx,
		}
		r.entries[key] = e
		residentEngines.Set(float64(len(r.entries)))
		r.loads.Add(1)
	}
	r.seq++
	lid := r.seq
	var lis *listener
	if onProgress != nil {
		lis = &listener{fn: onProgress}
		e.listeners[lid] = lis
	}
	current := e.progress
	// DoChan under r.mu: a caller that sees a loading entry always joins the
	// call that entry belongs to.
	ch := r.sf.DoChan(fmt.Sprintf("%s#%d", key, e.seq), func() (any, error) {
		return r.load(e)
	})
	r.mu.Unlock()

	r.dispose(evicted, "evict")
	if joining && lis != nil && current > 0 {
		lis.send(backend.Progress{Fraction: current})
	}
	defer func() {
		r.mu.Lock()
		delete(e.listeners, lid)
		r.mu.Unlock()
	}()
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		r.mu.Lock()
		if r.entries[key] == e {
			r.current, r.hasCurrent = key, true
		}
		r.mu.Unlock()
		return res.Val.(backend.Engine), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Registry) load(e *entry) (any, error) {
	defer r.loads.Done()
	start := time.Now()
	r.cfg.Logger.Info().Str("key", e.key.String()).Msg("engine event=load_start")
	r.cfg.Publisher.Publish(Event{Name: "load_start", Key: e.key.String()})
	eng, err := r.cfg.Loader.Load(e.ctx, e.key, func(p backend.Progress) { r.report(e, p) })

	r.mu.Lock()
	if r.entries[e.key] != e {
		r.mu.Unlock()
		if eng != nil {
			_ = eng.Close()
		}
		loadsTotal.WithLabelValues(string(e.key.Kind), "discarded").Inc()
		r.cfg.Logger.Info().Str("key", e.key.String()).Msg("engine event=load_discarded")
		return nil, ErrReset
	}
	if err != nil {
		delete(r.entries, e.key)
		residentEngines.Set(float64(len(r.entries)))
		r.mu.Unlock()
		loadsTotal.WithLabelValues(string(e.key.Kind), "error").Inc()
		r.cfg.Logger.Warn().Err(err).Str("key", e.key.String()).Msg("engine event=load_error")
		r.cfg.Publisher.Publish(Event{Name: "load_error", Key: e.key.String(), Fields: map[string]any{"error": err.Error()}})
		return nil, err
	}
	e.engine = eng
	e.state = StateReady
	e.lastUsed = time.Now()
	e.progress = 1
	r.mu.Unlock()

	loadsTotal.WithLabelValues(string(e.key.Kind), "ready").Inc()
	r.cfg.Logger.Info().Str("key", e.key.String()).Dur("took", time.Since(start)).Msg("engine event=load_ready")
	r.cfg.Publisher.Publish(Event{Name: "load_ready", Key: e.key.String()})
	return eng, nil
}

// report clamps progress to [0,1], keeps it non-decreasing and fans it out
// to every caller waiting on the load.
func (r *Registry) report(e *entry, p backend.Progress) {
	f := p.Fraction
	if f < 0 || math.IsNaN(f) {
		f = 0
	}
	if f > 1 {
		f = 1
	}
	r.mu.Lock()
	if f < e.progress {
		f = e.progress
	}
	e.progress = f
	ls := make([]*listener, 0, len(e.listeners))
	for _, l := range e.listeners {
		ls = append(ls, l)
	}
	r.mu.Unlock()
	for _, l := range ls {
		l.send(backend.Progress{Fraction: f, Text: p.Text})
	}
}

// EvictIfNeeded disposes least-recently-used ready engines until one more
// entry fits within MaxEngines.
func (r *Registry) EvictIfNeeded() {
	r.mu.Lock()
	evicted := r.evictLocked()
	r.mu.Unlock()
	r.dispose(evicted, "evict")
}

// evictLocked removes LRU ready entries to make room for one new entry.
// Loading entries are never evicted; if nothing is evictable the bound is
// exceeded.
func (r *Registry) evictLocked() []*entry {
	var out []*entry
	for len(r.entries)+1 > r.cfg.MaxEngines {
		var lru *entry
		for _, e := range r.entries {
			if e.state != StateReady {
				continue
			}
			if lru == nil || e.lastUsed.Before(lru.lastUsed) {
				lru = e
			}
		}
		if lru == nil {
			r.cfg.Logger.Warn().Int("resident", len(r.entries)).Int("max", r.cfg.MaxEngines).Msg("engine event=over_bound")
			break
		}
		delete(r.entries, lru.key)
		if r.hasCurrent && r.current == lru.key {
			r.hasCurrent = false
		}
		out = append(out, lru)
	}
	residentEngines.Set(float64(len(r.entries)))
	return out
}

func (r *Registry) dispose(entries []*entry, reason string) {
	for _, e := range entries {
		if e.engine != nil {
			if err := e.engine.Close(); err != nil {
				r.cfg.Logger.Warn().Err(err).Str("key", e.key.String()).Msg("engine event=close_error")
			}
		}
		if reason == "evict" {
			evictionsTotal.Inc()
		}
		r.cfg.Logger.Info().Str("key", e.key.String()).Str("reason", reason).Msg("engine event=" + reason)
		r.cfg.Publisher.Publish(Event{Name: reason, Key: e.key.String()})
	}
}

// Reset disposes every ready engine, cancels in-flight loads and discards
// their results. Waiters on a discarded load receive ErrReset.
func (r *Registry) Reset() {
	r.mu.Lock()
	old := r.entries
	r.entries = make(map[backend.Key]*entry)
	r.hasCurrent = false
	r.cancel()
	r.loadCtx, r.cancel = context.WithCancel(context.Background())
	residentEngines.Set(0)
	r.mu.Unlock()

	for _, e := range old {
		if e.state == StateReady && e.engine != nil {
			_ = e.engine.Close()
		}
	}
	r.cfg.Logger.Info().Int("dropped", len(old)).Msg("engine event=reset")
	r.cfg.Publisher.Publish(Event{Name: "reset", Fields: map[string]any{"dropped": len(old)}})
}

// Close resets the registry, rejects further Acquire calls and waits for
// in-flight loads to return.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.Reset()
	r.loads.Wait()
	r.mu.Lock()
	r.cancel()
	r.mu.Unlock()
}

// Current returns the key of the most recently acquired engine.
func (r *Registry) Current() (backend.Key, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current, r.hasCurrent
}

// Snapshot lists the cache entries ordered by key.
func (r *Registry) Snapshot() []types.EngineStatus {
	r.mu.Lock()
	out := make([]types.EngineStatus, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, types.EngineStatus{
			Kind:     e.key.Kind,
			ModelID:  e.key.ModelID,
			State:    string(e.state),
			LastUsed: e.lastUsed.Unix(),
			Progress: e.progress,
		})
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].ModelID < out[j].ModelID
	})
	return out
}
