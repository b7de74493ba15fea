package orchestrator

import (
	"context"
	"slices"
	"sync"

	"github.com/rs/zerolog"

	"proofduck/pkg/types"
)

// EngineStatus is the persisted lifecycle state shown to users.
type EngineStatus string

const (
	StatusIdle    EngineStatus = "idle"
	StatusLoading EngineStatus = "loading"
	StatusReady   EngineStatus = "ready"
	StatusError   EngineStatus = "error"
)

// Keys in the settings store.
const (
	keySettings      = "settings"
	keyEngineStatus  = "engineStatus"
	keyLastProgress  = "lastProgress"
	keyEngineError   = "engineError"
	keyReadyConfigs  = "readyConfigs"
	keyFailedConfigs = "failedConfigs"
)

// KV is the persistent key-value store behind settings and status.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	GetJSON(ctx context.Context, key string, v any) (bool, error)
	SetJSON(ctx context.Context, key string, v any) error
}

// LastProgress is the most recent load progress.
type LastProgress struct {
	Progress float64 `json:"progress"`
	Text     string  `json:"text"`
}

// StoredStatus is everything the status tracker persists.
type StoredStatus struct {
	EngineStatus  EngineStatus
	LastProgress  *LastProgress
	EngineError   string
	ReadyConfigs  []string
	FailedConfigs []string
}

// statusTracker persists engine status. Store failures are logged and never
// fail the caller.
type statusTracker struct {
	kv  KV
	log zerolog.Logger
	mu  sync.Mutex
}

func (t *statusTracker) set(ctx context.Context, s EngineStatus) {
	if err := t.kv.Set(ctx, keyEngineStatus, string(s)); err != nil {
		t.log.Warn().Err(err).Str("status", string(s)).Msg("status event=write_failed")
	}
}

func (t *statusTracker) progress(ctx context.Context, p LastProgress) {
	if err := t.kv.SetJSON(ctx, keyLastProgress, p); err != nil {
		t.log.Warn().Err(err).Msg("status event=write_failed")
	}
}

func (t *statusTracker) idle(ctx context.Context) {
	t.set(ctx, StatusIdle)
	if err := t.kv.Delete(ctx, keyLastProgress); err != nil {
		t.log.Warn().Err(err).Msg("status event=write_failed")
	}
}

// ready records a successful load; key moves from failed to ready.
func (t *statusTracker) ready(ctx context.Context, key string) {
	t.set(ctx, StatusReady)
	if err := t.kv.Delete(ctx, keyEngineError); err != nil {
		t.log.Warn().Err(err).Msg("status event=write_failed")
	}
	if key != "" {
		t.move(ctx, key, keyReadyConfigs, keyFailedConfigs)
	}
}

// failed records a failed load; key moves from ready to failed.
func (t *statusTracker) failed(ctx context.Context, key, msg string) {
	t.set(ctx, StatusError)
	if err := t.kv.Set(ctx, keyEngineError, msg); err != nil {
		t.log.Warn().Err(err).Msg("status event=write_failed")
	}
	if key != "" {
		t.move(ctx, key, keyFailedConfigs, keyReadyConfigs)
	}
}

func (t *statusTracker) move(ctx context.Context, key, into, from string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var in, out []string
	if _, err := t.kv.GetJSON(ctx, into, &in); err != nil {
		t.log.Warn().Err(err).Str("key", into).Msg("status event=read_failed")
	}
	if _, err := t.kv.GetJSON(ctx, from, &out); err != nil {
		t.log.Warn().Err(err).Str("key", from).Msg("status event=read_failed")
	}
	if !slices.Contains(in, key) {
		in = append(in, key)
	}
	out = slices.DeleteFunc(out, func(k string) bool { return k == key })
	if err := t.kv.SetJSON(ctx, into, in); err != nil {
		t.log.Warn().Err(err).Str("key", into).Msg("status event=write_failed")
	}
	if err := t.kv.SetJSON(ctx, from, out); err != nil {
		t.log.Warn().Err(err).Str("key", from).Msg("status event=write_failed")
	}
}

func (t *statusTracker) isReady(ctx context.Context, key string) bool {
	var ready []string
	_, _ = t.kv.GetJSON(ctx, keyReadyConfigs, &ready)
	return slices.Contains(ready, key)
}

func (t *statusTracker) load(ctx context.Context) (StoredStatus, error) {
	st := StoredStatus{EngineStatus: StatusIdle}
	s, ok, err := t.kv.Get(ctx, keyEngineStatus)
	if err != nil {
		return st, err
	}
	if ok && s != "" {
		st.EngineStatus = EngineStatus(s)
	}
	var lp LastProgress
	if ok, err := t.kv.GetJSON(ctx, keyLastProgress, &lp); err != nil {
		return st, err
	} else if ok {
		st.LastProgress = &lp
	}
	if st.EngineError, _, err = t.kv.Get(ctx, keyEngineError); err != nil {
		return st, err
	}
	if _, err := t.kv.GetJSON(ctx, keyReadyConfigs, &st.ReadyConfigs); err != nil {
		return st, err
	}
	if _, err := t.kv.GetJSON(ctx, keyFailedConfigs, &st.FailedConfigs); err != nil {
		return st, err
	}
	return st, nil
}

// LoadPlan says whether a settings change needs an engine load and which
// status to show meanwhile.
type LoadPlan struct {
	Load   bool         `json:"load"`
	Status EngineStatus `json:"status"`
	// ProgressText is set when a fresh loading indicator should be shown.
	ProgressText string `json:"progressText,omitempty"`
}

// PlanLoad decides what switching from prev to next requires. Remote
// backends need no load. The built-in model is checked in the background
// while shown as ready. Local backends load when the backend or model
// changed or the engine is idle or failed; configs already known to load
// are shown as ready while they warm up.
func PlanLoad(prev, next types.BackendConfig, status EngineStatus, readyConfigs []string) LoadPlan {
	switch next.Kind {
	case types.BackendRemoteHTTP:
		return LoadPlan{Status: StatusReady}
	case types.BackendBuiltin:
		return LoadPlan{Load: true, Status: StatusReady}
	}
	known := slices.Contains(readyConfigs, next.ConfigKey())
	changed := prev.Kind != next.Kind || prev.ModelID != next.ModelID
	switch {
	case changed || status == StatusError || status == StatusIdle:
		if known {
			return LoadPlan{Load: true, Status: StatusReady}
		}
		return LoadPlan{Load: true, Status: StatusLoading, ProgressText: "Initializing..."}
	case known && status != StatusReady:
		return LoadPlan{Load: true, Status: StatusReady}
	case !known:
		return LoadPlan{Load: true, Status: StatusLoading, ProgressText: "Warming up..."}
	}
	return LoadPlan{Status: status}
}
