package orchestrator

import (
	"errors"
	"sync"
	"time"

	"proofduck/internal/engine"
	"proofduck/pkg/types"
)

// request owns the event channel of one generate or load. The channel keeps
// one slot free for the terminal event, so intermediate events are dropped
// rather than blocking when the consumer lags, and the terminal event is
// always delivered before the channel closes.
type request struct {
	o       *Orchestrator
	id      string
	req     types.GenerationRequest
	epoch   uint64
	started time.Time

	mu     sync.Mutex
	ch     chan types.Event
	closed bool
	err    error
	text   string
}

func (o *Orchestrator) newRequest(id string, req types.GenerationRequest) *request {
	return &request{
		o:       o,
		id:      id,
		req:     req,
		epoch:   o.epoch.Load(),
		started: time.Now(),
		ch:      make(chan types.Event, o.cfg.UpdateBuffer+1),
	}
}

// stale reports whether a reset happened after the request started.
func (r *request) stale() bool { return r.o.epoch.Load() != r.epoch }

// emit delivers a non-terminal event, best effort.
func (r *request) emit(ev types.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.stale() {
		return
	}
	r.o.hub.Publish(ev)
	if len(r.ch) < cap(r.ch)-1 {
		r.ch <- ev
		return
	}
	updatesDropped.Inc()
}

func (r *request) update(text string) {
	r.emit(types.UpdateEvent(text, r.req.Mode, r.req.CorrelationID))
}

func (r *request) progress(fraction float64, text string) {
	r.emit(types.ProgressEvent(fraction, text))
}

func (r *request) complete(text string) {
	r.finish(types.CompleteEvent(text, r.req.Mode, r.req.CorrelationID), text, nil)
}

func (r *request) ready() {
	r.finish(types.ReadyEvent(), "", nil)
}

// fail ends the request with an error event. Load requests carry no mode.
func (r *request) fail(err error) {
	r.finish(types.ErrorEvent(err.Error(), r.req.Mode, r.req.CorrelationID), "", err)
}

// finish sends the terminal event once and closes the channel. Results of a
// request that a reset made stale are replaced by a reset error and are not
// broadcast.
func (r *request) finish(ev types.Event, text string, err error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	outcome := string(ev.Type)
	if r.stale() {
		err = engine.ErrReset
		ev = types.ErrorEvent(err.Error(), r.req.Mode, r.req.CorrelationID)
		text = ""
		outcome = "reset"
	} else {
		r.o.hub.Publish(ev)
	}
	r.err, r.text = err, text
	r.ch <- ev
	close(r.ch)
	r.mu.Unlock()

	r.o.untrack(r.id)
	kind := string(r.req.Backend.Kind)
	generationsTotal.WithLabelValues(kind, outcome).Inc()
	generationSeconds.WithLabelValues(kind).Observe(time.Since(r.started).Seconds())
	log := r.o.log.Debug()
	if err != nil && !errors.Is(err, engine.ErrReset) {
		log = r.o.log.Warn().Err(err)
	}
	log.Str("id", r.id).Str("kind", kind).Str("mode", string(r.req.Mode)).
		Str("outcome", outcome).Dur("elapsed", time.Since(r.started)).Msg("orchestrator event=finish")
}

// result returns the terminal text and error. Valid once the channel closed.
func (r *request) result() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.text, r.err
}
