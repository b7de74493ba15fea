package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"proofduck/pkg/types"
)

// sseWriter writes server-sent events, flushing after each one.
type sseWriter struct {
	w     io.Writer
	flush func()
}

// newSSE sets the event-stream headers and commits a 200 response. When
// debug is set every line written is also logged.
func newSSE(w http.ResponseWriter, debug io.Writer) *sseWriter {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	s := &sseWriter{w: w, flush: func() {}}
	if f, ok := w.(http.Flusher); ok {
		s.flush = f.Flush
	}
	if debug != nil {
		s.w = io.MultiWriter(w, debug)
	}
	s.flush()
	return s
}

func (s *sseWriter) event(ev types.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
		return err
	}
	s.flush()
	streamEvents.WithLabelValues(string(ev.Type)).Inc()
	return nil
}

func (s *sseWriter) comment(text string) error {
	if _, err := fmt.Fprintf(s.w, ": %s\n\n", text); err != nil {
		return err
	}
	s.flush()
	return nil
}
