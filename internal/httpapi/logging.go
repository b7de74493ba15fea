package httpapi

import (
	"bytes"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// LogLevel controls per-request logging behavior.
type LogLevel int

const (
	LevelOff LogLevel = iota
	LevelError
	LevelInfo
	LevelDebug
)

func parseLevel(s string) LogLevel {
	switch s {
	case "off", "":
		return LevelOff
	case "error":
		return LevelError
	case "info":
		return LevelInfo
	case "debug":
		return LevelDebug
	default:
		return LevelInfo
	}
}

// requestLogLevel applies the ?log= and X-Log-Level overrides to def.
func requestLogLevel(r *http.Request, def LogLevel) LogLevel {
	if v := r.URL.Query().Get("log"); v != "" {
		if v == "1" {
			return LevelDebug
		}
		return parseLevel(v)
	}
	if v := r.Header.Get("X-Log-Level"); v != "" {
		return parseLevel(v)
	}
	return def
}

// streamLogWriter logs every complete line of an event stream at debug level.
type streamLogWriter struct {
	log zerolog.Logger
	buf []byte
}

func (lw *streamLogWriter) Write(p []byte) (int, error) {
	lw.buf = append(lw.buf, p...)
	for {
		idx := bytes.IndexByte(lw.buf, '\n')
		if idx < 0 {
			break
		}
		if line := lw.buf[:idx]; len(line) > 0 {
			lw.log.Debug().Bytes("line", line).Msg("http event=stream")
		}
		lw.buf = lw.buf[idx+1:]
	}
	return len(p), nil
}

// requestLog carries the logging decision for one request.
type requestLog struct {
	log   zerolog.Logger
	level LogLevel
	start time.Time
}

func (s *server) requestLog(r *http.Request) *requestLog {
	l := s.log.With().Str("path", r.URL.Path)
	if rid := middleware.GetReqID(r.Context()); rid != "" {
		l = l.Str("request_id", rid)
	}
	return &requestLog{log: l.Logger(), level: requestLogLevel(r, s.logLevel), start: time.Now()}
}

func (rl *requestLog) begin(msg string, fields func(*zerolog.Event) *zerolog.Event) {
	if rl.level < LevelInfo {
		return
	}
	ev := rl.log.Info()
	if fields != nil {
		ev = fields(ev)
	}
	ev.Msg(msg)
}

func (rl *requestLog) end(status int, err error) {
	switch {
	case err != nil && rl.level >= LevelError:
		rl.log.Error().Int("status", status).Dur("dur", time.Since(rl.start)).Err(err).Msg("http event=end")
	case err == nil && rl.level >= LevelInfo:
		rl.log.Info().Int("status", status).Dur("dur", time.Since(rl.start)).Msg("http event=end")
	}
}
