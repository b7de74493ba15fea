// Package httpapi exposes the proofreading core over HTTP: command and
// generation streams as server-sent events, settings, status, model
// packages and page extraction.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"proofduck/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	Handle(ctx context.Context, cmd types.Command) (<-chan types.Event, error)
	Generate(ctx context.Context, req types.GenerationRequest) <-chan types.Event
	Quick(ctx context.Context, text string, mode types.Mode) (types.QuickResponse, error)
	Settings(ctx context.Context) (types.BackendConfig, error)
	SaveSettings(ctx context.Context, cfg types.BackendConfig) (types.SettingsResponse, error)
	Status(ctx context.Context) (types.StatusResponse, error)
	Subscribe(buffer int) (<-chan types.Event, func())
	ListModels() []types.Model
	// ExportModel must fail before writing anything when the model has no
	// cached files.
	ExportModel(ctx context.Context, modelID string, w io.Writer) (int, error)
	ImportPackage(ctx context.Context, data []byte) (types.ImportResponse, error)
	ExtractPage(html string) (string, error)
	Ready() bool
}

type server struct {
	svc      Service
	opts     Options
	log      zerolog.Logger
	logLevel LogLevel
}

// NewMux builds the HTTP handler for svc.
func NewMux(svc Service, opts Options) http.Handler {
	opts = opts.withDefaults()
	s := &server{svc: svc, opts: opts, log: opts.Logger, logLevel: parseLevel(opts.RequestLogLevel)}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	// Event streams must not be compressed.
	r.Use(middleware.Compress(5, "application/json"))
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	if len(opts.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: opts.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Log-Level", "X-Request-Id"},
			ExposedHeaders: []string{"Content-Disposition"},
			MaxAge:         300,
		}))
	}
	r.Use(MetricsMiddleware)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/commands", s.handleCommand)
		r.Post("/generate", s.handleGenerate)
		r.Post("/quick", s.handleQuick)
		r.Get("/events", s.handleEvents)
		r.Get("/status", s.handleStatus)
		r.Get("/settings", s.handleGetSettings)
		r.Put("/settings", s.handlePutSettings)
		r.Get("/models", s.handleModels)
		r.Get("/models/{id}/export", s.handleExport)
		r.Post("/models/import", s.handleImport)
		r.Post("/page/extract", s.handleExtract)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("loading"))
	})
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	MountSwagger(r)
	return r
}

// decodeJSON enforces the JSON content type and body limit. It writes the
// error response itself and reports whether decoding succeeded.
func (s *server) decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// streamContext joins the request with the server base context.
func (s *server) streamContext(r *http.Request) (context.Context, context.CancelFunc) {
	return joinContexts(s.opts.BaseContext, r.Context())
}

// pipe writes events from ch until a terminal event, channel close or ctx
// end. It returns the terminal event, if one was seen.
func (s *server) pipe(ctx context.Context, sse *sseWriter, ch <-chan types.Event) (types.Event, bool) {
	for {
		select {
		case <-ctx.Done():
			return types.Event{}, false
		case ev, ok := <-ch:
			if !ok {
				return types.Event{}, false
			}
			if err := sse.event(ev); err != nil {
				return types.Event{}, false
			}
			if ev.Terminal() {
				return ev, true
			}
		}
	}
}

func (s *server) debugWriter(rl *requestLog) io.Writer {
	if rl.level < LevelDebug {
		return nil
	}
	return &streamLogWriter{log: rl.log}
}

func endStatus(ev types.Event, ok bool) (int, error) {
	if ok && ev.Type == types.EventError {
		return http.StatusOK, errors.New(ev.Error)
	}
	return http.StatusOK, nil
}

// handleCommand runs a command and streams its events.
//
// @Summary      Send a command
// @Description  Runs load, generate or reset. Load and generate respond with a server-sent event stream; reset responds 204.
// @Tags         core
// @Accept       json
// @Produce      text/event-stream
// @Param        command  body  types.Command  true  "Command"
// @Success      200  {object}  types.Event
// @Success      204
// @Failure      400  {object}  types.ErrorResponse
// @Router       /v1/commands [post]
func (s *server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var cmd types.Command
	if !s.decodeJSON(w, r, &cmd) {
		return
	}
	rl := s.requestLog(r)
	rl.begin("http event=command", func(e *zerolog.Event) *zerolog.Event {
		return e.Str("type", string(cmd.Type)).Str("backend", string(cmd.Backend.Kind))
	})
	ctx, cancel := s.streamContext(r)
	defer cancel()

	ch, err := s.svc.Handle(ctx, cmd)
	if err != nil {
		rl.end(writeError(w, err), err)
		return
	}
	if cmd.Type == types.CommandReset {
		for range ch {
		}
		w.WriteHeader(http.StatusNoContent)
		rl.end(http.StatusNoContent, nil)
		return
	}
	defer trackStream(r)()
	sse := newSSE(w, s.debugWriter(rl))
	rl.end(endStatus(s.pipe(ctx, sse, ch)))
}

// handleGenerate streams one generation.
//
// @Summary      Generate
// @Description  Processes text in the given mode and streams update, complete and error events. When backendConfig is omitted the saved settings are used.
// @Tags         core
// @Accept       json
// @Produce      text/event-stream
// @Param        request  body  types.GenerateRequest  true  "Generation request"
// @Success      200  {object}  types.Event
// @Failure      400  {object}  types.ErrorResponse
// @Failure      415  {object}  types.ErrorResponse
// @Router       /v1/generate [post]
func (s *server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req types.GenerateRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeJSONError(w, http.StatusBadRequest, "text is required")
		return
	}
	ctx, cancel := s.streamContext(r)
	defer cancel()
	if s.opts.GenerateTimeout > 0 {
		var tcancel context.CancelFunc
		ctx, tcancel = context.WithTimeout(ctx, s.opts.GenerateTimeout)
		defer tcancel()
	}

	var cfg types.BackendConfig
	if req.Backend != nil {
		cfg = *req.Backend
	} else {
		saved, err := s.svc.Settings(ctx)
		if err != nil {
			writeError(w, err)
			return
		}
		cfg = saved
	}
	rl := s.requestLog(r)
	rl.begin("http event=generate", func(e *zerolog.Event) *zerolog.Event {
		return e.Str("mode", string(req.Mode)).Str("backend", string(cfg.Kind)).Str("model", cfg.ModelID)
	})

	ch := s.svc.Generate(ctx, types.GenerationRequest{
		Text:          req.Text,
		Mode:          req.Mode,
		Backend:       cfg,
		CorrelationID: req.CorrelationID,
	})
	defer trackStream(r)()
	sse := newSSE(w, s.debugWriter(rl))
	ev, ok := s.pipe(ctx, sse, ch)
	if !ok && errors.Is(ctx.Err(), context.DeadlineExceeded) && r.Context().Err() == nil {
		ev, ok = types.ErrorEvent("generation timed out", req.Mode, req.CorrelationID), true
		_ = sse.event(ev)
	}
	rl.end(endStatus(ev, ok))
}

// handleQuick runs a blocking one-shot generation with the saved settings.
//
// @Summary      Quick action
// @Description  Translates (or runs the given mode on) a short text and returns the final result. A newer quick request supersedes an older one.
// @Tags         core
// @Accept       json
// @Produce      json
// @Param        request  body  types.QuickRequest  true  "Quick request"
// @Success      200  {object}  types.QuickResponse
// @Failure      400  {object}  types.ErrorResponse
// @Failure      409  {object}  types.ErrorResponse
// @Failure      504  {object}  types.ErrorResponse
// @Router       /v1/quick [post]
func (s *server) handleQuick(w http.ResponseWriter, r *http.Request) {
	var req types.QuickRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeJSONError(w, http.StatusBadRequest, "text is required")
		return
	}
	rl := s.requestLog(r)
	ctx, cancel := s.streamContext(r)
	defer cancel()
	res, err := s.svc.Quick(ctx, req.Text, req.Mode)
	if err != nil {
		rl.end(writeError(w, err), err)
		return
	}
	writeJSON(w, res)
	rl.end(http.StatusOK, nil)
}

// handleEvents broadcasts every event the core emits.
//
// @Summary      Event stream
// @Description  Server-sent events for every progress, ready, update, complete and error event. Idle streams receive comment heartbeats.
// @Tags         core
// @Produce      text/event-stream
// @Success      200  {object}  types.Event
// @Router       /v1/events [get]
func (s *server) handleEvents(w http.ResponseWriter, r *http.Request) {
	rl := s.requestLog(r)
	rl.begin("http event=subscribe", nil)
	ctx, cancel := s.streamContext(r)
	defer cancel()

	ch, unsubscribe := s.svc.Subscribe(defaultEventBuffer)
	defer unsubscribe()
	defer trackStream(r)()
	sse := newSSE(w, s.debugWriter(rl))

	tick := time.NewTicker(s.opts.Heartbeat)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			rl.end(http.StatusOK, nil)
			return
		case <-tick.C:
			if err := sse.comment("ping"); err != nil {
				return
			}
		case ev, ok := <-ch:
			if !ok {
				rl.end(http.StatusOK, nil)
				return
			}
			if err := sse.event(ev); err != nil {
				return
			}
		}
	}
}

// handleStatus reports engines, queue and persisted status.
//
// @Summary      Status
// @Tags         admin
// @Produce      json
// @Success      200  {object}  types.StatusResponse
// @Router       /v1/status [get]
func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.Status(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, st)
}

// @Summary      Get settings
// @Description  Saved backend settings merged over defaults. The API key is never returned.
// @Tags         settings
// @Produce      json
// @Success      200  {object}  types.BackendConfig
// @Router       /v1/settings [get]
func (s *server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.svc.Settings(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, cfg.Redacted())
}

// @Summary      Save settings
// @Description  Persists settings and starts a background load when the backend or model changed.
// @Tags         settings
// @Accept       json
// @Produce      json
// @Param        settings  body  types.BackendConfig  true  "Settings"
// @Success      200  {object}  types.SettingsResponse
// @Failure      400  {object}  types.ErrorResponse
// @Router       /v1/settings [put]
func (s *server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var cfg types.BackendConfig
	if !s.decodeJSON(w, r, &cfg) {
		return
	}
	res, err := s.svc.SaveSettings(r.Context(), cfg)
	if err != nil {
		writeError(w, err)
		return
	}
	s.log.Info().Str("backend", string(cfg.Kind)).Str("model", cfg.ModelID).Bool("load", res.Load).Msg("http event=settings_saved")
	writeJSON(w, res)
}

// @Summary      List models
// @Tags         models
// @Produce      json
// @Success      200  {object}  types.ModelsResponse
// @Router       /v1/models [get]
func (s *server) handleModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, types.ModelsResponse{Models: s.svc.ListModels()})
}

// lazyHeaderWriter sets the download headers on the first write so that an
// early error can still produce a JSON error response.
type lazyHeaderWriter struct {
	w        http.ResponseWriter
	filename string
	wrote    bool
}

func (l *lazyHeaderWriter) Write(p []byte) (int, error) {
	if !l.wrote {
		l.wrote = true
		l.w.Header().Set("Content-Type", "application/octet-stream")
		l.w.Header().Set("Content-Disposition", `attachment; filename="`+l.filename+`"`)
		l.w.WriteHeader(http.StatusOK)
	}
	n, err := l.w.Write(p)
	packageBytes.WithLabelValues("export").Add(float64(n))
	return n, err
}

// handleExport streams a model package.
//
// @Summary      Export model
// @Description  Streams every cached file of the model as a package.
// @Tags         models
// @Produce      application/octet-stream
// @Param        id  path  string  true  "Model id"
// @Success      200  {file}  binary
// @Failure      404  {object}  types.ErrorResponse
// @Router       /v1/models/{id}/export [get]
func (s *server) handleExport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rl := s.requestLog(r)
	rl.begin("http event=export", func(e *zerolog.Event) *zerolog.Event { return e.Str("model", id) })
	ctx, cancel := s.streamContext(r)
	defer cancel()

	lw := &lazyHeaderWriter{w: w, filename: sanitizeFilename(id) + ".pkg"}
	n, err := s.svc.ExportModel(ctx, id, lw)
	if err != nil {
		if !lw.wrote {
			rl.end(writeError(w, err), err)
			return
		}
		rl.end(http.StatusOK, err)
		return
	}
	if !lw.wrote {
		// Zero entries still produce a valid, empty package.
		_, _ = lw.Write(nil)
	}
	rl.log.Debug().Int("entries", n).Msg("http event=export_done")
	rl.end(http.StatusOK, nil)
}

func sanitizeFilename(id string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', '"', ':':
			return '_'
		}
		return r
	}, id)
}

// handleImport caches the entries of an uploaded package.
//
// @Summary      Import model package
// @Description  Writes every trusted entry of the package to the content cache. Untrusted URLs are reported in skipped.
// @Tags         models
// @Accept       application/octet-stream
// @Produce      json
// @Success      200  {object}  types.ImportResponse
// @Failure      400  {object}  types.ErrorResponse
// @Failure      413  {object}  types.ErrorResponse
// @Router       /v1/models/import [post]
func (s *server) handleImport(w http.ResponseWriter, r *http.Request) {
	rl := s.requestLog(r)
	rl.begin("http event=import", func(e *zerolog.Event) *zerolog.Event { return e.Int64("content_length", r.ContentLength) })
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxPackageBytes)
	data, err := io.ReadAll(r.Body)
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "package too large")
			rl.end(http.StatusRequestEntityTooLarge, err)
			return
		}
		writeJSONError(w, http.StatusBadRequest, "failed to read body")
		rl.end(http.StatusBadRequest, err)
		return
	}
	packageBytes.WithLabelValues("import").Add(float64(len(data)))
	ctx, cancel := s.streamContext(r)
	defer cancel()
	res, err := s.svc.ImportPackage(ctx, data)
	if err != nil && res.Entries == 0 && len(res.Skipped) == 0 {
		rl.end(writeError(w, err), err)
		return
	}
	if err != nil {
		res.Error = err.Error()
	}
	writeJSON(w, res)
	rl.end(http.StatusOK, err)
}

// @Summary      Extract page text
// @Description  Returns the readable text of an HTML document.
// @Tags         core
// @Accept       json
// @Produce      json
// @Param        request  body  types.PageExtractRequest  true  "Page"
// @Success      200  {object}  types.PageExtractResponse
// @Failure      400  {object}  types.ErrorResponse
// @Router       /v1/page/extract [post]
func (s *server) handleExtract(w http.ResponseWriter, r *http.Request) {
	var req types.PageExtractRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	text, err := s.svc.ExtractPage(req.HTML)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, types.PageExtractResponse{Text: text})
}
