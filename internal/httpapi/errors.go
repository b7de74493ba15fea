package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"proofduck/internal/backend"
	"proofduck/internal/modelpkg"
	"proofduck/internal/orchestrator"
	"proofduck/internal/pagetext"
	"proofduck/internal/queue"
	"proofduck/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// statusFor maps well-known errors to HTTP status codes.
func statusFor(err error) int {
	var he HTTPError
	switch {
	case errors.As(err, &he):
		return he.StatusCode()
	case backend.IsConfig(err):
		return http.StatusBadRequest
	case backend.IsModelNotFound(err):
		return http.StatusNotFound
	case backend.IsCapability(err):
		return http.StatusServiceUnavailable
	case backend.IsTransport(err):
		return http.StatusBadGateway
	case errors.Is(err, queue.ErrQueueFull):
		return http.StatusTooManyRequests
	case errors.Is(err, orchestrator.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, orchestrator.ErrSuperseded), orchestrator.IsReset(err):
		return http.StatusConflict
	case errors.Is(err, orchestrator.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, modelpkg.ErrBadMagic), errors.Is(err, modelpkg.ErrCorrupt), errors.Is(err, pagetext.ErrNoText):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// writeError writes err with its mapped status.
func writeError(w http.ResponseWriter, err error) int {
	status := statusFor(err)
	if status == http.StatusTooManyRequests {
		IncrementBackpressure("queue_full")
	}
	writeJSONError(w, status, err.Error())
	return status
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
	}
}
