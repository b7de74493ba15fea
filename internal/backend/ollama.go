package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// DefaultOllamaURL is where a local Ollama-compatible service listens.
const DefaultOllamaURL = "http://127.0.0.1:11434"

// OllamaHost is the default BuiltinHost: an on-device model served by a
// local Ollama-compatible daemon.
type OllamaHost struct {
	BaseURL      string
	DefaultModel string
	Client       *http.Client
}

func (h *OllamaHost) base() string {
	b := strings.TrimRight(strings.TrimSpace(h.BaseURL), "/")
	if b == "" {
		return DefaultOllamaURL
	}
	return b
}

func (h *OllamaHost) client() *http.Client {
	if h.Client == nil {
		return http.DefaultClient
	}
	return h.Client
}

func (h *OllamaHost) model(id string) string {
	if id = strings.TrimSpace(id); id != "" {
		return id
	}
	return h.DefaultModel
}

// Remedy implements the remediation hint for capability errors.
func (h *OllamaHost) Remedy() string {
	m := h.model("")
	if m == "" {
		m = "<model>"
	}
	return fmt.Sprintf("Start the local model service at %s and run `ollama pull %s`", h.base(), m)
}

type ollamaTags struct {
	Models []struct {
		Name  string `json:"name"`
		Model string `json:"model"`
	} `json:"models"`
}

// Availability lists installed models. A reachable service without the
// requested model reports after-download.
func (h *OllamaHost) Availability(ctx context.Context, modelID string) (Availability, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.base()+"/api/tags", nil)
	if err != nil {
		return AvailabilityNo, err
	}
	resp, err := h.client().Do(req)
	if err != nil {
		return AvailabilityNo, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return AvailabilityNo, fmt.Errorf("tags: status %d", resp.StatusCode)
	}
	var tags ollamaTags
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return AvailabilityNo, fmt.Errorf("decode tags: %w", err)
	}
	want := h.model(modelID)
	for _, m := range tags.Models {
		if want == "" || m.Name == want || m.Model == want || strings.TrimSuffix(m.Name, ":latest") == want {
			return AvailabilityReadily, nil
		}
	}
	return AvailabilityAfterDownload, nil
}

// CreateSession binds a session to the resolved model. The service keeps no
// per-session state, so this makes no request.
func (h *OllamaHost) CreateSession(ctx context.Context, modelID string) (BuiltinSession, error) {
	m := h.model(modelID)
	if m == "" {
		return nil, &ConfigError{Msg: "no built-in model selected"}
	}
	return &ollamaSession{host: h, model: m}, nil
}

type ollamaSession struct {
	host  *OllamaHost
	model string
}

type ollamaGenerateRequest struct {
	Model  string `json:"model"`
	System string `json:"system,omitempty"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type ollamaGenerateChunk struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error"`
}

// PromptStreaming reads the newline-delimited JSON stream of /api/generate.
func (s *ollamaSession) PromptStreaming(ctx context.Context, system, user string, onChunk func(string) error) error {
	body, err := json.Marshal(ollamaGenerateRequest{Model: s.model, System: system, Prompt: user, Stream: true})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.host.base()+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.host.client().Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &TransportError{Msg: err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var chunk ollamaGenerateChunk
		if json.Unmarshal(b, &chunk) == nil && chunk.Error != "" {
			return &TransportError{Status: resp.StatusCode, Msg: chunk.Error}
		}
		return &TransportError{Status: resp.StatusCode, Msg: fmt.Sprintf("API request failed: %d", resp.StatusCode)}
	}
	dec := json.NewDecoder(resp.Body)
	for {
		var chunk ollamaGenerateChunk
		if err := dec.Decode(&chunk); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &TransportError{Msg: "decode stream: " + err.Error()}
		}
		if chunk.Error != "" {
			return &TransportError{Status: resp.StatusCode, Msg: chunk.Error}
		}
		if chunk.Response != "" {
			if err := onChunk(chunk.Response); err != nil {
				return err
			}
		}
		if chunk.Done {
			return nil
		}
	}
}

func (s *ollamaSession) Destroy() error { return nil }
