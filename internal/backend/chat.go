package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"proofduck/internal/stream"
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model,omitempty"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type apiErrorBody struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func messages(req Request) []chatMessage {
	out := make([]chatMessage, 0, 2)
	if req.System != "" {
		out = append(out, chatMessage{Role: "system", Content: req.System})
	}
	return append(out, chatMessage{Role: "user", Content: req.User})
}

// streamChat posts a streaming chat completion and feeds the raw body, in
// whatever chunks the transport delivers, through an SSE parser.
func streamChat(ctx context.Context, cli *http.Client, url, apiKey, model string, req Request, onFragment func(string) error, log zerolog.Logger) error {
	body, err := json.Marshal(chatRequest{Model: model, Messages: messages(req), Stream: true})
	if err != nil {
		return err
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return &ConfigError{Msg: "invalid endpoint: " + err.Error()}
	}
	hreq.Header.Set("Content-Type", "application/json")
	hreq.Header.Set("Accept", "text/event-stream")
	if apiKey != "" {
		hreq.Header.Set("Authorization", "Bearer "+apiKey)
	}
	resp, err := cli.Do(hreq)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &TransportError{Msg: err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(resp)
	}

	p := stream.NewSSEParser(log)
	emit := func(frags []string) error {
		for _, f := range frags {
			if err := onFragment(f); err != nil {
				return err
			}
		}
		return nil
	}
	buf := make([]byte, 4096)
	for !p.Done() {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if err := emit(p.Feed(buf[:n])); err != nil {
				return err
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				if err := emit(p.Flush()); err != nil {
					return err
				}
				break
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Debug().Err(rerr).Str("url", url).Msg("backend event=stream_read_error")
			return &TransportError{Msg: rerr.Error()}
		}
	}
	if perr := p.Err(); perr != nil {
		return &TransportError{Status: resp.StatusCode, Msg: perr.Error()}
	}
	return nil
}

// statusError builds a TransportError from a non-2xx response, preferring
// the server's error.message.
func statusError(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var body apiErrorBody
	if json.Unmarshal(b, &body) == nil && body.Error.Message != "" {
		return &TransportError{Status: resp.StatusCode, Msg: body.Error.Message}
	}
	return &TransportError{Status: resp.StatusCode, Msg: fmt.Sprintf("API request failed: %d", resp.StatusCode)}
}
