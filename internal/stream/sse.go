package stream

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"

	"github.com/rs/zerolog"
)

// doneSentinel terminates an OpenAI-style event stream.
const doneSentinel = "[DONE]"

// SSEParser decodes a text/event-stream body delivered in arbitrary byte
// chunks. Incomplete lines and events are buffered across Feed calls, so a
// record split at any offset yields the same content as one delivered whole.
type SSEParser struct {
	buf   []byte
	lines []string
	done  bool
	err   error
	log   zerolog.Logger
}

// NewSSEParser returns a parser that reports dropped records to log.
func NewSSEParser(log zerolog.Logger) *SSEParser {
	return &SSEParser{log: log}
}

// chunkPayload is the subset of a chat completion chunk we read.
type chunkPayload struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Feed consumes raw bytes and returns the content fragments of every event
// completed by them. After [DONE] further input is ignored.
func (p *SSEParser) Feed(chunk []byte) []string {
	if p.done {
		return nil
	}
	p.buf = append(p.buf, chunk...)
	var out []string
	for !p.done {
		i := bytes.IndexByte(p.buf, '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimSuffix(p.buf[:i], []byte{'\r'})
		p.buf = p.buf[i+1:]
		out = append(out, p.line(line)...)
	}
	if p.done {
		p.buf = nil
	}
	return out
}

// Flush processes whatever is buffered once the body has ended, for servers
// that omit the final blank line.
func (p *SSEParser) Flush() []string {
	if p.done {
		return nil
	}
	var out []string
	if len(p.buf) > 0 {
		line := bytes.TrimSuffix(p.buf, []byte{'\r'})
		p.buf = nil
		out = append(out, p.line(line)...)
	}
	return append(out, p.dispatch()...)
}

// Done reports whether the [DONE] sentinel has been seen.
func (p *SSEParser) Done() bool { return p.done }

// Err returns an error object the server sent inside the stream, if any.
func (p *SSEParser) Err() error { return p.err }

func (p *SSEParser) line(line []byte) []string {
	if len(line) == 0 {
		return p.dispatch()
	}
	if line[0] == ':' {
		return nil
	}
	field, value := line, []byte(nil)
	if i := bytes.IndexByte(line, ':'); i >= 0 {
		field, value = line[:i], line[i+1:]
		value = bytes.TrimPrefix(value, []byte{' '})
	}
	if string(field) == "data" {
		p.lines = append(p.lines, string(value))
	}
	return nil
}

// dispatch ends the current event. Its data lines are joined with newlines
// as SSE defines; when that is not valid JSON and there are several lines,
// each line is tried as a record of its own, for servers that omit the
// blank line between events.
func (p *SSEParser) dispatch() []string {
	if len(p.lines) == 0 {
		return nil
	}
	lines := p.lines
	p.lines = nil

	frag, ok, err := p.record(strings.Join(lines, "\n"))
	if err != nil && len(lines) > 1 {
		var out []string
		for _, l := range lines {
			if f, ok, _ := p.record(l); ok {
				out = append(out, f)
			}
			if p.done {
				break
			}
		}
		return out
	}
	if !ok {
		return nil
	}
	return []string{frag}
}

// record decodes one payload. Malformed JSON is logged and returned as err.
func (p *SSEParser) record(data string) (string, bool, error) {
	payload := strings.TrimSpace(data)
	if payload == doneSentinel {
		p.done = true
		return "", false, nil
	}
	var msg chunkPayload
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		p.log.Debug().Err(err).Str("record", clip(payload, 200)).Msg("sse event=malformed_record")
		return "", false, err
	}
	if msg.Error != nil && msg.Error.Message != "" && p.err == nil {
		p.err = errors.New(msg.Error.Message)
	}
	if len(msg.Choices) == 0 || msg.Choices[0].Delta.Content == "" {
		return "", false, nil
	}
	return msg.Choices[0].Delta.Content, true, nil
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
