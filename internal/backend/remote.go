package backend

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"proofduck/pkg/types"
)

// remoteEngine talks to an OpenAI-compatible chat completions endpoint.
type remoteEngine struct {
	url    string
	apiKey string
	model  string
	cli    *http.Client
	log    zerolog.Logger
}

// NewRemote validates ep and returns an engine for it. Every missing field is
// a ConfigError so that no request is sent with incomplete credentials.
func NewRemote(ep *types.RemoteEndpoint, cli *http.Client, log zerolog.Logger) (Engine, error) {
	if ep == nil {
		return nil, &ConfigError{Msg: "remote endpoint is not configured"}
	}
	base := strings.TrimRight(strings.TrimSpace(ep.BaseURL), "/")
	if base == "" {
		return nil, &ConfigError{Msg: "remote base URL is required"}
	}
	if u, err := url.Parse(base); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, &ConfigError{Msg: "remote base URL must be an absolute http(s) URL"}
	}
	if strings.TrimSpace(ep.APIKey) == "" {
		return nil, &ConfigError{Msg: "API key is required for the remote API"}
	}
	if strings.TrimSpace(ep.ModelName) == "" {
		return nil, &ConfigError{Msg: "remote model name is required"}
	}
	if cli == nil {
		cli = &http.Client{Timeout: 0}
	}
	return &remoteEngine{
		url:    base + "/chat/completions",
		apiKey: strings.TrimSpace(ep.APIKey),
		model:  strings.TrimSpace(ep.ModelName),
		cli:    cli,
		log:    log,
	}, nil
}

func (e *remoteEngine) Stream(ctx context.Context, req Request, onFragment func(string) error) error {
	return streamChat(ctx, e.cli, e.url, e.apiKey, e.model, req, onFragment, e.log)
}

func (e *remoteEngine) Close() error { return nil }
