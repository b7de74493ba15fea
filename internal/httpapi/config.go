package httpapi

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultMaxBodyBytes    = 1 << 20
	defaultMaxPackageBytes = 4 << 30
	defaultEventBuffer     = 64
	defaultHeartbeat       = 15 * time.Second
)

// Options configures the HTTP layer. Zero values select defaults.
type Options struct {
	Logger zerolog.Logger
	// BaseContext is cancelled on shutdown; streaming handlers end with it.
	BaseContext context.Context
	// MaxBodyBytes limits JSON request bodies (default 1 MiB).
	MaxBodyBytes int64
	// MaxPackageBytes limits uploaded model packages (default 4 GiB).
	MaxPackageBytes int64
	// GenerateTimeout bounds streaming generations; zero disables it.
	GenerateTimeout time.Duration
	// CORSOrigins enables CORS for the listed origins (wildcards allowed).
	CORSOrigins []string
	// RequestLogLevel is the default per-request log level: off, error,
	// info or debug. Requests may override it with ?log= or X-Log-Level.
	RequestLogLevel string
	// Heartbeat is the comment interval on idle event streams.
	Heartbeat time.Duration
}

func (o Options) withDefaults() Options {
	if o.BaseContext == nil {
		o.BaseContext = context.Background()
	}
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = defaultMaxBodyBytes
	}
	if o.MaxPackageBytes <= 0 {
		o.MaxPackageBytes = defaultMaxPackageBytes
	}
	if o.Heartbeat <= 0 {
		o.Heartbeat = defaultHeartbeat
	}
	return o
}
