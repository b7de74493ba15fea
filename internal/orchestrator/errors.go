package orchestrator

import (
	"errors"
	"fmt"

	"proofduck/internal/backend"
	"proofduck/internal/engine"
)

var (
	// ErrTimeout is returned by Quick when the bounded wait expires. It is
	// distinct from a generation that failed.
	ErrTimeout = errors.New("generation timed out")
	// ErrSuperseded is returned by Quick when a newer quick request replaced
	// this one before it finished.
	ErrSuperseded = errors.New("request superseded by a newer one")
	// ErrClosed is returned once the orchestrator has been closed.
	ErrClosed = errors.New("orchestrator closed")
)

// IsReset reports whether err means the work was discarded by a reset.
func IsReset(err error) bool {
	return errors.Is(err, engine.ErrReset)
}

func unknownKind(k string) error {
	return &backend.ConfigError{Msg: fmt.Sprintf("unknown backend kind %q", k)}
}
