package backend

import (
	"context"
	"errors"
)

// Availability is the built-in model's readiness on this device.
type Availability string

const (
	AvailabilityReadily       Availability = "readily"
	AvailabilityAfterDownload Availability = "after-download"
	AvailabilityNo            Availability = "no"
)

// BuiltinHost is the host environment's on-device model.
type BuiltinHost interface {
	// Availability reports whether modelID (empty for the host default) can
	// be used right now.
	Availability(ctx context.Context, modelID string) (Availability, error)
	CreateSession(ctx context.Context, modelID string) (BuiltinSession, error)
}

// BuiltinSession is one prompt session on the built-in model.
type BuiltinSession interface {
	PromptStreaming(ctx context.Context, system, user string, onChunk func(string) error) error
	Destroy() error
}

// remedier is implemented by hosts that know how to fix their own
// unavailability.
type remedier interface {
	Remedy() string
}

const defaultBuiltinRemedy = "Enable the on-device model in the host settings and make sure it has finished downloading"

func checkAvailability(ctx context.Context, host BuiltinHost, modelID string) error {
	remedy := defaultBuiltinRemedy
	if r, ok := host.(remedier); ok {
		remedy = r.Remedy()
	}
	a, err := host.Availability(ctx, modelID)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &CapabilityError{Msg: "built-in model is not available: " + err.Error(), Remedy: remedy}
	}
	switch a {
	case AvailabilityReadily:
		return nil
	case AvailabilityAfterDownload:
		return &CapabilityError{Msg: "built-in model has not been downloaded yet", Remedy: remedy}
	case AvailabilityNo:
		return &CapabilityError{Msg: "built-in model is not supported on this device", Remedy: remedy}
	default:
		return &CapabilityError{Msg: "built-in model reported unknown availability " + string(a), Remedy: remedy}
	}
}

type builtinEngine struct {
	host    BuiltinHost
	session BuiltinSession
}

func (e *builtinEngine) Stream(ctx context.Context, req Request, onFragment func(string) error) error {
	if e.session == nil {
		return errors.New("built-in session closed")
	}
	return e.session.PromptStreaming(ctx, req.System, req.User, onFragment)
}

func (e *builtinEngine) Close() error {
	if e.session == nil {
		return nil
	}
	err := e.session.Destroy()
	e.session = nil
	return err
}
