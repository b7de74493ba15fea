package backend

import "errors"

// ConfigError reports settings that can never succeed as given (missing API
// key, unknown kind). Callers should not retry.
type ConfigError struct{ Msg string }

func (e *ConfigError) Error() string { return e.Msg }

// IsConfig reports whether err is a ConfigError.
func IsConfig(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// TransportError reports a failed HTTP exchange with a backend.
type TransportError struct {
	Status int
	Msg    string
}

func (e *TransportError) Error() string { return e.Msg }

// IsTransport reports whether err is a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// CapabilityError reports that a backend is not usable in this environment.
// Remedy tells the user how to fix it.
type CapabilityError struct {
	Msg    string
	Remedy string
}

func (e *CapabilityError) Error() string {
	if e.Remedy == "" {
		return e.Msg
	}
	return e.Msg + ". " + e.Remedy
}

// IsCapability reports whether err is a CapabilityError.
func IsCapability(err error) bool {
	var ce *CapabilityError
	return errors.As(err, &ce)
}

type modelNotFoundError struct{ id string }

func (e modelNotFoundError) Error() string { return "model not found: " + e.id }

// ErrModelNotFound returns an error for a model id absent from the catalog
// and the content cache.
func ErrModelNotFound(id string) error { return modelNotFoundError{id: id} }

// IsModelNotFound reports whether the error indicates a missing model id.
func IsModelNotFound(err error) bool {
	var me modelNotFoundError
	return errors.As(err, &me)
}
