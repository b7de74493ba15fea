package engine

import "errors"

// ErrReset is returned to callers waiting on a load that Reset discarded.
var ErrReset = errors.New("engine registry was reset")

// ErrClosed is returned by Acquire after Close.
var ErrClosed = errors.New("engine registry closed")
