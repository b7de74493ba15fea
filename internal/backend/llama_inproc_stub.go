//go:build !llama

package backend

import (
	"context"

	"proofduck/pkg/types"
)

// LlamaBuilt reports whether this binary links llama.cpp in-process.
const LlamaBuilt = false

// InProcessConfig configures the cgo llama.cpp runtime.
type InProcessConfig struct {
	CtxSize   int
	Threads   int
	GPULayers int
	MaxTokens int
}

// InProcess refuses to load models: this build has no cgo llama.cpp. Build
// with -tags llama, or use the llama-server runtime.
type InProcess struct {
	cfg InProcessConfig
}

func NewInProcess(cfg InProcessConfig) *InProcess { return &InProcess{cfg: cfg} }

func (r *InProcess) Start(ctx context.Context, kind types.BackendKind, modelPath string, progress ProgressFunc) (Engine, error) {
	return nil, &CapabilityError{Msg: "in-process llama support not built", Remedy: "rebuild with -tags llama or set llama.runtime to server"}
}
