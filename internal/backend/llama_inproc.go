//go:build llama

package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	llama "github.com/go-skynet/go-llama.cpp"

	"proofduck/pkg/types"
)

// LlamaBuilt reports whether this binary links llama.cpp in-process.
const LlamaBuilt = true

// InProcessConfig configures the cgo llama.cpp runtime.
type InProcessConfig struct {
	CtxSize   int
	Threads   int
	GPULayers int
	MaxTokens int
}

// InProcess runs llama.cpp inside this process through go-llama.cpp.
type InProcess struct {
	cfg InProcessConfig
}

func NewInProcess(cfg InProcessConfig) *InProcess {
	if cfg.GPULayers <= 0 {
		cfg.GPULayers = 999
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	return &InProcess{cfg: cfg}
}

func (r *InProcess) Start(ctx context.Context, kind types.BackendKind, modelPath string, progress ProgressFunc) (Engine, error) {
	if strings.TrimSpace(modelPath) == "" {
		return nil, errors.New("model path is empty")
	}
	ngl := 0
	if kind == types.BackendLocalGPU {
		ngl = r.cfg.GPULayers
	}
	opts := []llama.ModelOption{llama.SetGPULayers(ngl)}
	if r.cfg.CtxSize > 0 {
		opts = append(opts, llama.SetContext(r.cfg.CtxSize))
	}
	progress.report(0.1, "Loading model weights")
	m, err := llama.New(modelPath, opts...)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", modelPath, err)
	}
	if ctx.Err() != nil {
		m.Free()
		return nil, ctx.Err()
	}
	progress.report(1, "Model loaded")
	return &inProcessEngine{model: m, threads: r.cfg.Threads, maxTokens: r.cfg.MaxTokens}, nil
}

type inProcessEngine struct {
	mu        sync.Mutex
	model     *llama.LLama
	threads   int
	maxTokens int
}

// chatML frames the request for instruction-tuned models.
func chatML(req Request) string {
	var b strings.Builder
	if req.System != "" {
		b.WriteString("<|im_start|>system\n" + req.System + "<|im_end|>\n")
	}
	b.WriteString("<|im_start|>user\n" + req.User + "<|im_end|>\n<|im_start|>assistant\n")
	return b.String()
}

func (e *inProcessEngine) Stream(ctx context.Context, req Request, onFragment func(string) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.model == nil {
		return errors.New("llama model not initialized")
	}
	var cbErr error
	e.model.SetTokenCallback(func(tok string) bool {
		if ctx.Err() != nil {
			return false
		}
		if err := onFragment(tok); err != nil {
			cbErr = err
			return false
		}
		return true
	})
	threads := e.threads
	if threads <= 0 {
		threads = 4
	}
	_, err := e.model.Predict(chatML(req),
		llama.SetTokens(e.maxTokens),
		llama.SetThreads(threads),
		llama.SetStopWords("<|im_end|>"),
	)
	switch {
	case cbErr != nil:
		return cbErr
	case ctx.Err() != nil:
		return ctx.Err()
	}
	return err
}

func (e *inProcessEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.model != nil {
		e.model.Free()
		e.model = nil
	}
	return nil
}
