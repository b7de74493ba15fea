package backend

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"proofduck/pkg/types"
)

// LlamaServerConfig configures the llama-server subprocess runtime.
type LlamaServerConfig struct {
	// Bin is the llama-server executable. Empty means auto-discover.
	Bin  string
	Host string
	// PortStart/PortEnd restrict the listening port; zero picks any free port.
	PortStart int
	PortEnd   int
	CtxSize   int
	Threads   int
	// GPULayers is offloaded for local-gpu. Zero means all layers (999).
	// local-cpu always runs with zero GPU layers.
	GPULayers    int
	ExtraArgs    []string
	ReadyTimeout time.Duration
	PollInterval time.Duration
	Logger       zerolog.Logger
}

// LlamaServer spawns one llama-server process per loaded model and talks to
// it over its OpenAI-compatible HTTP API.
type LlamaServer struct {
	cfg LlamaServerConfig
	cli *http.Client
}

// NewLlamaServer returns the subprocess runtime.
func NewLlamaServer(cfg LlamaServerConfig) *LlamaServer {
	if strings.TrimSpace(cfg.Host) == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.GPULayers <= 0 {
		cfg.GPULayers = 999
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 2 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 250 * time.Millisecond
	}
	// Timeout=0: every call carries its own context deadline.
	return &LlamaServer{cfg: cfg, cli: &http.Client{Timeout: 0}}
}

// Args returns the command line for a model and kind.
func (s *LlamaServer) Args(kind types.BackendKind, modelPath string, port int) []string {
	ngl := 0
	if kind == types.BackendLocalGPU {
		ngl = s.cfg.GPULayers
	}
	args := []string{
		"-m", modelPath,
		"--host", s.cfg.Host,
		"--port", fmt.Sprint(port),
		"--n-gpu-layers", fmt.Sprint(ngl),
	}
	if s.cfg.CtxSize > 0 {
		args = append(args, "-c", fmt.Sprint(s.cfg.CtxSize))
	}
	if s.cfg.Threads > 0 {
		args = append(args, "-t", fmt.Sprint(s.cfg.Threads))
	}
	return append(args, s.cfg.ExtraArgs...)
}

// Start launches llama-server for modelPath and blocks until it answers
// /health, reporting progress while the model loads. Cancelling ctx kills
// the process.
func (s *LlamaServer) Start(ctx context.Context, kind types.BackendKind, modelPath string, progress ProgressFunc) (Engine, error) {
	if strings.TrimSpace(modelPath) == "" {
		return nil, errors.New("model path is empty")
	}
	bin := strings.TrimSpace(s.cfg.Bin)
	if bin == "" {
		bin = discoverLlamaBin()
	}
	if bin == "" {
		return nil, &CapabilityError{Msg: "llama-server not found", Remedy: "install llama.cpp or set llama.bin in the config"}
	}
	if fi, err := os.Stat(bin); err != nil || fi.IsDir() {
		return nil, &CapabilityError{Msg: "llama-server not found or not a file: " + bin, Remedy: "check llama.bin in the config"}
	}
	var port int
	var err error
	if s.cfg.PortStart > 0 && s.cfg.PortEnd >= s.cfg.PortStart {
		port, err = pickPortInRange(s.cfg.Host, s.cfg.PortStart, s.cfg.PortEnd)
	} else {
		port, err = pickFreePort(s.cfg.Host)
	}
	if err != nil {
		return nil, err
	}
	baseURL := fmt.Sprintf("http://%s", net.JoinHostPort(s.cfg.Host, fmt.Sprint(port)))

	cmd := exec.Command(bin, s.Args(kind, modelPath, port)...)
	cmd.Dir = filepath.Dir(modelPath)
	stderr := &tailBuffer{max: 4096}
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start llama-server: %w", err)
	}
	log := s.cfg.Logger.With().Str("model", modelPath).Int("pid", cmd.Process.Pid).Logger()
	log.Info().Str("url", baseURL).Str("kind", string(kind)).Msg("llama_server event=spawn_start")

	e := &llamaServerEngine{cmd: cmd, baseURL: baseURL, cli: s.cli, log: log, exited: make(chan struct{})}
	go func() {
		e.waitErr = cmd.Wait()
		close(e.exited)
	}()

	progress.report(0.05, "Starting llama-server")
	if err := s.waitReady(ctx, e, stderr, progress); err != nil {
		_ = e.Close()
		return nil, err
	}
	progress.report(1, "Model loaded")
	log.Info().Msg("llama_server event=spawn_ready")
	return e, nil
}

func (s *LlamaServer) waitReady(ctx context.Context, e *llamaServerEngine, stderr *tailBuffer, progress ProgressFunc) error {
	deadline := time.NewTimer(s.cfg.ReadyTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(s.cfg.PollInterval)
	defer tick.Stop()
	started := time.Now()
	frac := 0.05
	for {
		if s.healthy(ctx, e.baseURL) {
			return nil
		}
		select {
		case <-ctx.Done():
			e.log.Info().Msg("llama_server event=spawn_cancel")
			return ctx.Err()
		case <-deadline.C:
			e.log.Warn().Msg("llama_server event=spawn_timeout")
			return fmt.Errorf("llama-server not ready in %s: %s", s.cfg.ReadyTimeout, e.baseURL)
		case <-e.exited:
			e.log.Warn().AnErr("exit", e.waitErr).Msg("llama_server event=spawn_exit")
			return fmt.Errorf("llama-server exited before ready: %v; stderr tail: %s", e.waitErr, stderr.String())
		case <-tick.C:
			// Asymptotic towards 0.95; the real fraction is not exposed.
			frac += (0.95 - frac) * 0.1
			progress.report(frac, fmt.Sprintf("Loading model (%ds)", int(time.Since(started).Seconds())))
		}
	}
}

func (s *LlamaServer) healthy(ctx context.Context, baseURL string) bool {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := s.cli.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

type llamaServerEngine struct {
	cmd     *exec.Cmd
	baseURL string
	cli     *http.Client
	log     zerolog.Logger

	exited  chan struct{}
	waitErr error

	closeOnce sync.Once
}

func (e *llamaServerEngine) Stream(ctx context.Context, req Request, onFragment func(string) error) error {
	select {
	case <-e.exited:
		return fmt.Errorf("llama-server exited: %v", e.waitErr)
	default:
	}
	return streamChat(ctx, e.cli, e.baseURL+"/v1/chat/completions", "", "", req, onFragment, e.log)
}

// Close terminates the process: SIGTERM first, then kill after two seconds.
func (e *llamaServerEngine) Close() error {
	e.closeOnce.Do(func() {
		select {
		case <-e.exited:
			return
		default:
		}
		if err := e.cmd.Process.Signal(syscall.SIGTERM); err != nil {
			_ = e.cmd.Process.Kill()
		}
		select {
		case <-e.exited:
		case <-time.After(2 * time.Second):
			_ = e.cmd.Process.Kill()
			<-e.exited
		}
		e.log.Info().Msg("llama_server event=spawn_stop")
	})
	return nil
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	b   []byte
	max int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	t.b = append(t.b, p...)
	if len(t.b) > t.max {
		t.b = t.b[len(t.b)-t.max:]
	}
	t.mu.Unlock()
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.b)
}

func pickPortInRange(host string, start, end int) (int, error) {
	for p := start; p <= end; p++ {
		l, err := net.Listen("tcp", net.JoinHostPort(host, fmt.Sprint(p)))
		if err != nil {
			continue
		}
		_ = l.Close()
		return p, nil
	}
	return 0, fmt.Errorf("no free port in range %d-%d", start, end)
}

func pickFreePort(host string) (int, error) {
	l, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// discoverLlamaBin looks for llama-server in common install locations and
// then on PATH.
func discoverLlamaBin() string {
	home, _ := os.UserHomeDir()
	candidates := []string{
		filepath.Join(home, "apps", "llama.cpp", "build", "bin", "llama-server"),
		filepath.Join(home, ".local", "bin", "llama-server"),
		"/usr/local/bin/llama-server",
		"/opt/homebrew/bin/llama-server",
	}
	for _, p := range candidates {
		if fi, err := os.Stat(p); err == nil && !fi.IsDir() {
			return p
		}
	}
	if lp, err := exec.LookPath("llama-server"); err == nil {
		return lp
	}
	return ""
}
