package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"
)

const (
	// maxBodyBytes caps POST /execute bodies. Oversized requests get 413.
	maxBodyBytes = 1 << 20 // 1,048,576
	// maxTimeout is the hard ceiling on a request's subprocess timeout.
	maxTimeout = 600 * time.Second
	// killDelay is how long a timed-out subprocess gets after SIGTERM
	// before it is force-killed.
	killDelay = 5 * time.Second
)

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerLogger sets a structured logger for the server.
func WithServerLogger(l *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// WithDefaultTimeout sets the subprocess timeout used when a request asks
// for 0.
func WithDefaultTimeout(d time.Duration) ServerOption {
	return func(s *Server) { s.defaultTimeout = d }
}

// WithMaxOutput caps captured stdout and stderr, each, in bytes.
func WithMaxOutput(n int) ServerOption {
	return func(s *Server) { s.maxOutput = n }
}

// WithStripEnv replaces the set of environment variables removed from
// subprocess environments.
func WithStripEnv(names ...string) ServerOption {
	return func(s *Server) { s.stripEnv = names }
}

// Server validates and executes gateway requests. It holds no mutable
// state; requests run concurrently.
type Server struct {
	token          string
	bridges        map[string]Bridge
	defaultTimeout time.Duration
	maxOutput      int
	stripEnv       []string
	logger         *slog.Logger
}

// NewServer creates a gateway server. An empty token is refused outright;
// the gateway never runs unauthenticated.
func NewServer(token string, bridges map[string]Bridge, opts ...ServerOption) (*Server, error) {
	if token == "" {
		return nil, errors.New("gateway: token is not set, refusing to start unauthenticated")
	}
	s := &Server{
		token:          token,
		bridges:        bridges,
		defaultTimeout: 30 * time.Second,
		maxOutput:      512 * 1024,
		stripEnv:       []string{"CLAUDE_CODE", "CLAUDECODE"},
		logger:         slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Handler returns the HTTP handler serving /health and /execute.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.handleHealth(w, r)
	})
	mux.HandleFunc("/execute", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.handleExecute(w, r)
	})
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(s.bridges))
	for name := range s.bridges {
		names = append(names, name)
	}
	sort.Strings(names)
	writeJSON(w, http.StatusOK, Health{Status: "ok", Bridges: names})
}

// handleExecute runs the validation pipeline in order: auth, body size,
// parse, bridge, command basename, cwd, timeout clamp. First failure wins.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("request body too large (max %d bytes)", maxBodyBytes))
			return
		}
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	if req.Bridge == "" {
		writeError(w, http.StatusBadRequest, "missing 'bridge' field")
		return
	}
	bridge, ok := s.bridges[req.Bridge]
	if !ok {
		writeError(w, http.StatusForbidden, "unknown bridge: "+req.Bridge)
		return
	}

	if len(req.Cmd) == 0 {
		writeError(w, http.StatusBadRequest, "missing cmd")
		return
	}
	basename := filepath.Base(req.Cmd[0])
	if !bridge.AllowedCommands[basename] {
		writeError(w, http.StatusForbidden,
			fmt.Sprintf("command %q not allowed for bridge %q", basename, req.Bridge))
		return
	}

	if req.Cwd != "" && !bridge.CwdAllowed(req.Cwd) {
		writeError(w, http.StatusForbidden,
			fmt.Sprintf("cwd %q is not under any allowed directory for bridge %q", req.Cwd, req.Bridge))
		return
	}

	timeout := s.clampTimeout(req.Timeout)

	s.logger.Info("executing command",
		"bridge", req.Bridge, "command", basename, "timeout", timeout)

	result, err := s.run(r.Context(), req.Cmd, req.Cwd, timeout)
	if err != nil {
		s.logger.Error("spawn failed", "bridge", req.Bridge, "command", basename, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// clampTimeout maps a requested timeout in seconds onto the effective
// subprocess limit: negative and zero requests fall to the server default,
// anything above maxTimeout is clamped down to it.
func (s *Server) clampTimeout(secs float64) time.Duration {
	timeout := time.Duration(secs * float64(time.Second))
	if timeout < 0 {
		timeout = 0
	}
	if timeout > maxTimeout {
		timeout = maxTimeout
	}
	if timeout == 0 {
		timeout = s.defaultTimeout
	}
	return timeout
}

// authorized compares the Authorization header against the expected bearer
// line in constant time.
func (s *Server) authorized(r *http.Request) bool {
	got := r.Header.Get("Authorization")
	want := "Bearer " + s.token
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// run spawns the argv vector with shell interpretation disabled and waits
// up to timeout. Sentinel returncodes: 127 binary not found, -1 timed out.
func (s *Server) run(ctx context.Context, argv []string, cwd string, timeout time.Duration) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Env = s.sanitizedEnv()
	if cwd != "" {
		if fi, err := os.Stat(cwd); err == nil && fi.IsDir() {
			cmd.Dir = cwd
		}
	}

	var stdout, stderr boundedBuffer
	stdout.max = s.maxOutput
	stderr.max = s.maxOutput
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	// Terminate politely on timeout, force-kill if the process lingers.
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = killDelay

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return Result{Stderr: "Command timed out", Returncode: -1}, nil
	}
	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.As(err, &exitErr):
			return Result{
				Stdout:     stdout.String(),
				Stderr:     stderr.String(),
				Returncode: exitErr.ExitCode(),
			}, nil
		case errors.Is(err, exec.ErrNotFound), errors.Is(err, os.ErrNotExist):
			return Result{
				Stderr:     fmt.Sprintf("Command %q not found on host. Install it first.", argv[0]),
				Returncode: 127,
			}, nil
		default:
			return Result{}, fmt.Errorf("spawn failed: %w", err)
		}
	}
	return Result{Stdout: stdout.String(), Stderr: stderr.String()}, nil
}

// sanitizedEnv returns the process environment minus the variables that
// would make an invoked tool believe it is itself embedded.
func (s *Server) sanitizedEnv() []string {
	env := os.Environ()
	out := env[:0]
	for _, kv := range env {
		name, _, _ := strings.Cut(kv, "=")
		if !s.stripped(name) {
			out = append(out, kv)
		}
	}
	return out
}

func (s *Server) stripped(name string) bool {
	for _, n := range s.stripEnv {
		if n == name {
			return true
		}
	}
	return false
}

// boundedBuffer captures up to max bytes and silently drops the rest.
type boundedBuffer struct {
	buf strings.Builder
	max int
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if remaining := b.max - b.buf.Len(); remaining > 0 {
		if len(p) > remaining {
			p = p[:remaining]
		}
		b.buf.Write(p)
	}
	return n, nil
}

func (b *boundedBuffer) String() string { return b.buf.String() }

func writeJSON(w http.ResponseWriter, code int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "marshal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(data)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
