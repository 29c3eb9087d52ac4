// Package gateway implements the host command gateway: an authenticated
// HTTP executor that runs allowlisted commands on the host for bridges
// living inside a container, plus the client used to reach it.
//
// The wire contract is small and stable: GET /health reports the configured
// bridge names, POST /execute runs one argv vector and returns stdout,
// stderr, and the exit code. Application-level failures (binary missing,
// timeout) are 200 responses with a sentinel returncode; only spawn
// failures surface as HTTP 5xx.
package gateway

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Request is the body of POST /execute.
type Request struct {
	Bridge  string   `json:"bridge"`
	Cmd     []string `json:"cmd"`
	Cwd     string   `json:"cwd,omitempty"`
	Timeout float64  `json:"timeout,omitempty"` // seconds; 0 selects the server default
}

// Result is the body of a successful POST /execute response. Returncode
// 127 means the binary was not found, -1 means the command timed out.
// Error is set only by the client, for transport-level failures, with
// Returncode left at 0.
type Result struct {
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	Returncode int    `json:"returncode"`
	Error      string `json:"error,omitempty"`
}

// Health is the body of GET /health.
type Health struct {
	Status  string   `json:"status"`
	Bridges []string `json:"bridges"`
}

// Bridge is one bridge's execution policy, immutable after resolution.
// AllowedCwd prefixes are resolved to real paths at load time so the
// per-request check compares real path against real path.
type Bridge struct {
	AllowedCommands map[string]bool
	AllowedCwd      []string
}

// NewBridge resolves a bridge definition. Command entries are basenames;
// cwd entries may use a leading "~" for the home directory. A cwd prefix
// that does not exist yet is kept in cleaned absolute form.
func NewBridge(commands []string, cwdPrefixes []string) (Bridge, error) {
	b := Bridge{AllowedCommands: make(map[string]bool, len(commands))}
	for _, c := range commands {
		b.AllowedCommands[c] = true
	}
	for _, p := range cwdPrefixes {
		resolved, err := resolvePath(p)
		if err != nil {
			return Bridge{}, fmt.Errorf("allowed_cwd %q: %w", p, err)
		}
		b.AllowedCwd = append(b.AllowedCwd, resolved)
	}
	return b, nil
}

// CwdAllowed reports whether the real path of cwd equals or descends from
// one of the allowed prefixes. An empty prefix list rejects every cwd.
func (b Bridge) CwdAllowed(cwd string) bool {
	if len(b.AllowedCwd) == 0 {
		return false
	}
	real, err := resolvePath(cwd)
	if err != nil {
		return false
	}
	for _, allowed := range b.AllowedCwd {
		if real == allowed || strings.HasPrefix(real, allowed+string(os.PathSeparator)) {
			return true
		}
	}
	return false
}

// resolvePath expands "~", absolutizes, and follows symlinks. When the
// path does not exist the symlink step is skipped and the cleaned absolute
// path is returned.
func resolvePath(p string) (string, error) {
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		p = filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return filepath.Clean(abs), nil
	}
	return real, nil
}
