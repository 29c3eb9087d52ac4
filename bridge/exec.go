package bridge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/ciana/parrot/gateway"
)

// Executor runs a bridge CLI invocation. Two implementations exist: a
// local subprocess executor for when the CLI shares the host, and a
// gateway-backed one for when it lives on the other side of the container
// boundary.
type Executor interface {
	Run(ctx context.Context, cmd []string, cwd string, timeout int) gateway.Result
	CheckAvailable(ctx context.Context, cliPath string) (bool, string)
}

// LocalExecutor runs the CLI directly as a subprocess.
type LocalExecutor struct{}

// Run executes cmd locally. timeout is in seconds, 0 meaning no limit.
// The recursive-invocation environment flags are stripped, matching the
// gateway server's behavior.
func (LocalExecutor) Run(ctx context.Context, cmd []string, cwd string, timeout int) gateway.Result {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
		defer cancel()
	}

	c := exec.CommandContext(ctx, cmd[0], cmd[1:]...)
	c.Env = sanitizedEnv()
	if cwd != "" {
		if fi, err := os.Stat(cwd); err == nil && fi.IsDir() {
			c.Dir = cwd
		}
	}

	var stdout, stderr strings.Builder
	c.Stdout = &stdout
	c.Stderr = &stderr

	err := c.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return gateway.Result{Error: "Command timed out. The request may have been too complex."}
	}
	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.As(err, &exitErr):
			return gateway.Result{
				Stdout:     stdout.String(),
				Stderr:     stderr.String(),
				Returncode: exitErr.ExitCode(),
			}
		case errors.Is(err, exec.ErrNotFound), errors.Is(err, os.ErrNotExist):
			return gateway.Result{
				Stderr:     fmt.Sprintf("%s not found in PATH", cmd[0]),
				Returncode: 127,
			}
		default:
			return gateway.Result{Error: fmt.Sprintf("Error running bridge CLI: %v", err)}
		}
	}
	return gateway.Result{Stdout: stdout.String(), Stderr: stderr.String()}
}

// CheckAvailable runs a version probe against the CLI binary.
func (e LocalExecutor) CheckAvailable(ctx context.Context, cliPath string) (bool, string) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	result := e.Run(ctx, []string{cliPath, "--version"}, "", 10)
	if result.Error != "" {
		return false, result.Error
	}
	if result.Returncode != 0 {
		return false, strings.TrimSpace(result.Stderr)
	}
	return true, strings.TrimSpace(result.Stdout)
}

// GatewayExecutor runs the CLI on the host through the gateway.
type GatewayExecutor struct {
	Client *gateway.Client
	Bridge string
}

// Run forwards the invocation to the gateway under the configured bridge.
func (g GatewayExecutor) Run(ctx context.Context, cmd []string, cwd string, timeout int) gateway.Result {
	return g.Client.Execute(ctx, g.Bridge, cmd, cwd, timeout)
}

// CheckAvailable probes the gateway health endpoint.
func (g GatewayExecutor) CheckAvailable(ctx context.Context, cliPath string) (bool, string) {
	ok, h := g.Client.Health(ctx)
	if !ok {
		return false, "Cannot connect to host gateway"
	}
	return true, fmt.Sprintf("Gateway OK, bridges: %s", strings.Join(h.Bridges, ", "))
}

func sanitizedEnv() []string {
	env := os.Environ()
	out := env[:0]
	for _, kv := range env {
		name, _, _ := strings.Cut(kv, "=")
		if name == "CLAUDE_CODE" || name == "CLAUDECODE" {
			continue
		}
		out = append(out, kv)
	}
	return out
}
