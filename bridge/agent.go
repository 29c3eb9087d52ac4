package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	parrot "github.com/ciana/parrot"
)

// CLIAgent adapts the streaming CLI to the Agent contract for deployments
// that use the code assistant as the conversational backend. Each
// invocation is one non-interactive CLI run; the thread id only scopes
// logging.
//
// A model-tier hint on the context selects a model through the tier map.
type CLIAgent struct {
	cliPath   string
	workdir   string
	timeout   int
	tierModel map[string]string
	exec      Executor
	logger    *slog.Logger
}

// AgentOption configures a CLIAgent.
type AgentOption func(*CLIAgent)

// WithAgentLogger sets a structured logger for the agent.
func WithAgentLogger(l *slog.Logger) AgentOption {
	return func(a *CLIAgent) { a.logger = l }
}

// WithAgentWorkdir sets the working directory for CLI runs.
func WithAgentWorkdir(dir string) AgentOption {
	return func(a *CLIAgent) { a.workdir = expandHome(dir) }
}

// WithAgentTimeout sets the per-run timeout in seconds. Zero means no
// limit.
func WithAgentTimeout(secs int) AgentOption {
	return func(a *CLIAgent) { a.timeout = secs }
}

// WithTierModels maps model-tier hints to concrete model names.
func WithTierModels(tiers map[string]string) AgentOption {
	return func(a *CLIAgent) { a.tierModel = tiers }
}

// NewCLIAgent creates a CLI-backed agent.
func NewCLIAgent(cliPath string, exec Executor, opts ...AgentOption) *CLIAgent {
	a := &CLIAgent{
		cliPath: cliPath,
		exec:    exec,
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Invoke runs one CLI invocation over the flattened message text.
func (a *CLIAgent) Invoke(ctx context.Context, msgs []parrot.AgentMessage, threadID string) (parrot.AgentResult, error) {
	text := flattenMessages(msgs)
	if text == "" {
		return parrot.AgentResult{}, fmt.Errorf("agent: empty invocation")
	}

	cmd := []string{a.cliPath, "-p", "--output-format", "stream-json", "--verbose"}
	if tier := parrot.ModelTierFrom(ctx); tier != "" {
		if model, ok := a.tierModel[tier]; ok {
			cmd = append(cmd, "--model", model)
		}
	}
	cmd = append(cmd, text)

	result := a.exec.Run(ctx, cmd, a.workdir, a.timeout)
	if result.Error != "" {
		return parrot.AgentResult{}, fmt.Errorf("agent: %s", result.Error)
	}
	if result.Returncode != 0 {
		stderr := strings.TrimSpace(result.Stderr)
		if stderr == "" {
			stderr = fmt.Sprintf("exit code %d", result.Returncode)
		}
		return parrot.AgentResult{}, fmt.Errorf("agent: %s", stderr)
	}

	stdout := strings.TrimSpace(result.Stdout)
	if stdout == "" {
		return parrot.AgentResult{}, nil
	}
	items, ok := ParseItems(stdout, a.logger)
	if !ok {
		items = []parrot.RawItem{{Kind: "text", Text: stdout}}
	}
	a.logger.Debug("agent invocation complete", "thread_id", threadID, "items", len(items))
	return parrot.AgentResult{Items: items}, nil
}

// flattenMessages joins the text blocks of an invocation. Image blocks
// are noted inline; the CLI cannot consume them directly.
func flattenMessages(msgs []parrot.AgentMessage) string {
	var parts []string
	for _, m := range msgs {
		for _, b := range m.Content {
			switch b.Type {
			case "text":
				if b.Text != "" {
					parts = append(parts, b.Text)
				}
			case "image":
				parts = append(parts, "[the user attached an image]")
			}
		}
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}
