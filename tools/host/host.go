// Package host exposes the host_execute tool: running allowlisted
// commands on the host machine through the gateway.
package host

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	parrot "github.com/ciana/parrot"
	"github.com/ciana/parrot/gateway"
)

const maxOutputLength = 15000

// Tool runs host commands via the gateway client. The bridge map mirrors
// the server's configuration so obviously bad requests fail before a round
// trip.
type Tool struct {
	client         *gateway.Client
	bridges        map[string][]string // bridge name -> allowed commands
	defaultTimeout int
	logger         *slog.Logger
}

// New creates the host tool. A nil client means no gateway is configured;
// every call then returns a configuration error.
func New(client *gateway.Client, bridges map[string][]string, defaultTimeout int, logger *slog.Logger) *Tool {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Tool{
		client:         client,
		bridges:        bridges,
		defaultTimeout: defaultTimeout,
		logger:         logger,
	}
}

func (t *Tool) Definitions() []parrot.ToolDefinition {
	return []parrot.ToolDefinition{
		{
			Name:        "host_execute",
			Description: "Execute a command on the host via the secure gateway. Only allowlisted commands per bridge are permitted.",
			Parameters: json.RawMessage(`{"type":"object","properties":{
				"bridge":{"type":"string","description":"Bridge name the command belongs to"},
				"command":{"type":"string","description":"Command string, e.g. \"memo list\""},
				"timeout":{"type":"integer","description":"Seconds. 0 = use default."}
			},"required":["bridge","command"]}`),
		},
	}
}

func (t *Tool) Execute(ctx context.Context, name string, args json.RawMessage) (parrot.ToolResult, error) {
	if name != "host_execute" {
		return parrot.ToolResult{Error: "unknown host tool: " + name}, nil
	}

	var p struct {
		Bridge  string `json:"bridge"`
		Command string `json:"command"`
		Timeout int    `json:"timeout"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return parrot.ToolResult{Error: "invalid args: " + err.Error()}, nil
	}
	return parrot.ToolResult{Content: t.run(ctx, p.Bridge, p.Command, p.Timeout)}, nil
}

func (t *Tool) run(ctx context.Context, bridge, command string, timeout int) string {
	if t.client == nil {
		return "Error: host gateway not configured."
	}

	if _, ok := t.bridges[bridge]; !ok {
		names := make([]string, 0, len(t.bridges))
		for n := range t.bridges {
			names = append(names, n)
		}
		sort.Strings(names)
		available := strings.Join(names, ", ")
		if available == "" {
			available = "(none)"
		}
		return fmt.Sprintf("Error: unknown bridge %q. Available: %s", bridge, available)
	}

	argv, err := splitCommand(command)
	if err != nil {
		return "Error: invalid command syntax: " + err.Error()
	}
	if len(argv) == 0 {
		return "Error: empty command."
	}

	if timeout <= 0 {
		timeout = t.defaultTimeout
	}

	result := t.client.Execute(ctx, bridge, argv, "", timeout)
	if result.Error != "" {
		return "Error: " + result.Error
	}
	return shapeOutput(result)
}

// shapeOutput renders a gateway result for the agent: stderr-first failure
// framing for non-zero exits, truncation at the output cap.
func shapeOutput(result gateway.Result) string {
	output := strings.TrimSpace(result.Stdout)
	if result.Returncode != 0 {
		stderr := strings.TrimSpace(result.Stderr)
		switch {
		case stderr != "":
			output = fmt.Sprintf("Command failed (exit %d):\n%s", result.Returncode, stderr)
		case output != "":
			output = fmt.Sprintf("Command failed (exit %d):\n%s", result.Returncode, output)
		default:
			output = fmt.Sprintf("Command failed with exit code %d.", result.Returncode)
		}
	}
	if output == "" {
		return "(no output)"
	}
	if len(output) > maxOutputLength {
		output = output[:maxOutputLength] + "\n\n... (truncated)"
	}
	return output
}

// splitCommand splits a command string into an argv vector with POSIX-like
// quoting: single quotes are literal, double quotes allow backslash
// escapes, a bare backslash escapes the next character. No expansion of
// any kind happens; the vector goes to the gateway as-is.
func splitCommand(command string) ([]string, error) {
	var argv []string
	var cur strings.Builder
	inWord := false

	const (
		stateNone = iota
		stateSingle
		stateDouble
	)
	state := stateNone
	escaped := false

	for _, r := range command {
		if escaped {
			cur.WriteRune(r)
			escaped = false
			continue
		}
		switch state {
		case stateSingle:
			if r == '\'' {
				state = stateNone
			} else {
				cur.WriteRune(r)
			}
		case stateDouble:
			switch r {
			case '"':
				state = stateNone
			case '\\':
				escaped = true
			default:
				cur.WriteRune(r)
			}
		default:
			switch r {
			case '\'':
				state = stateSingle
				inWord = true
			case '"':
				state = stateDouble
				inWord = true
			case '\\':
				escaped = true
				inWord = true
			case ' ', '\t', '\n':
				if inWord {
					argv = append(argv, cur.String())
					cur.Reset()
					inWord = false
				}
			default:
				cur.WriteRune(r)
				inWord = true
			}
		}
	}

	if escaped {
		return nil, fmt.Errorf("trailing backslash")
	}
	if state != stateNone {
		return nil, fmt.Errorf("unterminated quote")
	}
	if inWord {
		argv = append(argv, cur.String())
	}
	return argv, nil
}
