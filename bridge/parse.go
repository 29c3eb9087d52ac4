package bridge

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	parrot "github.com/ciana/parrot"
)

// toolResultMaxChars caps how much of a tool result is carried into an
// event.
const toolResultMaxChars = 12000

// streamLine is one NDJSON object from the CLI's stream-json output.
// Content blocks may appear at the top level or nested under message.
type streamLine struct {
	Type    string         `json:"type"`
	Content []contentBlock `json:"content"`
	Message struct {
		Content []contentBlock `json:"content"`
	} `json:"message"`
	Result string `json:"result"`
}

// contentBlock is one block inside a stream line. Unknown types are
// skipped.
type contentBlock struct {
	Type      string          `json:"type"`
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Input     map[string]any  `json:"input"`
	Text      string          `json:"text"`
	Thinking  string          `json:"thinking"`
	ToolUseID string          `json:"tool_use_id"`
	IsError   bool            `json:"is_error"`
	Content   json.RawMessage `json:"content"`
}

// parseStream converts the CLI's NDJSON stdout into an ordered event
// response. Empty lines are ignored; malformed lines are logged and
// skipped. Objects of type "result" carry final metadata and are
// discarded, except in the single-object legacy format where the result
// text is the whole response.
func parseStream(raw string, logger *slog.Logger) Response {
	items, ok := ParseItems(raw, logger)
	if !ok {
		return Response{Events: []parrot.Event{parrot.TextEvent{Text: raw}}}
	}

	events := parrot.PairEvents(items)
	if len(events) == 0 {
		events = []parrot.Event{parrot.TextEvent{Text: "(empty response)"}}
	}
	return Response{Events: events}
}

// ParseItems converts NDJSON stream output into raw turn items. It
// reports false when no line parsed as JSON at all, in which case the
// caller should treat the output as plain text.
func ParseItems(raw string, logger *slog.Logger) ([]parrot.RawItem, bool) {
	var parsed []streamLine
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var obj streamLine
		if err := json.Unmarshal([]byte(line), &obj); err != nil {
			logger.Warn("skipping malformed stream line", "error", err)
			continue
		}
		parsed = append(parsed, obj)
	}

	if len(parsed) == 0 {
		return nil, false
	}
	if len(parsed) == 1 && parsed[0].Type == "result" {
		text := parsed[0].Result
		if text == "" {
			text = "(empty response)"
		}
		return []parrot.RawItem{{Kind: "text", Text: text}}, true
	}

	var items []parrot.RawItem
	for _, obj := range parsed {
		if obj.Type == "result" {
			continue
		}
		blocks := obj.Content
		if len(blocks) == 0 {
			blocks = obj.Message.Content
		}
		for _, b := range blocks {
			switch b.Type {
			case "tool_use":
				items = append(items, parrot.RawItem{
					Kind:         "tool_use",
					ID:           b.ID,
					Name:         b.Name,
					InputSummary: summarizeToolInput(b.Name, b.Input),
				})
			case "tool_result":
				items = append(items, parrot.RawItem{
					Kind:    "tool_result",
					ID:      b.ToolUseID,
					Text:    toolResultText(b.Content),
					IsError: b.IsError,
				})
			case "text":
				if text := strings.TrimSpace(b.Text); text != "" {
					items = append(items, parrot.RawItem{Kind: "text", Text: text})
				}
			case "thinking":
				if text := strings.TrimSpace(b.Thinking); text != "" {
					items = append(items, parrot.RawItem{Kind: "thinking", Text: text})
				}
			}
		}
	}
	return items, true
}

// summarizeToolInput produces a compact one-line description of a tool
// call's input, keyed to the well-known tools first.
func summarizeToolInput(toolName string, input map[string]any) string {
	str := func(key string) string {
		v, _ := input[key].(string)
		return v
	}
	switch toolName {
	case "Read", "Write", "Edit", "NotebookEdit":
		if fp := str("file_path"); fp != "" {
			return fp[strings.LastIndex(fp, "/")+1:]
		}
		return ""
	case "Glob", "Grep":
		return clip(str("pattern"), 60)
	case "Bash":
		return clip(str("command"), 70)
	}
	for _, key := range []string{"file_path", "command", "pattern", "query", "url"} {
		if v := str(key); v != "" {
			return clip(v, 70)
		}
	}
	for _, v := range input {
		if s, ok := v.(string); ok && s != "" {
			return clip(s, 60)
		}
	}
	return ""
}

func clip(s string, max int) string {
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}

// toolResultText normalizes a tool_result's content, which may be a bare
// string, a list of blocks, or a single object, into plain text.
func toolResultText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}

	var blocks []contentBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		var texts []string
		for _, b := range blocks {
			switch b.Type {
			case "text":
				texts = append(texts, b.Text)
			case "image":
				texts = append(texts, "[image]")
			default:
				texts = append(texts, fmt.Sprintf("%v", b))
			}
		}
		return strings.TrimSpace(strings.Join(texts, "\n"))
	}

	var obj contentBlock
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Type == "text" {
		return strings.TrimSpace(obj.Text)
	}

	return clip(strings.TrimSpace(string(raw)), toolResultMaxChars)
}
