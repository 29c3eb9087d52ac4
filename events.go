package parrot

import "strings"

// Event is one renderable element of an agent or bridge response.
// Exactly three variants exist: TextEvent, ThinkingEvent, ToolCallEvent.
// Consumers render events in order.
type Event interface{ isEvent() }

// TextEvent is a plain assistant text block.
type TextEvent struct {
	Text string
}

// ThinkingEvent is an extended-thinking block.
type ThinkingEvent struct {
	Text string
}

// ToolCallEvent is a single tool invocation paired with its result.
type ToolCallEvent struct {
	ID           string
	Name         string
	InputSummary string
	ResultText   string
	IsError      bool
}

func (TextEvent) isEvent()     {}
func (ThinkingEvent) isEvent() {}
func (ToolCallEvent) isEvent() {}

// RawItem is one unpaired item of a turn, as produced by an agent result
// or by parsing a bridged CLI's NDJSON stream. PairEvents folds a RawItem
// sequence into ordered Events.
type RawItem struct {
	Kind         string // "text", "thinking", "tool_use", "tool_result"
	ID           string // tool_use id, or the tool_result's tool_use_id
	Name         string
	InputSummary string
	Text         string
	IsError      bool
}

// AgentResponse is the structured response handed back to the channel:
// ordered events plus the final text (content of the last text event).
type AgentResponse struct {
	Text   string
	Events []Event
}

// PairEvents converts raw turn items into ordered events. Each tool_use is
// paired with its tool_result by correlation id regardless of which arrives
// first; encounter order of the tool_use decides event order. A tool_result
// whose id matches no tool_use anywhere in the sequence only surfaces when
// it carries an error (rendered under the name "unknown").
func PairEvents(items []RawItem) []Event {
	resultsByID := make(map[string]RawItem)
	usesByID := make(map[string]bool)
	for _, it := range items {
		switch it.Kind {
		case "tool_result":
			resultsByID[it.ID] = it
		case "tool_use":
			usesByID[it.ID] = true
		}
	}

	var events []Event
	paired := make(map[string]bool)

	for _, it := range items {
		switch it.Kind {
		case "text":
			events = append(events, TextEvent{Text: it.Text})
		case "thinking":
			events = append(events, ThinkingEvent{Text: it.Text})
		case "tool_use":
			ev := ToolCallEvent{
				ID:           it.ID,
				Name:         it.Name,
				InputSummary: it.InputSummary,
			}
			if res, ok := resultsByID[it.ID]; ok {
				paired[it.ID] = true
				ev.ResultText = res.Text
				ev.IsError = res.IsError
			}
			events = append(events, ev)
		case "tool_result":
			if usesByID[it.ID] || paired[it.ID] {
				continue
			}
			paired[it.ID] = true
			if it.IsError {
				events = append(events, ToolCallEvent{
					ID:         it.ID,
					Name:       "unknown",
					ResultText: it.Text,
					IsError:    true,
				})
			}
		}
	}
	return events
}

// FinalText returns the content of the last text event, or "" if none.
func FinalText(events []Event) string {
	for i := len(events) - 1; i >= 0; i-- {
		if te, ok := events[i].(TextEvent); ok {
			return te.Text
		}
	}
	return ""
}

// ExtractResponse pairs an agent result's items and recovers the final
// text. An empty result yields an AgentResponse with empty text.
func ExtractResponse(result AgentResult) *AgentResponse {
	events := PairEvents(result.Items)
	return &AgentResponse{
		Text:   strings.TrimSpace(FinalText(events)),
		Events: events,
	}
}
