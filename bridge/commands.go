package bridge

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// HandleCommand interprets the bridge-mode chat commands. It returns the
// reply text and whether the message was a command this handler owns.
//
//	/cc           list projects
//	/cc N         enter project N with a new conversation
//	/cc N M       enter project N resuming conversation M
//	/exit         leave bridge mode
//	/model NAME   set the model for this user's invocations
//	/effort LEVEL set the reasoning effort
func (m *Manager) HandleCommand(ctx context.Context, userID, text string) (string, bool) {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 {
		return "", false
	}

	switch fields[0] {
	case "/cc":
		return m.commandEnter(userID, fields[1:]), true
	case "/exit":
		if !m.InBridgeMode(userID) {
			return "Not in bridge mode.", true
		}
		m.Exit(userID)
		return "Left bridge mode.", true
	case "/model":
		if len(fields) < 2 {
			return "Usage: /model NAME", true
		}
		if !m.InBridgeMode(userID) {
			return "Enter bridge mode first with /cc.", true
		}
		m.SetModel(userID, fields[1])
		return "Model set to " + fields[1] + ".", true
	case "/effort":
		if len(fields) < 2 {
			return "Usage: /effort LEVEL", true
		}
		if !m.InBridgeMode(userID) {
			return "Enter bridge mode first with /cc.", true
		}
		m.SetEffort(userID, fields[1])
		return "Effort set to " + fields[1] + ".", true
	}
	return "", false
}

func (m *Manager) commandEnter(userID string, args []string) string {
	projects := m.ListProjects()
	if len(projects) == 0 {
		return "No projects found."
	}

	if len(args) == 0 {
		var b strings.Builder
		b.WriteString("Projects:\n")
		for i, p := range projects {
			fmt.Fprintf(&b, "%d. %s (%d conversations, %s)\n",
				i+1, p.DisplayName, p.ConversationCount,
				p.LastActivity.Format("2006-01-02 15:04"))
		}
		b.WriteString("\nUse /cc N to start, /cc N M to resume conversation M.")
		return b.String()
	}

	idx, err := strconv.Atoi(args[0])
	if err != nil || idx < 1 || idx > len(projects) {
		return fmt.Sprintf("Invalid project number %q.", args[0])
	}
	project := projects[idx-1]

	sessionID := ""
	if len(args) > 1 {
		convs := m.ListConversations(project.EncodedName)
		cidx, err := strconv.Atoi(args[1])
		if err != nil || cidx < 1 || cidx > len(convs) {
			if len(convs) == 0 {
				return "No conversations in " + project.DisplayName + "."
			}
			var b strings.Builder
			fmt.Fprintf(&b, "Conversations in %s:\n", project.DisplayName)
			for i, c := range convs {
				fmt.Fprintf(&b, "%d. %s (%d messages, %s)\n",
					i+1, c.FirstMessage, c.MessageCount,
					c.Timestamp.Format("2006-01-02 15:04"))
			}
			return b.String()
		}
		sessionID = convs[cidx-1].SessionID
	}

	m.Enter(userID, project.EncodedName, project.RealPath, sessionID)
	if sessionID != "" {
		return fmt.Sprintf("Resumed conversation in %s. Send a message, or /exit to leave.", project.DisplayName)
	}
	return fmt.Sprintf("Entered %s with a new conversation. Send a message, or /exit to leave.", project.DisplayName)
}
