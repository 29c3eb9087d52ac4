package parrot

import (
	"context"
	"time"
)

// --- Incoming messages (channel → router) ---

// IncomingMessage is a normalized message from any channel adapter.
// Channel adapters create it; nothing mutates it afterwards.
type IncomingMessage struct {
	Channel      string
	ChatID       string
	UserID       string
	UserName     string
	Text         string
	IsPrivate    bool
	MessageID    string
	ImageBase64  string
	ImageMIME    string
	ResetSession bool
}

// --- Turn log records ---

// TurnRecord is one line of a per-thread JSONL conversation log.
// Records are append-only and never rewritten.
type TurnRecord struct {
	Role    string    `json:"role"` // "user" or "assistant"
	Content string    `json:"content"`
	TS      time.Time `json:"ts"`
	Channel string    `json:"channel"`
	UserID  *string   `json:"user_id"` // nil for assistant turns
}

// --- Scheduled tasks ---

// TaskType selects the due-detection rule for a ScheduledTask.
type TaskType string

const (
	TaskCron     TaskType = "cron"     // value is a cron expression
	TaskInterval TaskType = "interval" // value is positive seconds
	TaskOnce     TaskType = "once"     // value is an ISO timestamp
)

// ScheduledTask is one record in the task file. Created by the schedule
// tool; mutated only by the Scheduler and by explicit cancellation.
// Cancellation flips Active rather than deleting, to preserve the audit
// trail.
type ScheduledTask struct {
	ID        string     `json:"id"`
	Prompt    string     `json:"prompt"`
	Type      TaskType   `json:"type"`
	Value     string     `json:"value"`
	Channel   string     `json:"channel"`
	ChatID    string     `json:"chat_id"`
	CreatedAt time.Time  `json:"created_at"`
	LastRun   *time.Time `json:"last_run"`
	Active    bool       `json:"active"`
	ModelTier string     `json:"model_tier,omitempty"`
}

// --- Agent contract (external collaborator) ---

// AgentMessage is one message in an agent invocation.
type AgentMessage struct {
	Role    string
	Content []ContentBlock
}

// ContentBlock is one piece of (possibly multimodal) message content.
type ContentBlock struct {
	Type        string // "text" or "image"
	Text        string
	ImageBase64 string
	ImageMIME   string
}

// TextBlock builds a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: "text", Text: text}
}

// ImageBlock builds an inline image content block.
func ImageBlock(b64, mime string) ContentBlock {
	return ContentBlock{Type: "image", ImageBase64: b64, ImageMIME: mime}
}

// AgentResult is the raw structured result of an agent invocation: the
// interleaved items of the agent's turn, in the order they occurred.
// ExtractResponse turns it into a renderable AgentResponse.
type AgentResult struct {
	Items []RawItem
}

// Agent is the LLM-driven tool-using agent. Implementations receive the
// full message content and a thread id that partitions conversation
// history, and return the turn's items in order.
type Agent interface {
	Invoke(ctx context.Context, msgs []AgentMessage, threadID string) (AgentResult, error)
}

// --- Channel contract (external collaborator) ---

// SendOptions carries per-send flags.
type SendOptions struct {
	// ReplyTo references the message being replied to, when supported.
	ReplyTo string
	// Silent sends without notifying the recipient (scheduler results).
	Silent bool
}

// MessageHandler processes one incoming message. A nil response means
// "no reply" (unauthorized, trigger miss, session reset).
type MessageHandler func(ctx context.Context, msg IncomingMessage) (*AgentResponse, error)

// Channel is a chat transport adapter. Adapters serialize handler calls
// per chat, decode media (photo → base64), and chunk long outputs at
// their wire limit.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	// Stop awaits in-flight handler calls before returning.
	Stop(ctx context.Context) error
	Send(ctx context.Context, chatID, text string, opts SendOptions) error
	SendFile(ctx context.Context, chatID, path, caption string) error
	OnMessage(handler MessageHandler)
}
