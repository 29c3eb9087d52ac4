package parrot

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// fallbackReply is returned when the agent itself fails.
const fallbackReply = "Sorry, I encountered an error. Please try again."

// RouterOption configures a MessageRouter.
type RouterOption func(*MessageRouter)

// WithRouterLogger sets a structured logger for the router.
func WithRouterLogger(l *slog.Logger) RouterOption {
	return func(r *MessageRouter) { r.logger = l }
}

// WithAllowedUsers sets the per-channel user allowlist. An absent or empty
// list for a channel allows every user on it.
func WithAllowedUsers(allowed map[string][]string) RouterOption {
	return func(r *MessageRouter) { r.allowed = allowed }
}

// WithTrigger sets the group-chat trigger prefix for a channel.
func WithTrigger(channel, trigger string) RouterOption {
	return func(r *MessageRouter) { r.triggers[channel] = trigger }
}

// WithTurnHook registers a callback fired once per message routed to the
// agent, after all gates have passed. Used for metrics.
func WithTurnHook(fn func(ctx context.Context, channel string)) RouterOption {
	return func(r *MessageRouter) { r.turnHook = fn }
}

// MessageRouter turns an IncomingMessage into an agent invocation with a
// deterministic, resumable thread identity, enforcing access and logging
// every turn.
//
// The router is safe for concurrent use across distinct (channel, chat)
// pairs; channels serialize per chat.
type MessageRouter struct {
	agent    Agent
	turns    *TurnLog
	counters *JSONStore
	allowed  map[string][]string
	triggers map[string]string
	turnHook func(ctx context.Context, channel string)
	logger   *slog.Logger

	mu     sync.Mutex
	counts map[string]int // "<channel>_<chat_id>" -> reset counter
}

// NewRouter creates a router persisting its state under dataDir: session
// counters in session_counters.json, turn logs under sessions/.
func NewRouter(agent Agent, dataDir string, opts ...RouterOption) (*MessageRouter, error) {
	counters, err := OpenJSONStore(filepath.Join(dataDir, "session_counters.json"))
	if err != nil {
		return nil, err
	}

	r := &MessageRouter{
		agent:    agent,
		turns:    nil,
		counters: counters,
		triggers: make(map[string]string),
		logger:   slog.New(slog.DiscardHandler),
		counts:   make(map[string]int),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.turns = NewTurnLog(filepath.Join(dataDir, "sessions"), r.logger)

	for _, key := range counters.Keys() {
		var n int
		if ok, err := counters.Get(key, &n); err == nil && ok && n >= 0 {
			r.counts[key] = n
		}
	}

	if len(r.allowed) == 0 {
		r.logger.Warn("no allowed_users configured for any channel, open to all users")
	}

	// Keep counters ahead of any checkpoint thread already on disk, so a
	// restore from backup cannot resurrect a thread id.
	if err := r.syncWithCheckpoints(filepath.Join(dataDir, "checkpoints.db")); err != nil {
		r.logger.Warn("session counter sync with checkpoints failed", "error", err)
	}

	return r, nil
}

// syncWithCheckpoints bumps each counter past any "_sN" suffix observed in
// the external conversation-checkpoint namespace.
func (r *MessageRouter) syncWithCheckpoints(dbPath string) error {
	ids, err := checkpointThreadIDs(dbPath)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, threadID := range ids {
		base, n, ok := splitThreadSuffix(threadID)
		if !ok {
			continue
		}
		if n >= r.counts[base] {
			r.counts[base] = n + 1
			if err := r.counters.Set(base, n+1); err != nil {
				return err
			}
			r.logger.Info("session counter synced", "key", base, "counter", n+1)
		}
	}
	return nil
}

// splitThreadSuffix splits "telegram_42_s3" into ("telegram_42", 3, true).
func splitThreadSuffix(threadID string) (string, int, bool) {
	i := strings.LastIndex(threadID, "_s")
	if i < 0 {
		return "", 0, false
	}
	n, err := strconv.Atoi(threadID[i+2:])
	if err != nil || n < 0 {
		return "", 0, false
	}
	return threadID[:i], n, true
}

// ThreadID maps a chat to its current conversation thread identity:
// "<channel>_<chat_id>" while the reset counter is zero, with an "_sN"
// suffix after N resets.
func (r *MessageRouter) ThreadID(channel, chatID string) string {
	key := channel + "_" + chatID
	r.mu.Lock()
	defer r.mu.Unlock()
	if n := r.counts[key]; n > 0 {
		return fmt.Sprintf("%s_s%d", key, n)
	}
	return key
}

// ResetSession increments and persists the reset counter for a chat.
func (r *MessageRouter) ResetSession(channel, chatID string) {
	key := channel + "_" + chatID
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts[key]++
	if err := r.counters.Set(key, r.counts[key]); err != nil {
		r.logger.Warn("persist session counter failed", "key", key, "error", err)
	}
	r.logger.Info("session reset", "key", key, "counter", r.counts[key])
}

// UserAllowed reports whether the user may talk to the bot on the channel.
// An empty allowlist for the channel admits everyone.
func (r *MessageRouter) UserAllowed(channel, userID string) bool {
	allowed := r.allowed[channel]
	if len(allowed) == 0 {
		return true
	}
	if userID == "" {
		return false
	}
	for _, id := range allowed {
		if id == userID {
			return true
		}
	}
	return false
}

// shouldRespond applies the trigger gate and returns the cleaned text.
// Private chats always pass with the text unchanged; group chats pass only
// when the text starts with the channel's trigger (case-insensitive over
// the trigger's length), which is then stripped.
func (r *MessageRouter) shouldRespond(msg IncomingMessage) (bool, string) {
	text := strings.TrimSpace(msg.Text)
	if msg.IsPrivate {
		return true, text
	}
	trigger := r.triggers[msg.Channel]
	if trigger == "" || len(text) < len(trigger) {
		return false, text
	}
	if !strings.EqualFold(text[:len(trigger)], trigger) {
		return false, text
	}
	return true, strings.TrimSpace(text[len(trigger):])
}

// HandleMessage processes one incoming message. A nil response means the
// message produced no reply (unauthorized, trigger miss, empty, or a
// session reset).
func (r *MessageRouter) HandleMessage(ctx context.Context, msg IncomingMessage) (*AgentResponse, error) {
	if !r.UserAllowed(msg.Channel, msg.UserID) {
		r.logger.Warn("blocked message from unauthorized user",
			"channel", msg.Channel, "user_id", msg.UserID)
		return nil, nil
	}

	if msg.ResetSession {
		r.ResetSession(msg.Channel, msg.ChatID)
		return nil, nil
	}

	respond, cleanText := r.shouldRespond(msg)
	if !respond {
		return nil, nil
	}
	if cleanText == "" && msg.ImageBase64 == "" {
		return nil, nil
	}

	threadID := r.ThreadID(msg.Channel, msg.ChatID)

	// Let tools invoked during this call observe the originating chat.
	ctx = WithChatRef(ctx, ChatRef{Channel: msg.Channel, ChatID: msg.ChatID})

	now := NowUTC()
	framed := fmt.Sprintf("[%s] [%s]: %s", now.Format("2006-01-02 15:04 UTC"), msg.UserName, cleanText)

	userID := msg.UserID
	r.turns.Append(threadID, TurnRecord{
		Role:    "user",
		Content: cleanText,
		TS:      now,
		Channel: msg.Channel,
		UserID:  &userID,
	})

	r.logger.Info("processing message",
		"channel", msg.Channel, "chat_id", msg.ChatID,
		"user", msg.UserName, "thread_id", threadID)

	if r.turnHook != nil {
		r.turnHook(ctx, msg.Channel)
	}

	content := []ContentBlock{TextBlock(framed)}
	if msg.ImageBase64 != "" {
		content = append(content, ImageBlock(msg.ImageBase64, msg.ImageMIME))
	}

	var resp *AgentResponse
	result, err := r.agent.Invoke(ctx, []AgentMessage{{Role: "user", Content: content}}, threadID)
	if err != nil {
		r.logger.Error("agent error", "thread_id", threadID, "error", err)
		resp = &AgentResponse{Text: fallbackReply}
	} else {
		resp = ExtractResponse(result)
	}

	r.turns.Append(threadID, TurnRecord{
		Role:    "assistant",
		Content: resp.Text,
		TS:      time.Now().UTC(),
		Channel: msg.Channel,
	})

	return resp, nil
}
