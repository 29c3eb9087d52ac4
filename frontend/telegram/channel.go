// Package telegram adapts the Telegram Bot API to the runtime's Channel
// contract: long-polling for updates, per-chat serialization of the
// message handler, Markdown-to-HTML rendering with a plain-text fallback,
// and chunked sends at Telegram's message-length limit.
package telegram

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	parrot "github.com/ciana/parrot"
)

// maxMessageLen is Telegram's hard limit per message.
const maxMessageLen = 4096

// Option configures a Channel.
type Option func(*Channel)

// WithLogger sets a structured logger for the channel.
func WithLogger(l *slog.Logger) Option {
	return func(c *Channel) { c.logger = l }
}

// WithHTTPClient replaces the client used to download media.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Channel) { c.http = h }
}

// Channel is the Telegram implementation of parrot.Channel.
type Channel struct {
	bot     *tgbotapi.BotAPI
	handler parrot.MessageHandler
	logger  *slog.Logger
	http    *http.Client

	chatLocks sync.Map // chat id -> *sync.Mutex
	wg        sync.WaitGroup
	done      chan struct{}
}

// New creates a Telegram channel and authenticates against the Bot API.
func New(token string, opts ...Option) (*Channel, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	c := &Channel{
		bot:    bot,
		logger: slog.New(slog.DiscardHandler),
		http:   &http.Client{Timeout: 30 * time.Second},
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger.Info("telegram bot authorized", "username", bot.Self.UserName)
	return c, nil
}

func (c *Channel) Name() string { return "telegram" }

// OnMessage registers the handler. Must be called before Start.
func (c *Channel) OnMessage(handler parrot.MessageHandler) {
	c.handler = handler
}

// Start launches the long-polling loop. It returns immediately.
func (c *Channel) Start(ctx context.Context) error {
	if c.handler == nil {
		return fmt.Errorf("telegram: no message handler registered")
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := c.bot.GetUpdatesChan(u)

	go func() {
		defer close(c.done)
		for update := range updates {
			msg := update.Message
			if msg == nil {
				continue
			}
			c.wg.Add(1)
			go func(m *tgbotapi.Message) {
				defer c.wg.Done()
				c.dispatch(ctx, m)
			}(msg)
		}
	}()

	c.logger.Info("telegram channel started")
	return nil
}

// Stop ends polling and waits for in-flight handler calls.
func (c *Channel) Stop(ctx context.Context) error {
	c.bot.StopReceivingUpdates()
	<-c.done

	finished := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-ctx.Done():
		return ctx.Err()
	}
	c.logger.Info("telegram channel stopped")
	return nil
}

// dispatch serializes handling per chat, then routes the update.
func (c *Channel) dispatch(ctx context.Context, m *tgbotapi.Message) {
	lock, _ := c.chatLocks.LoadOrStore(m.Chat.ID, &sync.Mutex{})
	mu := lock.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	if m.IsCommand() {
		c.handleCommand(ctx, m)
		return
	}
	c.handleMessage(ctx, m)
}

func (c *Channel) handleCommand(ctx context.Context, m *tgbotapi.Message) {
	chatID := strconv.FormatInt(m.Chat.ID, 10)
	switch m.Command() {
	case "start":
		c.reply(m, "Hi! I'm your assistant.\nSend me a message or use /help for commands.")
	case "help":
		c.reply(m, "Commands:\n/start - Welcome message\n/help - This message\n/new - New session\n/status - System status")
	case "new":
		msg := c.incoming(m)
		msg.Text = ""
		msg.ResetSession = true
		if _, err := c.handler(ctx, msg); err != nil {
			c.logger.Error("session reset failed", "chat_id", chatID, "error", err)
			return
		}
		c.reply(m, "Session reset. Let's start fresh!")
	case "status":
		c.reply(m, "System is up and running.")
	}
}

func (c *Channel) handleMessage(ctx context.Context, m *tgbotapi.Message) {
	msg := c.incoming(m)
	if len(m.Photo) > 0 {
		b64, mime, err := c.downloadPhoto(m.Photo)
		if err != nil {
			c.logger.Warn("photo download failed", "chat_id", msg.ChatID, "error", err)
		} else {
			msg.ImageBase64 = b64
			msg.ImageMIME = mime
			msg.Text = m.Caption
		}
	}
	if msg.Text == "" && msg.ImageBase64 == "" {
		return
	}

	c.typing(m.Chat.ID)

	resp, err := c.handler(ctx, msg)
	if err != nil {
		c.logger.Error("message handling failed", "chat_id", msg.ChatID, "error", err)
		_ = c.Send(ctx, msg.ChatID, "Error: "+err.Error(), parrot.SendOptions{})
		return
	}
	if resp == nil || resp.Text == "" {
		return
	}
	if err := c.Send(ctx, msg.ChatID, resp.Text, parrot.SendOptions{}); err != nil {
		c.logger.Error("send failed", "chat_id", msg.ChatID, "error", err)
	}
}

// incoming maps a Telegram message onto the normalized form.
func (c *Channel) incoming(m *tgbotapi.Message) parrot.IncomingMessage {
	userID := "unknown"
	userName := "unknown"
	if m.From != nil {
		userID = strconv.FormatInt(m.From.ID, 10)
		userName = m.From.FirstName
	}
	return parrot.IncomingMessage{
		Channel:   c.Name(),
		ChatID:    strconv.FormatInt(m.Chat.ID, 10),
		UserID:    userID,
		UserName:  userName,
		Text:      m.Text,
		IsPrivate: m.Chat.IsPrivate(),
		MessageID: strconv.Itoa(m.MessageID),
	}
}

// downloadPhoto fetches the largest size of a photo and encodes it.
func (c *Channel) downloadPhoto(sizes []tgbotapi.PhotoSize) (string, string, error) {
	largest := sizes[len(sizes)-1]
	url, err := c.bot.GetFileDirectURL(largest.FileID)
	if err != nil {
		return "", "", err
	}
	resp, err := c.http.Get(url)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("download returned HTTP %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "", err
	}
	mime := resp.Header.Get("Content-Type")
	if mime == "" || !strings.HasPrefix(mime, "image/") {
		mime = "image/jpeg"
	}
	return base64.StdEncoding.EncodeToString(data), mime, nil
}

// Send delivers text to a chat, rendered as HTML and chunked at the
// message-length limit. A chunk rejected by Telegram's HTML parser is
// retried as plain text.
func (c *Channel) Send(ctx context.Context, chatID, text string, opts parrot.SendOptions) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: bad chat id %q: %w", chatID, err)
	}

	html := MarkdownToHTML(text)
	for _, chunk := range splitText(html, maxMessageLen) {
		msg := tgbotapi.NewMessage(id, chunk)
		msg.ParseMode = tgbotapi.ModeHTML
		msg.DisableNotification = opts.Silent
		if opts.ReplyTo != "" {
			if replyID, err := strconv.Atoi(opts.ReplyTo); err == nil {
				msg.ReplyToMessageID = replyID
			}
		}
		if _, err := c.bot.Send(msg); err != nil {
			plain := tgbotapi.NewMessage(id, chunk)
			plain.DisableNotification = opts.Silent
			if _, err := c.bot.Send(plain); err != nil {
				return fmt.Errorf("telegram: send to %s: %w", chatID, err)
			}
		}
	}
	return nil
}

// SendFile delivers a local file as a document.
func (c *Channel) SendFile(ctx context.Context, chatID, path, caption string) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: bad chat id %q: %w", chatID, err)
	}
	if _, err := os.Stat(path); err != nil {
		return c.Send(ctx, chatID, "File not found: "+path, parrot.SendOptions{})
	}
	doc := tgbotapi.NewDocument(id, tgbotapi.FilePath(path))
	doc.Caption = caption
	if _, err := c.bot.Send(doc); err != nil {
		return fmt.Errorf("telegram: send file to %s: %w", chatID, err)
	}
	return nil
}

func (c *Channel) reply(m *tgbotapi.Message, text string) {
	msg := tgbotapi.NewMessage(m.Chat.ID, text)
	msg.ReplyToMessageID = m.MessageID
	if _, err := c.bot.Send(msg); err != nil {
		c.logger.Warn("reply failed", "chat_id", m.Chat.ID, "error", err)
	}
}

func (c *Channel) typing(chatID int64) {
	action := tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)
	if _, err := c.bot.Request(action); err != nil {
		c.logger.Debug("chat action failed", "chat_id", chatID, "error", err)
	}
}

// splitText chunks text at max, preferring newline boundaries.
func splitText(text string, max int) []string {
	if len(text) <= max {
		return []string{text}
	}
	var chunks []string
	for len(text) > 0 {
		if len(text) <= max {
			chunks = append(chunks, text)
			break
		}
		idx := strings.LastIndex(text[:max], "\n")
		if idx <= 0 {
			// Hard cut: back off so the split lands on a rune boundary.
			idx = max
			for idx > 0 && !utf8.RuneStart(text[idx]) {
				idx--
			}
			if idx == 0 {
				idx = max
			}
		}
		chunks = append(chunks, text[:idx])
		text = strings.TrimLeft(text[idx:], "\n")
	}
	return chunks
}
