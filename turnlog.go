package parrot

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// TurnLog appends conversation turns to per-thread JSONL files. One file
// per thread id, one record per line. Failures are logged at warning
// level and swallowed; a lost log line must never fail a message.
type TurnLog struct {
	dir    string
	logger *slog.Logger
}

// NewTurnLog creates a turn log rooted at dir.
func NewTurnLog(dir string, logger *slog.Logger) *TurnLog {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &TurnLog{dir: dir, logger: logger}
}

// Append writes one record to the thread's log file.
func (l *TurnLog) Append(threadID string, rec TurnRecord) {
	if err := l.append(threadID, rec); err != nil {
		l.logger.Warn("turn log append failed", "thread_id", threadID, "error", err)
	}
}

func (l *TurnLog) append(threadID string, rec TurnRecord) error {
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return err
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	path := filepath.Join(l.dir, threadID+".jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := fmt.Fprintf(f, "%s\n", line); err != nil {
		return err
	}
	return nil
}
