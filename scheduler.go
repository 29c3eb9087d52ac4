package parrot

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithPollInterval sets the loop interval. Values below one second are
// raised to one second.
func WithPollInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.poll = d }
}

// WithSchedulerLogger sets a structured logger for the scheduler.
func WithSchedulerLogger(l *slog.Logger) SchedulerOption {
	return func(s *Scheduler) { s.logger = l }
}

// WithChannel registers a delivery channel for task results.
func WithChannel(c Channel) SchedulerOption {
	return func(s *Scheduler) { s.channels[c.Name()] = c }
}

// WithRunHook registers a callback fired once per task execution, after the
// agent returns. Used for metrics.
func WithRunHook(fn func(ctx context.Context, t ScheduledTask, err error)) SchedulerOption {
	return func(s *Scheduler) { s.runHook = fn }
}

// Scheduler polls the task store and executes due tasks through the agent,
// pushing results back to the chat that created each task.
//
// Due-marking happens under the store lock; task bodies run concurrently
// outside it, so a slow task never delays the next cycle's due check.
type Scheduler struct {
	agent    Agent
	store    *TaskStore
	channels map[string]Channel
	poll     time.Duration
	runHook  func(ctx context.Context, t ScheduledTask, err error)
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler over the given task store.
func NewScheduler(agent Agent, store *TaskStore, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		agent:    agent,
		store:    store,
		channels: make(map[string]Channel),
		poll:     30 * time.Second,
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.poll < time.Second {
		s.poll = time.Second
	}
	return s
}

// Start launches the polling loop. It returns immediately.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(loopCtx)
	s.logger.Info("scheduler started", "poll_interval", s.poll)
}

// Stop terminates the loop after its current cycle and waits for every
// in-flight task execution to finish. Running tasks are not interrupted.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()
	for {
		if err := s.tick(ctx); err != nil {
			s.logger.Error("scheduler cycle failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// tick marks due tasks under the store lock, then fans their execution out
// to goroutines tracked by the wait group.
func (s *Scheduler) tick(ctx context.Context) error {
	var due []ScheduledTask
	now := NowUTC()

	err := s.store.Mutate(func(tasks []ScheduledTask) ([]ScheduledTask, error) {
		modified := false
		for i := range tasks {
			t := &tasks[i]
			if !t.Active || !s.isDue(*t, now) {
				continue
			}
			runAt := now
			t.LastRun = &runAt
			if t.Type == TaskOnce {
				t.Active = false
			}
			modified = true
			due = append(due, *t)
		}
		if !modified {
			return nil, nil
		}
		return tasks, nil
	})
	if err != nil {
		return err
	}

	// Executions get a detached context: Stop cancels the loop, never a
	// task already running.
	execCtx := context.WithoutCancel(ctx)
	for _, task := range due {
		s.logger.Info("running scheduled task", "task_id", task.ID, "type", task.Type)
		s.wg.Add(1)
		go func(t ScheduledTask) {
			defer s.wg.Done()
			s.execute(execCtx, t)
		}(task)
	}
	return nil
}

// isDue applies the per-type due rule. Invalid values log and never fire.
func (s *Scheduler) isDue(t ScheduledTask, now time.Time) bool {
	switch t.Type {
	case TaskOnce:
		if t.LastRun != nil {
			return false
		}
		target, err := ParseTaskTime(t.Value)
		if err != nil {
			s.logger.Warn("invalid once timestamp", "task_id", t.ID, "value", t.Value)
			return false
		}
		return !now.Before(target)

	case TaskInterval:
		secs, err := strconv.Atoi(t.Value)
		if err != nil || secs <= 0 {
			s.logger.Warn("invalid interval", "task_id", t.ID, "value", t.Value)
			return false
		}
		if t.LastRun == nil {
			return true
		}
		return now.Sub(*t.LastRun) >= time.Duration(secs)*time.Second

	case TaskCron:
		sched, err := cron.ParseStandard(t.Value)
		if err != nil {
			s.logger.Warn("invalid cron expression", "task_id", t.ID, "value", t.Value)
			return false
		}
		base := t.CreatedAt
		if t.LastRun != nil && t.LastRun.After(base) {
			base = *t.LastRun
		}
		return !now.Before(sched.Next(base))
	}
	return false
}

// ParseTaskTime parses a once-task timestamp: RFC 3339, or a bare
// "YYYY-MM-DDTHH:MM:SS" read as UTC.
func ParseTaskTime(value string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts.UTC(), nil
	}
	ts, err := time.Parse("2006-01-02T15:04:05", value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", value, err)
	}
	return ts.UTC(), nil
}

// execute runs one due task to completion and delivers the result to the
// originating chat. The task is already marked consumed; failures here do
// not rewind last_run.
func (s *Scheduler) execute(ctx context.Context, t ScheduledTask) {
	threadID := "scheduler_" + t.ID

	if t.ModelTier != "" {
		ctx = WithModelTier(ctx, t.ModelTier)
	}

	msgs := []AgentMessage{{Role: "user", Content: []ContentBlock{TextBlock(t.Prompt)}}}
	result, err := s.agent.Invoke(ctx, msgs, threadID)
	if s.runHook != nil {
		s.runHook(ctx, t, err)
	}
	if err != nil {
		s.logger.Error("scheduled task failed", "task_id", t.ID, "error", err)
		return
	}
	resp := ExtractResponse(result)

	ch, ok := s.channels[t.Channel]
	if !ok || t.ChatID == "" {
		s.logger.Warn("task has no deliverable channel, result discarded",
			"task_id", t.ID, "channel", t.Channel)
		return
	}
	if err := ch.Send(ctx, t.ChatID, resp.Text, SendOptions{Silent: true}); err != nil {
		s.logger.Error("task result delivery failed",
			"task_id", t.ID, "channel", t.Channel, "chat_id", t.ChatID, "error", err)
		return
	}
	s.logger.Info("task result delivered", "task_id", t.ID, "channel", t.Channel, "chat_id", t.ChatID)
}
