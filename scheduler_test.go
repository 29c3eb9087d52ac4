package parrot

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// fakeChannel records sends for assertion.
type fakeChannel struct {
	mu    sync.Mutex
	sends []fakeSend
}

type fakeSend struct {
	chatID string
	text   string
	opts   SendOptions
}

func (c *fakeChannel) Name() string                     { return "telegram" }
func (c *fakeChannel) Start(ctx context.Context) error  { return nil }
func (c *fakeChannel) Stop(ctx context.Context) error   { return nil }
func (c *fakeChannel) OnMessage(handler MessageHandler) {}

func (c *fakeChannel) SendFile(ctx context.Context, chatID, path, caption string) error {
	return nil
}

func (c *fakeChannel) Send(ctx context.Context, chatID, text string, opts SendOptions) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sends = append(c.sends, fakeSend{chatID: chatID, text: text, opts: opts})
	return nil
}

func (c *fakeChannel) sent() []fakeSend {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]fakeSend(nil), c.sends...)
}

func timePtr(t time.Time) *time.Time { return &t }

func TestIsDueOnce(t *testing.T) {
	s := NewScheduler(&fakeAgent{}, nil)
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

	past := ScheduledTask{ID: "a", Type: TaskOnce, Value: "2026-08-25T11:00:00"}
	if !s.isDue(past, now) {
		t.Error("once task with past timestamp should be due")
	}

	future := ScheduledTask{ID: "b", Type: TaskOnce, Value: "2026-08-25T13:00:00"}
	if s.isDue(future, now) {
		t.Error("once task with future timestamp should not be due")
	}

	consumed := past
	consumed.LastRun = timePtr(now.Add(-time.Hour))
	if s.isDue(consumed, now) {
		t.Error("once task that already ran should never fire again")
	}

	bad := ScheduledTask{ID: "c", Type: TaskOnce, Value: "not a time"}
	if s.isDue(bad, now) {
		t.Error("invalid once value should never fire")
	}
}

func TestIsDueInterval(t *testing.T) {
	s := NewScheduler(&fakeAgent{}, nil)
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

	fresh := ScheduledTask{ID: "a", Type: TaskInterval, Value: "3600"}
	if !s.isDue(fresh, now) {
		t.Error("interval task that never ran should be due")
	}

	recent := fresh
	recent.LastRun = timePtr(now.Add(-30 * time.Minute))
	if s.isDue(recent, now) {
		t.Error("interval not yet elapsed")
	}

	elapsed := fresh
	elapsed.LastRun = timePtr(now.Add(-61 * time.Minute))
	if !s.isDue(elapsed, now) {
		t.Error("elapsed interval should be due")
	}

	bad := ScheduledTask{ID: "b", Type: TaskInterval, Value: "-5"}
	if s.isDue(bad, now) {
		t.Error("non-positive interval should never fire")
	}
}

func TestIsDueCron(t *testing.T) {
	s := NewScheduler(&fakeAgent{}, nil)

	// Daily at 09:00; created yesterday, never ran. Next fire after
	// creation is today 09:00, which has passed.
	task := ScheduledTask{
		ID:        "a",
		Type:      TaskCron,
		Value:     "0 9 * * *",
		CreatedAt: time.Date(2026, 8, 24, 15, 0, 0, 0, time.UTC),
	}
	now := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	if !s.isDue(task, now) {
		t.Error("cron task past its next fire time should be due")
	}

	// Just created; the 09:00 slot today is gone, next is tomorrow.
	task.CreatedAt = time.Date(2026, 8, 25, 9, 30, 0, 0, time.UTC)
	if s.isDue(task, now) {
		t.Error("cron task created after today's slot should wait for tomorrow")
	}

	// Already ran today.
	task.CreatedAt = time.Date(2026, 8, 24, 15, 0, 0, 0, time.UTC)
	task.LastRun = timePtr(time.Date(2026, 8, 25, 9, 0, 5, 0, time.UTC))
	if s.isDue(task, now) {
		t.Error("cron task that ran this slot should not fire again")
	}

	bad := ScheduledTask{ID: "b", Type: TaskCron, Value: "not cron"}
	if s.isDue(bad, now) {
		t.Error("invalid cron expression should never fire")
	}
}

func TestParseTaskTime(t *testing.T) {
	ts, err := ParseTaskTime("2026-08-25T15:04:05Z")
	if err != nil {
		t.Fatal(err)
	}
	if ts.Hour() != 15 {
		t.Errorf("hour = %d", ts.Hour())
	}

	// Bare timestamps read as UTC.
	ts, err = ParseTaskTime("2026-08-25T15:04:05")
	if err != nil {
		t.Fatal(err)
	}
	if ts.Location() != time.UTC || ts.Hour() != 15 {
		t.Errorf("bare timestamp parsed as %v", ts)
	}

	if _, err := ParseTaskTime("tomorrow"); err == nil {
		t.Error("expected error for unparseable value")
	}
}

func TestTickMarksAndDeactivates(t *testing.T) {
	store := NewTaskStore(filepath.Join(t.TempDir(), "tasks.json"))
	err := store.Mutate(func(tasks []ScheduledTask) ([]ScheduledTask, error) {
		return []ScheduledTask{
			{ID: "once1", Prompt: "p", Type: TaskOnce, Value: "2020-01-01T00:00:00", Active: true},
			{ID: "int1", Prompt: "p", Type: TaskInterval, Value: "60", Active: true},
			{ID: "off1", Prompt: "p", Type: TaskInterval, Value: "60", Active: false},
		}, nil
	})
	if err != nil {
		t.Fatal(err)
	}

	agent := &fakeAgent{reply: "done"}
	s := NewScheduler(agent, store)
	if err := s.tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	s.wg.Wait()

	tasks, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	byID := make(map[string]ScheduledTask)
	for _, task := range tasks {
		byID[task.ID] = task
	}

	if byID["once1"].Active {
		t.Error("once task should be deactivated after firing")
	}
	if byID["once1"].LastRun == nil {
		t.Error("fired task should record last_run")
	}
	if byID["int1"].LastRun == nil {
		t.Error("interval task should record last_run")
	}
	if byID["off1"].LastRun != nil {
		t.Error("inactive task must not fire")
	}
	if agent.calls != 2 {
		t.Errorf("agent invoked %d times, want 2", agent.calls)
	}
}

func TestExecuteDeliversSilently(t *testing.T) {
	store := NewTaskStore(filepath.Join(t.TempDir(), "tasks.json"))
	ch := &fakeChannel{}
	agent := &fakeAgent{reply: "report ready"}
	s := NewScheduler(agent, store, WithChannel(ch))

	s.execute(context.Background(), ScheduledTask{
		ID:      "t1",
		Prompt:  "make the report",
		Channel: "telegram",
		ChatID:  "500",
	})

	sends := ch.sent()
	if len(sends) != 1 {
		t.Fatalf("expected 1 send, got %d", len(sends))
	}
	if sends[0].chatID != "500" || sends[0].text != "report ready" {
		t.Errorf("unexpected send: %+v", sends[0])
	}
	if !sends[0].opts.Silent {
		t.Error("scheduler deliveries should be silent")
	}
	if agent.lastThread != "scheduler_t1" {
		t.Errorf("thread id = %q", agent.lastThread)
	}
}

func TestExecuteUnknownChannelDiscards(t *testing.T) {
	store := NewTaskStore(filepath.Join(t.TempDir(), "tasks.json"))
	s := NewScheduler(&fakeAgent{reply: "x"}, store)

	// No channels registered; should not panic, result is dropped.
	s.execute(context.Background(), ScheduledTask{
		ID:      "t1",
		Prompt:  "p",
		Channel: "telegram",
		ChatID:  "500",
	})
}

// blockingAgent parks in Invoke until released, recording whether the
// invocation context was canceled while it waited.
type blockingAgent struct {
	started  chan struct{}
	release  chan struct{}
	canceled bool
}

func (a *blockingAgent) Invoke(ctx context.Context, msgs []AgentMessage, threadID string) (AgentResult, error) {
	close(a.started)
	select {
	case <-ctx.Done():
		a.canceled = true
		return AgentResult{}, ctx.Err()
	case <-a.release:
	}
	return AgentResult{Items: []RawItem{{Kind: "text", Text: "done"}}}, nil
}

func TestStopWaitsForRunningTask(t *testing.T) {
	store := NewTaskStore(filepath.Join(t.TempDir(), "tasks.json"))
	err := store.Mutate(func(tasks []ScheduledTask) ([]ScheduledTask, error) {
		return []ScheduledTask{
			{ID: "long1", Prompt: "p", Type: TaskOnce, Value: "2020-01-01T00:00:00", Active: true},
		}, nil
	})
	if err != nil {
		t.Fatal(err)
	}

	agent := &blockingAgent{started: make(chan struct{}), release: make(chan struct{})}
	s := NewScheduler(agent, store, WithPollInterval(time.Second))
	s.Start(context.Background())
	<-agent.started

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a task was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(agent.release)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after the task finished")
	}
	if agent.canceled {
		t.Error("Stop must not cancel an in-flight task execution")
	}
}

func TestRunHookObservesExecutions(t *testing.T) {
	store := NewTaskStore(filepath.Join(t.TempDir(), "tasks.json"))

	var gotTask ScheduledTask
	var gotErr error
	calls := 0
	s := NewScheduler(&fakeAgent{reply: "x"}, store,
		WithRunHook(func(ctx context.Context, task ScheduledTask, err error) {
			calls++
			gotTask = task
			gotErr = err
		}))
	s.execute(context.Background(), ScheduledTask{ID: "t1", Prompt: "p", Type: TaskInterval})
	if calls != 1 || gotTask.ID != "t1" || gotErr != nil {
		t.Errorf("hook saw (calls=%d, task=%q, err=%v)", calls, gotTask.ID, gotErr)
	}

	failing := NewScheduler(&fakeAgent{err: errors.New("down")}, store,
		WithRunHook(func(ctx context.Context, task ScheduledTask, err error) {
			calls++
			gotErr = err
		}))
	failing.execute(context.Background(), ScheduledTask{ID: "t2", Prompt: "p", Type: TaskOnce})
	if calls != 2 || gotErr == nil {
		t.Error("hook should fire on failed executions with the agent error")
	}
}

func TestSchedulerStartStop(t *testing.T) {
	store := NewTaskStore(filepath.Join(t.TempDir(), "tasks.json"))
	s := NewScheduler(&fakeAgent{reply: "x"}, store, WithPollInterval(time.Second))

	s.Start(context.Background())
	s.Stop()
	// Stop again is a no-op.
	s.Stop()
}
