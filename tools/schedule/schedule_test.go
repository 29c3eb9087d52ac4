package schedule

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	parrot "github.com/ciana/parrot"
)

func newTestTool(t *testing.T) (*Tool, *parrot.TaskStore) {
	t.Helper()
	store := parrot.NewTaskStore(filepath.Join(t.TempDir(), "tasks.json"))
	return New(store, nil), store
}

func scheduleArgs(t *testing.T, prompt, typ, value string) json.RawMessage {
	t.Helper()
	args, err := json.Marshal(map[string]string{
		"prompt":         prompt,
		"schedule_type":  typ,
		"schedule_value": value,
	})
	if err != nil {
		t.Fatal(err)
	}
	return args
}

func TestScheduleTaskBindsChat(t *testing.T) {
	tool, store := newTestTool(t)
	ctx := parrot.WithChatRef(context.Background(), parrot.ChatRef{
		Channel: "telegram",
		ChatID:  "42",
	})

	result, err := tool.Execute(ctx, "schedule_task",
		scheduleArgs(t, "daily summary", "cron", "0 9 * * *"))
	if err != nil {
		t.Fatal(err)
	}
	if result.Error != "" {
		t.Fatalf("tool error: %q", result.Error)
	}
	if !strings.HasPrefix(result.Content, "Task scheduled: id=") {
		t.Errorf("content = %q", result.Content)
	}

	tasks, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 1 {
		t.Fatalf("expected 1 task, got %d", len(tasks))
	}
	task := tasks[0]
	if task.Channel != "telegram" || task.ChatID != "42" {
		t.Errorf("task chat binding = %q/%q", task.Channel, task.ChatID)
	}
	if !task.Active || task.Type != parrot.TaskCron || len(task.ID) != 8 {
		t.Errorf("task = %+v", task)
	}
}

func TestScheduleTaskValidation(t *testing.T) {
	tool, store := newTestTool(t)
	cases := []struct {
		typ, value, wantFragment string
	}{
		{"cron", "not cron", "Invalid cron expression"},
		{"interval", "soon", "not a valid integer"},
		{"interval", "-10", "positive number of seconds"},
		{"once", "next tuesday", "Invalid ISO timestamp"},
		{"weekly", "x", "Invalid schedule_type"},
	}
	for _, c := range cases {
		result, err := tool.Execute(context.Background(), "schedule_task",
			scheduleArgs(t, "p", c.typ, c.value))
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(result.Content, c.wantFragment) {
			t.Errorf("%s/%s: content = %q, want fragment %q", c.typ, c.value, result.Content, c.wantFragment)
		}
	}

	tasks, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 0 {
		t.Errorf("rejected schedules must not persist, got %d tasks", len(tasks))
	}
}

func TestListTasks(t *testing.T) {
	tool, _ := newTestTool(t)

	result, err := tool.Execute(context.Background(), "list_tasks", nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.Content != "No active scheduled tasks." {
		t.Errorf("empty list = %q", result.Content)
	}

	if _, err := tool.Execute(context.Background(), "schedule_task",
		scheduleArgs(t, "check the weather", "interval", "3600")); err != nil {
		t.Fatal(err)
	}

	result, err = tool.Execute(context.Background(), "list_tasks", nil)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(result.Content, "interval=3600") ||
		!strings.Contains(result.Content, "check the weather") ||
		!strings.Contains(result.Content, "last_run=never") {
		t.Errorf("list = %q", result.Content)
	}
}

func TestCancelTask(t *testing.T) {
	tool, store := newTestTool(t)
	result, err := tool.Execute(context.Background(), "schedule_task",
		scheduleArgs(t, "p", "interval", "60"))
	if err != nil {
		t.Fatal(err)
	}
	id := strings.TrimPrefix(result.Content, "Task scheduled: id=")
	id = id[:strings.Index(id, ",")]

	args, _ := json.Marshal(map[string]string{"task_id": id})
	result, err = tool.Execute(context.Background(), "cancel_task", args)
	if err != nil {
		t.Fatal(err)
	}
	if result.Content != "Task "+id+" cancelled." {
		t.Errorf("cancel = %q", result.Content)
	}

	tasks, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 1 || tasks[0].Active {
		t.Errorf("cancel should flip active, tasks = %+v", tasks)
	}

	// Cancelled tasks disappear from the listing but stay on record.
	result, _ = tool.Execute(context.Background(), "list_tasks", nil)
	if result.Content != "No active scheduled tasks." {
		t.Errorf("list after cancel = %q", result.Content)
	}

	args, _ = json.Marshal(map[string]string{"task_id": "zzzzzzzz"})
	result, err = tool.Execute(context.Background(), "cancel_task", args)
	if err != nil {
		t.Fatal(err)
	}
	if result.Content != "Task zzzzzzzz not found." {
		t.Errorf("missing cancel = %q", result.Content)
	}
}
