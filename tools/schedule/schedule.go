// Package schedule exposes the scheduled-task tools: create, list, and
// cancel. Tasks created here are picked up by the scheduler's next cycle.
package schedule

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/robfig/cron/v3"

	parrot "github.com/ciana/parrot"
)

const promptPreviewLen = 60

// Tool manages scheduled tasks over the shared task store. The chat a
// task should report back to is read from the invocation context, bound
// there by the router.
type Tool struct {
	store  *parrot.TaskStore
	logger *slog.Logger
}

// New creates the schedule tool.
func New(store *parrot.TaskStore, logger *slog.Logger) *Tool {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Tool{store: store, logger: logger}
}

func (t *Tool) Definitions() []parrot.ToolDefinition {
	return []parrot.ToolDefinition{
		{
			Name:        "schedule_task",
			Description: "Schedule a task to run later or on a recurring basis. The task's prompt is executed by the agent when due, and the result is sent to this chat.",
			Parameters: json.RawMessage(`{"type":"object","properties":{
				"prompt":{"type":"string","description":"What the agent should do when the task runs"},
				"schedule_type":{"type":"string","enum":["cron","interval","once"],"description":"How the task recurs"},
				"schedule_value":{"type":"string","description":"Cron expression, positive seconds, or ISO timestamp, matching the type"},
				"model_tier":{"type":"string","description":"Optional model tier hint for the task's agent run"}
			},"required":["prompt","schedule_type","schedule_value"]}`),
		},
		{
			Name:        "list_tasks",
			Description: "List all active scheduled tasks.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{}}`),
		},
		{
			Name:        "cancel_task",
			Description: "Cancel a scheduled task by its ID.",
			Parameters: json.RawMessage(`{"type":"object","properties":{
				"task_id":{"type":"string","description":"The 8-character task id"}
			},"required":["task_id"]}`),
		},
	}
}

func (t *Tool) Execute(ctx context.Context, name string, args json.RawMessage) (parrot.ToolResult, error) {
	var result string
	var err error

	switch name {
	case "schedule_task":
		result, err = t.handleSchedule(ctx, args)
	case "list_tasks":
		result, err = t.handleList()
	case "cancel_task":
		result, err = t.handleCancel(args)
	default:
		return parrot.ToolResult{Error: "unknown schedule tool: " + name}, nil
	}

	if err != nil {
		return parrot.ToolResult{Error: err.Error()}, nil
	}
	return parrot.ToolResult{Content: result}, nil
}

func (t *Tool) handleSchedule(ctx context.Context, args json.RawMessage) (string, error) {
	var p struct {
		Prompt        string `json:"prompt"`
		ScheduleType  string `json:"schedule_type"`
		ScheduleValue string `json:"schedule_value"`
		ModelTier     string `json:"model_tier"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return "", fmt.Errorf("invalid args: %w", err)
	}

	taskType := parrot.TaskType(p.ScheduleType)
	if msg := validateSchedule(taskType, p.ScheduleValue); msg != "" {
		return msg, nil
	}

	ref, _ := parrot.ChatRefFrom(ctx)

	var task parrot.ScheduledTask
	err := t.store.Mutate(func(tasks []parrot.ScheduledTask) ([]parrot.ScheduledTask, error) {
		task = parrot.ScheduledTask{
			ID:        parrot.NextID(tasks),
			Prompt:    p.Prompt,
			Type:      taskType,
			Value:     p.ScheduleValue,
			Channel:   ref.Channel,
			ChatID:    ref.ChatID,
			CreatedAt: parrot.NowUTC(),
			Active:    true,
			ModelTier: p.ModelTier,
		}
		return append(tasks, task), nil
	})
	if err != nil {
		return "", err
	}

	t.logger.Info("scheduled task",
		"task_id", task.ID, "type", task.Type, "value", task.Value,
		"channel", ref.Channel, "chat_id", ref.ChatID)
	return fmt.Sprintf("Task scheduled: id=%s, type=%s, value=%s", task.ID, task.Type, task.Value), nil
}

// validateSchedule checks the value against its type. A non-empty return
// is the user-facing rejection message.
func validateSchedule(taskType parrot.TaskType, value string) string {
	switch taskType {
	case parrot.TaskCron:
		if _, err := cron.ParseStandard(value); err != nil {
			return fmt.Sprintf("Invalid cron expression %q: %v", value, err)
		}
	case parrot.TaskInterval:
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Sprintf("Invalid interval: %q is not a valid integer.", value)
		}
		if n <= 0 {
			return fmt.Sprintf("Invalid interval: must be a positive number of seconds, got %q.", value)
		}
	case parrot.TaskOnce:
		if _, err := parrot.ParseTaskTime(value); err != nil {
			return fmt.Sprintf("Invalid ISO timestamp: %q. Use format like '2025-01-15T10:00:00'.", value)
		}
	default:
		return fmt.Sprintf("Invalid schedule_type: %s. Use 'cron', 'interval', or 'once'.", taskType)
	}
	return ""
}

func (t *Tool) handleList() (string, error) {
	tasks, err := t.store.Load()
	if err != nil {
		return "", err
	}

	var lines []string
	for _, task := range tasks {
		if !task.Active {
			continue
		}
		lastRun := "never"
		if task.LastRun != nil {
			lastRun = task.LastRun.Format("2006-01-02 15:04:05")
		}
		prompt := task.Prompt
		if len(prompt) > promptPreviewLen {
			prompt = prompt[:promptPreviewLen]
		}
		lines = append(lines, fmt.Sprintf("- [%s] %s=%s | %s | last_run=%s",
			task.ID, task.Type, task.Value, prompt, lastRun))
	}
	if len(lines) == 0 {
		return "No active scheduled tasks.", nil
	}
	return strings.Join(lines, "\n"), nil
}

func (t *Tool) handleCancel(args json.RawMessage) (string, error) {
	var p struct {
		TaskID string `json:"task_id"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return "", fmt.Errorf("invalid args: %w", err)
	}

	found := false
	err := t.store.Mutate(func(tasks []parrot.ScheduledTask) ([]parrot.ScheduledTask, error) {
		for i := range tasks {
			if tasks[i].ID == p.TaskID {
				tasks[i].Active = false
				found = true
				return tasks, nil
			}
		}
		return nil, nil
	})
	if err != nil {
		return "", err
	}
	if !found {
		return fmt.Sprintf("Task %s not found.", p.TaskID), nil
	}
	t.logger.Info("cancelled task", "task_id", p.TaskID)
	return fmt.Sprintf("Task %s cancelled.", p.TaskID), nil
}
