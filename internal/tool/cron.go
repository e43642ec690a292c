package tool

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ahmedgamalalzatary/nanobot/internal/cron"
	"github.com/ahmedgamalalzatary/nanobot/internal/domain"
)

// CronTool lets the agent manage its own reminders. New tasks default to
// the conversation the request came from.
type CronTool struct {
	service *cron.Service

	mu      sync.Mutex
	channel string
	chatID  string
}

func NewCronTool(service *cron.Service) *CronTool {
	return &CronTool{service: service}
}

func (t *CronTool) Name() string { return "cron" }
func (t *CronTool) Description() string {
	return "Manage scheduled reminders. Actions: 'list' (show all tasks), 'add' (create a task with name, message, and cron_expr or interval_seconds), 'remove' (delete a task by id)."
}
func (t *CronTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"action":           {Type: "string", Description: "Action: list, add, remove"},
			"id":               {Type: "string", Description: "Task ID (for remove)"},
			"name":             {Type: "string", Description: "Task name (for add)"},
			"message":          {Type: "string", Description: "Message delivered to the agent when the task fires (for add)"},
			"cron_expr":        {Type: "string", Description: "Five-field cron expression, e.g. '0 9 * * *' (for add)"},
			"interval_seconds": {Type: "number", Description: "Fixed interval in seconds, alternative to cron_expr (for add)"},
			"channel":          {Type: "string", Description: "Destination channel (defaults to the current conversation)"},
			"chat_id":          {Type: "string", Description: "Destination chat ID (defaults to the current conversation)"},
		},
		[]string{"action"},
	)
}

func (t *CronTool) SetContext(channel, chatID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.channel = channel
	t.chatID = chatID
}

func (t *CronTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	switch action := ArgsString(args, "action"); action {
	case "list":
		tasks := t.service.List()
		if len(tasks) == 0 {
			return "No scheduled tasks.", nil
		}
		var lines []string
		for _, task := range tasks {
			schedule := task.CronExpr
			if schedule == "" {
				schedule = fmt.Sprintf("every %s", task.Interval)
			}
			status := "enabled"
			if !task.Enabled {
				status = "disabled"
			}
			lines = append(lines, fmt.Sprintf("- [%s] %s: %q %s (%s) -> %s:%s",
				task.ID, task.Name, task.Message, schedule, status, task.Channel, task.ChatID))
		}
		return strings.Join(lines, "\n"), nil

	case "add":
		name := ArgsString(args, "name")
		message := ArgsString(args, "message")
		if name == "" || message == "" {
			return "Error: name and message are required for add.", nil
		}

		expr := ArgsString(args, "cron_expr")
		interval := ArgsInt(args, "interval_seconds", 0)
		if expr == "" && interval <= 0 {
			return "Error: cron_expr or interval_seconds is required for add.", nil
		}

		t.mu.Lock()
		channel, chatID := t.channel, t.chatID
		t.mu.Unlock()
		if c := ArgsString(args, "channel"); c != "" {
			channel = c
		}
		if c := ArgsString(args, "chat_id"); c != "" {
			chatID = c
		}
		if channel == "" {
			channel = "cli"
		}

		id := fmt.Sprintf("task_%d", time.Now().UnixMilli())
		err := t.service.Add(cron.Task{
			ID:       id,
			Name:     name,
			Message:  message,
			CronExpr: expr,
			Interval: time.Duration(interval) * time.Second,
			Channel:  channel,
			ChatID:   chatID,
			Enabled:  true,
		})
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Task created: %s (ID: %s)", name, id), nil

	case "remove":
		id := ArgsString(args, "id")
		if id == "" {
			return "Error: id is required for remove.", nil
		}
		t.service.Remove(id)
		return fmt.Sprintf("Task removed: %s", id), nil

	default:
		return "Unknown action. Use: list, add, remove.", nil
	}
}

var _ domain.ContextualTool = (*CronTool)(nil)
