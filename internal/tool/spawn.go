package tool

import (
	"context"
	"fmt"
	"sync"

	"github.com/ahmedgamalalzatary/nanobot/internal/domain"
)

// Spawner launches a background subagent and returns its ID. Implemented
// by the subagent manager; kept as a local interface so the tool package
// stays decoupled from it.
type Spawner interface {
	Spawn(ctx context.Context, task, originChannel, originChatID string) (string, error)
}

// SpawnTool hands a task to a background subagent. The subagent announces
// its result back into the current conversation when it finishes.
type SpawnTool struct {
	spawner Spawner

	mu      sync.Mutex
	channel string
	chatID  string
}

func NewSpawnTool(spawner Spawner) *SpawnTool {
	return &SpawnTool{spawner: spawner}
}

func (t *SpawnTool) Name() string { return "spawn" }
func (t *SpawnTool) Description() string {
	return "Spawn a background subagent to work on a task independently. Returns immediately; the result is announced to the conversation when ready."
}
func (t *SpawnTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"task": {Type: "string", Description: "Complete, self-contained task description for the subagent"},
		},
		[]string{"task"},
	)
}

func (t *SpawnTool) SetContext(channel, chatID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.channel = channel
	t.chatID = chatID
}

func (t *SpawnTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	task := ArgsString(args, "task")
	if task == "" {
		return "", fmt.Errorf("missing argument: task")
	}

	t.mu.Lock()
	channel, chatID := t.channel, t.chatID
	t.mu.Unlock()
	if channel == "" {
		channel = "cli"
	}

	id, err := t.spawner.Spawn(ctx, task, channel, chatID)
	if err != nil {
		return "", fmt.Errorf("spawn subagent: %w", err)
	}
	return fmt.Sprintf("Subagent %s started. Its result will be announced here when done.", id), nil
}

var _ domain.ContextualTool = (*SpawnTool)(nil)
