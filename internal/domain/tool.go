package domain

import "context"

// Tool is the interface for agent capabilities (shell, file ops, search, etc).
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any
	Execute(ctx context.Context, args map[string]any) (string, error)
}

// ContextualTool is an optional extension for tools that need to know
// which conversation the current turn belongs to, e.g. to route proactive
// sends. The loop injects the origin before each tool batch.
type ContextualTool interface {
	Tool
	SetContext(channel, chatID string)
}
