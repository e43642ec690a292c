package agent

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/ahmedgamalalzatary/nanobot/internal/domain"
)

// PromptBuilder assembles the system prompt and the message list for a
// provider call. Long-term memory and recent conversation summaries are
// folded into the system prompt on every turn.
type PromptBuilder struct {
	workspace string
	memory    domain.MemoryStore
	extra     string
	logger    *slog.Logger
}

func NewPromptBuilder(workspace string, memory domain.MemoryStore, extra string, logger *slog.Logger) *PromptBuilder {
	return &PromptBuilder{
		workspace: workspace,
		memory:    memory,
		extra:     extra,
		logger:    logger,
	}
}

func (p *PromptBuilder) BuildSystemPrompt(ctx context.Context, channel, chatID string) string {
	workspacePath, err := filepath.Abs(p.workspace)
	if err != nil {
		workspacePath = p.workspace
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf(`# nanobot

You are nanobot, a helpful AI assistant with access to tools. You can:
- Read, write, and edit files in the workspace
- Execute shell commands
- Search the web and fetch web page content
- Send messages proactively and spawn background subagents
- Manage scheduled tasks (cron)

## Current Time
%s

## Runtime
%s/%s, %s

## Workspace
%s

## Session
Channel: %s | Chat ID: %s

## Rules
1. When the user asks you to DO something, use the appropriate tool instead of describing what you would do.
2. Use web_search to search the internet and web_fetch to read a specific URL.
3. After tool execution, present results clearly. Do not mention tool names to the user.
4. Respond in the same language the user writes in.
5. Be helpful, accurate, and concise.`,
		time.Now().Format("2006-01-02 15:04 (Monday)"),
		runtime.GOOS, runtime.GOARCH, runtime.Version(),
		workspacePath,
		channel, chatID,
	))

	if p.extra != "" {
		sb.WriteString("\n\n## Custom Instructions\n")
		sb.WriteString(p.extra)
	}

	if memoryDoc, err := p.memory.ReadLongTerm(ctx); err != nil {
		p.logger.Warn("failed to read long-term memory for prompt", "error", err)
	} else if memoryDoc != "" {
		sb.WriteString("\n\n## Long-term Memory\n")
		sb.WriteString(memoryDoc)
	}

	if entries, err := p.memory.RecentHistory(ctx, 5); err != nil {
		p.logger.Warn("failed to read history for prompt", "error", err)
	} else if len(entries) > 0 {
		sb.WriteString("\n\n## Recent Conversation Summaries\n")
		for _, e := range entries {
			sb.WriteString("- ")
			sb.WriteString(e)
			sb.WriteByte('\n')
		}
	}

	return sb.String()
}

// BuildMessages constructs [system + history + current user message].
func (p *PromptBuilder) BuildMessages(ctx context.Context, history []domain.SessionMessage, current, channel, chatID string) []domain.Message {
	messages := []domain.Message{
		{Role: "system", Content: p.BuildSystemPrompt(ctx, channel, chatID)},
	}
	for _, m := range history {
		messages = append(messages, domain.Message{Role: m.Role, Content: m.Content})
	}
	return append(messages, domain.Message{Role: "user", Content: current})
}
