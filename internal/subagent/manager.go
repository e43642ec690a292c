// Package subagent runs background workers that share the agent's
// iteration engine but hold a restricted tool set. A subagent reports
// back by publishing a system-channel message addressed to the
// conversation that spawned it.
package subagent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ahmedgamalalzatary/nanobot/internal/agent"
	"github.com/ahmedgamalalzatary/nanobot/internal/domain"
	"github.com/ahmedgamalalzatary/nanobot/internal/fetch"
	"github.com/ahmedgamalalzatary/nanobot/internal/tool"
)

const (
	defaultMaxIterations = 15

	// runTimeout bounds one subagent run end-to-end.
	runTimeout = 10 * time.Minute
)

type Manager struct {
	provider   domain.Provider
	bus        domain.MessageBus
	supervisor *agent.Supervisor
	logger     *slog.Logger

	workspace     string
	model         string
	maxTokens     int
	temperature   float64
	maxIterations int

	shell        tool.ShellConfig
	searchAPIKey string
	searchMax    int
	fetchMax     int
}

type Config struct {
	Provider   domain.Provider
	Bus        domain.MessageBus
	Supervisor *agent.Supervisor
	Logger     *slog.Logger

	Workspace     string
	Model         string
	MaxTokens     int
	Temperature   float64
	MaxIterations int

	Shell        tool.ShellConfig
	SearchAPIKey string
	SearchMax    int
	FetchMax     int
}

func NewManager(cfg Config) *Manager {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaultMaxIterations
	}
	return &Manager{
		provider:      cfg.Provider,
		bus:           cfg.Bus,
		supervisor:    cfg.Supervisor,
		logger:        cfg.Logger,
		workspace:     cfg.Workspace,
		model:         cfg.Model,
		maxTokens:     cfg.MaxTokens,
		temperature:   cfg.Temperature,
		maxIterations: cfg.MaxIterations,
		shell:         cfg.Shell,
		searchAPIKey:  cfg.SearchAPIKey,
		searchMax:     cfg.SearchMax,
		fetchMax:      cfg.FetchMax,
	}
}

// Spawn starts a detached subagent for task and returns its ID. The
// spawning turn never waits for it.
func (m *Manager) Spawn(ctx context.Context, task, originChannel, originChatID string) (string, error) {
	if task == "" {
		return "", fmt.Errorf("empty task")
	}
	id := uuid.NewString()[:8]
	m.logger.Info("spawning subagent", "id", id, "origin", originChannel+":"+originChatID)

	m.supervisor.Go("subagent:"+id, func(jobCtx context.Context) {
		m.run(jobCtx, id, task, originChannel, originChatID)
	})
	return id, nil
}

func (m *Manager) run(ctx context.Context, id, task, originChannel, originChatID string) {
	ctx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()

	result, err := m.execute(ctx, task)
	status := "completed"
	if err != nil {
		m.logger.Error("subagent failed", "id", id, "error", err)
		status = "failed"
		result = err.Error()
	} else if result == "" {
		result = "(no output)"
	}

	// The announcement re-enters the loop as a system message; the
	// composite ChatID carries the destination.
	m.bus.Publish(domain.InboundMessage{
		Channel:   domain.SystemChannel,
		ChatID:    originChannel + ":" + originChatID,
		SenderID:  "subagent:" + id,
		Content:   fmt.Sprintf("Subagent task %s.\nTask: %s\nResult: %s", status, summarize(task), result),
		Timestamp: time.Now(),
	})
}

// execute drives the bounded iteration loop over the restricted
// registry and returns the subagent's final answer.
func (m *Manager) execute(ctx context.Context, task string) (string, error) {
	registry := m.buildRegistry()

	messages := []domain.Message{
		{Role: "system", Content: m.systemPrompt()},
		{Role: "user", Content: task},
	}

	for iteration := 0; iteration < m.maxIterations; iteration++ {
		resp, err := m.provider.Chat(ctx, domain.ChatRequest{
			Messages:    messages,
			Tools:       registry.Definitions(),
			Model:       m.model,
			MaxTokens:   m.maxTokens,
			Temperature: m.temperature,
		})
		if err != nil {
			return "", fmt.Errorf("chat completion: %w", err)
		}

		if !resp.HasToolCalls() {
			return resp.Content, nil
		}

		messages = append(messages, domain.Message{
			Role:      "assistant",
			Content:   resp.Content,
			Reasoning: resp.Reasoning,
			ToolCalls: resp.ToolCalls,
		})
		for _, tc := range resp.ToolCalls {
			result := registry.Execute(ctx, tc.Name, tc.Arguments)
			messages = append(messages, domain.Message{
				Role:       "tool",
				Content:    result,
				ToolCallID: tc.ID,
				ToolName:   tc.Name,
			})
		}
		messages = append(messages, domain.Message{
			Role:    "user",
			Content: "Reflect on the results and decide next steps.",
		})
	}

	return "", fmt.Errorf("iteration budget exhausted without a final answer")
}

// buildRegistry assembles the restricted tool set: files, shell, and
// web access, but no messaging, spawning, or scheduling.
func (m *Manager) buildRegistry() *tool.Registry {
	registry := tool.NewRegistry(m.logger)
	registry.Register(tool.NewReadFileTool(m.workspace))
	registry.Register(tool.NewWriteFileTool(m.workspace))
	registry.Register(tool.NewEditFileTool(m.workspace))
	registry.Register(tool.NewListDirTool(m.workspace))
	registry.Register(tool.NewShellTool(m.shell))
	registry.Register(tool.NewWebSearchTool(m.searchAPIKey, m.searchMax))
	registry.Register(fetch.NewTool(fetch.NewFetcher(fetch.NewValidator()), m.fetchMax))
	return registry
}

func (m *Manager) systemPrompt() string {
	return fmt.Sprintf(`# nanobot subagent

You are a background worker spawned by nanobot to complete one task.
You have file, shell, and web tools. You cannot message the user or
spawn further subagents.

## Current Time
%s

## Workspace
%s

## Rules
1. Work the task to completion, then reply with a concise result.
2. Your final reply is reported back to the main conversation verbatim.
3. Do not ask questions; decide and act.`,
		time.Now().Format("2006-01-02 15:04 (Monday)"),
		m.workspace,
	)
}

func summarize(task string) string {
	task = strings.TrimSpace(task)
	if len(task) > 120 {
		return task[:120] + "..."
	}
	return task
}
