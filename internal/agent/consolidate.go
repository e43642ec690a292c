package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ahmedgamalalzatary/nanobot/internal/domain"
)

const defaultMemoryWindow = 50

// Consolidator archives old session messages into long-term memory. The
// model itself turns the transcript leaving the window into a history
// log entry plus an updated memory document.
type Consolidator struct {
	provider domain.Provider
	memory   domain.MemoryStore
	sessions *SessionManager
	model    string
	window   int
	logger   *slog.Logger
}

type ConsolidatorConfig struct {
	Provider domain.Provider
	Memory   domain.MemoryStore
	Sessions *SessionManager
	Model    string
	Window   int
	Logger   *slog.Logger
}

func NewConsolidator(cfg ConsolidatorConfig) *Consolidator {
	if cfg.Window < 2 {
		cfg.Window = defaultMemoryWindow
	}
	return &Consolidator{
		provider: cfg.Provider,
		memory:   cfg.Memory,
		sessions: cfg.Sessions,
		model:    cfg.Model,
		window:   cfg.Window,
		logger:   cfg.Logger,
	}
}

type consolidationResult struct {
	HistoryEntry string `json:"history_entry"`
	MemoryUpdate string `json:"memory_update"`
}

// Run consolidates snap's messages. snap is a private copy; the live
// session is only touched through the session manager's cursor, and
// only after every write has succeeded, so any failure leaves the
// cursor where it was. With archiveAll the whole transcript is consumed
// and the cursor is not advanced (the session was already reset).
func (c *Consolidator) Run(ctx context.Context, snap *domain.Session, archiveAll bool) error {
	var old []domain.SessionMessage
	keep := 0
	if archiveAll {
		old = snap.Messages
	} else {
		keep = c.window / 2
		if len(snap.Messages) <= keep {
			return nil
		}
		end := len(snap.Messages) - keep
		if end <= snap.LastConsolidated {
			return nil
		}
		old = snap.Messages[snap.LastConsolidated:end]
	}
	if len(old) == 0 {
		return nil
	}
	c.logger.Info("memory consolidation started",
		"session", snap.Key,
		"total", len(snap.Messages),
		"archiving", len(old),
		"keep", keep,
	)

	current, err := c.memory.ReadLongTerm(ctx)
	if err != nil {
		return fmt.Errorf("read long-term memory: %w", err)
	}

	resp, err := c.provider.Chat(ctx, domain.ChatRequest{
		Messages: []domain.Message{
			{Role: "system", Content: "You are a memory consolidation agent. Respond only with valid JSON."},
			{Role: "user", Content: consolidationPrompt(current, formatTranscript(old))},
		},
		Model: c.model,
	})
	if err != nil {
		return fmt.Errorf("consolidation chat: %w", err)
	}

	text := strings.TrimSpace(resp.Content)
	if text == "" {
		c.logger.Warn("memory consolidation: empty model response", "session", snap.Key)
		return nil
	}
	text = stripCodeFence(text)

	var result consolidationResult
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		c.logger.Warn("memory consolidation: unparseable model response",
			"session", snap.Key, "error", err)
		return nil
	}

	if result.HistoryEntry != "" {
		if err := c.memory.AppendHistory(ctx, result.HistoryEntry); err != nil {
			return fmt.Errorf("append history: %w", err)
		}
	}
	if result.MemoryUpdate != "" && result.MemoryUpdate != current {
		if err := c.memory.WriteLongTerm(ctx, result.MemoryUpdate); err != nil {
			return fmt.Errorf("write long-term memory: %w", err)
		}
	}

	if !archiveAll {
		if err := c.sessions.AdvanceCursor(ctx, snap.Key, len(snap.Messages)-keep); err != nil {
			return fmt.Errorf("advance cursor: %w", err)
		}
	}

	c.logger.Info("memory consolidation done", "session", snap.Key, "archived", len(old))
	return nil
}

// formatTranscript renders messages as one history line each, skipping
// empty contents. Timestamps are shortened to minute precision.
func formatTranscript(msgs []domain.SessionMessage) string {
	var lines []string
	for _, m := range msgs {
		if m.Content == "" {
			continue
		}
		tools := ""
		if len(m.ToolsUsed) > 0 {
			tools = " [tools: " + strings.Join(m.ToolsUsed, ", ") + "]"
		}
		lines = append(lines, fmt.Sprintf("[%s] %s%s: %s",
			m.Timestamp.Format("2006-01-02T15:04"),
			strings.ToUpper(m.Role),
			tools,
			m.Content,
		))
	}
	return strings.Join(lines, "\n")
}

func consolidationPrompt(currentMemory, conversation string) string {
	if currentMemory == "" {
		currentMemory = "(empty)"
	}
	return fmt.Sprintf(`You are a memory consolidation agent. Process this conversation and return a JSON object with exactly two keys:

1. "history_entry": A paragraph (2-5 sentences) summarizing the key events/decisions/topics. Start with a timestamp like [YYYY-MM-DD HH:MM]. Include enough detail to be useful when found by grep search later.

2. "memory_update": The updated long-term memory content. Add any new facts: user location, preferences, personal info, habits, project context, technical decisions, tools/services used. If nothing new, return the existing content unchanged.

## Current Long-term Memory
%s

## Conversation to Process
%s

Respond with ONLY valid JSON, no markdown fences.`, currentMemory, conversation)
}

// stripCodeFence unwraps a fenced block the model may emit despite
// instructions.
func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if i := strings.Index(s, "\n"); i >= 0 {
		s = s[i+1:]
	}
	if i := strings.LastIndex(s, "```"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
