package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ahmedgamalalzatary/nanobot/internal/domain"
	"github.com/ahmedgamalalzatary/nanobot/internal/tool"
)

const (
	defaultMaxIterations = 40

	apologyReply = "Sorry, I encountered an internal error. Please try again."

	// steeringTurn is appended after every tool batch so the model
	// reviews the results before acting again.
	steeringTurn = "Reflect on the results and decide next steps."
)

// Loop is the core agent engine: receive message, call the model,
// execute tool calls, respond.
type Loop struct {
	provider     domain.Provider
	sessions     *SessionManager
	prompt       *PromptBuilder
	tools        *tool.Registry
	consolidator *Consolidator
	supervisor   *Supervisor
	bus          domain.MessageBus
	logger       *slog.Logger

	model         string
	maxTokens     int
	temperature   float64
	maxIterations int
	memoryWindow  int
}

// LoopConfig holds the loop's collaborators and tuning parameters.
type LoopConfig struct {
	Provider     domain.Provider
	Sessions     *SessionManager
	Prompt       *PromptBuilder
	Tools        *tool.Registry
	Consolidator *Consolidator
	Supervisor   *Supervisor
	Bus          domain.MessageBus
	Logger       *slog.Logger

	Model         string
	MaxTokens     int
	Temperature   float64
	MaxIterations int
	MemoryWindow  int
}

func NewLoop(cfg LoopConfig) *Loop {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaultMaxIterations
	}
	if cfg.MemoryWindow < 2 {
		cfg.MemoryWindow = defaultMemoryWindow
	}
	return &Loop{
		provider:      cfg.Provider,
		sessions:      cfg.Sessions,
		prompt:        cfg.Prompt,
		tools:         cfg.Tools,
		consolidator:  cfg.Consolidator,
		supervisor:    cfg.Supervisor,
		bus:           cfg.Bus,
		logger:        cfg.Logger,
		model:         cfg.Model,
		maxTokens:     cfg.MaxTokens,
		temperature:   cfg.Temperature,
		maxIterations: cfg.MaxIterations,
		memoryWindow:  cfg.MemoryWindow,
	}
}

// Run consumes inbound messages until ctx is cancelled. Messages are
// processed one at a time, end-to-end; only consolidation and subagent
// jobs run detached.
func (l *Loop) Run(ctx context.Context) {
	l.logger.Info("agent loop started", "max_iterations", l.maxIterations)
	inbound := l.bus.Subscribe()
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("agent loop stopping")
			return
		case msg, ok := <-inbound:
			if !ok {
				l.logger.Info("inbound channel closed, agent loop stopping")
				return
			}
			l.processMessage(ctx, msg)
		}
	}
}

// ProcessDirect handles one message synchronously and returns the
// reply. Used by the CLI, which wants a blocking answer instead of a
// bus round trip.
func (l *Loop) ProcessDirect(ctx context.Context, content, channel, chatID string) (string, error) {
	return l.handleMessage(ctx, domain.InboundMessage{
		Channel:   channel,
		ChatID:    chatID,
		SenderID:  "user",
		Content:   content,
		Timestamp: time.Now(),
	})
}

// processMessage runs one turn end-to-end and sends the reply through
// the bus. Panics and errors both collapse into an apology so a bad
// turn never kills the loop.
func (l *Loop) processMessage(ctx context.Context, msg domain.InboundMessage) {
	channel, chatID := msg.Destination()
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("panic while processing message", "channel", msg.Channel, "panic", r)
			l.bus.SendOutbound(domain.OutboundMessage{
				Channel: channel,
				ChatID:  chatID,
				Content: apologyReply,
			})
		}
	}()

	reply, err := l.handleMessage(ctx, msg)
	if err != nil {
		l.logger.Error("message processing failed",
			"channel", msg.Channel, "sender", msg.SenderID, "error", err)
		reply = apologyReply
	}
	if reply == "" {
		return
	}
	l.bus.SendOutbound(domain.OutboundMessage{
		Channel: channel,
		ChatID:  chatID,
		Content: reply,
		Format:  "markdown",
	})
}

func (l *Loop) handleMessage(ctx context.Context, msg domain.InboundMessage) (string, error) {
	if msg.Channel == domain.SystemChannel {
		return l.handleSystemMessage(ctx, msg)
	}

	preview := msg.Content
	if len(preview) > 80 {
		preview = preview[:80] + "..."
	}
	l.logger.Info("processing message",
		"channel", msg.Channel, "sender", msg.SenderID, "preview", preview)

	if reply, handled := l.handleCommand(ctx, msg); handled {
		return reply, nil
	}

	session, err := l.sessions.GetOrCreate(ctx, msg.SessionKey())
	if err != nil {
		return "", fmt.Errorf("session: %w", err)
	}

	// Consolidation works on a snapshot so the live session can keep
	// growing; the cursor only moves once the job fully succeeds.
	if len(session.Messages) > l.memoryWindow {
		snap := session.Snapshot()
		l.supervisor.Go("consolidate:"+snap.Key, func(jobCtx context.Context) {
			if err := l.consolidator.Run(jobCtx, snap, false); err != nil {
				l.logger.Error("memory consolidation failed", "session", snap.Key, "error", err)
			}
		})
	}

	l.tools.SetToolContext(msg.Channel, msg.ChatID)
	messages := l.prompt.BuildMessages(ctx,
		recentHistory(session, l.memoryWindow), msg.Content, msg.Channel, msg.ChatID)

	finalContent, toolsUsed, err := l.runIterations(ctx, messages)
	if err != nil {
		return "", err
	}
	if finalContent == "" {
		finalContent = "I've completed processing but have no response to give."
	}

	now := time.Now()
	session.Messages = append(session.Messages,
		domain.SessionMessage{Role: "user", Content: msg.Content, Timestamp: now},
		domain.SessionMessage{Role: "assistant", Content: finalContent, ToolsUsed: toolsUsed, Timestamp: now},
	)
	if err := l.sessions.Save(ctx, session); err != nil {
		l.logger.Warn("failed to save session", "session", session.Key, "error", err)
	}

	return finalContent, nil
}

// handleSystemMessage folds a system-originated message (cron firing,
// subagent completion) into the conversation it belongs to and routes
// the reply back to that conversation's channel.
func (l *Loop) handleSystemMessage(ctx context.Context, msg domain.InboundMessage) (string, error) {
	l.logger.Info("processing system message", "sender", msg.SenderID)

	channel, chatID := msg.Destination()
	session, err := l.sessions.GetOrCreate(ctx, channel+":"+chatID)
	if err != nil {
		return "", fmt.Errorf("session: %w", err)
	}

	l.tools.SetToolContext(channel, chatID)
	messages := l.prompt.BuildMessages(ctx,
		recentHistory(session, l.memoryWindow), msg.Content, channel, chatID)

	finalContent, _, err := l.runIterations(ctx, messages)
	if err != nil {
		return "", err
	}
	if finalContent == "" {
		finalContent = "Background task completed."
	}

	now := time.Now()
	session.Messages = append(session.Messages,
		domain.SessionMessage{
			Role:      "user",
			Content:   fmt.Sprintf("[System: %s] %s", msg.SenderID, msg.Content),
			Timestamp: now,
		},
		domain.SessionMessage{Role: "assistant", Content: finalContent, Timestamp: now},
	)
	if err := l.sessions.Save(ctx, session); err != nil {
		l.logger.Warn("failed to save session", "session", session.Key, "error", err)
	}

	return finalContent, nil
}

// runIterations drives the bounded provider/tool loop. Tool calls are
// executed sequentially in the order the model issued them; each result
// goes back under the call's ID, followed by a steering turn.
func (l *Loop) runIterations(ctx context.Context, messages []domain.Message) (string, []string, error) {
	var toolsUsed []string

	for iteration := 0; iteration < l.maxIterations; iteration++ {
		resp, err := l.provider.Chat(ctx, domain.ChatRequest{
			Messages:    messages,
			Tools:       l.tools.Definitions(),
			Model:       l.model,
			MaxTokens:   l.maxTokens,
			Temperature: l.temperature,
		})
		if err != nil {
			return "", toolsUsed, fmt.Errorf("chat completion: %w", err)
		}

		if !resp.HasToolCalls() {
			return resp.Content, toolsUsed, nil
		}

		messages = append(messages, domain.Message{
			Role:      "assistant",
			Content:   resp.Content,
			Reasoning: resp.Reasoning,
			ToolCalls: resp.ToolCalls,
		})
		for _, tc := range resp.ToolCalls {
			toolsUsed = append(toolsUsed, tc.Name)
			l.logger.Info("tool call", "tool", tc.Name)
			result := l.tools.Execute(ctx, tc.Name, tc.Arguments)
			messages = append(messages, domain.Message{
				Role:       "tool",
				Content:    result,
				ToolCallID: tc.ID,
				ToolName:   tc.Name,
			})
		}
		messages = append(messages, domain.Message{Role: "user", Content: steeringTurn})
	}

	// Iteration budget exhausted without a final answer.
	return "", toolsUsed, nil
}

// recentHistory returns the window of messages fed back to the model.
func recentHistory(s *domain.Session, window int) []domain.SessionMessage {
	if len(s.Messages) <= window {
		return s.Messages
	}
	return s.Messages[len(s.Messages)-window:]
}
