package tool

import (
	"context"
	"fmt"
	"sync"

	"github.com/ahmedgamalalzatary/nanobot/internal/domain"
)

// MessageTool sends a message to the user without ending the turn, so the
// agent can report progress during long multi-step work. It targets the
// current conversation unless an explicit destination is given.
type MessageTool struct {
	bus domain.MessageBus

	mu      sync.Mutex
	channel string
	chatID  string
}

func NewMessageTool(bus domain.MessageBus) *MessageTool {
	return &MessageTool{bus: bus}
}

func (t *MessageTool) Name() string { return "message" }
func (t *MessageTool) Description() string {
	return "Send a message to the user immediately, before the turn finishes. Use for progress updates during long tasks."
}
func (t *MessageTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"content": {Type: "string", Description: "Message text to send"},
			"channel": {Type: "string", Description: "Destination channel (defaults to the current conversation)"},
			"chat_id": {Type: "string", Description: "Destination chat ID (defaults to the current conversation)"},
		},
		[]string{"content"},
	)
}

func (t *MessageTool) SetContext(channel, chatID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.channel = channel
	t.chatID = chatID
}

func (t *MessageTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	content := ArgsString(args, "content")
	if content == "" {
		return "", fmt.Errorf("missing argument: content")
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
	if channel == "" || chatID == "" {
		return "", fmt.Errorf("no destination: tool has no conversation context and none was given")
	}

	t.bus.SendOutbound(domain.OutboundMessage{
		Channel: channel,
		ChatID:  chatID,
		Content: content,
	})
	return fmt.Sprintf("Message sent to %s:%s", channel, chatID), nil
}

var _ domain.ContextualTool = (*MessageTool)(nil)
