package agent

import (
	"context"
	"strings"

	"github.com/ahmedgamalalzatary/nanobot/internal/domain"
)

const helpReply = "nanobot commands:\n/new - Start a new conversation\n/help - Show available commands"

// handleCommand intercepts slash commands before any provider call.
// Only exact /new and /help are commands; anything else goes to the
// model untouched.
func (l *Loop) handleCommand(ctx context.Context, msg domain.InboundMessage) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(msg.Content)) {
	case "/new":
		snap, err := l.sessions.Clear(ctx, msg.SessionKey())
		if err != nil {
			l.logger.Error("session reset failed", "session", msg.SessionKey(), "error", err)
			return "Sorry, I could not reset the session. Please try again.", true
		}
		if len(snap.Messages) > 0 {
			l.supervisor.Go("consolidate:"+snap.Key, func(jobCtx context.Context) {
				if err := l.consolidator.Run(jobCtx, snap, true); err != nil {
					l.logger.Error("memory consolidation failed", "session", snap.Key, "error", err)
				}
			})
		}
		return "New session started. Memory consolidation in progress.", true

	case "/help":
		return helpReply, true
	}
	return "", false
}
