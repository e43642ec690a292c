package domain

import (
	"strings"
	"time"
)

// SystemChannel marks messages produced inside the process (subagents,
// cron) rather than by a chat transport. For these messages ChatID holds
// the real destination as "channel:chat_id".
const SystemChannel = "system"

type InboundMessage struct {
	Channel   string
	ChatID    string
	SenderID  string
	Content   string
	Media     []string
	Metadata  map[string]string
	Timestamp time.Time
}

// SessionKey identifies the conversation this message belongs to.
func (m InboundMessage) SessionKey() string {
	return m.Channel + ":" + m.ChatID
}

// Destination resolves the channel and chat a reply should go to. For
// system messages the composite ChatID is split back into its parts; a
// bare ChatID falls back to the cli channel.
func (m InboundMessage) Destination() (channel, chatID string) {
	if m.Channel != SystemChannel {
		return m.Channel, m.ChatID
	}
	if i := strings.Index(m.ChatID, ":"); i >= 0 {
		return m.ChatID[:i], m.ChatID[i+1:]
	}
	return "cli", m.ChatID
}

type OutboundMessage struct {
	Channel string
	ChatID  string
	Content string
	Format  string // text | markdown
}
