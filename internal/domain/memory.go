package domain

import (
	"context"
	"time"
)

// SessionStore persists conversation sessions and their messages.
type SessionStore interface {
	GetSession(ctx context.Context, key string) (*Session, error)
	SaveSession(ctx context.Context, s *Session) error
	DeleteSession(ctx context.Context, key string) error
	ListSessions(ctx context.Context) ([]string, error)
	Close() error
}

// MemoryStore holds the agent's long-term memory: a single living document
// plus an append-only history log of archived conversation summaries.
type MemoryStore interface {
	ReadLongTerm(ctx context.Context) (string, error)
	WriteLongTerm(ctx context.Context, content string) error
	AppendHistory(ctx context.Context, entry string) error
	RecentHistory(ctx context.Context, limit int) ([]string, error)
}

// Session is one conversation's working state. LastConsolidated is the
// index of the first message not yet archived by memory consolidation; it
// only ever moves forward.
type Session struct {
	Key              string           `json:"key"`
	Messages         []SessionMessage `json:"messages"`
	LastConsolidated int              `json:"last_consolidated"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

type SessionMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	ToolsUsed []string  `json:"tools_used,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Snapshot returns a deep-enough copy for background jobs: the message
// slice is copied so the live session can keep growing underneath.
func (s *Session) Snapshot() *Session {
	msgs := make([]SessionMessage, len(s.Messages))
	copy(msgs, s.Messages)
	return &Session{
		Key:              s.Key,
		Messages:         msgs,
		LastConsolidated: s.LastConsolidated,
		CreatedAt:        s.CreatedAt,
		UpdatedAt:        s.UpdatedAt,
	}
}
