package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ahmedgamalalzatary/nanobot/internal/domain"
)

// SessionManager fronts the session store with a cache of live sessions.
// It owns the consolidation cursor invariant: LastConsolidated never
// moves backward and never points past the end of the message slice.
type SessionManager struct {
	store  domain.SessionStore
	logger *slog.Logger

	mu   sync.Mutex
	live map[string]*domain.Session
}

func NewSessionManager(store domain.SessionStore, logger *slog.Logger) *SessionManager {
	return &SessionManager{
		store:  store,
		logger: logger,
		live:   make(map[string]*domain.Session),
	}
}

// GetOrCreate returns the live session for key, loading it from the
// store or creating a fresh one.
func (m *SessionManager) GetOrCreate(ctx context.Context, key string) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getLocked(ctx, key)
}

func (m *SessionManager) getLocked(ctx context.Context, key string) (*domain.Session, error) {
	if s, ok := m.live[key]; ok {
		return s, nil
	}
	s, err := m.store.GetSession(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", key, err)
	}
	if s == nil {
		now := time.Now()
		s = &domain.Session{Key: key, CreatedAt: now, UpdatedAt: now}
		m.logger.Info("created new session", "session", key)
	}
	m.live[key] = s
	return s, nil
}

// Save persists the session's current state.
func (m *SessionManager) Save(ctx context.Context, s *domain.Session) error {
	s.UpdatedAt = time.Now()
	return m.store.SaveSession(ctx, s)
}

// Invalidate drops the cached copy so the next access reloads from the
// store.
func (m *SessionManager) Invalidate(key string) {
	m.mu.Lock()
	delete(m.live, key)
	m.mu.Unlock()
}

// Clear resets a session to empty, persists the reset, and evicts the
// cached copy. The pre-reset state is returned as a snapshot so the
// caller can archive it.
func (m *SessionManager) Clear(ctx context.Context, key string) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.getLocked(ctx, key)
	if err != nil {
		return nil, err
	}
	snap := s.Snapshot()

	s.Messages = nil
	s.LastConsolidated = 0
	s.UpdatedAt = time.Now()
	if err := m.store.SaveSession(ctx, s); err != nil {
		return nil, fmt.Errorf("save cleared session %s: %w", key, err)
	}
	delete(m.live, key)

	m.logger.Info("session cleared", "session", key, "archived_messages", len(snap.Messages))
	return snap, nil
}

// AdvanceCursor moves a session's consolidation cursor forward and
// persists it. The cursor is clamped to the live message count, which
// may differ from the caller's snapshot; calls that would move it
// backward are ignored.
func (m *SessionManager) AdvanceCursor(ctx context.Context, key string, cursor int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.getLocked(ctx, key)
	if err != nil {
		return err
	}
	if cursor > len(s.Messages) {
		cursor = len(s.Messages)
	}
	if cursor <= s.LastConsolidated {
		return nil
	}
	s.LastConsolidated = cursor
	s.UpdatedAt = time.Now()
	return m.store.SaveSession(ctx, s)
}
