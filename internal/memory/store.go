package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ahmedgamalalzatary/nanobot/internal/domain"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements domain.SessionStore and domain.MemoryStore on a
// single SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection for SQLite
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db, logger: logger}

	if err := RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return store, nil
}

// --- domain.SessionStore ---

func (s *SQLiteStore) GetSession(ctx context.Context, key string) (*domain.Session, error) {
	var sess domain.Session
	err := s.db.QueryRowContext(ctx,
		`SELECT key, last_consolidated, created_at, updated_at FROM sessions WHERE key = ?`, key,
	).Scan(&sess.Key, &sess.LastConsolidated, &sess.CreatedAt, &sess.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, tools_used, created_at
		 FROM session_messages WHERE session_key = ? ORDER BY id ASC`, key,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var m domain.SessionMessage
		var tools sql.NullString
		if err := rows.Scan(&m.Role, &m.Content, &tools, &m.Timestamp); err != nil {
			return nil, err
		}
		if tools.Valid && tools.String != "" {
			if err := json.Unmarshal([]byte(tools.String), &m.ToolsUsed); err != nil {
				s.logger.Warn("bad tools_used payload", "session", key, "error", err)
			}
		}
		sess.Messages = append(sess.Messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &sess, nil
}

// SaveSession rewrites the whole session. Sessions stay small (the
// consolidation window bounds them) so a full rewrite keeps the store
// trivially consistent.
func (s *SQLiteStore) SaveSession(ctx context.Context, sess *domain.Session) error {
	now := time.Now()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	sess.UpdatedAt = now

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO sessions (key, last_consolidated, created_at, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET last_consolidated = excluded.last_consolidated, updated_at = excluded.updated_at`,
		sess.Key, sess.LastConsolidated, sess.CreatedAt, sess.UpdatedAt,
	)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM session_messages WHERE session_key = ?`, sess.Key); err != nil {
		return err
	}

	for _, m := range sess.Messages {
		var tools string
		if len(m.ToolsUsed) > 0 {
			data, err := json.Marshal(m.ToolsUsed)
			if err != nil {
				return err
			}
			tools = string(data)
		}
		ts := m.Timestamp
		if ts.IsZero() {
			ts = now
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO session_messages (session_key, role, content, tools_used, created_at)
			 VALUES (?, ?, ?, ?, ?)`,
			sess.Key, m.Role, m.Content, tools, ts,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) DeleteSession(ctx context.Context, key string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM session_messages WHERE session_key = ?`, key); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE key = ?`, key); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) ListSessions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM sessions ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// --- domain.MemoryStore ---

func (s *SQLiteStore) ReadLongTerm(ctx context.Context) (string, error) {
	var content string
	err := s.db.QueryRowContext(ctx,
		`SELECT content FROM long_term_memory WHERE id = 1`).Scan(&content)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return content, nil
}

func (s *SQLiteStore) WriteLongTerm(ctx context.Context, content string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO long_term_memory (id, content, updated_at) VALUES (1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET content = excluded.content, updated_at = excluded.updated_at`,
		content, time.Now(),
	)
	return err
}

func (s *SQLiteStore) AppendHistory(ctx context.Context, entry string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO history_log (entry, created_at) VALUES (?, ?)`,
		entry, time.Now(),
	)
	return err
}

func (s *SQLiteStore) RecentHistory(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT entry FROM history_log ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []string
	for rows.Next() {
		var e string
		if err := rows.Scan(&e); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to chronological order
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var (
	_ domain.SessionStore = (*SQLiteStore)(nil)
	_ domain.MemoryStore  = (*SQLiteStore)(nil)
)
