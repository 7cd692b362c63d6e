package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/veloria-ai/veloria/internal/quota"
)

const createTablesSQL = `
CREATE TABLE IF NOT EXISTS users (
    id            TEXT PRIMARY KEY,
    tier          TEXT NOT NULL,
    message_count INTEGER NOT NULL DEFAULT 0,
    updated_at    TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS conversations (
    user_id       TEXT PRIMARY KEY,
    summary       TEXT NOT NULL DEFAULT '',
    session_turns INTEGER NOT NULL DEFAULT 0,
    history       TEXT NOT NULL DEFAULT '[]',
    updated_at    TEXT NOT NULL
);
`

// SQLiteStore implements Store backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// DefaultDBPath returns the default database path (~/.local/share/veloria/veloria.db).
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local", "share", "veloria", "veloria.db"), nil
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and ensures
// the schema exists.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL keeps readers off the writer's back and makes the per-turn commit cheap.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec(createTablesSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) User(ctx context.Context, id string) (*quota.User, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, tier, message_count FROM users WHERE id = ?", id)

	var u quota.User
	var tier string
	err := row.Scan(&u.ID, &tier, &u.MessageCount)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user %s: %w", id, ErrUnknownUser)
	}
	if err != nil {
		return nil, fmt.Errorf("load user %s: %w", id, err)
	}

	u.Tier, err = quota.ParseTier(tier)
	if err != nil {
		return nil, fmt.Errorf("user %s: %w", id, err)
	}
	return &u, nil
}

func (s *SQLiteStore) SaveUser(ctx context.Context, u *quota.User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO users (id, tier, message_count, updated_at)
		VALUES (?, ?, ?, ?)`,
		u.ID, string(u.Tier), u.MessageCount, time.Now().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save user %s: %w", u.ID, err)
	}
	return nil
}

func (s *SQLiteStore) Conversation(ctx context.Context, userID string) (*ConversationState, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT summary, session_turns, history FROM conversations WHERE user_id = ?", userID)

	var conv ConversationState
	var historyJSON string
	err := row.Scan(&conv.Summary, &conv.SessionTurns, &historyJSON)
	if err == sql.ErrNoRows {
		return NewConversationState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation %s: %w", userID, err)
	}

	if err := json.Unmarshal([]byte(historyJSON), &conv.History); err != nil {
		return nil, fmt.Errorf("unmarshal history %s: %w", userID, err)
	}
	return &conv, nil
}

// SaveTurn writes both records inside one transaction so a crash mid-commit
// never leaves a half-written turn visible.
func (s *SQLiteStore) SaveTurn(ctx context.Context, u *quota.User, conv *ConversationState) error {
	historyJSON, err := json.Marshal(conv.History)
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin turn commit: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().Format(time.RFC3339Nano)
	if _, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO users (id, tier, message_count, updated_at)
		VALUES (?, ?, ?, ?)`,
		u.ID, string(u.Tier), u.MessageCount, now,
	); err != nil {
		return fmt.Errorf("save user %s: %w", u.ID, err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO conversations (user_id, summary, session_turns, history, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		u.ID, conv.Summary, conv.SessionTurns, string(historyJSON), now,
	); err != nil {
		return fmt.Errorf("save conversation %s: %w", u.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit turn %s: %w", u.ID, err)
	}
	return nil
}

func (s *SQLiteStore) ListUsers(ctx context.Context) ([]quota.User, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, tier, message_count FROM users ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []quota.User
	for rows.Next() {
		var u quota.User
		var tier string
		if err := rows.Scan(&u.ID, &tier, &u.MessageCount); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		if u.Tier, err = quota.ParseTier(tier); err != nil {
			return nil, fmt.Errorf("user %s: %w", u.ID, err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// Seed applies the demo snapshot when the users table is empty.
func (s *SQLiteStore) Seed(ctx context.Context) error {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&n); err != nil {
		return fmt.Errorf("count users: %w", err)
	}
	if n > 0 {
		return nil
	}

	for _, seed := range DefaultSeed() {
		conv := seed.Conv
		if err := s.SaveTurn(ctx, &seed.User, &conv); err != nil {
			return fmt.Errorf("seed %s: %w", seed.User.ID, err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
