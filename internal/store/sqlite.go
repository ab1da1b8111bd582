package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/lexivoice/internal/domain"
	_ "modernc.org/sqlite"
)

const (
	maxWriteRetries = 3
	baseRetryDelay  = 50 * time.Millisecond
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex // serializes writers to avoid SQLITE_BUSY
}

var openDB = sql.Open

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := openDB("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS learner_sessions (
		user_id TEXT PRIMARY KEY,
		flashcards_json TEXT NOT NULL,
		cursor INTEGER NOT NULL DEFAULT 0,
		messages_json TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_learner_sessions_updated ON learner_sessions(updated_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// GetSession retrieves a session snapshot for a user.
func (s *SQLiteStore) GetSession(ctx context.Context, userID string) (*domain.SessionSnapshot, error) {
	query := `
		SELECT user_id, flashcards_json, cursor, messages_json, created_at, updated_at
		FROM learner_sessions WHERE user_id = ?`

	var (
		snap           domain.SessionSnapshot
		flashcardsJSON string
		messagesJSON   string
		createdAt      int64
		updatedAt      int64
	)
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&snap.UserID, &flashcardsJSON, &snap.Cursor, &messagesJSON, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan learner session: %w", err)
	}

	if err := json.Unmarshal([]byte(flashcardsJSON), &snap.Flashcards); err != nil {
		return nil, fmt.Errorf("decode flashcards: %w", err)
	}
	if err := json.Unmarshal([]byte(messagesJSON), &snap.Messages); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	snap.CreatedAt = time.Unix(createdAt, 0)
	snap.UpdatedAt = time.Unix(updatedAt, 0)
	return &snap, nil
}

// UpsertSession creates or replaces a session snapshot. Lock contention is
// retried with exponential backoff.
func (s *SQLiteStore) UpsertSession(ctx context.Context, snap *domain.SessionSnapshot) error {
	flashcards, err := json.Marshal(snap.Flashcards)
	if err != nil {
		return fmt.Errorf("encode flashcards: %w", err)
	}
	messages := snap.Messages
	if messages == nil {
		messages = []domain.Message{}
	}
	messagesJSON, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("encode messages: %w", err)
	}

	createdAt := snap.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	updatedAt := snap.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	query := `
		INSERT INTO learner_sessions (user_id, flashcards_json, cursor, messages_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			flashcards_json = excluded.flashcards_json,
			cursor = excluded.cursor,
			messages_json = excluded.messages_json,
			updated_at = excluded.updated_at`

	return s.withRetry(ctx, "upsert learner session", snap.UserID, func() error {
		_, err := s.db.ExecContext(ctx, query,
			snap.UserID, string(flashcards), snap.Cursor, string(messagesJSON),
			createdAt.Unix(), updatedAt.Unix(),
		)
		return err
	})
}

// CleanupExpiredSessions removes snapshots older than ttl.
func (s *SQLiteStore) CleanupExpiredSessions(ctx context.Context, ttl time.Duration) (int64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	threshold := time.Now().Add(-ttl).Unix()
	result, err := s.db.ExecContext(ctx, `DELETE FROM learner_sessions WHERE updated_at < ?`, threshold)
	if err != nil {
		return 0, fmt.Errorf("cleanup expired sessions: %w", err)
	}
	return result.RowsAffected()
}

func (s *SQLiteStore) withRetry(ctx context.Context, op, userID string, fn func() error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var err error
	for i := 0; i < maxWriteRetries; i++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !isConflictError(err) || i == maxWriteRetries-1 {
			break
		}
		delay := baseRetryDelay * time.Duration(1<<i) // 50ms, 100ms
		slog.Debug("SQLite busy, retrying", "op", op, "user_id", userID, "attempt", i+1, "delay", delay)
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", op, ctx.Err())
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
