package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ashureev/lexivoice/internal/store"
)

// Store maps user identifiers to their sessions. Sessions live for the
// lifetime of the process; when a repository is configured they are
// restored from it on first access and written back by Save.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
	repo     store.Repository
	logger   *slog.Logger
}

// NewStore creates a session store. repo may be nil for a purely
// in-memory store.
func NewStore(repo store.Repository, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		sessions: make(map[string]*Session),
		repo:     repo,
		logger:   logger,
	}
}

// GetOrCreate returns the session for userID, creating it on first access.
// Repeated calls with the same id return the same instance.
func (s *Store) GetOrCreate(ctx context.Context, userID string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[userID]; ok {
		return sess
	}

	sess := s.load(ctx, userID)
	s.sessions[userID] = sess
	s.logger.Info("Session created", "user_id", userID, "flashcards", len(sess.Flashcards()))
	return sess
}

func (s *Store) load(ctx context.Context, userID string) *Session {
	if s.repo == nil {
		return New(userID)
	}
	snap, err := s.repo.GetSession(ctx, userID)
	if err != nil {
		s.logger.Warn("Failed to load persisted session, starting fresh", "user_id", userID, "error", err)
		return New(userID)
	}
	if snap == nil {
		return New(userID)
	}
	return FromSnapshot(snap)
}

// Save persists the session when a repository is configured.
func (s *Store) Save(ctx context.Context, sess *Session) error {
	if s.repo == nil {
		return nil
	}
	if err := s.repo.UpsertSession(ctx, sess.Snapshot()); err != nil {
		return fmt.Errorf("save session %s: %w", sess.UserID, err)
	}
	return nil
}

// Len returns the number of sessions held in memory.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
