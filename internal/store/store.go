// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/lexivoice/internal/domain"
)

// Repository defines the interface for persisting learner sessions.
type Repository interface {
	// GetSession retrieves a session snapshot. It returns nil, nil when the
	// user has no persisted session.
	GetSession(ctx context.Context, userID string) (*domain.SessionSnapshot, error)

	// UpsertSession creates or replaces a session snapshot.
	UpsertSession(ctx context.Context, snap *domain.SessionSnapshot) error

	// CleanupExpiredSessions removes snapshots not updated within ttl.
	CleanupExpiredSessions(ctx context.Context, ttl time.Duration) (int64, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
