// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/zerocode/internal/domain"
)

// Repository defines the interface for persisting users and assistant transcripts.
type Repository interface {
	// GetUser retrieves a user by their user ID. It returns nil, nil when absent.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpsertUser creates or updates a user record.
	UpsertUser(ctx context.Context, user *domain.User) error

	// UpdateLastSeen updates the last_seen_at timestamp for a user.
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error

	// GetAssistantSession retrieves the stored transcript of one panel.
	// It returns nil, nil when absent.
	GetAssistantSession(ctx context.Context, userID, sessionID string) (*domain.AssistantSession, error)

	// UpsertAssistantSession creates or replaces the stored transcript of one panel.
	UpsertAssistantSession(ctx context.Context, session *domain.AssistantSession) error

	// DeleteAssistantSession removes the stored transcript of one panel.
	DeleteAssistantSession(ctx context.Context, userID, sessionID string) error

	// CleanupExpiredSessions removes transcripts not updated within ttl.
	CleanupExpiredSessions(ctx context.Context, ttl time.Duration) (int64, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
