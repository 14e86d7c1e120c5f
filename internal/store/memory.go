package store

import (
	"context"
	"sync"
	"time"

	"github.com/ashureev/zerocode/internal/domain"
)

// MemoryStore is a process-local Repository used by the CLI and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[string]domain.User
	sessions map[string]domain.AssistantSession
}

// NewMemory creates an empty in-memory repository.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]domain.User),
		sessions: make(map[string]domain.AssistantSession),
	}
}

func sessionKey(userID, sessionID string) string {
	return userID + ":" + sessionID
}

// GetUser implements Repository.
func (m *MemoryStore) GetUser(_ context.Context, userID string) (*domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[userID]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

// UpsertUser implements Repository.
func (m *MemoryStore) UpsertUser(_ context.Context, user *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.users[user.UserID]; ok {
		existing.Username = user.Username
		existing.LastSeenAt = user.LastSeenAt
		existing.UpdatedAt = user.UpdatedAt
		m.users[user.UserID] = existing
		return nil
	}
	m.users[user.UserID] = *user
	return nil
}

// UpdateLastSeen implements Repository.
func (m *MemoryStore) UpdateLastSeen(_ context.Context, userID string, lastSeen time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok {
		return nil
	}
	u.LastSeenAt = lastSeen
	u.UpdatedAt = time.Now()
	m.users[userID] = u
	return nil
}

// GetAssistantSession implements Repository.
func (m *MemoryStore) GetAssistantSession(_ context.Context, userID, sessionID string) (*domain.AssistantSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[sessionKey(userID, sessionID)]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

// UpsertAssistantSession implements Repository.
func (m *MemoryStore) UpsertAssistantSession(_ context.Context, session *domain.AssistantSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	s := *session
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = now
	}
	key := sessionKey(s.UserID, s.SessionID)
	if existing, ok := m.sessions[key]; ok {
		s.CreatedAt = existing.CreatedAt
	} else if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	m.sessions[key] = s
	return nil
}

// DeleteAssistantSession implements Repository.
func (m *MemoryStore) DeleteAssistantSession(_ context.Context, userID, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, sessionKey(userID, sessionID))
	return nil
}

// CleanupExpiredSessions implements Repository.
func (m *MemoryStore) CleanupExpiredSessions(_ context.Context, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	threshold := time.Now().Add(-ttl)
	var deleted int64
	for key, s := range m.sessions {
		if s.UpdatedAt.Before(threshold) {
			delete(m.sessions, key)
			deleted++
		}
	}
	return deleted, nil
}

// Ping implements Repository.
func (m *MemoryStore) Ping(context.Context) error { return nil }

// Close implements Repository.
func (m *MemoryStore) Close() error { return nil }

var _ Repository = (*MemoryStore)(nil)
