package assistant

import (
	"sync"
	"time"

	"github.com/ashureev/zerocode/internal/domain"
	"github.com/ashureev/zerocode/internal/gateway"
	"github.com/google/uuid"
)

// Transcript is the ordered, append-only list of chat messages of one panel.
//
// Message IDs are unique and CreatedAt never decreases along the list, even
// if the wall clock steps backwards.
type Transcript struct {
	mu       sync.RWMutex
	messages []domain.Message
	now      func() time.Time
}

// NewTranscript returns an empty transcript.
func NewTranscript() *Transcript {
	return &Transcript{now: time.Now}
}

// AppendUser appends a user message.
func (t *Transcript) AppendUser(text string) domain.Message {
	return t.append(domain.RoleUser, text, domain.IntentNone)
}

// AppendAssistant appends an assistant message, coercing content to text.
func (t *Transcript) AppendAssistant(content any, intent domain.Intent) domain.Message {
	return t.append(domain.RoleAssistant, gateway.Text(content), intent)
}

func (t *Transcript) append(role domain.Role, text string, intent domain.Intent) domain.Message {
	t.mu.Lock()
	defer t.mu.Unlock()

	created := t.now()
	if n := len(t.messages); n > 0 && created.Before(t.messages[n-1].CreatedAt) {
		created = t.messages[n-1].CreatedAt
	}

	m := domain.Message{
		ID:        newMessageID(),
		Role:      role,
		Text:      text,
		Intent:    intent,
		CreatedAt: created,
	}
	t.messages = append(t.messages, m)
	return m
}

func newMessageID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// SnapshotHistory returns the transcript as gateway turns in append order.
func (t *Transcript) SnapshotHistory() []gateway.Turn {
	t.mu.RLock()
	defer t.mu.RUnlock()

	turns := make([]gateway.Turn, len(t.messages))
	for i, m := range t.messages {
		role := gateway.RoleUser
		if m.Role == domain.RoleAssistant {
			role = gateway.RoleAssistant
		}
		turns[i] = gateway.Turn{Role: role, Text: m.Text}
	}
	return turns
}

// Messages returns a copy of all messages.
func (t *Transcript) Messages() []domain.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]domain.Message, len(t.messages))
	copy(out, t.messages)
	return out
}

// Since returns a copy of the messages appended after the first n.
func (t *Transcript) Since(n int) []domain.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if n < 0 {
		n = 0
	}
	if n >= len(t.messages) {
		return nil
	}
	out := make([]domain.Message, len(t.messages)-n)
	copy(out, t.messages[n:])
	return out
}

// Len returns the number of messages.
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.messages)
}

// Restore replaces the contents with a persisted snapshot. Entries with a
// duplicate or empty ID get a fresh one, timestamps are clamped so the
// transcript invariants hold, and intents are repaired: user messages carry
// none and assistant messages with an unknown intent fall back to planning.
func (t *Transcript) Restore(messages []domain.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	seen := make(map[string]struct{}, len(messages))
	restored := make([]domain.Message, 0, len(messages))
	for _, m := range messages {
		if _, dup := seen[m.ID]; m.ID == "" || dup {
			m.ID = newMessageID()
		}
		seen[m.ID] = struct{}{}
		switch {
		case m.Role == domain.RoleUser:
			m.Intent = domain.IntentNone
		case !m.Intent.Valid() || m.Intent == domain.IntentNone:
			m.Intent = domain.IntentPlanning
		}
		if n := len(restored); n > 0 && m.CreatedAt.Before(restored[n-1].CreatedAt) {
			m.CreatedAt = restored[n-1].CreatedAt
		}
		restored = append(restored, m)
	}
	t.messages = restored
}

// Clear drops every message. It is an administrative reset, never part of a
// submission.
func (t *Transcript) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = nil
}
