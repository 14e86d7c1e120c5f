package domain

import (
	"time"
)

// AssistantSession is the persisted transcript snapshot of one panel
// (one browser tab session of one user).
type AssistantSession struct {
	UserID       string
	SessionID    string
	MessagesJSON string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
