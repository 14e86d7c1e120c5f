package domain

import (
	"time"
)

// Role identifies who authored a transcript entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Intent describes the kind of output a request asks for.
// The zero value means "no intent" and is only used on generic failure messages.
type Intent string

const (
	IntentNone     Intent = ""
	IntentPlanning Intent = "planning"
	IntentCoding   Intent = "coding"
	IntentImage    Intent = "image"
)

// Badge returns the label the panel shows next to an assistant message.
func (i Intent) Badge() string {
	switch i {
	case IntentPlanning:
		return "GPT-4.1"
	case IntentCoding:
		return "Claude Sonnet"
	case IntentImage:
		return "DALL-E 3"
	default:
		return "AI"
	}
}

// Valid reports whether i is one of the known intents (or none).
func (i Intent) Valid() bool {
	switch i {
	case IntentNone, IntentPlanning, IntentCoding, IntentImage:
		return true
	}
	return false
}

// Message is one immutable transcript entry.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Intent    Intent    `json:"intent,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Classification is the transient result of classifying raw user input.
type Classification struct {
	Intent           Intent `json:"intent"`
	RequiresTwoStage bool   `json:"requires_two_stage"`
}
