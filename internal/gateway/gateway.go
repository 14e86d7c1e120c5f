// Package gateway abstracts remote text and image generation providers behind
// a single capability interface.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// PlaceholderImage is returned in place of an image URL when generation fails.
const PlaceholderImage = "/placeholder.svg"

// ErrEmptyResponse is returned when a provider answers without usable content.
var ErrEmptyResponse = errors.New("provider returned an empty response")

// Role identifies the author of a prior turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one prior message passed to multi-turn providers.
type Turn struct {
	Role Role
	Text string
}

// Request describes a single completion call.
type Request struct {
	Model   string
	System  string
	Prompt  string
	History []Turn
}

// Gateway is the capability the assistant depends on.
//
// Payloads are returned as any because providers may hand back structured
// values; callers coerce them with Text.
type Gateway interface {
	Complete(ctx context.Context, req Request) (any, error)
	GenerateImage(ctx context.Context, prompt string) (any, error)
}

// Provider is a Gateway backed by a concrete remote service.
type Provider interface {
	Gateway
	Name() string
	Close() error
}

// Pinger is implemented by providers that can report their own reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StatusError reports a non-2xx response from an HTTP provider.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider returned %d %s", e.Code, http.StatusText(e.Code))
}
