package gateway

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"time"
)

// Scripted is a deterministic offline provider for local development.
type Scripted struct {
	Delay time.Duration
}

// NewScripted returns a Scripted provider that answers after delay.
func NewScripted(delay time.Duration) *Scripted {
	return &Scripted{Delay: delay}
}

// Name implements Provider.
func (s *Scripted) Name() string { return "scripted" }

// Close implements Provider.
func (s *Scripted) Close() error { return nil }

// Complete echoes the first line of the prompt under the model name.
func (s *Scripted) Complete(ctx context.Context, req Request) (any, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	first, _, _ := strings.Cut(strings.TrimSpace(req.Prompt), "\n")
	return fmt.Sprintf("[%s] %s (%d prior turns)", req.Model, first, len(req.History)), nil
}

// GenerateImage returns a stable placeholder URL keyed by the prompt.
func (s *Scripted) GenerateImage(ctx context.Context, prompt string) (any, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(prompt))
	return fmt.Sprintf("%s?seed=%08x", PlaceholderImage, h.Sum32()), nil
}

func (s *Scripted) wait(ctx context.Context) error {
	if s.Delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(s.Delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var _ Provider = (*Scripted)(nil)
