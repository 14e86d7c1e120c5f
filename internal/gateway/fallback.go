package gateway

import (
	"context"
	"log/slog"
)

// Fallback wraps a Provider so that failures surface as displayable values
// instead of errors: "Error: <reason>" for completions and PlaceholderImage
// for images.
type Fallback struct {
	next   Provider
	logger *slog.Logger
}

// WithFallback decorates next with the soft failure policy.
func WithFallback(next Provider, logger *slog.Logger) *Fallback {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fallback{next: next, logger: logger}
}

// Complete never returns an error.
func (f *Fallback) Complete(ctx context.Context, req Request) (any, error) {
	v, err := f.next.Complete(ctx, req)
	if err != nil {
		f.logger.Warn("Completion failed",
			"provider", f.next.Name(),
			"model", req.Model,
			"error", err,
		)
		return "Error: " + err.Error(), nil
	}
	return v, nil
}

// GenerateImage never returns an error.
func (f *Fallback) GenerateImage(ctx context.Context, prompt string) (any, error) {
	v, err := f.next.GenerateImage(ctx, prompt)
	if err != nil {
		f.logger.Warn("Image generation failed",
			"provider", f.next.Name(),
			"error", err,
		)
		return PlaceholderImage, nil
	}
	if Text(v) == "" {
		return PlaceholderImage, nil
	}
	return v, nil
}

// Name returns the wrapped provider's name.
func (f *Fallback) Name() string { return f.next.Name() }

// Close closes the wrapped provider.
func (f *Fallback) Close() error { return f.next.Close() }

// Ping forwards to the wrapped provider when it supports health checks.
func (f *Fallback) Ping(ctx context.Context) error {
	if p, ok := f.next.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

var (
	_ Provider = (*Fallback)(nil)
	_ Pinger   = (*Fallback)(nil)
)
