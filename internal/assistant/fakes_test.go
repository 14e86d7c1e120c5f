package assistant

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/ashureev/zerocode/internal/domain"
	"github.com/ashureev/zerocode/internal/gateway"
)

var errGatewayDown = errors.New("gateway down")

// fakeGateway records calls and answers through the configured funcs.
type fakeGateway struct {
	mu       sync.Mutex
	requests []gateway.Request
	prompts  []string

	complete func(ctx context.Context, req gateway.Request) (any, error)
	image    func(ctx context.Context, prompt string) (any, error)
}

func (f *fakeGateway) Complete(ctx context.Context, req gateway.Request) (any, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	fn := f.complete
	f.mu.Unlock()
	if fn == nil {
		return "ok", nil
	}
	return fn(ctx, req)
}

func (f *fakeGateway) GenerateImage(ctx context.Context, prompt string) (any, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	fn := f.image
	f.mu.Unlock()
	if fn == nil {
		return "https://img.example/1.png", nil
	}
	return fn(ctx, prompt)
}

func (f *fakeGateway) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests) + len(f.prompts)
}

func (f *fakeGateway) completeRequests() []gateway.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]gateway.Request, len(f.requests))
	copy(out, f.requests)
	return out
}

// blockingGateway holds every call until release is closed.
func blockingGateway(started chan<- struct{}, release <-chan struct{}) *fakeGateway {
	wait := func(ctx context.Context) {
		select {
		case started <- struct{}{}:
		default:
		}
		select {
		case <-release:
		case <-ctx.Done():
		}
	}
	return &fakeGateway{
		complete: func(ctx context.Context, req gateway.Request) (any, error) {
			wait(ctx)
			return "done: " + req.Prompt, nil
		},
		image: func(ctx context.Context, _ string) (any, error) {
			wait(ctx)
			return "https://img.example/late.png", nil
		},
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var testModels = Models{Planning: "openai/gpt-5", Coding: "cohere/cohere-command-a"}

func newTestOrchestrator(gw gateway.Gateway) *Orchestrator {
	return NewOrchestrator(gw, testModels, true, discardLogger())
}

// recordingSink captures orchestrator output for assertions.
type recordingSink struct {
	t      *Transcript
	codes  []string
	images []string
}

func newRecordingSink() *recordingSink {
	return &recordingSink{t: NewTranscript()}
}

func (s *recordingSink) Append(content any, intent domain.Intent) domain.Message {
	return s.t.AppendAssistant(content, intent)
}

func (s *recordingSink) CodeGenerated(code string) { s.codes = append(s.codes, code) }
func (s *recordingSink) ImageGenerated(url string) { s.images = append(s.images, url) }
