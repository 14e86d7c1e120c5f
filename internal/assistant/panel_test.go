package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/zerocode/internal/domain"
	"github.com/ashureev/zerocode/internal/gateway"
)

type callbackLog struct {
	mu     sync.Mutex
	codes  []string
	images []string
	events []Event
}

func (c *callbackLog) options() PanelOptions {
	return PanelOptions{
		OnCodeGenerated: func(code string) {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.codes = append(c.codes, code)
		},
		OnImageGenerated: func(url string) {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.images = append(c.images, url)
		},
		Observer: func(ev Event) {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.events = append(c.events, ev)
		},
	}
}

func newTestPanel(gw gateway.Gateway) (*Panel, *callbackLog) {
	cb := &callbackLog{}
	return NewPanel(newTestOrchestrator(gw), cb.options(), discardLogger()), cb
}

func submit(t *testing.T, p *Panel, text string) {
	t.Helper()
	p.SetInput(text)
	if err := p.Submit(context.Background()); err != nil {
		t.Fatalf("Submit(%q) failed: %v", text, err)
	}
}

func TestPanelTwoStageBuildRequest(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{complete: func(_ context.Context, req gateway.Request) (any, error) {
		if req.Model == testModels.Planning {
			return "1. Header\n2. Todo list", nil
		}
		return "export function TodoApp() {}", nil
	}}
	p, cb := newTestPanel(gw)

	submit(t, p, "build a todo app")

	msgs := p.Messages()
	if len(msgs) != 3 {
		t.Fatalf("expected user, placeholder and code messages, got %d: %+v", len(msgs), msgs)
	}
	if msgs[0].Role != domain.RoleUser || msgs[0].Text != "build a todo app" {
		t.Fatalf("unexpected user message: %+v", msgs[0])
	}
	if msgs[1].Text != ThinkingPlaceholder || msgs[1].Intent != domain.IntentPlanning {
		t.Fatalf("unexpected placeholder: %+v", msgs[1])
	}
	if msgs[2].Text != "export function TodoApp() {}" || msgs[2].Intent != domain.IntentCoding {
		t.Fatalf("unexpected final message: %+v", msgs[2])
	}
	if len(cb.codes) != 1 || cb.codes[0] != msgs[2].Text {
		t.Fatalf("OnCodeGenerated calls = %q", cb.codes)
	}
	if len(cb.images) != 0 {
		t.Fatalf("unexpected image callback: %q", cb.images)
	}

	reqs := gw.completeRequests()
	if len(reqs) != 2 {
		t.Fatalf("expected 2 completions, got %d", len(reqs))
	}
	if reqs[0].Model != testModels.Planning || reqs[0].Prompt != "Create a detailed plan for: build a todo app" {
		t.Fatalf("unexpected stage 1 request: %+v", reqs[0])
	}
	if reqs[1].Model != testModels.Coding || !strings.HasSuffix(reqs[1].Prompt, "PLAN:\n1. Header\n2. Todo list") {
		t.Fatalf("unexpected stage 2 request: %+v", reqs[1])
	}
	if len(reqs[1].History) != 0 {
		t.Fatalf("stage 2 should carry no history, got %d turns", len(reqs[1].History))
	}
	if p.IsLoading() {
		t.Fatal("panel still loading after submit")
	}
}

func TestPanelLandingPageEndsAsCoding(t *testing.T) {
	t.Parallel()

	c := Classify("create a landing page for my startup")
	if c.Intent != domain.IntentPlanning || !c.RequiresTwoStage {
		t.Fatalf("unexpected classification: %+v", c)
	}

	p, _ := newTestPanel(&fakeGateway{})
	submit(t, p, "create a landing page for my startup")

	msgs := p.Messages()
	if last := msgs[len(msgs)-1]; last.Intent != domain.IntentCoding {
		t.Fatalf("final message intent = %q, want coding", last.Intent)
	}
}

func TestPanelImageRequest(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{}
	p, cb := newTestPanel(gw)

	submit(t, p, "draw a picture of a sunset")

	msgs := p.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[1].Intent != domain.IntentImage || msgs[1].Text != ImagePrefix+"https://img.example/1.png" {
		t.Fatalf("unexpected image message: %+v", msgs[1])
	}
	if len(cb.images) != 1 || cb.images[0] != "https://img.example/1.png" {
		t.Fatalf("OnImageGenerated calls = %q", cb.images)
	}
	if len(cb.codes) != 0 {
		t.Fatalf("unexpected code callback: %q", cb.codes)
	}
	if len(gw.completeRequests()) != 0 {
		t.Fatal("image request should not call Complete")
	}
}

func TestPanelSingleStagePlanning(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{complete: func(context.Context, gateway.Request) (any, error) {
		return "Recursion is a function calling itself.", nil
	}}
	p, cb := newTestPanel(gw)

	submit(t, p, "explain recursion")

	msgs := p.Messages()
	if len(msgs) != 2 || msgs[1].Intent != domain.IntentPlanning {
		t.Fatalf("unexpected transcript: %+v", msgs)
	}
	if gw.calls() != 1 {
		t.Fatalf("expected 1 gateway call, got %d", gw.calls())
	}
	if len(cb.codes)+len(cb.images) != 0 {
		t.Fatalf("unexpected callbacks: codes=%q images=%q", cb.codes, cb.images)
	}
	if reqs := gw.completeRequests(); reqs[0].Model != testModels.Planning || reqs[0].Prompt != "explain recursion" {
		t.Fatalf("unexpected request: %+v", reqs[0])
	}
}

func TestPanelGatewayFailure(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		input        string
		wantMessages []string
	}{
		{"two stage", "build a todo app", []string{"build a todo app", ThinkingPlaceholder, FailureText}},
		{"single stage", "explain recursion", []string{"explain recursion", FailureText}},
		{"image", "a picture of a cat", []string{"a picture of a cat", FailureText}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			gw := &fakeGateway{
				complete: func(context.Context, gateway.Request) (any, error) { return nil, errGatewayDown },
				image:    func(context.Context, string) (any, error) { return nil, errGatewayDown },
			}
			p, cb := newTestPanel(gw)

			submit(t, p, tt.input)

			msgs := p.Messages()
			if len(msgs) != len(tt.wantMessages) {
				t.Fatalf("expected %d messages, got %d: %+v", len(tt.wantMessages), len(msgs), msgs)
			}
			for i, want := range tt.wantMessages {
				if msgs[i].Text != want {
					t.Fatalf("message %d = %q, want %q", i, msgs[i].Text, want)
				}
			}
			if last := msgs[len(msgs)-1]; last.Intent != domain.IntentNone || last.Role != domain.RoleAssistant {
				t.Fatalf("failure message = %+v", last)
			}
			if p.IsLoading() {
				t.Fatal("loading flag not cleared")
			}
			if len(cb.codes)+len(cb.images) != 0 {
				t.Fatal("callbacks fired on failure")
			}
		})
	}
}

func TestPanelLoadingClearsForEveryOutcome(t *testing.T) {
	t.Parallel()

	outcomes := map[string]func(context.Context, gateway.Request) (any, error){
		"panic":   func(context.Context, gateway.Request) (any, error) { panic("boom") },
		"error":   func(context.Context, gateway.Request) (any, error) { return nil, errGatewayDown },
		"success": func(context.Context, gateway.Request) (any, error) { return "fine", nil },
	}

	for name, fn := range outcomes {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			p, cb := newTestPanel(&fakeGateway{complete: fn})

			submit(t, p, "explain recursion")

			if p.IsLoading() {
				t.Fatal("loading flag not cleared")
			}
			cb.mu.Lock()
			defer cb.mu.Unlock()
			var loading []bool
			for _, ev := range cb.events {
				if ev.Type == EventLoading {
					loading = append(loading, *ev.Loading)
				}
			}
			if len(loading) != 2 || !loading[0] || loading[1] {
				t.Fatalf("loading transitions = %v, want [true false]", loading)
			}
		})
	}
}

func TestPanelRejectsWhileLoading(t *testing.T) {
	t.Parallel()

	started := make(chan struct{}, 1)
	release := make(chan struct{})
	gw := blockingGateway(started, release)
	p, _ := newTestPanel(gw)

	p.SetInput("explain recursion")
	done := make(chan error, 1)
	go func() { done <- p.Submit(context.Background()) }()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("gateway was never called")
	}
	if !p.IsLoading() {
		t.Fatal("expected panel to be loading")
	}

	before := len(p.Messages())
	p.SetInput("second question")
	if err := p.Submit(context.Background()); !errors.Is(err, ErrBusy) {
		t.Fatalf("Submit while loading = %v, want ErrBusy", err)
	}
	if err := p.SubmitText(context.Background(), "third"); !errors.Is(err, ErrBusy) {
		t.Fatalf("SubmitText while loading = %v, want ErrBusy", err)
	}
	if got := len(p.Messages()); got != before {
		t.Fatalf("rejected submit appended messages: %d -> %d", before, got)
	}
	if gw.calls() != 1 {
		t.Fatalf("rejected submit reached the gateway: %d calls", gw.calls())
	}
	if p.Input() != "second question" {
		t.Fatalf("rejected submit changed input to %q", p.Input())
	}
	if err := p.Reset(); !errors.Is(err, ErrBusy) {
		t.Fatalf("Reset while loading = %v, want ErrBusy", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first submit failed: %v", err)
	}
	if p.IsLoading() {
		t.Fatal("loading flag not cleared")
	}
}

func TestPanelRejectsBlankInput(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{}
	p, cb := newTestPanel(gw)

	p.SetInput("   \n\t")
	if err := p.Submit(context.Background()); !errors.Is(err, ErrEmptyInput) {
		t.Fatalf("Submit(blank) = %v, want ErrEmptyInput", err)
	}
	if p.Input() != "   \n\t" {
		t.Fatalf("blank input was cleared: %q", p.Input())
	}
	if len(p.Messages()) != 0 || gw.calls() != 0 || len(cb.events) != 0 {
		t.Fatal("blank submit had side effects")
	}
}

func TestPanelSubmitClearsInputAndPassesHistory(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{}
	cb := &callbackLog{}
	opts := cb.options()
	opts.Greeting = "hello there"
	p := NewPanel(newTestOrchestrator(gw), opts, discardLogger())

	submit(t, p, "explain recursion")
	if p.Input() != "" {
		t.Fatalf("input not cleared: %q", p.Input())
	}
	submit(t, p, "and iteration?")

	reqs := gw.completeRequests()
	if len(reqs) != 2 {
		t.Fatalf("expected 2 completions, got %d", len(reqs))
	}
	// First call sees only the greeting; the submitted text is the prompt.
	if len(reqs[0].History) != 1 || reqs[0].History[0].Text != "hello there" {
		t.Fatalf("first history = %+v", reqs[0].History)
	}
	if len(reqs[1].History) != 3 || reqs[1].History[1].Text != "explain recursion" {
		t.Fatalf("second history = %+v", reqs[1].History)
	}
}

func TestPanelAppendOnlyAcrossSubmissions(t *testing.T) {
	t.Parallel()

	var n int
	gw := &fakeGateway{complete: func(context.Context, gateway.Request) (any, error) {
		n++
		if n%2 == 0 {
			return nil, errGatewayDown
		}
		return map[string]any{"note": "structured"}, nil
	}}
	p, _ := newTestPanel(gw)

	inputs := []string{"explain recursion", "build a blog", "write code for fizzbuzz", "a picture of a dog", "create an app"}
	var before []domain.Message
	for _, in := range inputs {
		before = p.Messages()
		submit(t, p, in)
		after := p.Messages()
		if len(after) < len(before)+2 {
			t.Fatalf("submission %q added %d messages", in, len(after)-len(before))
		}
		for i := range before {
			if after[i] != before[i] {
				t.Fatalf("message %d changed after %q: %+v -> %+v", i, in, before[i], after[i])
			}
		}
	}

	for _, m := range p.Messages() {
		if strings.HasPrefix(m.Text, "{") {
			var v map[string]any
			if err := json.Unmarshal([]byte(m.Text), &v); err != nil || v["note"] != "structured" {
				t.Fatalf("structured payload not preserved: %q", m.Text)
			}
		}
	}
}

func TestPanelResetReseedsGreeting(t *testing.T) {
	t.Parallel()

	cb := &callbackLog{}
	opts := cb.options()
	opts.Greeting = "hello there"
	p := NewPanel(newTestOrchestrator(&fakeGateway{}), opts, discardLogger())

	submit(t, p, "explain recursion")
	if err := p.Reset(); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}

	msgs := p.Messages()
	if len(msgs) != 1 || msgs[0].Text != "hello there" || msgs[0].Intent != domain.IntentPlanning {
		t.Fatalf("unexpected transcript after reset: %+v", msgs)
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	last := cb.events[len(cb.events)-1]
	prev := cb.events[len(cb.events)-2]
	if prev.Type != EventReset || last.Type != EventMessage {
		t.Fatalf("reset events = %s, %s", prev.Type, last.Type)
	}
}

func TestPanelCallbackPanicIsContained(t *testing.T) {
	t.Parallel()

	p := NewPanel(newTestOrchestrator(&fakeGateway{}), PanelOptions{
		OnCodeGenerated: func(string) { panic("editor exploded") },
	}, discardLogger())

	submit(t, p, "write code for fizzbuzz")

	msgs := p.Messages()
	if len(msgs) != 2 || msgs[1].Intent != domain.IntentCoding {
		t.Fatalf("unexpected transcript: %+v", msgs)
	}
	if p.IsLoading() {
		t.Fatal("loading flag not cleared")
	}
}
