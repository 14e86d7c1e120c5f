package assistant

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/ashureev/zerocode/internal/domain"
	"github.com/ashureev/zerocode/internal/gateway"
)

var (
	// ErrEmptyInput is returned when the submitted text is blank.
	ErrEmptyInput = errors.New("assistant: input is empty")
	// ErrBusy is returned while a previous submission is still in flight.
	ErrBusy = errors.New("assistant: a request is already in flight")
)

// PanelOptions configures a Panel.
type PanelOptions struct {
	// Greeting is appended as a planning message when the transcript starts empty.
	Greeting string
	// HistoryLimit caps the prior turns sent to the gateway; 0 sends all.
	HistoryLimit int
	// Transcript seeds the panel with restored messages.
	Transcript *Transcript

	OnCodeGenerated  func(code string)
	OnImageGenerated func(url string)
	// Observer receives every appended message, loading transition and
	// side-channel notification, in order.
	Observer func(Event)
}

// Panel is the assistant panel controller. It owns the transcript, the
// loading flag and the input buffer, and admits one submission at a time.
type Panel struct {
	mu      sync.Mutex
	input   string
	loading bool

	transcript *Transcript
	orch       *Orchestrator
	opts       PanelOptions
	logger     *slog.Logger
}

// NewPanel creates a panel driven by orch.
func NewPanel(orch *Orchestrator, opts PanelOptions, logger *slog.Logger) *Panel {
	if logger == nil {
		logger = slog.Default()
	}
	t := opts.Transcript
	if t == nil {
		t = NewTranscript()
	}
	if t.Len() == 0 && opts.Greeting != "" {
		t.AppendAssistant(opts.Greeting, domain.IntentPlanning)
	}
	return &Panel{
		transcript: t,
		orch:       orch,
		opts:       opts,
		logger:     logger,
	}
}

// SetInput replaces the input buffer.
func (p *Panel) SetInput(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.input = s
}

// Input returns the input buffer.
func (p *Panel) Input() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.input
}

// IsLoading reports whether a submission is in flight.
func (p *Panel) IsLoading() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loading
}

// Messages returns a copy of the transcript.
func (p *Panel) Messages() []domain.Message {
	return p.transcript.Messages()
}

// Transcript returns the panel's transcript.
func (p *Panel) Transcript() *Transcript {
	return p.transcript
}

// Submit sends the input buffer through the pipeline and returns once the
// submission has settled. A blank buffer or a busy panel is rejected with
// ErrEmptyInput or ErrBusy and leaves the buffer untouched.
func (p *Panel) Submit(ctx context.Context) error {
	pending, err := p.begin(nil)
	if err != nil {
		return err
	}
	pending.Run(ctx)
	return nil
}

// SubmitText is Submit for text that bypasses the input buffer.
func (p *Panel) SubmitText(ctx context.Context, text string) error {
	pending, err := p.Begin(text)
	if err != nil {
		return err
	}
	pending.Run(ctx)
	return nil
}

// Begin performs intake for text without orchestrating it. On success the
// user message is appended and the panel is loading until Run settles the
// returned Pending; Run must be called exactly once.
func (p *Panel) Begin(text string) (*Pending, error) {
	return p.begin(&text)
}

func (p *Panel) begin(text *string) (*Pending, error) {
	p.mu.Lock()
	if p.loading {
		p.mu.Unlock()
		return nil, ErrBusy
	}
	raw := p.input
	if text != nil {
		raw = *text
	}
	if strings.TrimSpace(raw) == "" {
		p.mu.Unlock()
		return nil, ErrEmptyInput
	}
	if text == nil {
		p.input = ""
	}
	history := limitHistory(p.transcript.SnapshotHistory(), p.opts.HistoryLimit)
	user := p.transcript.AppendUser(raw)
	p.loading = true
	p.mu.Unlock()

	p.emit(messageEvent(user))
	p.emit(loadingEvent(true))

	return &Pending{User: user, panel: p, raw: raw, history: history}, nil
}

// Reset clears the transcript and seeds the greeting again. It fails with
// ErrBusy while loading.
func (p *Panel) Reset() error {
	p.mu.Lock()
	if p.loading {
		p.mu.Unlock()
		return ErrBusy
	}
	p.transcript.Clear()
	p.input = ""
	var greeting *domain.Message
	if p.opts.Greeting != "" {
		m := p.transcript.AppendAssistant(p.opts.Greeting, domain.IntentPlanning)
		greeting = &m
	}
	p.mu.Unlock()

	p.emit(Event{Type: EventReset})
	if greeting != nil {
		p.emit(messageEvent(*greeting))
	}
	return nil
}

func (p *Panel) settle() {
	p.mu.Lock()
	p.loading = false
	p.mu.Unlock()
	p.emit(loadingEvent(false))
}

func (p *Panel) emit(ev Event) {
	if p.opts.Observer == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Panel observer panicked", "event", ev.Type, "panic", r)
		}
	}()
	p.opts.Observer(ev)
}

func (p *Panel) notify(name string, fn func(string), arg string) {
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Panel callback panicked", "callback", name, "panic", r)
		}
	}()
	fn(arg)
}

// Pending is a submission that passed intake.
type Pending struct {
	// User is the appended user message.
	User domain.Message

	panel   *Panel
	raw     string
	history []gateway.Turn
	once    sync.Once
}

// Run classifies and orchestrates the submission, then clears the loading
// flag whatever the outcome.
func (pd *Pending) Run(ctx context.Context) {
	pd.once.Do(func() {
		defer pd.panel.settle()
		_ = pd.panel.orch.Run(ctx, Classify(pd.raw), pd.raw, pd.history, panelSink{pd.panel})
	})
}

// panelSink routes orchestrator output into the panel.
type panelSink struct {
	p *Panel
}

func (s panelSink) Append(content any, intent domain.Intent) domain.Message {
	m := s.p.transcript.AppendAssistant(content, intent)
	s.p.emit(messageEvent(m))
	return m
}

func (s panelSink) CodeGenerated(code string) {
	s.p.notify("OnCodeGenerated", s.p.opts.OnCodeGenerated, code)
	s.p.emit(Event{Type: EventCodeGenerated, Code: code})
}

func (s panelSink) ImageGenerated(url string) {
	s.p.notify("OnImageGenerated", s.p.opts.OnImageGenerated, url)
	s.p.emit(Event{Type: EventImageGenerated, URL: url})
}

func limitHistory(turns []gateway.Turn, limit int) []gateway.Turn {
	if limit <= 0 || len(turns) <= limit {
		return turns
	}
	return turns[len(turns)-limit:]
}
