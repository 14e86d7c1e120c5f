package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/zerocode/internal/domain"
	"github.com/ashureev/zerocode/internal/gateway"
)

// ErrOrchestration wraps a panic recovered while dispatching a submission.
var ErrOrchestration = errors.New("orchestration panicked")

// Sink receives the output of one orchestration run.
type Sink interface {
	// Append stores an assistant message.
	Append(content any, intent domain.Intent) domain.Message
	// CodeGenerated is notified once per successful coding completion.
	CodeGenerated(code string)
	// ImageGenerated is notified once per successful image generation.
	ImageGenerated(url string)
}

// Models names the model used by each text stage.
type Models struct {
	Planning string
	Coding   string
}

// Orchestrator dispatches a classified request to the gateway once or twice.
type Orchestrator struct {
	gw             gateway.Gateway
	models         Models
	rewriteMarkers bool
	logger         *slog.Logger
}

// NewOrchestrator creates an orchestrator over gw.
func NewOrchestrator(gw gateway.Gateway, models Models, rewriteMarkers bool, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		gw:             gw,
		models:         models,
		rewriteMarkers: rewriteMarkers,
		logger:         logger,
	}
}

// Run executes one submission and writes its results to sink.
//
// Any error or panic is contained: sink receives a single FailureText message
// with no intent, messages already appended stay, and the fault is returned
// for the caller's records only.
func (o *Orchestrator) Run(ctx context.Context, c domain.Classification, raw string, history []gateway.Turn, sink Sink) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrOrchestration, r)
		}
		if err != nil {
			o.logger.Error("Assistant request failed",
				"intent", c.Intent,
				"two_stage", c.RequiresTwoStage,
				"error", err,
			)
			sink.Append(FailureText, domain.IntentNone)
			return
		}
		o.logger.Info("Assistant request completed",
			"intent", c.Intent,
			"two_stage", c.RequiresTwoStage,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
	}()

	switch {
	case c.Intent == domain.IntentImage:
		return o.runImage(ctx, raw, sink)
	case c.RequiresTwoStage:
		return o.runTwoStage(ctx, raw, history, sink)
	case c.Intent == domain.IntentCoding:
		return o.runSingle(ctx, o.models.Coding, codingInstruction, domain.IntentCoding, raw, history, sink)
	default:
		return o.runSingle(ctx, o.models.Planning, planningInstruction, domain.IntentPlanning, raw, history, sink)
	}
}

func (o *Orchestrator) runImage(ctx context.Context, raw string, sink Sink) error {
	v, err := o.gw.GenerateImage(ctx, raw)
	if err != nil {
		return fmt.Errorf("generate image: %w", err)
	}
	url := gateway.Text(v)
	sink.Append(ImagePrefix+url, domain.IntentImage)
	sink.ImageGenerated(url)
	return nil
}

// runTwoStage chains the planning completion into the coding completion.
// Stage 2 starts only after stage 1 returns and carries no history; the plan
// is its context.
func (o *Orchestrator) runTwoStage(ctx context.Context, raw string, history []gateway.Turn, sink Sink) error {
	sink.Append(ThinkingPlaceholder, domain.IntentPlanning)

	plan, err := o.gw.Complete(ctx, gateway.Request{
		Model:   o.models.Planning,
		System:  planningInstruction,
		Prompt:  PlanningPrompt(raw),
		History: history,
	})
	if err != nil {
		return fmt.Errorf("planning stage: %w", err)
	}

	code, err := o.gw.Complete(ctx, gateway.Request{
		Model:  o.models.Coding,
		System: codingInstruction,
		Prompt: CodingPrompt(gateway.Text(plan)),
	})
	if err != nil {
		return fmt.Errorf("coding stage: %w", err)
	}

	text := o.render(code)
	sink.Append(text, domain.IntentCoding)
	sink.CodeGenerated(text)
	return nil
}

func (o *Orchestrator) runSingle(ctx context.Context, model, system string, intent domain.Intent, raw string, history []gateway.Turn, sink Sink) error {
	v, err := o.gw.Complete(ctx, gateway.Request{
		Model:   model,
		System:  system,
		Prompt:  raw,
		History: history,
	})
	if err != nil {
		return fmt.Errorf("%s completion: %w", intent, err)
	}

	text := o.render(v)
	sink.Append(text, intent)
	if intent == domain.IntentCoding {
		sink.CodeGenerated(text)
	}
	return nil
}

func (o *Orchestrator) render(v any) string {
	text := gateway.Text(v)
	if o.rewriteMarkers {
		text = RewriteFileMarkers(text)
	}
	return text
}
