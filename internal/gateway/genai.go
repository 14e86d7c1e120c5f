package gateway

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"google.golang.org/genai"
)

// DefaultGenAIImageModel is used when no Imagen model is configured.
const DefaultGenAIImageModel = "imagen-3.0-generate-002"

// GenAIConfig configures the Gemini provider. APIKey selects the Gemini API
// backend; otherwise Project and Location select Vertex AI.
type GenAIConfig struct {
	APIKey     string
	Project    string
	Location   string
	// BaseURL overrides the API endpoint, e.g. for a proxy.
	BaseURL    string
	ImageModel string
	Timeout    time.Duration
}

// GenAI completes prompts with Gemini models.
type GenAI struct {
	client     *genai.Client
	imageModel string
	timeout    time.Duration
}

// NewGenAI creates a Gemini provider.
func NewGenAI(ctx context.Context, cfg GenAIConfig) (*GenAI, error) {
	cc := &genai.ClientConfig{HTTPOptions: genai.HTTPOptions{BaseURL: cfg.BaseURL}}
	switch {
	case cfg.APIKey != "":
		cc.APIKey = cfg.APIKey
		cc.Backend = genai.BackendGeminiAPI
	case cfg.Project != "":
		cc.Project = cfg.Project
		cc.Location = cfg.Location
		cc.Backend = genai.BackendVertexAI
	default:
		return nil, fmt.Errorf("genai provider requires an API key or a GCP project")
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}

	imageModel := cfg.ImageModel
	if imageModel == "" {
		imageModel = DefaultGenAIImageModel
	}

	return &GenAI{client: client, imageModel: imageModel, timeout: cfg.Timeout}, nil
}

// Name implements Provider.
func (g *GenAI) Name() string { return "genai" }

// Close implements Provider.
func (g *GenAI) Close() error { return nil }

// Complete implements Gateway.
func (g *GenAI) Complete(ctx context.Context, req Request) (any, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	contents := make([]*genai.Content, 0, len(req.History)+1)
	for _, turn := range req.History {
		role := genai.Role(genai.RoleUser)
		if turn.Role == RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(turn.Text, role))
	}
	contents = append(contents, genai.NewContentFromText(req.Prompt, genai.RoleUser))

	cfg := &genai.GenerateContentConfig{}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}

	res, err := g.client.Models.GenerateContent(ctx, req.Model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("genai generate content: %w", err)
	}

	text := res.Text()
	if text == "" {
		return nil, ErrEmptyResponse
	}
	return text, nil
}

// GenerateImage implements Gateway. Inline image bytes are returned as a data URL.
func (g *GenAI) GenerateImage(ctx context.Context, prompt string) (any, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	res, err := g.client.Models.GenerateImages(ctx, g.imageModel, prompt, nil)
	if err != nil {
		return nil, fmt.Errorf("genai generate images: %w", err)
	}
	if res == nil || len(res.GeneratedImages) == 0 || res.GeneratedImages[0].Image == nil {
		return nil, ErrEmptyResponse
	}

	img := res.GeneratedImages[0].Image
	if img.GCSURI != "" {
		return img.GCSURI, nil
	}
	if len(img.ImageBytes) == 0 {
		return nil, ErrEmptyResponse
	}
	mime := img.MIMEType
	if mime == "" {
		mime = "image/png"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(img.ImageBytes), nil
}

func (g *GenAI) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, g.timeout)
}

var _ Provider = (*GenAI)(nil)
