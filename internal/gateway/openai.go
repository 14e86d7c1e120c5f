package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultOpenAIBaseURL is the GitHub Models inference endpoint.
const DefaultOpenAIBaseURL = "https://models.github.ai/inference"

const maxErrorBody = 4 << 10

// OpenAIConfig configures an OpenAI-compatible HTTP provider.
type OpenAIConfig struct {
	BaseURL       string
	Credential    string
	Timeout       time.Duration
	GitHubHeaders bool
	ImageModel    string
	ImageSize     string
	HTTPClient    *http.Client
}

// OpenAI talks to an OpenAI-compatible chat and image generation API.
type OpenAI struct {
	baseURL       string
	credential    string
	githubHeaders bool
	imageModel    string
	imageSize     string
	client        *http.Client
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type imageRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Size   string `json:"size,omitempty"`
}

type imageResponse struct {
	Data []struct {
		URL     string `json:"url"`
		B64JSON string `json:"b64_json"`
	} `json:"data"`
}

// NewOpenAI creates an OpenAI-compatible provider.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.Credential == "" {
		return nil, fmt.Errorf("openai provider requires a credential")
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultOpenAIBaseURL
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &OpenAI{
		baseURL:       baseURL,
		credential:    cfg.Credential,
		githubHeaders: cfg.GitHubHeaders,
		imageModel:    cfg.ImageModel,
		imageSize:     cfg.ImageSize,
		client:        client,
	}, nil
}

// Name implements Provider.
func (o *OpenAI) Name() string { return "openai" }

// Close implements Provider.
func (o *OpenAI) Close() error {
	o.client.CloseIdleConnections()
	return nil
}

// Complete posts to /chat/completions.
//
// A non-empty string at choices[0].message.content is returned as is. Any
// other content value is returned structured, and a response without one is
// returned as the whole decoded object.
func (o *OpenAI) Complete(ctx context.Context, req Request) (any, error) {
	messages := make([]chatMessage, 0, len(req.History)+2)
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	for _, turn := range req.History {
		messages = append(messages, chatMessage{Role: string(turn.Role), Content: turn.Text})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	var data map[string]any
	if err := o.post(ctx, "chat/completions", chatRequest{Model: req.Model, Messages: messages}, &data); err != nil {
		return nil, err
	}
	if data == nil {
		return nil, ErrEmptyResponse
	}

	content, ok := firstChoiceContent(data)
	if !ok {
		return data, nil
	}
	if s, isString := content.(string); isString {
		if s == "" {
			return data, nil
		}
		return s, nil
	}
	return content, nil
}

// GenerateImage posts to /images/generations and returns the first image URL,
// or a data URL when the provider answers with base64 content.
func (o *OpenAI) GenerateImage(ctx context.Context, prompt string) (any, error) {
	var data imageResponse
	body := imageRequest{Model: o.imageModel, Prompt: prompt, Size: o.imageSize}
	if err := o.post(ctx, "images/generations", body, &data); err != nil {
		return nil, err
	}
	if len(data.Data) == 0 {
		return nil, ErrEmptyResponse
	}
	first := data.Data[0]
	switch {
	case first.URL != "":
		return first.URL, nil
	case first.B64JSON != "":
		return "data:image/png;base64," + first.B64JSON, nil
	default:
		return nil, ErrEmptyResponse
	}
}

func (o *OpenAI) post(ctx context.Context, endpoint string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/"+endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+o.credential)
	req.Header.Set("Content-Type", "application/json")
	if o.githubHeaders {
		req.Header.Set("Accept", "application/vnd.github+json")
		req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	} else {
		req.Header.Set("Accept", "application/json")
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Code: resp.StatusCode, Body: string(b)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	return nil
}

func firstChoiceContent(data map[string]any) (any, bool) {
	choices, ok := data["choices"].([]any)
	if !ok || len(choices) == 0 {
		return nil, false
	}
	choice, ok := choices[0].(map[string]any)
	if !ok {
		return nil, false
	}
	message, ok := choice["message"].(map[string]any)
	if !ok {
		return nil, false
	}
	content, ok := message["content"]
	if !ok || content == nil {
		return nil, false
	}
	return content, true
}

var _ Provider = (*OpenAI)(nil)
