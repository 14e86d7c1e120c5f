package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOpenAI(t *testing.T, handler http.HandlerFunc) *OpenAI {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	o, err := NewOpenAI(OpenAIConfig{
		BaseURL:       srv.URL + "/",
		Credential:    "test-token",
		GitHubHeaders: true,
		ImageModel:    "openai/dall-e-3",
		ImageSize:     "1024x1024",
	})
	require.NoError(t, err)
	return o
}

func TestNewOpenAIRequiresCredential(t *testing.T) {
	_, err := NewOpenAI(OpenAIConfig{})
	require.Error(t, err)
}

func TestOpenAICompleteSendsConversation(t *testing.T) {
	var got chatRequest
	o := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, "application/vnd.github+json", r.Header.Get("Accept"))
		assert.Equal(t, "2022-11-28", r.Header.Get("X-GitHub-Api-Version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"choices":[{"message":{"role":"assistant","content":"a plan"}}]}`)
	})

	out, err := o.Complete(context.Background(), Request{
		Model:  "openai/gpt-5",
		System: "You plan.",
		Prompt: "Create a detailed plan for: a blog",
		History: []Turn{
			{Role: RoleUser, Text: "hi"},
			{Role: RoleAssistant, Text: "hello"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "a plan", out)

	assert.Equal(t, "openai/gpt-5", got.Model)
	require.Len(t, got.Messages, 4)
	assert.Equal(t, chatMessage{Role: "system", Content: "You plan."}, got.Messages[0])
	assert.Equal(t, chatMessage{Role: "user", Content: "hi"}, got.Messages[1])
	assert.Equal(t, chatMessage{Role: "assistant", Content: "hello"}, got.Messages[2])
	assert.Equal(t, chatMessage{Role: "user", Content: "Create a detailed plan for: a blog"}, got.Messages[3])
}

func TestOpenAICompleteReturnsStructuredPayloads(t *testing.T) {
	tests := []struct {
		name string
		body string
		want any
	}{
		{
			name: "structured content",
			body: `{"choices":[{"message":{"content":[{"type":"text","text":"x"}]}}]}`,
			want: []any{map[string]any{"type": "text", "text": "x"}},
		},
		{
			name: "missing content",
			body: `{"id":"abc","choices":[]}`,
			want: map[string]any{"id": "abc", "choices": []any{}},
		},
		{
			name: "empty content",
			body: `{"choices":[{"message":{"content":""}}]}`,
			want: map[string]any{"choices": []any{map[string]any{"message": map[string]any{"content": ""}}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := newTestOpenAI(t, func(w http.ResponseWriter, _ *http.Request) {
				_, _ = io.WriteString(w, tt.body)
			})
			out, err := o.Complete(context.Background(), Request{Model: "m", Prompt: "p"})
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestOpenAICompleteNon2xx(t *testing.T) {
	o := newTestOpenAI(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"bad credentials"}`, http.StatusUnauthorized)
	})

	_, err := o.Complete(context.Background(), Request{Model: "m", Prompt: "p"})
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusUnauthorized, statusErr.Code)
	assert.Contains(t, statusErr.Body, "bad credentials")
	assert.NotContains(t, err.Error(), "bad credentials")
}

func TestOpenAICompleteMalformedPayload(t *testing.T) {
	o := newTestOpenAI(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "<html>not json")
	})

	_, err := o.Complete(context.Background(), Request{Model: "m", Prompt: "p"})
	require.Error(t, err)
}

func TestOpenAIGenerateImage(t *testing.T) {
	var got imageRequest
	o := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/images/generations", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"data":[{"url":"https://img.example/sunset.png"}]}`)
	})

	out, err := o.GenerateImage(context.Background(), "a sunset")
	require.NoError(t, err)
	assert.Equal(t, "https://img.example/sunset.png", out)
	assert.Equal(t, imageRequest{Model: "openai/dall-e-3", Prompt: "a sunset", Size: "1024x1024"}, got)
}

func TestOpenAIGenerateImageBase64(t *testing.T) {
	o := newTestOpenAI(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"data":[{"b64_json":"aGVsbG8="}]}`)
	})

	out, err := o.GenerateImage(context.Background(), "a sunset")
	require.NoError(t, err)
	assert.Equal(t, "data:image/png;base64,aGVsbG8=", out)
}

func TestOpenAIGenerateImageEmpty(t *testing.T) {
	o := newTestOpenAI(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"data":[]}`)
	})

	_, err := o.GenerateImage(context.Background(), "a sunset")
	assert.True(t, errors.Is(err, ErrEmptyResponse))
}
