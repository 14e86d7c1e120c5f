package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type genaiPart struct {
	Text string `json:"text"`
}

type genaiContent struct {
	Role  string      `json:"role"`
	Parts []genaiPart `json:"parts"`
}

type genaiRequest struct {
	Contents          []genaiContent `json:"contents"`
	SystemInstruction *genaiContent  `json:"systemInstruction"`
}

func newTestGenAI(t *testing.T, handler http.HandlerFunc) *GenAI {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	g, err := NewGenAI(context.Background(), GenAIConfig{
		APIKey:     "test-key",
		BaseURL:    srv.URL,
		ImageModel: "imagen-test",
	})
	require.NoError(t, err)
	return g
}

func TestNewGenAIRequiresCredentials(t *testing.T) {
	_, err := NewGenAI(context.Background(), GenAIConfig{})
	require.Error(t, err)
}

func TestGenAICompleteSendsConversation(t *testing.T) {
	var (
		got  genaiRequest
		path string
	)
	g := newTestGenAI(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"candidates":[{"content":{"role":"model","parts":[{"text":"a plan"}]}}]}`)
	})

	out, err := g.Complete(context.Background(), Request{
		Model:  "gemini-test",
		System: "You plan.",
		Prompt: "Create a detailed plan for: a blog",
		History: []Turn{
			{Role: RoleUser, Text: "hi"},
			{Role: RoleAssistant, Text: "hello"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "a plan", out)

	assert.True(t, strings.HasSuffix(path, "/models/gemini-test:generateContent"), path)
	require.NotNil(t, got.SystemInstruction)
	require.Len(t, got.SystemInstruction.Parts, 1)
	assert.Equal(t, "You plan.", got.SystemInstruction.Parts[0].Text)

	require.Len(t, got.Contents, 3)
	assert.Equal(t, "user", got.Contents[0].Role)
	assert.Equal(t, "hi", got.Contents[0].Parts[0].Text)
	assert.Equal(t, "model", got.Contents[1].Role)
	assert.Equal(t, "hello", got.Contents[1].Parts[0].Text)
	assert.Equal(t, "user", got.Contents[2].Role)
	assert.Equal(t, "Create a detailed plan for: a blog", got.Contents[2].Parts[0].Text)
}

func TestGenAICompleteWithoutSystemInstruction(t *testing.T) {
	var got genaiRequest
	g := newTestGenAI(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"candidates":[{"content":{"role":"model","parts":[{"text":"ok"}]}}]}`)
	})

	_, err := g.Complete(context.Background(), Request{Model: "gemini-test", Prompt: "hi"})
	require.NoError(t, err)
	assert.Nil(t, got.SystemInstruction)
	require.Len(t, got.Contents, 1)
}

func TestGenAICompleteEmptyResponse(t *testing.T) {
	g := newTestGenAI(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"candidates":[]}`)
	})

	_, err := g.Complete(context.Background(), Request{Model: "gemini-test", Prompt: "hi"})
	assert.True(t, errors.Is(err, ErrEmptyResponse), "got %v", err)
}

func TestGenAICompleteServerError(t *testing.T) {
	g := newTestGenAI(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"error":{"code":500,"message":"boom","status":"INTERNAL"}}`)
	})

	_, err := g.Complete(context.Background(), Request{Model: "gemini-test", Prompt: "hi"})
	require.Error(t, err)
}

func TestGenAIGenerateImageReturnsDataURL(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G'}
	var path string
	g := newTestGenAI(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_ = json.NewEncoder(w).Encode(map[string]any{
			"predictions": []map[string]any{{
				"bytesBase64Encoded": base64.StdEncoding.EncodeToString(png),
				"mimeType":           "image/jpeg",
			}},
		})
	})

	out, err := g.GenerateImage(context.Background(), "a sunset")
	require.NoError(t, err)
	assert.Equal(t, "data:image/jpeg;base64,"+base64.StdEncoding.EncodeToString(png), out)
	assert.True(t, strings.HasSuffix(path, "/models/imagen-test:predict"), path)
}

func TestGenAIGenerateImageEmpty(t *testing.T) {
	g := newTestGenAI(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"predictions":[]}`)
	})

	_, err := g.GenerateImage(context.Background(), "a sunset")
	assert.True(t, errors.Is(err, ErrEmptyResponse), "got %v", err)
}
