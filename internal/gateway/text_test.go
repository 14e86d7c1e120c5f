package gateway

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"
)

type fileSummary struct {
	Path  string `json:"path"`
	Lines int    `json:"lines"`
}

func (f fileSummary) String() string { return f.Path }

type pipe chan int

func (pipe) String() string { return "pipe" }

func TestTextPassthrough(t *testing.T) {
	assert.Equal(t, "hello", Text("hello"))
	assert.Equal(t, "", Text(nil))
	assert.Equal(t, "raw", Text([]byte("raw")))
	assert.Equal(t, `{"a":1}`, Text(json.RawMessage(`{"a":1}`)))
	assert.Equal(t, "boom", Text(errors.New("boom")))
}

func TestTextStructuredIsLossless(t *testing.T) {
	payload := map[string]any{
		"files": []any{
			map[string]any{"path": "src/App.tsx", "lines": float64(42)},
		},
		"done": true,
	}

	out := Text(payload)

	var back map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &back))
	assert.Equal(t, payload, back)
}

func TestTextProtoMessage(t *testing.T) {
	s, err := structpb.NewStruct(map[string]any{"answer": "yes", "score": 0.5})
	require.NoError(t, err)

	var back map[string]any
	require.NoError(t, json.Unmarshal([]byte(Text(s)), &back))
	assert.Equal(t, map[string]any{"answer": "yes", "score": 0.5}, back)
}

func TestTextStringerStructIsLossless(t *testing.T) {
	in := fileSummary{Path: "src/App.tsx", Lines: 7}

	out := Text(in)

	var back fileSummary
	require.NoError(t, json.Unmarshal([]byte(out), &back))
	assert.Equal(t, in, back)
}

func TestTextUnmarshalableFallsBackToSprint(t *testing.T) {
	ch := make(chan int)
	assert.NotEmpty(t, Text(ch))
	assert.Equal(t, "pipe", Text(make(pipe)))
}
