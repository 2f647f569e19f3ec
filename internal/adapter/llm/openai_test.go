package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"termagent/internal/domain"
	"termagent/internal/infra/config"
)

func newTestOpenAI(t *testing.T, handler http.HandlerFunc) *OpenAI {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewOpenAI(config.ProviderConfig{
		Name:    "openai-test",
		Type:    "openai",
		BaseURL: srv.URL,
		APIKey:  "test-key",
		Model:   "gpt-4o-mini",
	}, newTestLogger())
}

func writeSSE(w http.ResponseWriter, chunks ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	for _, c := range chunks {
		fmt.Fprintf(w, "data: %s\n\n", c)
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
}

func TestOpenAIGenerate(t *testing.T) {
	p := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req openai.ChatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o-mini", req.Model)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, openai.ChatMessageRoleSystem, req.Messages[0].Role)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"c1","model":"gpt-4o-mini","choices":[{"index":0,"message":{"role":"assistant","content":"Hello!"},"finish_reason":"stop"}],"usage":{"prompt_tokens":10,"completion_tokens":2,"total_tokens":12}}`))
	})

	resp, err := p.Generate(context.Background(), userRequest("hi"))
	require.NoError(t, err)
	assert.Equal(t, "Hello!", resp.Text())
	assert.Equal(t, domain.FinishStop, resp.FinishReason)
	assert.Equal(t, 12, resp.Usage.TotalTokens)
}

func TestOpenAIStream_ContentAndToolCalls(t *testing.T) {
	p := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		var req openai.ChatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)
		require.Len(t, req.Tools, 1)
		assert.Equal(t, "read_file", req.Tools[0].Function.Name)

		writeSSE(w,
			`{"id":"c","model":"gpt-4o-mini","choices":[{"index":0,"delta":{"role":"assistant","content":"Checking"}}]}`,
			`{"id":"c","model":"gpt-4o-mini","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"read_file","arguments":"{\"file_"}}]}}]}`,
			`{"id":"c","model":"gpt-4o-mini","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"path\":\"a.go\"}"}}]}}]}`,
			`{"id":"c","model":"gpt-4o-mini","choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`,
			`{"id":"c","model":"gpt-4o-mini","choices":[],"usage":{"prompt_tokens":20,"completion_tokens":8,"total_tokens":28}}`,
		)
	})

	ch, err := p.GenerateStream(context.Background(), userRequest("read a.go", readFileDecl))
	require.NoError(t, err)
	events := collect(t, ch)

	assert.Equal(t, []domain.EventType{
		domain.EventModelInfo, domain.EventContent, domain.EventToolCallRequest, domain.EventFinished,
	}, eventTypes(events))

	call := events[2].ToolCall
	assert.Equal(t, "call_1", call.CallID)
	assert.Equal(t, "a.go", call.Args["file_path"])

	fin := events[3]
	assert.Equal(t, domain.FinishToolCalls, fin.FinishReason)
	require.NotNil(t, fin.Usage)
	assert.Equal(t, 28, fin.Usage.TotalTokens)
}

func TestOpenAIStream_NoFinishReasonIsProtocolError(t *testing.T) {
	p := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		writeSSE(w, `{"id":"c","model":"m","choices":[{"index":0,"delta":{"content":"partial"}}]}`)
	})
	ch, err := p.GenerateStream(context.Background(), userRequest("x"))
	require.NoError(t, err)
	events := collect(t, ch)

	last := events[len(events)-1]
	require.Equal(t, domain.EventError, last.Type)
	assert.ErrorIs(t, last.Err, domain.ErrBackendProtocol)
}

func TestOpenAIStream_MalformedChunkSkipped(t *testing.T) {
	p := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		writeSSE(w,
			`{"id":"c","model":"gpt-4o-mini","choices":[{"index":0,"delta":{"role":"assistant","content":"Hel"}}]}`,
			`{"id":"c","model":"gpt-4o-mini","choices":[{"index":0,"delta":{"content":`,
			`{"id":"c","model":"gpt-4o-mini","choices":[{"index":0,"delta":{"content":"lo"},"finish_reason":"stop"}]}`,
		)
	})

	ch, err := p.GenerateStream(context.Background(), userRequest("hi"))
	require.NoError(t, err)

	var text strings.Builder
	events := collect(t, ch)
	for _, ev := range events {
		require.NotEqual(t, domain.EventError, ev.Type, "error event: %v", ev.Err)
		if ev.Type == domain.EventContent {
			text.WriteString(ev.Text)
		}
	}
	assert.Equal(t, "Hello", text.String())
	last := events[len(events)-1]
	require.Equal(t, domain.EventFinished, last.Type)
	assert.Equal(t, domain.FinishStop, last.FinishReason)
}

func TestOpenAIGenerate_HTTPErrors(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusTooManyRequests, domain.ErrRateLimit},
		{http.StatusUnauthorized, domain.ErrAuthInvalid},
		{http.StatusNotFound, domain.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			p := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"error":{"message":"nope","type":"x"}}`))
			})
			_, err := p.Generate(context.Background(), userRequest("x"))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, domain.ErrBackendProtocol)
		})
	}
}

func TestOpenAIGenerate_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	p := NewOpenAI(config.ProviderConfig{Name: "o", Type: "openai", BaseURL: url, Model: "m"}, newTestLogger())
	_, err := p.Generate(context.Background(), userRequest("x"))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrBackendUnreachable)
}

func TestToOpenAIMessages_ToolResponsesSplit(t *testing.T) {
	req := domain.GenerationRequest{
		Contents: []domain.Message{
			{Role: domain.RoleAssistant, Parts: []domain.Part{
				domain.FunctionCallPart(domain.FunctionCall{ID: "p-0", Name: "a", Args: map[string]any{"x": 1}}),
				domain.FunctionCallPart(domain.FunctionCall{ID: "p-1", Name: "b"}),
			}},
			{Role: domain.RoleUser, Parts: []domain.Part{
				domain.FunctionResponsePart(domain.FunctionResponse{ID: "p-0", Name: "a", Response: map[string]any{"output": "ok"}}),
				domain.FunctionResponsePart(domain.FunctionResponse{ID: "p-1", Name: "b", Response: map[string]any{"error": "bad"}}),
			}},
		},
	}
	msgs := toOpenAIMessages(req)
	require.Len(t, msgs, 3)
	require.Len(t, msgs[0].ToolCalls, 2)
	assert.Equal(t, `{"x":1}`, msgs[0].ToolCalls[0].Function.Arguments)
	assert.Equal(t, openai.ChatMessageRoleTool, msgs[1].Role)
	assert.Equal(t, "p-0", msgs[1].ToolCallID)
	assert.Equal(t, "p-1", msgs[2].ToolCallID)
}

func TestDecodeArgs(t *testing.T) {
	assert.Equal(t, map[string]any{}, decodeArgs(""))
	assert.Equal(t, map[string]any{"a": "b"}, decodeArgs(`{"a":"b"}`))
	assert.Equal(t, map[string]any{"_raw": "{broken"}, decodeArgs("{broken"))
}
