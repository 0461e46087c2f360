package groq

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweetpotato0/omnillm/errors"
	"github.com/sweetpotato0/omnillm/provider"
)

func testAdapter(t *testing.T, handler http.HandlerFunc) *Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(&Config{APIKey: "test-key", BaseURL: srv.URL, Client: srv.Client()})
}

func TestGenerate(t *testing.T) {
	var got wireRequest
	adapter := testAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "/chat/completions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		fmt.Fprint(w, `{
			"model": "llama-3.3-70b-versatile",
			"choices": [{"message": {"role": "assistant", "content": "hello"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 3, "total_tokens": 15}
		}`)
	})

	resp, err := adapter.Generate(context.Background(), provider.UserRequest("hi", "", 0.5, 128))
	require.NoError(t, err)

	assert.Equal(t, "hello", resp.Text)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, int64(12), resp.Usage.PromptTokens)
	assert.Equal(t, int64(15), resp.Usage.TotalTokens)

	assert.Equal(t, "llama-3.3-70b-versatile", got.Model, "default model fills an empty request model")
	assert.False(t, got.Stream)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "user", got.Messages[0].Role)
}

func TestGenerateDecodesToolCalls(t *testing.T) {
	adapter := testAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"choices": [{"message": {"role": "assistant", "content": "", "tool_calls": [
				{"id": "call-1", "type": "function", "function": {"name": "calculate", "arguments": "{\"expression\": \"2+2\"}"}}
			]}, "finish_reason": "tool_calls"}],
			"usage": {"prompt_tokens": 1, "completion_tokens": 1, "total_tokens": 2}
		}`)
	})

	resp, err := adapter.Generate(context.Background(), provider.UserRequest("calc", "", 0, 0))
	require.NoError(t, err)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "call-1", resp.ToolCalls[0].ID)
	assert.Equal(t, "calculate", resp.ToolCalls[0].Name)
	assert.Equal(t, "2+2", resp.ToolCalls[0].Args["expression"])
}

func TestGenerateEncodesToolExchange(t *testing.T) {
	var got wireRequest
	adapter := testAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprint(w, `{"choices": [{"message": {"content": "4"}, "finish_reason": "stop"}], "usage": {}}`)
	})

	req := provider.Request{
		Messages: []provider.Message{
			{Role: provider.RoleUser, Text: "what is 2+2?"},
			{Role: provider.RoleAssistant, ToolCalls: []provider.ToolCall{
				{ID: "call-1", Name: "calculate", Args: map[string]any{"expression": "2+2"}},
			}},
			{Role: provider.RoleTool, Text: "4", ToolID: "call-1"},
		},
	}
	_, err := adapter.Generate(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, got.Messages, 3)
	require.Len(t, got.Messages[1].ToolCalls, 1)
	assert.Equal(t, "function", got.Messages[1].ToolCalls[0].Type)
	assert.JSONEq(t, `{"expression": "2+2"}`, got.Messages[1].ToolCalls[0].Function.Arguments)
	assert.Equal(t, "call-1", got.Messages[2].ToolCallID)
	assert.Equal(t, "4", got.Messages[2].Content)
}

func TestGenerateStatusMapping(t *testing.T) {
	cases := []struct {
		status  int
		headers map[string]string
		kind    errors.Kind
	}{
		{http.StatusUnauthorized, nil, errors.KindAuthentication},
		{http.StatusTooManyRequests, map[string]string{"Retry-After": "7"}, errors.KindRateLimited},
		{http.StatusBadRequest, nil, errors.KindInvalidRequest},
		{http.StatusInternalServerError, nil, errors.KindUpstream},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprint(tc.status), func(t *testing.T) {
			adapter := testAdapter(t, func(w http.ResponseWriter, r *http.Request) {
				for k, v := range tc.headers {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tc.status)
			})
			_, err := adapter.Generate(context.Background(), provider.UserRequest("hi", "", 0, 0))
			require.Error(t, err)
			assert.Equal(t, tc.kind, errors.KindOf(err))
			if tc.status == http.StatusTooManyRequests {
				require.NotNil(t, errors.RetryAfter(err))
				assert.Equal(t, float64(7), errors.RetryAfter(err).Seconds())
			}
		})
	}
}

func TestGenerateRequiresAPIKey(t *testing.T) {
	adapter := New(&Config{})
	_, err := adapter.Generate(context.Background(), provider.UserRequest("hi", "", 0, 0))
	assert.Equal(t, errors.KindAuthentication, errors.KindOf(err))
}

func TestStream(t *testing.T) {
	adapter := testAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		var got wireRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		assert.True(t, got.Stream)

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\": [{\"delta\": {\"content\": \"hel\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\": [{\"delta\": {\"content\": \"lo\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	var text string
	var sawFinal bool
	for chunk, err := range adapter.Stream(context.Background(), provider.UserRequest("hi", "", 0, 0)) {
		require.NoError(t, err)
		text += chunk.Text
		if chunk.Final {
			sawFinal = true
			assert.Nil(t, chunk.Usage, "no usage event means no terminal usage")
		}
	}
	assert.Equal(t, "hello", text)
	assert.True(t, sawFinal)
}

func TestStreamCapturesUsage(t *testing.T) {
	adapter := testAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\": [{\"delta\": {\"content\": \"hi\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\": [{\"delta\": {}}], \"x_groq\": {\"usage\": {\"prompt_tokens\": 9, \"completion_tokens\": 4, \"total_tokens\": 13}}}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	var final *provider.RawChunk
	for chunk, err := range adapter.Stream(context.Background(), provider.UserRequest("hi", "", 0, 0)) {
		require.NoError(t, err)
		if chunk.Final {
			final = chunk
		}
	}
	require.NotNil(t, final)
	require.NotNil(t, final.Usage, "usage from the x_groq envelope reaches the final chunk")
	assert.Equal(t, int64(9), final.Usage.PromptTokens)
	assert.Equal(t, int64(4), final.Usage.CompletionTokens)
	assert.Equal(t, int64(13), final.Usage.TotalTokens)
}

func TestStreamStatusError(t *testing.T) {
	adapter := testAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	var streamErr error
	for _, err := range adapter.Stream(context.Background(), provider.UserRequest("hi", "", 0, 0)) {
		if err != nil {
			streamErr = err
			break
		}
	}
	assert.Equal(t, errors.KindRateLimited, errors.KindOf(streamErr))
}

func TestIdentify(t *testing.T) {
	desc := New(DefaultConfig("k")).Identify()
	assert.Equal(t, Name, desc.Name)
	assert.True(t, desc.SupportsTools)
	assert.True(t, desc.SupportsStreaming)
}
