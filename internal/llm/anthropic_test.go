package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/flowmatch/internal/common"
)

func newTestAnthropicClient(t *testing.T, handler http.HandlerFunc) *anthropicClient {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := newAnthropicClient(Config{APIKey: "test-key"})
	require.NoError(t, err)

	c, ok := client.(*anthropicClient)
	require.True(t, ok)
	c.baseURL = server.URL
	return c
}

func TestAnthropicRequiresAPIKey(t *testing.T) {
	_, err := newAnthropicClient(Config{})
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrMissingConfig)
}

func TestAnthropicRateLimited(t *testing.T) {
	client := newTestAnthropicClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error": {"type": "rate_limit_error"}}`))
	})

	_, err := client.Complete(context.Background(), "system", "prompt")
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrRateLimit)
}

func TestAnthropicComplete(t *testing.T) {
	client := newTestAnthropicClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "system prompt", body["system"])

		_, _ = w.Write([]byte(`{"content": [{"type": "text", "text": "hello"}]}`))
	})

	content, err := client.Complete(context.Background(), "system prompt", "prompt")

	require.NoError(t, err)
	assert.Equal(t, "hello", content)
}

func TestAnthropicChatWithToolsMapsBlocks(t *testing.T) {
	client := newTestAnthropicClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Messages []struct {
				Role    string          `json:"role"`
				Content json.RawMessage `json:"content"`
			} `json:"messages"`
			Tools []struct {
				Name string `json:"name"`
			} `json:"tools"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		require.Len(t, body.Tools, 1)
		assert.Equal(t, "search_candidates", body.Tools[0].Name)

		// user text, assistant tool_use, user tool_result
		require.Len(t, body.Messages, 3)
		assert.Equal(t, "user", body.Messages[0].Role)
		assert.Equal(t, "assistant", body.Messages[1].Role)
		assert.Contains(t, string(body.Messages[1].Content), "tool_use")
		assert.Equal(t, "user", body.Messages[2].Role)
		assert.Contains(t, string(body.Messages[2].Content), "tool_result")
		assert.Contains(t, string(body.Messages[2].Content), "is_error")

		_, _ = w.Write([]byte(`{"content": [
			{"type": "text", "text": "let me try again"},
			{"type": "tool_use", "id": "toolu_2", "name": "search_candidates", "input": {"query": "lunch"}}
		]}`))
	})

	turn, err := client.ChatWithTools(context.Background(), ChatRequest{
		System: "system",
		Messages: []ChatMessage{
			{Role: RoleUser, Content: "go"},
			{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "toolu_1", Name: "search_candidates", Arguments: json.RawMessage(`{"query": "bad"}`)}}},
			{Role: RoleTool, ToolCallID: "toolu_1", Content: `{"error": "bad query"}`, IsError: true},
		},
		Tools: []ToolSpec{{
			Name:        "search_candidates",
			Description: "search",
			Parameters:  json.RawMessage(`{"type": "object"}`),
		}},
	})

	require.NoError(t, err)
	assert.Equal(t, "let me try again", turn.Content)
	require.Len(t, turn.ToolCalls, 1)
	assert.Equal(t, "toolu_2", turn.ToolCalls[0].ID)
	assert.JSONEq(t, `{"query": "lunch"}`, string(turn.ToolCalls[0].Arguments))
}

func TestAnthropicEmbedUnsupported(t *testing.T) {
	client, err := newAnthropicClient(Config{APIKey: "test-key"})
	require.NoError(t, err)

	_, err = client.Embed(context.Background(), []string{"text"})
	require.Error(t, err)
}

func TestNewClientFactory(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		wantErr  bool
	}{
		{name: "openai", provider: "openai"},
		{name: "anthropic", provider: "anthropic"},
		{name: "unknown", provider: "llama-at-home", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewClient(Config{Provider: tt.provider, APIKey: "key"})
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, common.ErrInvalidConfig)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, client)
		})
	}
}
