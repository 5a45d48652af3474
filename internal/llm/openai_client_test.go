package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nbenliogludev/go-page-pilot/internal/config"
)

type capturedRequest struct {
	Header http.Header
	Body   map[string]any
}

func newCompletionServer(t *testing.T, content string, status int) (*httptest.Server, *capturedRequest) {
	t.Helper()
	captured := &capturedRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		captured.Header = r.Header.Clone()
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&captured.Body))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			_, _ = w.Write([]byte(`{"error":{"message":"upstream failure","type":"server_error"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "cmpl-1",
			"object": "chat.completion",
			"model":  "test-model",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			}},
			"usage": map[string]any{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, captured
}

func modelConfig(baseURL string) config.ModelConfig {
	return config.ModelConfig{
		Model:      "test-model",
		APIKey:     "secret",
		BaseURL:    baseURL + "/v1",
		APITimeout: 5 * time.Second,
	}
}

func TestOpenAIClient_InlineUsesVendorHeader(t *testing.T) {
	srv, captured := newCompletionServer(t, `{"action":"CLICK","elementId":1}`, http.StatusOK)
	cfg := modelConfig(srv.URL)
	cfg.AuthHeader = "api-subscription-key"

	client, err := NewOpenAIClient(config.ProviderSarvam, cfg, true, zap.NewNop())
	require.NoError(t, err)

	out, err := client.Complete(context.Background(), ChatRequest{
		Messages: []Message{{Role: RoleUser, Content: "click login"}},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"action":"CLICK","elementId":1}`, out)

	assert.Equal(t, "secret", captured.Header.Get("api-subscription-key"))
	assert.Empty(t, captured.Header.Get("Authorization"))

	msgs, ok := captured.Body["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 1, "inline style sends no system message")
	first := msgs[0].(map[string]any)
	assert.Equal(t, "user", first["role"])
	assert.Contains(t, first["content"], "USER GOAL (History):")
	assert.Nil(t, captured.Body["response_format"])
}

func TestOpenAIClient_SystemStyleRequestsJSON(t *testing.T) {
	srv, captured := newCompletionServer(t, `{"action":"ANSWER","text":"hi"}`, http.StatusOK)

	client, err := NewOpenAIClient(config.ProviderOpenAI, modelConfig(srv.URL), false, zap.NewNop())
	require.NoError(t, err)

	_, err = client.Complete(context.Background(), ChatRequest{
		Messages: []Message{{Role: RoleUser, Content: "hello"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "Bearer secret", captured.Header.Get("Authorization"))
	msgs := captured.Body["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
	format := captured.Body["response_format"].(map[string]any)
	assert.Equal(t, "json_object", format["type"])
}

func TestOpenAIClient_UpstreamErrorFeedsFallback(t *testing.T) {
	srv, _ := newCompletionServer(t, "", http.StatusInternalServerError)
	cfg := modelConfig(srv.URL)

	client, err := NewOpenAIClient(config.ProviderOpenAI, cfg, false, zap.NewNop())
	require.NoError(t, err)

	action, err := Decide(context.Background(), client, ChatRequest{})
	require.Error(t, err)
	assert.Equal(t, Answer(FallbackGeneric), action)
}

func TestNewOpenAIClient_RequiresKey(t *testing.T) {
	_, err := NewOpenAIClient("openai", config.ModelConfig{}, false, zap.NewNop())
	assert.Error(t, err)
}
