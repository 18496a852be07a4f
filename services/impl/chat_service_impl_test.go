package impl

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kb-service/config"
	"github.com/kb-service/models"
)

func chatTestConfig(baseURL string) *config.LLMConfig {
	return &config.LLMConfig{
		BaseURL:    baseURL,
		APIKey:     "llm-key",
		Model:      "gemini-2.0-flash",
		MaxTokens:  1024,
		Timeout:    5,
		MaxRetries: 2,
	}
}

func writeSSE(w http.ResponseWriter, frames ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	for _, frame := range frames {
		fmt.Fprintf(w, "data: %s\n\n", frame)
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
}

func TestChatGenerate(t *testing.T) {
	ctx := context.Background()
	messages := []models.ChatMessage{{Role: "user", Content: "hi"}}

	t.Run("accumulates streamed deltas", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1/chat/completions", r.URL.Path)
			assert.Equal(t, "Bearer llm-key", r.Header.Get("Authorization"))
			writeSSE(w,
				`{"model":"gemini-2.0-flash","choices":[{"delta":{"content":"Hello"}}]}`,
				`{"choices":[{"delta":{"content":" world"}}]}`,
				`{"choices":[{"delta":{"content":""},"finish_reason":"stop"}],"usage":{"total_tokens":12}}`,
			)
		}))
		defer server.Close()

		svc := NewChatService(chatTestConfig(server.URL))
		result, err := svc.Generate(ctx, messages)
		require.NoError(t, err)
		assert.Equal(t, "Hello world", result.Content)
		assert.Equal(t, "gemini-2.0-flash", result.Model)
		assert.Equal(t, "stop", result.FinishReason)
		assert.Equal(t, 12, result.TokensUsed)
	})

	t.Run("ignores malformed keep-alive frames", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeSSE(w,
				`not json`,
				`{"choices":[{"delta":{"content":"ok"}}]}`,
			)
		}))
		defer server.Close()

		svc := NewChatService(chatTestConfig(server.URL))
		result, err := svc.Generate(ctx, messages)
		require.NoError(t, err)
		assert.Equal(t, "ok", result.Content)
	})

	t.Run("retries on 500 then succeeds", func(t *testing.T) {
		attempts := 0
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			attempts++
			if attempts == 1 {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			writeSSE(w, `{"choices":[{"delta":{"content":"recovered"}}]}`)
		}))
		defer server.Close()

		svc := NewChatService(chatTestConfig(server.URL))
		result, err := svc.Generate(ctx, messages)
		require.NoError(t, err)
		assert.Equal(t, "recovered", result.Content)
		assert.Equal(t, 2, attempts)
	})

	t.Run("fails fast on 400", func(t *testing.T) {
		attempts := 0
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			attempts++
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":"bad request"}`)
		}))
		defer server.Close()

		svc := NewChatService(chatTestConfig(server.URL))
		_, err := svc.Generate(ctx, messages)
		require.Error(t, err)
		assert.Equal(t, 1, attempts)
	})

	t.Run("empty stream is an error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeSSE(w)
		}))
		defer server.Close()

		cfg := chatTestConfig(server.URL)
		cfg.MaxRetries = 0
		svc := NewChatService(cfg)
		_, err := svc.Generate(ctx, messages)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no content")
	})

	t.Run("reports the configured model", func(t *testing.T) {
		svc := NewChatService(chatTestConfig("http://unused"))
		assert.Equal(t, "gemini-2.0-flash", svc.Model())
	})
}
