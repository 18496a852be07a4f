package impl

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kb-service/config"
)

func embedTestConfig(baseURL string, batchSize int) *config.EmbeddingConfig {
	return &config.EmbeddingConfig{
		BaseURL:    baseURL,
		APIKey:     "test-key",
		Model:      "text-embedding-004",
		BatchSize:  batchSize,
		Timeout:    5,
		MaxRetries: 2,
	}
}

func embedHandler(t *testing.T, dim int, requestCounts *[]int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))

		var req batchEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if requestCounts != nil {
			*requestCounts = append(*requestCounts, len(req.Requests))
		}

		var resp batchEmbedResponse
		for range req.Requests {
			values := make([]float32, dim)
			values[0] = 1
			resp.Embeddings = append(resp.Embeddings, struct {
				Values []float32 `json:"values"`
			}{Values: values})
		}
		json.NewEncoder(w).Encode(resp)
	}
}

func TestEmbeddingService(t *testing.T) {
	ctx := context.Background()

	t.Run("splits inputs into provider batches", func(t *testing.T) {
		var counts []int
		server := httptest.NewServer(embedHandler(t, 8, &counts))
		defer server.Close()

		svc := NewEmbeddingService(embedTestConfig(server.URL, 3))

		texts := []string{"a", "b", "c", "d", "e", "f", "g"}
		vectors, err := svc.EmbedDocuments(ctx, texts)
		require.NoError(t, err)
		assert.Len(t, vectors, 7)
		assert.Equal(t, []int{3, 3, 1}, counts)
	})

	t.Run("probe records the dimension", func(t *testing.T) {
		server := httptest.NewServer(embedHandler(t, 768, nil))
		defer server.Close()

		svc := NewEmbeddingService(embedTestConfig(server.URL, 32))
		dim, err := svc.ProbeDimension(ctx)
		require.NoError(t, err)
		assert.Equal(t, 768, dim)
		assert.Equal(t, 768, svc.Dimension())
	})

	t.Run("retries on 429 then succeeds", func(t *testing.T) {
		attempts := 0
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			attempts++
			if attempts == 1 {
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			embedHandler(t, 4, nil)(w, r)
		}))
		defer server.Close()

		svc := NewEmbeddingService(embedTestConfig(server.URL, 32))
		vec, err := svc.EmbedQuery(ctx, "hello")
		require.NoError(t, err)
		assert.Len(t, vec, 4)
		assert.Equal(t, 2, attempts)
	})

	t.Run("fails fast on 401", func(t *testing.T) {
		attempts := 0
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			attempts++
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"error":"bad key"}`)
		}))
		defer server.Close()

		svc := NewEmbeddingService(embedTestConfig(server.URL, 32))
		_, err := svc.EmbedQuery(ctx, "hello")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "401")
		assert.Equal(t, 1, attempts, "4xx must not be retried")
	})

	t.Run("errors when vector count does not match", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"embeddings":[]}`)
		}))
		defer server.Close()

		svc := NewEmbeddingService(embedTestConfig(server.URL, 32))
		_, err := svc.EmbedQuery(ctx, "hello")
		require.Error(t, err)
	})

	t.Run("empty input is a no-op", func(t *testing.T) {
		svc := NewEmbeddingService(embedTestConfig("http://unused", 32))
		vectors, err := svc.EmbedDocuments(ctx, nil)
		require.NoError(t, err)
		assert.Nil(t, vectors)
	})
}

func TestRetryBackoff(t *testing.T) {
	assert.Equal(t, 1*time.Second, retryBackoff(1))
	assert.Equal(t, 2*time.Second, retryBackoff(2))
	assert.Equal(t, 4*time.Second, retryBackoff(3))
	assert.Equal(t, 8*time.Second, retryBackoff(4))
	assert.Equal(t, retryBackoffCap, retryBackoff(5))
	assert.Equal(t, retryBackoffCap, retryBackoff(64), "large attempt counts stay capped")
}
