package impl

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kb-service/config"
)

func webTestConfig(baseURL, apiKey string) *config.WebSearchConfig {
	return &config.WebSearchConfig{
		BaseURL:    baseURL,
		APIKey:     apiKey,
		MaxResults: 5,
		Timeout:    5,
	}
}

func TestWebSearch(t *testing.T) {
	ctx := context.Background()

	t.Run("parses results", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/search", r.URL.Path)

			var req webSearchRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "tavily-key", req.APIKey)
			assert.Equal(t, "latest release", req.Query)
			assert.Equal(t, 3, req.MaxResults)

			fmt.Fprint(w, `{"results":[{"title":"Notes","url":"https://example.com","content":"v2 shipped","score":0.9}]}`)
		}))
		defer server.Close()

		svc := NewWebSearchService(webTestConfig(server.URL, "tavily-key"))
		results, err := svc.Search(ctx, "latest release", 3)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "Notes", results[0].Title)
		assert.Equal(t, "https://example.com", results[0].URL)
	})

	t.Run("zero max results uses the configured default", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var req webSearchRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, 5, req.MaxResults)
			fmt.Fprint(w, `{"results":[]}`)
		}))
		defer server.Close()

		svc := NewWebSearchService(webTestConfig(server.URL, "tavily-key"))
		results, err := svc.Search(ctx, "q", 0)
		require.NoError(t, err)
		assert.Empty(t, results)
	})

	t.Run("non-200 is an error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer server.Close()

		svc := NewWebSearchService(webTestConfig(server.URL, "tavily-key"))
		_, err := svc.Search(ctx, "q", 1)
		require.Error(t, err)
	})

	t.Run("missing api key disables the service", func(t *testing.T) {
		svc := NewWebSearchService(webTestConfig("http://unused", ""))
		assert.False(t, svc.Enabled())
		_, err := svc.Search(ctx, "q", 1)
		require.Error(t, err)
	})
}
