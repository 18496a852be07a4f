package impl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kb-service/config"
	"github.com/kb-service/models"
	"github.com/kb-service/services"
)

type webSearchServiceImpl struct {
	baseURL    string
	apiKey     string
	maxResults int
	client     *http.Client
}

// NewWebSearchService creates a client for the web search API. Without an
// API key the service reports disabled and Search returns an error.
func NewWebSearchService(cfg *config.WebSearchConfig) services.WebSearchService {
	return &webSearchServiceImpl{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		maxResults: cfg.MaxResults,
		client: &http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		},
	}
}

func (s *webSearchServiceImpl) Enabled() bool {
	return s.apiKey != ""
}

type webSearchRequest struct {
	APIKey     string `json:"api_key"`
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

type webSearchResponse struct {
	Results []struct {
		Title   string  `json:"title"`
		URL     string  `json:"url"`
		Content string  `json:"content"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

func (s *webSearchServiceImpl) Search(ctx context.Context, query string, maxResults int) ([]models.WebSearchResult, error) {
	if !s.Enabled() {
		return nil, fmt.Errorf("web search is not configured")
	}
	if maxResults <= 0 {
		maxResults = s.maxResults
	}

	jsonData, err := json.Marshal(webSearchRequest{
		APIKey:     s.apiKey,
		Query:      query,
		MaxResults: maxResults,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.baseURL+"/search", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("web search request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read search response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("web search API returned %d: %s", resp.StatusCode, string(body))
	}

	var parsed webSearchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	results := make([]models.WebSearchResult, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		results = append(results, models.WebSearchResult{
			Title:   r.Title,
			URL:     r.URL,
			Content: r.Content,
			Score:   r.Score,
		})
	}
	return results, nil
}
