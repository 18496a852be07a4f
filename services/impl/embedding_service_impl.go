package impl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/kb-service/config"
	"github.com/kb-service/services"
)

// providerMaxBatch is the hard batch ceiling of the embeddings API.
const providerMaxBatch = 100

// retryBackoffCap bounds the doubling retry delay on provider calls.
const retryBackoffCap = 10 * time.Second

// retryBackoff returns the delay before retry attempt n (n >= 1):
// 1s, 2s, 4s, ... capped at retryBackoffCap.
func retryBackoff(attempt int) time.Duration {
	backoff := time.Second << uint(attempt-1)
	if backoff <= 0 || backoff > retryBackoffCap {
		return retryBackoffCap
	}
	return backoff
}

type embeddingServiceImpl struct {
	baseURL    string
	apiKey     string
	model      string
	batchSize  int
	maxRetries int
	client     *http.Client
	dimension  int
}

// NewEmbeddingService creates a client for the batch embeddings API.
func NewEmbeddingService(cfg *config.EmbeddingConfig) services.EmbeddingService {
	batchSize := cfg.BatchSize
	if batchSize <= 0 || batchSize > providerMaxBatch {
		batchSize = providerMaxBatch
	}
	return &embeddingServiceImpl{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		batchSize:  batchSize,
		maxRetries: cfg.MaxRetries,
		client: &http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		},
	}
}

type embedContentRequest struct {
	Model   string       `json:"model"`
	Content embedContent `json:"content"`
}

type embedContent struct {
	Parts []embedPart `json:"parts"`
}

type embedPart struct {
	Text string `json:"text"`
}

type batchEmbedRequest struct {
	Requests []embedContentRequest `json:"requests"`
}

type batchEmbedResponse struct {
	Embeddings []struct {
		Values []float32 `json:"values"`
	} `json:"embeddings"`
}

func (s *embeddingServiceImpl) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += s.batchSize {
		end := start + s.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := s.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embedding batch %d-%d: %w", start, end, err)
		}
		vectors = append(vectors, batch...)
	}

	return vectors, nil
}

func (s *embeddingServiceImpl) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := s.embedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("expected 1 embedding, got %d", len(vectors))
	}
	return vectors[0], nil
}

// ProbeDimension embeds a short probe text to learn the vector dimension
// the provider returns for the configured model.
func (s *embeddingServiceImpl) ProbeDimension(ctx context.Context) (int, error) {
	vector, err := s.EmbedQuery(ctx, "test")
	if err != nil {
		return 0, fmt.Errorf("dimension probe failed: %w", err)
	}
	s.dimension = len(vector)
	log.Printf("Embedding model %s produces %d-dimensional vectors", s.model, s.dimension)
	return s.dimension, nil
}

func (s *embeddingServiceImpl) Dimension() int {
	return s.dimension
}

func (s *embeddingServiceImpl) Model() string {
	return s.model
}

func (s *embeddingServiceImpl) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	requests := make([]embedContentRequest, len(texts))
	for i, text := range texts {
		requests[i] = embedContentRequest{
			Model:   "models/" + s.model,
			Content: embedContent{Parts: []embedPart{{Text: text}}},
		}
	}

	jsonData, err := json.Marshal(batchEmbedRequest{Requests: requests})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embed request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:batchEmbedContents", s.baseURL, s.model)

	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(retryBackoff(attempt)):
			}
		}

		req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
		if err != nil {
			return nil, fmt.Errorf("failed to create embed request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-goog-api-key", s.apiKey)

		resp, err := s.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("embed request failed: %w", err)
			log.Printf("Embedding attempt %d failed: %v", attempt+1, err)
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("failed to read embed response: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("embedding API returned %d: %s", resp.StatusCode, string(body))
			log.Printf("Embedding attempt %d got status %d, retrying", attempt+1, resp.StatusCode)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			// 4xx other than 429 will not get better on retry.
			return nil, fmt.Errorf("embedding API returned %d: %s", resp.StatusCode, string(body))
		}

		var parsed batchEmbedResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return nil, fmt.Errorf("failed to decode embed response: %w", err)
		}
		if len(parsed.Embeddings) != len(texts) {
			return nil, fmt.Errorf("embedding API returned %d vectors for %d texts", len(parsed.Embeddings), len(texts))
		}

		vectors := make([][]float32, len(parsed.Embeddings))
		for i, emb := range parsed.Embeddings {
			if len(emb.Values) == 0 {
				return nil, fmt.Errorf("embedding API returned empty vector at position %d", i)
			}
			vectors[i] = emb.Values
		}
		if s.dimension == 0 {
			s.dimension = len(vectors[0])
		}
		return vectors, nil
	}

	return nil, fmt.Errorf("embedding failed after %d attempts: %w", s.maxRetries+1, lastErr)
}
