package impl

import (
	"context"
	"fmt"

	"github.com/kb-service/config"
	"github.com/kb-service/models"
	"github.com/kb-service/services"
)

const overFetchCap = 50

type retrieverImpl struct {
	embedder        services.EmbeddingService
	vectors         services.VectorStore
	alpha           float64
	maxChunksPerDoc int
}

// NewRetriever builds the retrieval pipeline over the vector store.
func NewRetriever(embedder services.EmbeddingService, vectors services.VectorStore, cfg *config.RetrievalConfig) services.Retriever {
	maxPerDoc := cfg.MaxChunksPerDoc
	if maxPerDoc <= 0 {
		maxPerDoc = 3
	}
	return &retrieverImpl{
		embedder:        embedder,
		vectors:         vectors,
		alpha:           cfg.HybridAlpha,
		maxChunksPerDoc: maxPerDoc,
	}
}

// Retrieve searches, fuses, re-ranks, filters and deduplicates, then
// assigns citation ids over the final ordering.
func (r *retrieverImpl) Retrieve(ctx context.Context, query string, opts models.SearchOptions) ([]models.RetrievedChunk, error) {
	topK := opts.TopK
	if topK <= 0 {
		topK = 5
	}

	// Over-fetch so thresholding and per-document dedup still leave
	// enough candidates.
	fetchK := topK * 2
	if fetchK > overFetchCap {
		fetchK = overFetchCap
	}

	embedding, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query embedding failed: %w", err)
	}

	semantic, err := r.vectors.SearchSemantic(ctx, embedding, fetchK)
	if err != nil {
		return nil, fmt.Errorf("semantic search failed: %w", err)
	}

	var hits []models.SearchHit
	if opts.UseHybrid {
		lexical, err := r.vectors.SearchLexical(ctx, query, fetchK)
		if err != nil {
			return nil, fmt.Errorf("lexical search failed: %w", err)
		}
		hits = FuseHits(semantic, lexical, r.alpha)
	} else {
		hits = semantic
	}

	hits = Rerank(query, hits)

	// Under hybrid fusion the fused score is rank-based, so the threshold
	// applies to the preserved cosine score instead.
	var filtered []models.SearchHit
	for _, hit := range hits {
		relevance := hit.Score
		if opts.UseHybrid {
			relevance = hit.SemanticScore
		}
		if relevance >= opts.ScoreThreshold {
			filtered = append(filtered, hit)
		}
	}

	perDoc := make(map[string]int, len(filtered))
	var deduped []models.SearchHit
	for _, hit := range filtered {
		if perDoc[hit.DocID] >= r.maxChunksPerDoc {
			continue
		}
		perDoc[hit.DocID]++
		deduped = append(deduped, hit)
	}
	sortHits(deduped)

	if len(deduped) > topK {
		deduped = deduped[:topK]
	}

	chunks := make([]models.RetrievedChunk, len(deduped))
	for i, hit := range deduped {
		chunks[i] = models.RetrievedChunk{
			ChunkID:       hit.ChunkID,
			DocID:         hit.DocID,
			Content:       hit.Content,
			HeadingPath:   hit.HeadingPath,
			ChunkIndex:    hit.ChunkIndex,
			Score:         hit.Score,
			SemanticScore: hit.SemanticScore,
			CitationID:    i + 1,
		}
	}

	return chunks, nil
}
