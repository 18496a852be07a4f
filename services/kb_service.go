package services

import (
	"context"

	"github.com/kb-service/models"
)

// EmbeddingService turns text into dense vectors via the configured
// provider. Dimension is only valid after a successful probe or first call.
type EmbeddingService interface {
	// EmbedDocuments embeds a batch of passages, preserving order.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery embeds a single retrieval query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// ProbeDimension embeds a short probe text and records the vector
	// dimension the provider actually returns.
	ProbeDimension(ctx context.Context) (int, error)

	Dimension() int
	Model() string
}

// ChatService generates answers from the configured chat model.
type ChatService interface {
	// Generate runs a chat completion and returns the accumulated result.
	Generate(ctx context.Context, messages []models.ChatMessage) (*models.ChatResult, error)

	Model() string
}

// WebSearchService queries an external web search API. Enabled reports
// whether an API key is configured.
type WebSearchService interface {
	Search(ctx context.Context, query string, maxResults int) ([]models.WebSearchResult, error)
	Enabled() bool
}

// DocStore persists per-document index bookkeeping and index-level
// metadata.
type DocStore interface {
	GetDocument(ctx context.Context, docID string) (*models.DocumentRecord, error)
	GetChecksum(ctx context.Context, docID string) (string, error)
	GetChunkIDs(ctx context.Context, docID string) ([]string, error)
	UpsertDocument(ctx context.Context, doc models.Document, chunkIDs []string) error
	DeleteDocument(ctx context.Context, docID string) error
	ListDocIDs(ctx context.Context) ([]string, error)
	CountDocuments(ctx context.Context) (int64, error)
	Clear(ctx context.Context) error

	GetMeta(ctx context.Context, key string) (string, error)
	SetMeta(ctx context.Context, key, value string) error
}

// VectorStore persists chunk embeddings in pgvector and serves semantic
// and lexical search over them.
type VectorStore interface {
	AddChunks(ctx context.Context, chunks []models.Chunk) error
	DeleteChunks(ctx context.Context, chunkIDs []string) error
	DeleteByDoc(ctx context.Context, docID string) error

	// DeleteDocsNotIn removes chunks whose doc id is not in keep. Used by
	// the reconciliation pass after a corpus walk.
	DeleteDocsNotIn(ctx context.Context, keep []string) (int64, error)

	SearchSemantic(ctx context.Context, embedding []float32, k int) ([]models.SearchHit, error)
	SearchLexical(ctx context.Context, query string, k int) ([]models.SearchHit, error)

	CountChunks(ctx context.Context) (int64, error)
	Reset(ctx context.Context) error
	TableName() string
	Dimension() int
}

// Retriever runs the full retrieval pipeline: search, fuse, re-rank,
// threshold, dedup, citation assignment.
type Retriever interface {
	Retrieve(ctx context.Context, query string, opts models.SearchOptions) ([]models.RetrievedChunk, error)
}

// CacheService is a small get/set cache with TTL, backed by redis with an
// in-memory fallback.
type CacheService interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttlSeconds int) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Agent answers a question in one routing mode.
type Agent interface {
	Handle(ctx context.Context, question string, topK int) (*models.AgentAnswer, error)
	Type() string
}

// StagedAgent additionally reports when retrieval finishes, so streaming
// transports can send the retrieved chunks to the client before
// generation begins.
type StagedAgent interface {
	Agent
	HandleStaged(ctx context.Context, question string, topK int, onRetrieved func(chunks []models.RetrievedChunk, retrievalTimeMs int)) (*models.AgentAnswer, error)
}
