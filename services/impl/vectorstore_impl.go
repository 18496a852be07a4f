package impl

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"

	"github.com/lib/pq"

	"github.com/kb-service/models"
	"github.com/kb-service/services"
)

const (
	addChunksBatchSize = 32

	// ivfflat caps at 2000 dimensions; larger embeddings get an hnsw index.
	ivfflatMaxDim = 2000
)

type vectorStoreImpl struct {
	db        *sql.DB
	tableName string
	dimension int
}

// NewVectorStore ensures the chunk table for the given embedding model
// exists with the right vector dimension and returns a store over it.
// A table with a stale dimension is dropped and recreated.
func NewVectorStore(ctx context.Context, db *sql.DB, embeddingModel string, dimension int) (services.VectorStore, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("vector store requires a positive dimension, got %d", dimension)
	}

	store := &vectorStoreImpl{
		db:        db,
		tableName: ChunkTableName(embeddingModel),
		dimension: dimension,
	}
	if err := store.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// ChunkTableName derives the per-model table name. Model names may carry
// characters Postgres identifiers cannot.
func ChunkTableName(embeddingModel string) string {
	safe := strings.ToLower(embeddingModel)
	for _, ch := range []string{"/", "-", ".", ":"} {
		safe = strings.ReplaceAll(safe, ch, "_")
	}
	return "kb_chunks_" + safe
}

func (s *vectorStoreImpl) ensureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return fmt.Errorf("failed to ensure pgvector extension: %w", err)
	}

	existing, err := s.existingDimension(ctx)
	if err != nil {
		return err
	}
	if existing > 0 && existing != s.dimension {
		log.Printf("Table %s has %d-dimensional embeddings, expected %d, recreating",
			s.tableName, existing, s.dimension)
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, s.tableName)); err != nil {
			return fmt.Errorf("failed to drop stale table %s: %w", s.tableName, err)
		}
	}

	createTable := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %s (
		id SERIAL PRIMARY KEY,
		chunk_id VARCHAR(64) UNIQUE NOT NULL,
		doc_id TEXT NOT NULL,
		content TEXT NOT NULL,
		heading_path JSONB DEFAULT '[]',
		chunk_index INTEGER DEFAULT 0,
		embedding vector(%d)
	)`, s.tableName, s.dimension)
	if _, err := s.db.ExecContext(ctx, createTable); err != nil {
		return fmt.Errorf("failed to create table %s: %w", s.tableName, err)
	}

	docIndex := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_doc_id ON %s (doc_id)`, s.tableName, s.tableName)
	if _, err := s.db.ExecContext(ctx, docIndex); err != nil {
		return fmt.Errorf("failed to create doc_id index on %s: %w", s.tableName, err)
	}

	var annIndex string
	if s.dimension <= ivfflatMaxDim {
		annIndex = fmt.Sprintf(
			`CREATE INDEX IF NOT EXISTS idx_%s_embedding ON %s USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100)`,
			s.tableName, s.tableName)
	} else {
		annIndex = fmt.Sprintf(
			`CREATE INDEX IF NOT EXISTS idx_%s_embedding ON %s USING hnsw (embedding vector_cosine_ops) WITH (m = 16, ef_construction = 64)`,
			s.tableName, s.tableName)
	}
	if _, err := s.db.ExecContext(ctx, annIndex); err != nil {
		// ANN index is an optimization; sequential scan still works.
		log.Printf("Warning: failed to create ANN index on %s: %v", s.tableName, err)
	}

	return nil
}

func (s *vectorStoreImpl) existingDimension(ctx context.Context) (int, error) {
	query := `
	SELECT a.atttypmod
	FROM pg_attribute a
	JOIN pg_class c ON a.attrelid = c.oid
	WHERE c.relname = $1 AND a.attname = 'embedding'`

	var dim int
	err := s.db.QueryRowContext(ctx, query, s.tableName).Scan(&dim)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to inspect table %s: %w", s.tableName, err)
	}
	return dim, nil
}

func (s *vectorStoreImpl) AddChunks(ctx context.Context, chunks []models.Chunk) error {
	for start := 0; start < len(chunks); start += addChunksBatchSize {
		end := start + addChunksBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		if err := s.addBatch(ctx, chunks[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *vectorStoreImpl) addBatch(ctx context.Context, chunks []models.Chunk) error {
	var (
		placeholders []string
		args         []interface{}
	)
	for i, chunk := range chunks {
		if len(chunk.Embedding) != s.dimension {
			return fmt.Errorf("chunk %s has %d-dimensional embedding, store expects %d",
				chunk.ChunkID, len(chunk.Embedding), s.dimension)
		}
		headingJSON, err := json.Marshal(chunk.HeadingPath)
		if err != nil {
			return fmt.Errorf("failed to encode heading path for %s: %w", chunk.ChunkID, err)
		}
		base := i * 6
		placeholders = append(placeholders, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d::vector)",
			base+1, base+2, base+3, base+4, base+5, base+6))
		args = append(args, chunk.ChunkID, chunk.DocID, chunk.Content, string(headingJSON), chunk.ChunkIndex, vectorLiteral(chunk.Embedding))
	}

	query := fmt.Sprintf(`
	INSERT INTO %s (chunk_id, doc_id, content, heading_path, chunk_index, embedding)
	VALUES %s
	ON CONFLICT (chunk_id) DO UPDATE SET
		doc_id = EXCLUDED.doc_id,
		content = EXCLUDED.content,
		heading_path = EXCLUDED.heading_path,
		chunk_index = EXCLUDED.chunk_index,
		embedding = EXCLUDED.embedding`,
		s.tableName, strings.Join(placeholders, ", "))

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to upsert %d chunks: %w", len(chunks), err)
	}
	return nil
}

// vectorLiteral renders an embedding as the pgvector text format.
func vectorLiteral(embedding []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range embedding {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(v), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

func (s *vectorStoreImpl) DeleteChunks(ctx context.Context, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE chunk_id = ANY($1)`, s.tableName)
	if _, err := s.db.ExecContext(ctx, query, pq.Array(chunkIDs)); err != nil {
		return fmt.Errorf("failed to delete %d chunks: %w", len(chunkIDs), err)
	}
	return nil
}

func (s *vectorStoreImpl) DeleteByDoc(ctx context.Context, docID string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE doc_id = $1`, s.tableName)
	if _, err := s.db.ExecContext(ctx, query, docID); err != nil {
		return fmt.Errorf("failed to delete chunks for %s: %w", docID, err)
	}
	return nil
}

func (s *vectorStoreImpl) DeleteDocsNotIn(ctx context.Context, keep []string) (int64, error) {
	var (
		result sql.Result
		err    error
	)
	if len(keep) == 0 {
		result, err = s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, s.tableName))
	} else {
		query := fmt.Sprintf(`DELETE FROM %s WHERE doc_id <> ALL($1)`, s.tableName)
		result, err = s.db.ExecContext(ctx, query, pq.Array(keep))
	}
	if err != nil {
		return 0, fmt.Errorf("failed to delete orphaned chunks: %w", err)
	}
	deleted, _ := result.RowsAffected()
	return deleted, nil
}

func (s *vectorStoreImpl) SearchSemantic(ctx context.Context, embedding []float32, k int) ([]models.SearchHit, error) {
	if len(embedding) != s.dimension {
		return nil, fmt.Errorf("query embedding has %d dimensions, store expects %d", len(embedding), s.dimension)
	}

	query := fmt.Sprintf(`
	SELECT chunk_id, doc_id, content, heading_path, chunk_index,
	       1 - (embedding <=> $1::vector) AS score
	FROM %s
	ORDER BY embedding <=> $1::vector, chunk_id
	LIMIT $2`, s.tableName)

	rows, err := s.db.QueryContext(ctx, query, vectorLiteral(embedding), k)
	if err != nil {
		return nil, fmt.Errorf("semantic search failed: %w", err)
	}
	defer rows.Close()

	hits, err := scanHits(rows, "semantic")
	if err != nil {
		return nil, err
	}
	for i := range hits {
		hits[i].SemanticScore = hits[i].Score
	}
	return hits, nil
}

// SearchLexical runs a full-text search over chunk content and falls back
// to ILIKE term matching when the tsquery matches nothing or cannot be
// built from the query.
func (s *vectorStoreImpl) SearchLexical(ctx context.Context, query string, k int) ([]models.SearchHit, error) {
	terms := queryTerms(query)
	if len(terms) == 0 {
		return nil, nil
	}

	hits, err := s.searchFullText(ctx, terms, k)
	if err != nil {
		log.Printf("Full-text search failed, falling back to ILIKE: %v", err)
		hits = nil
	}
	if len(hits) > 0 {
		return hits, nil
	}
	return s.searchILike(ctx, terms, k)
}

func (s *vectorStoreImpl) searchFullText(ctx context.Context, terms []string, k int) ([]models.SearchHit, error) {
	tsquery := strings.Join(terms, " & ")

	query := fmt.Sprintf(`
	SELECT chunk_id, doc_id, content, heading_path, chunk_index,
	       ts_rank(to_tsvector('english', content), to_tsquery('english', $1)) AS score
	FROM %s
	WHERE to_tsvector('english', content) @@ to_tsquery('english', $1)
	ORDER BY score DESC
	LIMIT $2`, s.tableName)

	rows, err := s.db.QueryContext(ctx, query, tsquery, k)
	if err != nil {
		return nil, fmt.Errorf("full-text search failed: %w", err)
	}
	defer rows.Close()

	return scanHits(rows, "lexical")
}

// ilikeMaxTerms bounds the OR fan-out of the fallback query.
const ilikeMaxTerms = 5

func (s *vectorStoreImpl) searchILike(ctx context.Context, terms []string, k int) ([]models.SearchHit, error) {
	if len(terms) > ilikeMaxTerms {
		terms = terms[:ilikeMaxTerms]
	}

	var (
		conditions []string
		args       []interface{}
	)
	for i, term := range terms {
		conditions = append(conditions, fmt.Sprintf("content ILIKE $%d", i+1))
		args = append(args, "%"+term+"%")
	}
	args = append(args, k*5)

	query := fmt.Sprintf(`
	SELECT chunk_id, doc_id, content, heading_path, chunk_index, 0 AS score
	FROM %s
	WHERE %s
	LIMIT $%d`, s.tableName, strings.Join(conditions, " OR "), len(terms)+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("fallback lexical search failed: %w", err)
	}
	defer rows.Close()

	hits, err := scanHits(rows, "lexical")
	if err != nil {
		return nil, err
	}

	// Score by the fraction of query terms each chunk contains.
	for i := range hits {
		lower := strings.ToLower(hits[i].Content)
		matched := 0
		for _, term := range terms {
			if strings.Contains(lower, term) {
				matched++
			}
		}
		hits[i].Score = float64(matched) / float64(len(terms))
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func scanHits(rows *sql.Rows, source string) ([]models.SearchHit, error) {
	var hits []models.SearchHit
	for rows.Next() {
		var (
			hit         models.SearchHit
			headingJSON []byte
		)
		if err := rows.Scan(&hit.ChunkID, &hit.DocID, &hit.Content, &headingJSON, &hit.ChunkIndex, &hit.Score); err != nil {
			return nil, fmt.Errorf("failed to scan search hit: %w", err)
		}
		if len(headingJSON) > 0 {
			if err := json.Unmarshal(headingJSON, &hit.HeadingPath); err != nil {
				return nil, fmt.Errorf("failed to decode heading path for %s: %w", hit.ChunkID, err)
			}
		}
		hit.Source = source
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search iteration failed: %w", err)
	}
	return hits, nil
}

func (s *vectorStoreImpl) CountChunks(ctx context.Context) (int64, error) {
	var count int64
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s`, s.tableName)
	if err := s.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return count, nil
}

// Reset drops and recreates the chunks table so a rebuild starts from a
// clean schema, not just empty rows.
func (s *vectorStoreImpl) Reset(ctx context.Context) error {
	query := fmt.Sprintf(`DROP TABLE IF EXISTS %s`, s.tableName)
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to reset vector store: %w", err)
	}
	return s.ensureSchema(ctx)
}

func (s *vectorStoreImpl) TableName() string {
	return s.tableName
}

func (s *vectorStoreImpl) Dimension() int {
	return s.dimension
}
