package models

// SearchHit is a raw vector/lexical store result before fusion and
// re-ranking.
type SearchHit struct {
	ChunkID       string   `json:"chunk_id"`
	DocID         string   `json:"doc_id"`
	Content       string   `json:"content"`
	HeadingPath   []string `json:"heading_path"`
	ChunkIndex    int      `json:"chunk_index"`
	Score         float64  `json:"score"`
	SemanticScore float64  `json:"semantic_score,omitempty"`
	Source        string   `json:"source,omitempty"` // semantic, lexical, hybrid
}

// RetrievedChunk is a post-retrieval chunk carrying its final score and
// assigned citation id.
type RetrievedChunk struct {
	ChunkID       string   `json:"chunk_id"`
	DocID         string   `json:"doc_id"`
	Content       string   `json:"content"`
	HeadingPath   []string `json:"heading_path"`
	ChunkIndex    int      `json:"chunk_index"`
	Score         float64  `json:"score"`
	SemanticScore float64  `json:"semantic_score,omitempty"`
	CitationID    int      `json:"citation_id"`
}

// Citation points a generated answer back at its source document.
type Citation struct {
	ID          int      `json:"id"`
	DocID       string   `json:"doc_id"`
	Title       string   `json:"title"`
	Route       string   `json:"route"`
	HeadingPath []string `json:"heading_path,omitempty"`
	Score       float64  `json:"score"`
}

// SearchOptions configures a retrieval pass.
type SearchOptions struct {
	TopK           int     `json:"top_k"`
	ScoreThreshold float64 `json:"score_threshold"`
	UseHybrid      bool    `json:"use_hybrid"`
}

// AgentAnswer is the result of one agent handling a question. Chunks
// holds the retrieved evidence for callers that surface it (the SSE
// stream); it is not part of the /ask response body.
type AgentAnswer struct {
	Answer                 string           `json:"answer"`
	Chunks                 []RetrievedChunk `json:"-"`
	Citations              []Citation       `json:"citations"`
	HasSufficientKnowledge bool             `json:"has_sufficient_knowledge"`
	Model                  string           `json:"model,omitempty"`
	TokensUsed             int              `json:"tokens_used,omitempty"`
	RetrievalTimeMs        int              `json:"retrieval_time_ms"`
	GenerationTimeMs       int              `json:"generation_time_ms"`
	AgentType              string           `json:"agent_type,omitempty"`
	SourcesCount           int              `json:"sources_count"`
}
