package models

// SearchRequest is the body of POST /search.
type SearchRequest struct {
	Query string `json:"query" binding:"required,min=1"`
	K     int    `json:"k,omitempty" binding:"omitempty,min=1,max=50"`
}

// SearchResultItem is one enriched /search result.
type SearchResultItem struct {
	ChunkID     string       `json:"chunk_id"`
	DocID       string       `json:"doc_id"`
	Content     string       `json:"content"`
	HeadingPath []string     `json:"heading_path"`
	ChunkIndex  int          `json:"chunk_index"`
	Score       float64      `json:"score"`
	Document    DocumentInfo `json:"document"`
}

// DocumentInfo is the document summary attached to search results.
type DocumentInfo struct {
	Title string `json:"title"`
	Path  string `json:"path"`
}

// SearchResponse is the body returned by POST /search.
type SearchResponse struct {
	Query           string             `json:"query"`
	Results         []SearchResultItem `json:"results"`
	Count           int                `json:"count"`
	RetrievalTimeMs int                `json:"retrieval_time_ms"`
}

// AskRequest is the body of POST /ask.
type AskRequest struct {
	Question string `json:"question" binding:"required,min=1"`
	TopK     int    `json:"top_k,omitempty" binding:"omitempty,min=1,max=50"`
	Mode     string `json:"mode,omitempty" binding:"omitempty,oneof=auto knowledge web_search hybrid"`
}

// AskResponse is the body returned by POST /ask.
type AskResponse struct {
	Answer                 string     `json:"answer"`
	Citations              []Citation `json:"citations"`
	HasSufficientKnowledge bool       `json:"has_sufficient_knowledge"`
	Model                  string     `json:"model,omitempty"`
	TokensUsed             int        `json:"tokens_used,omitempty"`
	RetrievalTimeMs        int        `json:"retrieval_time_ms"`
	GenerationTimeMs       int        `json:"generation_time_ms"`
	AgentType              string     `json:"agent_type,omitempty"`
}

// StreamRequest is the body of POST /chat/stream.
type StreamRequest struct {
	Question  string `json:"question" binding:"required,min=1"`
	SessionID string `json:"session_id" binding:"required,min=1"`
	TopK      int    `json:"top_k,omitempty" binding:"omitempty,min=1,max=20"`
	Mode      string `json:"mode,omitempty" binding:"omitempty,oneof=auto knowledge web_search hybrid"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status        string   `json:"status"`
	Version       string   `json:"version"`
	StartupErrors []string `json:"startup_errors,omitempty"`
}

// ErrorResponse is the uniform JSON error envelope.
type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}
