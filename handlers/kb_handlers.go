package handlers

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kb-service/agents"
	"github.com/kb-service/config"
	"github.com/kb-service/models"
	"github.com/kb-service/services"
)

// Version is reported by / and /health.
const Version = "1.0.0"

// readyTimeout bounds the /ready database ping.
const readyTimeout = 2 * time.Second

// KBHandlers serves the question answering API. A nil retriever or router
// means startup failed partway; /health reports degraded and the query
// endpoints return 503.
type KBHandlers struct {
	retriever     services.Retriever
	docs          services.DocStore
	router        *agents.Router
	retrievalCfg  *config.RetrievalConfig
	db            *sql.DB
	startupErrors []string
}

func NewKBHandlers(retriever services.Retriever, docs services.DocStore, router *agents.Router, retrievalCfg *config.RetrievalConfig, db *sql.DB, startupErrors []string) *KBHandlers {
	return &KBHandlers{
		retriever:     retriever,
		docs:          docs,
		router:        router,
		retrievalCfg:  retrievalCfg,
		db:            db,
		startupErrors: startupErrors,
	}
}

// Root handles GET /.
func (h *KBHandlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "Documentation knowledge base API",
		"version": Version,
		"endpoints": []string{
			"GET /health",
			"GET /ready",
			"POST /search",
			"POST /ask",
			"POST /stream",
		},
	})
}

// Health handles GET /health. The process serving at all is "healthy";
// startup failures degrade the status but never 500 here.
func (h *KBHandlers) Health(c *gin.Context) {
	status := "healthy"
	if len(h.startupErrors) > 0 {
		status = "degraded"
	}
	c.JSON(http.StatusOK, models.HealthResponse{
		Status:        status,
		Version:       Version,
		StartupErrors: h.startupErrors,
	})
}

// Ready handles GET /ready: 200 only when the service can actually answer
// queries.
func (h *KBHandlers) Ready(c *gin.Context) {
	if h.retriever == nil || h.router == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unavailable",
			"reason": "service did not finish initialization",
		})
		return
	}

	if h.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), readyTimeout)
		defer cancel()
		if err := h.db.PingContext(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unavailable",
				"reason": "database unreachable",
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// Search handles POST /search: retrieval without generation, enriched
// with document metadata.
func (h *KBHandlers) Search(c *gin.Context) {
	if h.retriever == nil {
		c.JSON(http.StatusServiceUnavailable, models.ErrorResponse{Error: "search is unavailable", Detail: "index is not initialized"})
		return
	}

	var req models.SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, models.ErrorResponse{Error: "invalid request", Detail: err.Error()})
		return
	}
	if req.K == 0 {
		req.K = h.retrievalCfg.TopK
	}

	start := time.Now()
	chunks, err := h.retriever.Retrieve(c.Request.Context(), req.Query, models.SearchOptions{
		TopK:           req.K,
		ScoreThreshold: h.retrievalCfg.ScoreThreshold,
		UseHybrid:      h.retrievalCfg.UseHybrid,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "search failed", Detail: err.Error()})
		return
	}

	results := make([]models.SearchResultItem, 0, len(chunks))
	for _, chunk := range chunks {
		info := models.DocumentInfo{Title: "Unknown Document", Path: chunk.DocID}
		if record, err := h.docs.GetDocument(c.Request.Context(), chunk.DocID); err == nil && record != nil {
			if record.Title != "" {
				info.Title = record.Title
			}
			if record.Path != "" {
				info.Path = record.Path
			}
		}
		results = append(results, models.SearchResultItem{
			ChunkID:     chunk.ChunkID,
			DocID:       chunk.DocID,
			Content:     chunk.Content,
			HeadingPath: chunk.HeadingPath,
			ChunkIndex:  chunk.ChunkIndex,
			Score:       chunk.Score,
			Document:    info,
		})
	}

	c.JSON(http.StatusOK, models.SearchResponse{
		Query:           req.Query,
		Results:         results,
		Count:           len(results),
		RetrievalTimeMs: int(time.Since(start).Milliseconds()),
	})
}

// Ask handles POST /ask: full retrieval plus generation, non-streaming.
func (h *KBHandlers) Ask(c *gin.Context) {
	if h.router == nil {
		c.JSON(http.StatusServiceUnavailable, models.ErrorResponse{Error: "ask is unavailable", Detail: "index is not initialized"})
		return
	}

	var req models.AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, models.ErrorResponse{Error: "invalid request", Detail: err.Error()})
		return
	}

	agent := h.router.Route(req.Question, req.Mode)
	answer, err := agent.Handle(c.Request.Context(), req.Question, req.TopK)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "answer generation failed", Detail: err.Error()})
		return
	}

	c.JSON(http.StatusOK, models.AskResponse{
		Answer:                 answer.Answer,
		Citations:              answer.Citations,
		HasSufficientKnowledge: answer.HasSufficientKnowledge,
		Model:                  answer.Model,
		TokensUsed:             answer.TokensUsed,
		RetrievalTimeMs:        answer.RetrievalTimeMs,
		GenerationTimeMs:       answer.GenerationTimeMs,
		AgentType:              answer.AgentType,
	})
}
