package handlers

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kb-service/models"
	"github.com/kb-service/services"
)

// deltaInterval paces answer fragments so clients render progressively.
const deltaInterval = 20 * time.Millisecond

// Stream handles POST /stream: the answer pipeline as server-sent
// events. Every request ends with either a complete event or a single
// error event.
func (h *KBHandlers) Stream(c *gin.Context) {
	var req models.StreamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, models.ErrorResponse{Error: "invalid request", Detail: err.Error()})
		return
	}
	req.Question = strings.TrimSpace(req.Question)
	req.SessionID = strings.TrimSpace(req.SessionID)
	if req.Question == "" || req.SessionID == "" {
		c.JSON(http.StatusUnprocessableEntity, models.ErrorResponse{Error: "invalid request", Detail: "question and session_id must not be blank"})
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		return
	}

	sessionID := req.SessionID

	emit := func(event string, payload interface{}) bool {
		data, err := json.Marshal(payload)
		if err != nil {
			return false
		}
		if _, err := fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event, data); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}
	fail := func(message, detail string) {
		emit("error", models.ErrorResponse{Error: message, Detail: detail})
	}

	if !emit("start", gin.H{"status": "starting", "session_id": sessionID}) {
		return
	}

	if h.router == nil {
		fail("service unavailable", "index is not initialized")
		return
	}

	emit("retrieval_start", gin.H{"status": "retrieving"})

	// The retrieval frames go out as soon as retrieval finishes, before
	// generation runs; a generation failure then lands after them.
	phasesEmitted := false
	onRetrieved := func(chunks []models.RetrievedChunk, retrievalTimeMs int) {
		emit("retrieval_complete", gin.H{
			"chunks":            chunkFrames(chunks),
			"retrieval_time_ms": retrievalTimeMs,
		})
		emit("generation_start", gin.H{"status": "generating"})
		phasesEmitted = true
	}

	agent := h.router.Route(req.Question, req.Mode)
	var answer *models.AgentAnswer
	var err error
	if staged, ok := agent.(services.StagedAgent); ok {
		answer, err = staged.HandleStaged(c.Request.Context(), req.Question, req.TopK, onRetrieved)
	} else {
		answer, err = agent.Handle(c.Request.Context(), req.Question, req.TopK)
	}
	if err != nil {
		log.Printf("Stream answer failed (session %s): %v", sessionID, err)
		fail("answer generation failed", err.Error())
		return
	}
	if !phasesEmitted {
		onRetrieved(answer.Chunks, answer.RetrievalTimeMs)
	}

	// The answer arrives whole; stream it as paced word fragments and
	// honor client disconnects between them.
	ctx := c.Request.Context()
	words := strings.SplitAfter(answer.Answer, " ")
	for i, word := range words {
		if word == "" {
			continue
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
		if !emit("generation_delta", gin.H{"delta": word}) {
			return
		}
		if i < len(words)-1 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(deltaInterval):
			}
		}
	}

	citations := answer.Citations
	if citations == nil {
		citations = []models.Citation{}
	}
	emit("generation_complete", gin.H{
		"answer":    answer.Answer,
		"citations": citations,
		"metadata": gin.H{
			"agent_type":         answer.AgentType,
			"session_id":         sessionID,
			"retrieval_time_ms":  answer.RetrievalTimeMs,
			"generation_time_ms": answer.GenerationTimeMs,
			"sources_count":      answer.SourcesCount,
		},
	})
	emit("complete", gin.H{"session_id": sessionID})
}

// chunkFrames shapes retrieved chunks for the retrieval_complete event.
func chunkFrames(chunks []models.RetrievedChunk) []gin.H {
	frames := make([]gin.H, 0, len(chunks))
	for _, chunk := range chunks {
		headingPath := chunk.HeadingPath
		if headingPath == nil {
			headingPath = []string{}
		}
		frames = append(frames, gin.H{
			"chunk_id":     chunk.ChunkID,
			"doc_id":       chunk.DocID,
			"content":      chunk.Content,
			"heading_path": headingPath,
			"score":        chunk.Score,
		})
	}
	return frames
}
