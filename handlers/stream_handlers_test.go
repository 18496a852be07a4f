package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kb-service/models"
)

func newStreamEngine(h *KBHandlers) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/stream", h.Stream)
	router.POST("/chat/stream", h.Stream)
	router.POST("/ask/stream", h.Stream)
	return router
}

// stagedStubAgent reports retrieval completion before producing its
// answer, the way the real agents do.
type stagedStubAgent struct {
	stubAgent
	chunks          []models.RetrievedChunk
	retrievalTimeMs int
}

func (s *stagedStubAgent) HandleStaged(ctx context.Context, question string, topK int, onRetrieved func([]models.RetrievedChunk, int)) (*models.AgentAnswer, error) {
	if onRetrieved != nil {
		onRetrieved(s.chunks, s.retrievalTimeMs)
	}
	return s.answer, s.err
}

// sseEvents parses an event stream body into ordered (event, data) pairs.
func sseEvents(t *testing.T, body string) [][2]string {
	t.Helper()
	var events [][2]string
	var current string
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			current = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			events = append(events, [2]string{current, strings.TrimPrefix(line, "data: ")})
		}
	}
	require.NoError(t, scanner.Err())
	return events
}

func eventNames(events [][2]string) []string {
	names := make([]string, len(events))
	for i, e := range events {
		names[i] = e[0]
	}
	return names
}

func TestStream(t *testing.T) {
	t.Run("emits the full event sequence", func(t *testing.T) {
		chunks := []models.RetrievedChunk{{
			ChunkID: "c1", DocID: "docs/guide", Content: "Retries live here.",
			HeadingPath: []string{"Guide", "Webhooks"}, Score: 0.8, CitationID: 1,
		}}
		agent := &stagedStubAgent{
			stubAgent: stubAgent{agentType: "knowledge", answer: &models.AgentAnswer{
				Answer:                 "Retries are configurable [1].",
				Chunks:                 chunks,
				Citations:              []models.Citation{{ID: 1, DocID: "docs/guide", Title: "Setup Guide"}},
				HasSufficientKnowledge: true,
				AgentType:              "knowledge",
				SourcesCount:           1,
				RetrievalTimeMs:        12,
				GenerationTimeMs:       80,
			}},
			chunks:          chunks,
			retrievalTimeMs: 12,
		}
		router := newStreamEngine(newTestHandlers(&stubRetriever{}, agent, nil))

		w := postJSON(router, "/stream", models.StreamRequest{Question: "how to configure retries?", SessionID: "sess-1"})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

		events := sseEvents(t, w.Body.String())
		names := eventNames(events)

		require.GreaterOrEqual(t, len(names), 6)
		assert.Equal(t, "start", names[0])
		assert.Equal(t, "retrieval_start", names[1])
		assert.Equal(t, "retrieval_complete", names[2])
		assert.Equal(t, "generation_start", names[3])
		assert.Equal(t, "generation_complete", names[len(names)-2])
		assert.Equal(t, "complete", names[len(names)-1])

		assert.Contains(t, events[0][1], "sess-1")
		assert.Contains(t, events[0][1], `"status":"starting"`)

		var retrieved struct {
			Chunks []struct {
				ChunkID     string   `json:"chunk_id"`
				DocID       string   `json:"doc_id"`
				Content     string   `json:"content"`
				HeadingPath []string `json:"heading_path"`
				Score       float64  `json:"score"`
			} `json:"chunks"`
			RetrievalTimeMs int `json:"retrieval_time_ms"`
		}
		require.NoError(t, json.Unmarshal([]byte(events[2][1]), &retrieved))
		require.Len(t, retrieved.Chunks, 1)
		assert.Equal(t, "c1", retrieved.Chunks[0].ChunkID)
		assert.Equal(t, []string{"Guide", "Webhooks"}, retrieved.Chunks[0].HeadingPath)
		assert.Equal(t, 12, retrieved.RetrievalTimeMs)

		var deltas strings.Builder
		for _, e := range events {
			if e[0] == "generation_delta" {
				var payload struct {
					Delta string `json:"delta"`
				}
				require.NoError(t, json.Unmarshal([]byte(e[1]), &payload))
				deltas.WriteString(payload.Delta)
			}
		}
		assert.Equal(t, "Retries are configurable [1].", deltas.String())

		final := events[len(events)-2][1]
		assert.Contains(t, final, `"agent_type":"knowledge"`)
		assert.Contains(t, final, `"session_id":"sess-1"`)
		assert.Contains(t, final, "Setup Guide")
	})

	t.Run("missing session id is a validation error", func(t *testing.T) {
		agent := &stubAgent{agentType: "knowledge", answer: &models.AgentAnswer{Answer: "ok", AgentType: "knowledge"}}
		router := newStreamEngine(newTestHandlers(&stubRetriever{}, agent, nil))

		w := postJSON(router, "/chat/stream", map[string]interface{}{"question": "q"})
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})

	t.Run("whitespace-only question is a validation error", func(t *testing.T) {
		agent := &stubAgent{agentType: "knowledge", answer: &models.AgentAnswer{Answer: "ok", AgentType: "knowledge"}}
		router := newStreamEngine(newTestHandlers(&stubRetriever{}, agent, nil))

		w := postJSON(router, "/chat/stream", models.StreamRequest{Question: "   ", SessionID: "sess-1"})
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})

	t.Run("generation failure lands after the retrieval frames", func(t *testing.T) {
		agent := &stagedStubAgent{
			stubAgent: stubAgent{agentType: "knowledge", err: errors.New("llm down")},
			chunks: []models.RetrievedChunk{{
				ChunkID: "c1", DocID: "docs/guide", Content: "body", Score: 0.7, CitationID: 1,
			}},
			retrievalTimeMs: 9,
		}
		router := newStreamEngine(newTestHandlers(&stubRetriever{}, agent, nil))

		w := postJSON(router, "/stream", models.StreamRequest{Question: "q", SessionID: "sess-5"})
		require.Equal(t, http.StatusOK, w.Code)

		events := sseEvents(t, w.Body.String())
		assert.Equal(t,
			[]string{"start", "retrieval_start", "retrieval_complete", "generation_start", "error"},
			eventNames(events))
		assert.Contains(t, events[2][1], `"c1"`)
	})

	t.Run("chat alias serves the same stream", func(t *testing.T) {
		agent := &stubAgent{agentType: "knowledge", answer: &models.AgentAnswer{
			Answer: "ok", AgentType: "knowledge",
		}}
		router := newStreamEngine(newTestHandlers(&stubRetriever{}, agent, nil))

		w := postJSON(router, "/chat/stream", models.StreamRequest{Question: "q", SessionID: "sess-6"})
		require.Equal(t, http.StatusOK, w.Code)

		names := eventNames(sseEvents(t, w.Body.String()))
		assert.Equal(t, "start", names[0])
		assert.Equal(t, "complete", names[len(names)-1])
		assert.Contains(t, names, "retrieval_complete")
	})

	t.Run("agent failure becomes an error event", func(t *testing.T) {
		agent := &stubAgent{agentType: "knowledge", err: errors.New("llm down")}
		router := newStreamEngine(newTestHandlers(&stubRetriever{}, agent, nil))

		w := postJSON(router, "/chat/stream", models.StreamRequest{Question: "q", SessionID: "sess-2"})
		require.Equal(t, http.StatusOK, w.Code, "errors after headers stay in-band")

		events := sseEvents(t, w.Body.String())
		names := eventNames(events)
		assert.Equal(t, "error", names[len(names)-1])
		assert.NotContains(t, names, "complete")
	})

	t.Run("degraded service emits an error event", func(t *testing.T) {
		router := newStreamEngine(newTestHandlers(nil, nil, []string{"boom"}))

		w := postJSON(router, "/chat/stream", models.StreamRequest{Question: "q", SessionID: "sess-3"})
		events := sseEvents(t, w.Body.String())
		names := eventNames(events)
		require.Len(t, names, 2)
		assert.Equal(t, "start", names[0])
		assert.Equal(t, "error", names[1])
	})

	t.Run("missing question is a plain validation error", func(t *testing.T) {
		agent := &stubAgent{agentType: "knowledge"}
		router := newStreamEngine(newTestHandlers(&stubRetriever{}, agent, nil))

		w := postJSON(router, "/chat/stream", map[string]interface{}{"top_k": 3})
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})

	t.Run("top_k above the stream cap is rejected", func(t *testing.T) {
		agent := &stubAgent{agentType: "knowledge"}
		router := newStreamEngine(newTestHandlers(&stubRetriever{}, agent, nil))

		w := postJSON(router, "/chat/stream", map[string]interface{}{"question": "q", "session_id": "sess-4", "top_k": 21})
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})
}
