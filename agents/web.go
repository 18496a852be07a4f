package agents

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kb-service/models"
	"github.com/kb-service/services"
)

// WebSearchAgent answers from live web results, for questions the static
// documentation cannot cover.
type WebSearchAgent struct {
	web        services.WebSearchService
	chat       services.ChatService
	maxResults int
}

func NewWebSearchAgent(web services.WebSearchService, chat services.ChatService, maxResults int) *WebSearchAgent {
	if maxResults <= 0 {
		maxResults = 5
	}
	return &WebSearchAgent{
		web:        web,
		chat:       chat,
		maxResults: maxResults,
	}
}

func (a *WebSearchAgent) Type() string {
	return "web_search"
}

func (a *WebSearchAgent) Handle(ctx context.Context, question string, topK int) (*models.AgentAnswer, error) {
	return a.HandleStaged(ctx, question, topK, nil)
}

// HandleStaged reports search completion before summarization. Web results
// are not index chunks, so the callback carries none.
func (a *WebSearchAgent) HandleStaged(ctx context.Context, question string, topK int, onRetrieved func([]models.RetrievedChunk, int)) (*models.AgentAnswer, error) {
	searchStart := time.Now()
	results, err := a.web.Search(ctx, question, a.maxResults)
	if err != nil {
		return nil, fmt.Errorf("web search failed: %w", err)
	}
	searchMs := int(time.Since(searchStart).Milliseconds())
	if onRetrieved != nil {
		onRetrieved(nil, searchMs)
	}

	if len(results) == 0 {
		return &models.AgentAnswer{
			Answer:                 "I could not find current information on the web for this question.",
			Citations:              []models.Citation{},
			HasSufficientKnowledge: false,
			RetrievalTimeMs:        searchMs,
			AgentType:              a.Type(),
		}, nil
	}

	var b strings.Builder
	for i, r := range results {
		fmt.Fprintf(&b, "[%d] %s (%s)\n%s\n\n", i+1, r.Title, r.URL, r.Content)
	}

	prompt := []models.ChatMessage{
		{Role: "system", Content: "You summarize web search results into a concise, sourced answer. Cite sources with [N] and include their URLs."},
		{Role: "user", Content: fmt.Sprintf("Search results:\n%s\nQuestion: %s", b.String(), question)},
	}

	generationStart := time.Now()
	result, err := a.chat.Generate(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("generation failed: %w", err)
	}

	return &models.AgentAnswer{
		Answer:                 result.Content,
		Citations:              []models.Citation{},
		HasSufficientKnowledge: true,
		Model:                  result.Model,
		TokensUsed:             result.TokensUsed,
		RetrievalTimeMs:        searchMs,
		GenerationTimeMs:       int(time.Since(generationStart).Milliseconds()),
		AgentType:              a.Type(),
		SourcesCount:           len(results),
	}, nil
}
