package agents

import (
	"context"
	"log"

	"github.com/kb-service/models"
	"github.com/kb-service/services"
)

// HybridAgent tries the documentation first and falls back to web search
// when the index cannot answer.
type HybridAgent struct {
	knowledge *KnowledgeAgent
	web       *WebSearchAgent
	webSvc    services.WebSearchService
}

func NewHybridAgent(knowledge *KnowledgeAgent, web *WebSearchAgent, webSvc services.WebSearchService) *HybridAgent {
	return &HybridAgent{
		knowledge: knowledge,
		web:       web,
		webSvc:    webSvc,
	}
}

func (a *HybridAgent) Type() string {
	return "hybrid"
}

func (a *HybridAgent) Handle(ctx context.Context, question string, topK int) (*models.AgentAnswer, error) {
	return a.HandleStaged(ctx, question, topK, nil)
}

// HandleStaged forwards the retrieval notification to the knowledge phase;
// a web fallback happens after the retrieval frames are already out.
func (a *HybridAgent) HandleStaged(ctx context.Context, question string, topK int, onRetrieved func([]models.RetrievedChunk, int)) (*models.AgentAnswer, error) {
	answer, err := a.knowledge.HandleStaged(ctx, question, topK, onRetrieved)
	if err != nil {
		return nil, err
	}
	if answer.HasSufficientKnowledge || a.webSvc == nil || !a.webSvc.Enabled() {
		answer.AgentType = a.Type()
		return answer, nil
	}

	webAnswer, webErr := a.web.Handle(ctx, question, topK)
	if webErr != nil {
		// Keep the knowledge answer rather than failing the request.
		log.Printf("Hybrid web fallback failed: %v", webErr)
		answer.AgentType = a.Type()
		return answer, nil
	}

	webAnswer.AgentType = a.Type()
	webAnswer.RetrievalTimeMs += answer.RetrievalTimeMs
	webAnswer.Chunks = answer.Chunks
	if len(webAnswer.Citations) == 0 {
		webAnswer.Citations = answer.Citations
	}
	return webAnswer, nil
}
