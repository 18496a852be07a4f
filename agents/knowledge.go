package agents

import (
	"context"
	"fmt"
	"time"

	"github.com/kb-service/config"
	"github.com/kb-service/models"
	"github.com/kb-service/services"
)

// KnowledgeAgent answers from the documentation index: retrieve, check
// sufficiency, build context, generate with citations.
type KnowledgeAgent struct {
	retriever services.Retriever
	chat      services.ChatService
	docs      services.DocStore
	cfg       *config.RetrievalConfig
}

func NewKnowledgeAgent(retriever services.Retriever, chat services.ChatService, docs services.DocStore, cfg *config.RetrievalConfig) *KnowledgeAgent {
	return &KnowledgeAgent{
		retriever: retriever,
		chat:      chat,
		docs:      docs,
		cfg:       cfg,
	}
}

func (a *KnowledgeAgent) Type() string {
	return "knowledge"
}

func (a *KnowledgeAgent) Handle(ctx context.Context, question string, topK int) (*models.AgentAnswer, error) {
	return a.HandleStaged(ctx, question, topK, nil)
}

// HandleStaged runs the same pipeline as Handle and calls onRetrieved
// between the retrieval and generation phases.
func (a *KnowledgeAgent) HandleStaged(ctx context.Context, question string, topK int, onRetrieved func([]models.RetrievedChunk, int)) (*models.AgentAnswer, error) {
	if topK <= 0 {
		topK = a.cfg.TopK
	}

	retrievalStart := time.Now()
	chunks, err := a.retriever.Retrieve(ctx, question, models.SearchOptions{
		TopK:           topK,
		ScoreThreshold: a.cfg.ScoreThreshold,
		UseHybrid:      a.cfg.UseHybrid,
	})
	if err != nil {
		return nil, fmt.Errorf("retrieval failed: %w", err)
	}
	retrievalMs := int(time.Since(retrievalStart).Milliseconds())
	if onRetrieved != nil {
		onRetrieved(chunks, retrievalMs)
	}

	if !a.sufficient(chunks) {
		return &models.AgentAnswer{
			Answer:                 InsufficientAnswer,
			Chunks:                 chunks,
			Citations:              []models.Citation{},
			HasSufficientKnowledge: false,
			RetrievalTimeMs:        retrievalMs,
			AgentType:              a.Type(),
			SourcesCount:           len(chunks),
		}, nil
	}

	citations := a.buildCitations(ctx, chunks)
	contextText := BuildContext(chunks, a.cfg.ContextBudgetChars)

	generationStart := time.Now()
	result, err := a.chat.Generate(ctx, BuildPrompt(question, contextText))
	if err != nil {
		return nil, fmt.Errorf("generation failed: %w", err)
	}
	generationMs := int(time.Since(generationStart).Milliseconds())

	return &models.AgentAnswer{
		Answer:                 result.Content,
		Chunks:                 chunks,
		Citations:              FilterCitations(citations, result.Content),
		HasSufficientKnowledge: !AnswerDeclined(result.Content),
		Model:                  result.Model,
		TokensUsed:             result.TokensUsed,
		RetrievalTimeMs:        retrievalMs,
		GenerationTimeMs:       generationMs,
		AgentType:              a.Type(),
		SourcesCount:           len(chunks),
	}, nil
}

// sufficient checks whether the best chunk clears the sufficiency
// threshold. Under hybrid retrieval the cosine score is the comparable
// signal; fused scores are rank-scaled.
func (a *KnowledgeAgent) sufficient(chunks []models.RetrievedChunk) bool {
	if len(chunks) == 0 {
		return false
	}
	best := chunks[0].Score
	if a.cfg.UseHybrid {
		best = chunks[0].SemanticScore
	}
	return best >= a.cfg.SufficiencyThreshold
}

func (a *KnowledgeAgent) buildCitations(ctx context.Context, chunks []models.RetrievedChunk) []models.Citation {
	citations := make([]models.Citation, 0, len(chunks))
	for _, chunk := range chunks {
		title := "Unknown Document"
		path := chunk.DocID
		if record, err := a.docs.GetDocument(ctx, chunk.DocID); err == nil && record != nil {
			if record.Title != "" {
				title = record.Title
			}
			if record.Path != "" {
				path = record.Path
			}
		}
		citations = append(citations, models.Citation{
			ID:          chunk.CitationID,
			DocID:       chunk.DocID,
			Title:       title,
			Route:       RouteForPath(path),
			HeadingPath: chunk.HeadingPath,
			Score:       chunk.Score,
		})
	}
	return citations
}
