package agents

import (
	"strings"

	"github.com/kb-service/services"
)

// Routing keyword lists. Knowledge keywords indicate documentation
// questions; web keywords indicate freshness-sensitive ones.
var (
	knowledgeKeywords = []string{
		"how to", "explain", "what is", "configure", "setup", "install",
		"docs", "documentation", "guide", "tutorial", "error", "troubleshoot",
	}
	webKeywords = []string{
		"latest", "news", "today", "current", "recent", "price",
		"2023", "2024", "2025", "release", "version", "update", "announcement",
	}
	questionWords = []string{"how", "what", "where", "when", "why", "who", "which"}
)

// Confidence scores per agent. Hybrid is the floor: when nothing scores
// above minConfidence the router falls back to it.
const (
	knowledgeKeywordScore  = 0.85
	knowledgeQuestionScore = 0.70
	knowledgeDefaultScore  = 0.55

	webKeywordScore = 0.90
	webDateScore    = 0.75
	webDefaultScore = 0.40

	hybridScore   = 0.65
	minConfidence = 0.5
)

// Router picks the agent for a question, either by explicit mode or by
// keyword confidence scoring.
type Router struct {
	knowledge  services.Agent
	web        services.Agent
	hybrid     services.Agent
	webEnabled bool
}

func NewRouter(knowledge, web, hybrid services.Agent, webEnabled bool) *Router {
	return &Router{
		knowledge:  knowledge,
		web:        web,
		hybrid:     hybrid,
		webEnabled: webEnabled,
	}
}

// Route returns the agent for the question. mode "auto" or "" scores the
// question; explicit modes win. Web modes degrade to knowledge when web
// search is not configured.
func (r *Router) Route(question, mode string) services.Agent {
	switch mode {
	case "knowledge":
		return r.knowledge
	case "web_search":
		if r.webEnabled {
			return r.web
		}
		return r.knowledge
	case "hybrid":
		if r.webEnabled {
			return r.hybrid
		}
		return r.knowledge
	}

	lower := strings.ToLower(question)

	scores := map[services.Agent]float64{
		r.knowledge: knowledgeConfidence(lower),
	}
	if r.webEnabled {
		scores[r.web] = webConfidence(lower)
		scores[r.hybrid] = hybridScore
	}

	var (
		best      services.Agent
		bestScore float64
	)
	for agent, score := range scores {
		if score > bestScore || (score == bestScore && best != nil && agent.Type() < best.Type()) {
			best, bestScore = agent, score
		}
	}

	if bestScore < minConfidence {
		if r.webEnabled {
			return r.hybrid
		}
		return r.knowledge
	}
	return best
}

func knowledgeConfidence(question string) float64 {
	for _, kw := range knowledgeKeywords {
		if strings.Contains(question, kw) {
			return knowledgeKeywordScore
		}
	}
	for _, w := range questionWords {
		if strings.HasPrefix(question, w+" ") {
			return knowledgeQuestionScore
		}
	}
	return knowledgeDefaultScore
}

func webConfidence(question string) float64 {
	for _, kw := range webKeywords {
		if strings.Contains(question, kw) {
			return webKeywordScore
		}
	}
	if strings.Contains(question, "now") || strings.Contains(question, "this week") {
		return webDateScore
	}
	return webDefaultScore
}
