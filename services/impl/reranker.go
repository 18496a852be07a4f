package impl

import (
	"sort"
	"strings"

	"github.com/kb-service/models"
)

// Boost weights. The boosts are additive on top of the fused score and the
// result is clamped to [0,1] so downstream thresholds keep their meaning.
const (
	exactPhraseWeight = 0.15
	headingWeight     = 0.10
	termFreqWeight    = 0.05
	diversityPenalty  = 0.05

	maxPhraseOccurrences = 3
)

// Rerank applies heuristic boosts to fused search hits and demotes
// repeated chunks from the same document. Hits are returned in descending
// score order; the semantic score field is left untouched.
func Rerank(query string, hits []models.SearchHit) []models.SearchHit {
	if len(hits) == 0 {
		return hits
	}

	terms := queryTerms(query)
	phrase := strings.ToLower(strings.TrimSpace(query))

	out := make([]models.SearchHit, len(hits))
	copy(out, hits)

	for i := range out {
		content := strings.ToLower(out[i].Content)
		heading := strings.ToLower(strings.Join(out[i].HeadingPath, " "))

		score := out[i].Score

		if phrase != "" {
			occurrences := strings.Count(content, phrase)
			if occurrences > maxPhraseOccurrences {
				occurrences = maxPhraseOccurrences
			}
			score += exactPhraseWeight * float64(occurrences) / maxPhraseOccurrences
		}

		if len(terms) > 0 {
			headingMatches := 0
			found := 0
			total := 0
			for _, term := range terms {
				if strings.Contains(heading, term) {
					headingMatches++
				}
				count := strings.Count(content, term)
				if count > 0 {
					found++
				}
				total += count
			}

			headingRatio := float64(headingMatches) / float64(len(terms))
			if headingRatio > 1 {
				headingRatio = 1
			}
			score += headingWeight * headingRatio

			density := float64(total) / float64(2*len(terms))
			if density > 0.5 {
				density = 0.5
			}
			tf := float64(found)/float64(len(terms))*0.5 + density*0.5
			score += termFreqWeight * tf
		}

		out[i].Score = clampScore(score)
	}

	sortHits(out)

	// Second pass: each repeated appearance of a document costs a flat
	// penalty so one document cannot crowd out the rest.
	occurrences := make(map[string]int, len(out))
	for i := range out {
		occurrences[out[i].DocID]++
		if n := occurrences[out[i].DocID]; n > 1 {
			out[i].Score = clampScore(out[i].Score - diversityPenalty*float64(n-1))
		}
	}

	sortHits(out)
	return out
}

func sortHits(hits []models.SearchHit) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})
}

func clampScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
