package impl

import (
	"sort"

	"github.com/kb-service/models"
)

// rrfK dampens the rank contribution so depth differences between the two
// lists do not dominate the fused score.
const rrfK = 60

// FuseHits merges semantic and lexical result lists with reciprocal rank
// fusion. alpha weights the semantic list; ranks are 1-based. A chunk
// present in both lists keeps the semantic copy's content and metadata,
// and its cosine score survives as SemanticScore. Ties break on chunk id
// so fusion is deterministic.
func FuseHits(semantic, lexical []models.SearchHit, alpha float64) []models.SearchHit {
	type fused struct {
		hit   models.SearchHit
		score float64
	}

	merged := make(map[string]*fused, len(semantic)+len(lexical))

	for i, hit := range semantic {
		h := hit
		h.Source = "hybrid"
		merged[hit.ChunkID] = &fused{
			hit:   h,
			score: alpha / float64(rrfK+i+1),
		}
	}

	for i, hit := range lexical {
		contribution := (1 - alpha) / float64(rrfK+i+1)
		if entry, ok := merged[hit.ChunkID]; ok {
			entry.score += contribution
			continue
		}
		h := hit
		h.Source = "hybrid"
		h.SemanticScore = 0
		merged[hit.ChunkID] = &fused{hit: h, score: contribution}
	}

	out := make([]models.SearchHit, 0, len(merged))
	for _, entry := range merged {
		entry.hit.Score = entry.score
		out = append(out, entry.hit)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ChunkID < out[j].ChunkID
	})

	return out
}
