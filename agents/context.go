package agents

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/kb-service/models"
)

const systemPrompt = `You are a documentation assistant. Answer questions using only the provided context.
Cite sources inline with bracketed numbers like [1] that refer to the numbered context blocks.
If the context does not contain the answer, say you do not have enough information.`

// insufficientPhrases mark answers where the model declined despite
// retrieval finding chunks.
var insufficientPhrases = []string{
	"i don't have enough information",
	"i do not have enough information",
	"not enough information",
	"couldn't find relevant information",
	"could not find relevant information",
	"no relevant information",
}

// InsufficientAnswer is returned when retrieval finds nothing usable.
const InsufficientAnswer = "I could not find relevant information in the documentation to answer this question."

// BuildContext renders retrieved chunks into numbered context blocks under
// a character budget. Each block opens with its citation id and heading
// path; the last block is truncated to fit rather than dropped whole when
// at least a line of content still fits.
func BuildContext(chunks []models.RetrievedChunk, budgetChars int) string {
	if budgetChars <= 0 {
		budgetChars = 4000
	}

	var b strings.Builder
	for _, chunk := range chunks {
		heading := strings.Join(chunk.HeadingPath, " > ")
		if heading == "" {
			heading = chunk.DocID
		}
		block := fmt.Sprintf("[%d] **%s**\n%s\n\n", chunk.CitationID, heading, chunk.Content)

		remaining := budgetChars - b.Len()
		if len(block) <= remaining {
			b.WriteString(block)
			continue
		}
		// Keep a truncated block only if a meaningful amount fits.
		header := fmt.Sprintf("[%d] **%s**\n", chunk.CitationID, heading)
		if remaining > len(header)+80 {
			cut := remaining - len(header) - 1
			for cut > 0 && !utf8.RuneStart(chunk.Content[cut]) {
				cut--
			}
			b.WriteString(header)
			b.WriteString(chunk.Content[:cut])
			b.WriteString("\n")
		}
		break
	}
	return strings.TrimRight(b.String(), "\n")
}

// BuildPrompt assembles the chat messages for answer generation.
func BuildPrompt(question, context string) []models.ChatMessage {
	user := fmt.Sprintf("Context:\n%s\n\nQuestion: %s\n\nAnswer with [N] citations.", context, question)
	return []models.ChatMessage{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: user},
	}
}

var citationPattern = regexp.MustCompile(`\[(\d+)\]`)

// ExtractCitationIDs returns the bracketed citation numbers found in the
// answer, unique, in first-appearance order.
func ExtractCitationIDs(answer string) []int {
	seen := map[int]bool{}
	var ids []int
	for _, match := range citationPattern.FindAllStringSubmatch(answer, -1) {
		id, err := strconv.Atoi(match[1])
		if err != nil || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}

// FilterCitations keeps the citations whose ids the answer actually used.
// An answer citing nothing keeps all citations so the caller can still
// show sources.
func FilterCitations(citations []models.Citation, answer string) []models.Citation {
	cited := ExtractCitationIDs(answer)
	if len(cited) == 0 {
		return citations
	}
	wanted := make(map[int]bool, len(cited))
	for _, id := range cited {
		wanted[id] = true
	}
	var out []models.Citation
	for _, c := range citations {
		if wanted[c.ID] {
			out = append(out, c)
		}
	}
	if out == nil {
		return citations
	}
	return out
}

// AnswerDeclined reports whether the model's answer admits it lacked
// sufficient knowledge.
func AnswerDeclined(answer string) bool {
	lower := strings.ToLower(answer)
	for _, phrase := range insufficientPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}
