package impl

import "strings"

// stopWords are dropped from queries before lexical matching and
// re-ranking. Question words are included since they carry no retrieval
// signal for documentation queries.
var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true,
	"but": true, "in": true, "on": true, "at": true, "to": true,
	"for": true, "of": true, "with": true, "by": true, "from": true,
	"is": true, "are": true, "was": true, "were": true, "be": true,
	"been": true, "do": true, "does": true, "did": true, "can": true,
	"could": true, "should": true, "would": true, "will": true,
	"how": true, "what": true, "where": true, "when": true, "why": true,
	"who": true, "which": true, "that": true, "this": true, "these": true,
	"those": true, "it": true, "its": true, "my": true, "your": true,
	"you": true, "i": true, "we": true, "they": true,
}

// queryTerms lowercases the query, strips punctuation and returns the
// non-stop-word terms longer than two characters.
func queryTerms(query string) []string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return ' '
		}
	}, query)

	var terms []string
	for _, word := range strings.Fields(cleaned) {
		if len(word) > 2 && !stopWords[word] {
			terms = append(terms, word)
		}
	}
	return terms
}
