package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/kb-service/models"
)

// Chunker splits Markdown documents into heading-scoped chunks with
// stable content-addressed ids. Chunking is fully deterministic: the same
// document always yields the same chunk ids, and an unchanged section keeps
// its ids when other sections change.
type Chunker struct {
	ChunkSize       int
	ChunkOverlap    int
	MaxSectionChars int
}

// splitter separator cascade, coarsest first. The empty string is the
// character-level last resort.
var separators = []string{"\n\n", "\n", " ", ""}

const maxHeadingLevel = 4

func NewChunker(chunkSize, chunkOverlap, maxSectionChars int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = 500
	}
	if chunkOverlap < 0 {
		chunkOverlap = 80
	}
	if maxSectionChars <= 0 {
		maxSectionChars = 2000
	}
	return &Chunker{
		ChunkSize:       chunkSize,
		ChunkOverlap:    chunkOverlap,
		MaxSectionChars: maxSectionChars,
	}
}

type section struct {
	headingPath []string
	content     string
}

// ChunkDocument splits doc.Content into chunks. Chunk indexes are assigned
// per document in emission order.
func (c *Chunker) ChunkDocument(doc models.Document) []models.Chunk {
	sections := splitSections(doc.Content)

	var chunks []models.Chunk
	index := 0
	for _, sec := range sections {
		pieces := []string{sec.content}
		if len(sec.content) > c.MaxSectionChars {
			pieces = c.splitText(sec.content, separators)
		}
		for _, piece := range pieces {
			piece = strings.TrimSpace(piece)
			if piece == "" {
				continue
			}
			chunks = append(chunks, models.Chunk{
				ChunkID:     ChunkID(doc.DocID, doc.Version, sec.headingPath, index, piece),
				DocID:       doc.DocID,
				Content:     piece,
				HeadingPath: append([]string(nil), sec.headingPath...),
				ChunkIndex:  index,
			})
			index++
		}
	}
	return chunks
}

// ChunkID derives the stable chunk identity:
// SHA256(docID:version:headingPath:chunkIndex:SHA256(content)).
func ChunkID(docID, version string, headingPath []string, chunkIndex int, content string) string {
	contentHash := sha256.Sum256([]byte(content))
	key := strings.Join([]string{
		docID,
		version,
		strings.Join(headingPath, ":"),
		strconv.Itoa(chunkIndex),
		hex.EncodeToString(contentHash[:]),
	}, ":")
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// Checksum is the raw-content hash used for incremental change detection.
func Checksum(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// splitSections walks the document line by line, cutting a new section at
// every ATX heading of level 1..4 and maintaining the heading stack.
// Heading markers inside fenced code blocks are ignored. Content before the
// first heading forms a section with an empty heading path.
func splitSections(content string) []section {
	lines := strings.Split(content, "\n")

	var sections []section
	var headingStack []string
	var buf []string
	inFence := false

	flush := func() {
		text := strings.TrimSpace(strings.Join(buf, "\n"))
		buf = buf[:0]
		if text == "" {
			return
		}
		sections = append(sections, section{
			headingPath: append([]string(nil), headingStack...),
			content:     text,
		})
	}

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			inFence = !inFence
			buf = append(buf, line)
			continue
		}
		if !inFence {
			if level, title, ok := parseHeading(trimmed); ok {
				flush()
				if level <= len(headingStack) {
					headingStack = headingStack[:level-1]
				}
				// A bare "#" still cuts a section but contributes no
				// path segment.
				if title != "" {
					headingStack = append(headingStack, title)
				}
				buf = append(buf, line)
				continue
			}
		}
		buf = append(buf, line)
	}
	flush()

	return sections
}

// parseHeading recognizes ATX headings "#"–"####". Deeper headings stay in
// the body of their parent section.
func parseHeading(line string) (level int, title string, ok bool) {
	if !strings.HasPrefix(line, "#") {
		return 0, "", false
	}
	for level < len(line) && line[level] == '#' {
		level++
	}
	if level > maxHeadingLevel {
		return 0, "", false
	}
	if level == len(line) {
		return level, "", true
	}
	if line[level] != ' ' && line[level] != '\t' {
		return 0, "", false
	}
	return level, strings.TrimSpace(line[level:]), true
}

// splitText recursively splits text on the separator cascade, then merges
// the splits back into pieces of at most ChunkSize characters with
// ChunkOverlap characters of carry-over between neighbors.
func (c *Chunker) splitText(text string, seps []string) []string {
	if len(seps) == 0 {
		return []string{text}
	}

	sep := seps[len(seps)-1]
	rest := seps
	for i, s := range seps {
		if s == "" || strings.Contains(text, s) {
			sep = s
			rest = seps[i+1:]
			break
		}
	}

	var splits []string
	if sep == "" {
		for _, r := range text {
			splits = append(splits, string(r))
		}
	} else {
		splits = strings.Split(text, sep)
	}

	var good []string
	for _, s := range splits {
		if s == "" {
			continue
		}
		if len(s) <= c.ChunkSize {
			good = append(good, s)
			continue
		}
		good = append(good, c.splitText(s, rest)...)
	}

	return c.mergeSplits(good, sep)
}

// mergeSplits packs splits into chunks near ChunkSize, keeping a tail of at
// most ChunkOverlap characters from the previous chunk as overlap.
func (c *Chunker) mergeSplits(splits []string, sep string) []string {
	var (
		chunks  []string
		current []string
		total   int
	)

	sepLen := len(sep)

	flush := func() {
		if len(current) == 0 {
			return
		}
		chunk := strings.TrimSpace(strings.Join(current, sep))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
	}

	for _, s := range splits {
		addition := len(s)
		if len(current) > 0 {
			addition += sepLen
		}
		if total+addition > c.ChunkSize && len(current) > 0 {
			flush()
			// Keep a tail of splits under the overlap budget.
			for total > c.ChunkOverlap || (total+addition > c.ChunkSize && total > 0) {
				dropped := len(current[0])
				if len(current) > 1 {
					dropped += sepLen
				}
				total -= dropped
				current = current[1:]
				if len(current) == 0 {
					break
				}
			}
			addition = len(s)
			if len(current) > 0 {
				addition += sepLen
			}
		}
		current = append(current, s)
		total += addition
	}
	flush()

	return chunks
}

// Params describes the chunker for index signature purposes.
func (c *Chunker) Params() map[string]interface{} {
	return map[string]interface{}{
		"chunk_size":        c.ChunkSize,
		"chunk_overlap":     c.ChunkOverlap,
		"max_section_chars": c.MaxSectionChars,
		"heading_levels":    maxHeadingLevel,
	}
}

// TitleFromContent extracts the first level-1 heading as the document title,
// falling back to the given default.
func TitleFromContent(content, fallback string) string {
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if level, title, ok := parseHeading(trimmed); ok && level == 1 && title != "" {
			return title
		}
	}
	return fallback
}

// DocIDFromPath normalizes a corpus-relative file path into a doc id.
func DocIDFromPath(relPath string) string {
	return strings.TrimPrefix(strings.ReplaceAll(relPath, "\\", "/"), "./")
}
