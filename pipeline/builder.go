package pipeline

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/kb-service/models"
)

// Builder loads a documentation corpus and drives the incremental indexer
// over it, finishing with a reconciliation pass that drops documents no
// longer present on disk.
type Builder struct {
	indexer *Indexer
}

func NewBuilder(indexer *Indexer) *Builder {
	return &Builder{indexer: indexer}
}

// BuildFromDir walks root for .md/.mdx files, indexes them incrementally
// and reconciles deletions. Doc ids are root-relative paths.
func (b *Builder) BuildFromDir(ctx context.Context, root string, force bool) (*models.IndexStats, error) {
	documents, err := LoadCorpusDir(root)
	if err != nil {
		return nil, err
	}
	return b.build(ctx, documents, force)
}

// BuildFromJSONL imports a pre-cleaned corpus: one JSON object per line
// with fields {id, text, metadata{path, title, version}}.
func (b *Builder) BuildFromJSONL(ctx context.Context, path string, force bool) (*models.IndexStats, error) {
	documents, err := LoadCorpusJSONL(path)
	if err != nil {
		return nil, err
	}
	return b.build(ctx, documents, force)
}

func (b *Builder) build(ctx context.Context, documents []models.Document, force bool) (*models.IndexStats, error) {
	rebuilt, err := b.indexer.EnsureSignature(ctx)
	if err != nil {
		return nil, err
	}
	if rebuilt {
		force = false // stores are empty, per-document force is redundant
	}

	stats := b.indexer.IndexCorpus(ctx, documents, force)

	seen := make(map[string]bool, len(documents))
	for _, doc := range documents {
		seen[doc.DocID] = true
	}
	if err := b.indexer.Reconcile(ctx, seen, stats); err != nil {
		stats.Errors = append(stats.Errors, err.Error())
	}

	// Interrupted earlier runs can strand chunks without a doc row.
	if deleted, err := b.indexer.PruneOrphans(ctx); err != nil {
		stats.Errors = append(stats.Errors, err.Error())
	} else {
		stats.ChunksDeleted += int(deleted)
	}

	log.Printf("Index run: %d total, %d indexed, %d skipped, +%d/-%d chunks, %d errors",
		stats.Total, stats.Indexed, stats.Skipped, stats.ChunksAdded, stats.ChunksDeleted, len(stats.Errors))

	return stats, nil
}

// LoadCorpusDir reads every Markdown file under root into a Document.
func LoadCorpusDir(root string) ([]models.Document, error) {
	var documents []models.Document

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".md" && ext != ".mdx" {
			return nil
		}

		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		docID := DocIDFromPath(rel)
		content, front := stripFrontmatter(string(raw))

		title := front["title"]
		if title == "" {
			title = TitleFromContent(content, filepath.Base(path))
		}
		version := front["version"]
		if version == "" {
			version = "latest"
		}

		documents = append(documents, models.Document{
			DocID:    docID,
			Version:  version,
			Path:     docID,
			Title:    title,
			Content:  content,
			Checksum: Checksum(string(raw)),
			Metadata: front,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking corpus %s: %w", root, err)
	}

	return documents, nil
}

type jsonlRecord struct {
	ID       string            `json:"id"`
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata"`
}

// LoadCorpusJSONL reads a cleaned JSONL corpus. Malformed lines are
// skipped with a log line rather than failing the import.
func LoadCorpusJSONL(path string) ([]models.Document, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening corpus %s: %w", path, err)
	}
	defer file.Close()

	var documents []models.Document
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec jsonlRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			log.Printf("Skipping malformed corpus line %d: %v", lineNo, err)
			continue
		}
		if rec.ID == "" || rec.Text == "" {
			log.Printf("Skipping corpus line %d: missing id or text", lineNo)
			continue
		}

		meta := rec.Metadata
		if meta == nil {
			meta = map[string]string{}
		}
		title := meta["title"]
		if title == "" {
			title = TitleFromContent(rec.Text, rec.ID)
		}
		version := meta["version"]
		if version == "" {
			version = "latest"
		}
		docPath := meta["path"]
		if docPath == "" {
			docPath = rec.ID
		}

		documents = append(documents, models.Document{
			DocID:    rec.ID,
			Version:  version,
			Path:     docPath,
			Title:    title,
			Content:  rec.Text,
			Checksum: Checksum(rec.Text),
			Metadata: meta,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading corpus %s: %w", path, err)
	}

	return documents, nil
}

// stripFrontmatter removes a leading YAML frontmatter block and returns
// the remaining content plus the scalar key/value pairs found in it.
func stripFrontmatter(content string) (string, map[string]string) {
	front := map[string]string{}
	if !strings.HasPrefix(content, "---\n") && content != "---" {
		return content, front
	}

	rest := strings.TrimPrefix(content, "---\n")
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return content, front
	}

	block := rest[:end]
	body := rest[end+len("\n---"):]
	body = strings.TrimPrefix(body, "\n")

	for _, line := range strings.Split(block, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"'`)
		if key != "" && value != "" && !strings.Contains(key, " ") {
			front[key] = value
		}
	}

	return body, front
}
