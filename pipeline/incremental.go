package pipeline

import (
	"context"
	"fmt"
	"log"

	"github.com/kb-service/models"
	"github.com/kb-service/services"
)

// Indexer performs incremental indexing: unchanged documents are skipped,
// changed documents are re-chunked and only their new chunks are embedded,
// and stale chunks are deleted. A signature mismatch wipes both stores
// before any document is processed.
type Indexer struct {
	chunker  *Chunker
	embedder services.EmbeddingService
	docs     services.DocStore
	vectors  services.VectorStore
}

func NewIndexer(chunker *Chunker, embedder services.EmbeddingService, docs services.DocStore, vectors services.VectorStore) *Indexer {
	return &Indexer{
		chunker:  chunker,
		embedder: embedder,
		docs:     docs,
		vectors:  vectors,
	}
}

// Signature returns the signature of the index this Indexer would build.
func (ix *Indexer) Signature() string {
	return IndexSignature(ix.embedder.Model(), ix.vectors.Dimension(), ix.chunker.Params(), ix.vectors.TableName())
}

// EnsureSignature compares the current signature against the stored one
// and wipes both stores on mismatch. Returns true when a rebuild was
// triggered. A missing stored signature is recorded without a wipe.
func (ix *Indexer) EnsureSignature(ctx context.Context) (bool, error) {
	current := ix.Signature()
	stored, err := ix.docs.GetMeta(ctx, models.IndexSignatureKey)
	if err != nil {
		return false, fmt.Errorf("failed to read index signature: %w", err)
	}

	if stored == current {
		return false, nil
	}

	if stored == "" {
		if err := ix.docs.SetMeta(ctx, models.IndexSignatureKey, current); err != nil {
			return false, fmt.Errorf("failed to record index signature: %w", err)
		}
		return false, nil
	}

	log.Printf("Index signature changed (stored=%s current=%s), rebuilding index", stored[:12], current[:12])

	if err := ix.vectors.Reset(ctx); err != nil {
		return false, fmt.Errorf("failed to reset vector store: %w", err)
	}
	if err := ix.docs.Clear(ctx); err != nil {
		return false, fmt.Errorf("failed to clear document store: %w", err)
	}
	if err := ix.docs.SetMeta(ctx, models.IndexSignatureKey, current); err != nil {
		return false, fmt.Errorf("failed to record index signature: %w", err)
	}
	return true, nil
}

// IndexDocument indexes one document. Returns (indexed, added, deleted).
// An unchanged checksum short-circuits unless force is set.
func (ix *Indexer) IndexDocument(ctx context.Context, doc models.Document, force bool) (bool, int, int, error) {
	if doc.Checksum == "" {
		doc.Checksum = Checksum(doc.Content)
	}

	existing, err := ix.docs.GetChecksum(ctx, doc.DocID)
	if err != nil {
		return false, 0, 0, fmt.Errorf("checksum lookup for %s: %w", doc.DocID, err)
	}
	if !force && existing == doc.Checksum {
		return false, 0, 0, nil
	}

	chunks := ix.chunker.ChunkDocument(doc)

	oldIDs, err := ix.docs.GetChunkIDs(ctx, doc.DocID)
	if err != nil {
		return false, 0, 0, fmt.Errorf("chunk id lookup for %s: %w", doc.DocID, err)
	}
	oldSet := make(map[string]bool, len(oldIDs))
	for _, id := range oldIDs {
		oldSet[id] = true
	}

	newIDs := make([]string, 0, len(chunks))
	newSet := make(map[string]bool, len(chunks))
	var toAdd []models.Chunk
	for _, chunk := range chunks {
		newIDs = append(newIDs, chunk.ChunkID)
		newSet[chunk.ChunkID] = true
		if force || !oldSet[chunk.ChunkID] {
			toAdd = append(toAdd, chunk)
		}
	}

	var toDelete []string
	for _, id := range oldIDs {
		if !newSet[id] {
			toDelete = append(toDelete, id)
		}
	}

	if len(toAdd) > 0 {
		texts := make([]string, len(toAdd))
		for i, chunk := range toAdd {
			texts[i] = chunk.Content
		}
		embeddings, err := ix.embedder.EmbedDocuments(ctx, texts)
		if err != nil {
			return false, 0, 0, fmt.Errorf("embedding %s: %w", doc.DocID, err)
		}
		if len(embeddings) != len(toAdd) {
			return false, 0, 0, fmt.Errorf("embedding %s: got %d vectors for %d chunks", doc.DocID, len(embeddings), len(toAdd))
		}
		for i := range toAdd {
			toAdd[i].Embedding = embeddings[i]
		}
	}

	if len(toDelete) > 0 {
		if err := ix.vectors.DeleteChunks(ctx, toDelete); err != nil {
			return false, 0, 0, fmt.Errorf("deleting stale chunks for %s: %w", doc.DocID, err)
		}
	}
	if len(toAdd) > 0 {
		if err := ix.vectors.AddChunks(ctx, toAdd); err != nil {
			return false, 0, 0, fmt.Errorf("adding chunks for %s: %w", doc.DocID, err)
		}
	}

	if err := ix.docs.UpsertDocument(ctx, doc, newIDs); err != nil {
		return false, 0, 0, fmt.Errorf("recording document %s: %w", doc.DocID, err)
	}

	return true, len(toAdd), len(toDelete), nil
}

// DeleteDocument removes a document and all of its chunks.
func (ix *Indexer) DeleteDocument(ctx context.Context, docID string) (int, error) {
	chunkIDs, err := ix.docs.GetChunkIDs(ctx, docID)
	if err != nil {
		return 0, fmt.Errorf("chunk id lookup for %s: %w", docID, err)
	}
	if err := ix.vectors.DeleteByDoc(ctx, docID); err != nil {
		return 0, fmt.Errorf("deleting chunks for %s: %w", docID, err)
	}
	if err := ix.docs.DeleteDocument(ctx, docID); err != nil {
		return 0, fmt.Errorf("deleting record for %s: %w", docID, err)
	}
	return len(chunkIDs), nil
}

// IndexCorpus indexes every document, collecting per-document errors
// instead of aborting the run.
func (ix *Indexer) IndexCorpus(ctx context.Context, documents []models.Document, force bool) *models.IndexStats {
	stats := &models.IndexStats{Total: len(documents), Errors: []string{}}

	for _, doc := range documents {
		indexed, added, deleted, err := ix.IndexDocument(ctx, doc, force)
		if err != nil {
			stats.Errors = append(stats.Errors, fmt.Sprintf("%s: %v", doc.DocID, err))
			continue
		}
		if indexed {
			stats.Indexed++
			stats.ChunksAdded += added
			stats.ChunksDeleted += deleted
		} else {
			stats.Skipped++
		}
	}

	return stats
}

// PruneOrphans deletes vector-store chunks whose document has no row in
// the doc store. A crash between writing chunks and recording the doc row
// can leave such orphans behind; the next run sweeps them here.
func (ix *Indexer) PruneOrphans(ctx context.Context) (int64, error) {
	known, err := ix.docs.ListDocIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing indexed documents: %w", err)
	}
	deleted, err := ix.vectors.DeleteDocsNotIn(ctx, known)
	if err != nil {
		return 0, fmt.Errorf("pruning orphaned chunks: %w", err)
	}
	if deleted > 0 {
		log.Printf("Pruned %d orphaned chunks", deleted)
	}
	return deleted, nil
}

// Reconcile deletes documents that are no longer present in the corpus,
// along with their chunks. seen holds the doc ids of the current corpus.
func (ix *Indexer) Reconcile(ctx context.Context, seen map[string]bool, stats *models.IndexStats) error {
	known, err := ix.docs.ListDocIDs(ctx)
	if err != nil {
		return fmt.Errorf("listing indexed documents: %w", err)
	}

	for _, docID := range known {
		if seen[docID] {
			continue
		}
		deleted, err := ix.DeleteDocument(ctx, docID)
		if err != nil {
			stats.Errors = append(stats.Errors, fmt.Sprintf("%s: %v", docID, err))
			continue
		}
		stats.ChunksDeleted += deleted
		log.Printf("Removed vanished document %s (%d chunks)", docID, deleted)
	}

	return nil
}
