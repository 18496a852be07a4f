package models

import (
	"time"

	"gorm.io/datatypes"
)

// Document is a source document flowing through the indexing pipeline.
// DocID is the corpus-relative path (e.g. "docs/guides/install.md") and
// doubles as the stable identity across index runs.
type Document struct {
	DocID    string            `json:"doc_id"`
	Version  string            `json:"version"`
	Path     string            `json:"path"`
	Title    string            `json:"title"`
	Content  string            `json:"content"`
	Checksum string            `json:"checksum"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Chunk is one indexable unit produced by the chunker. ChunkID is
// content-addressed and stable across runs for unchanged input.
type Chunk struct {
	ChunkID     string    `json:"chunk_id"`
	DocID       string    `json:"doc_id"`
	Content     string    `json:"content"`
	HeadingPath []string  `json:"heading_path"`
	ChunkIndex  int       `json:"chunk_index"`
	Embedding   []float32 `json:"-"`
}

// DocumentRecord is the persisted per-document index bookkeeping row.
type DocumentRecord struct {
	DocID     string         `json:"doc_id" gorm:"column:doc_id;primaryKey"`
	Version   string         `json:"version" gorm:"column:version"`
	Checksum  string         `json:"checksum" gorm:"column:checksum;index"`
	Path      string         `json:"path" gorm:"column:path"`
	Title     string         `json:"title" gorm:"column:title"`
	ChunkIDs  datatypes.JSON `json:"chunk_ids" gorm:"column:chunk_ids;type:jsonb"`
	IndexedAt time.Time      `json:"indexed_at" gorm:"column:indexed_at;autoUpdateTime"`
}

func (DocumentRecord) TableName() string {
	return "kb_documents"
}

// IndexMeta is a key/value row for index-level metadata. The key
// "index_signature" is reserved for the chunking/embedding signature.
type IndexMeta struct {
	Key   string `json:"key" gorm:"column:key;primaryKey"`
	Value string `json:"value" gorm:"column:value"`
}

func (IndexMeta) TableName() string {
	return "kb_index_meta"
}

// IndexSignatureKey is the reserved IndexMeta key holding the current
// index signature.
const IndexSignatureKey = "index_signature"

// IndexStats summarizes one indexing run.
type IndexStats struct {
	Total         int      `json:"total"`
	Indexed       int      `json:"indexed"`
	Skipped       int      `json:"skipped"`
	ChunksAdded   int      `json:"chunks_added"`
	ChunksDeleted int      `json:"chunks_deleted"`
	Errors        []string `json:"errors"`
}
