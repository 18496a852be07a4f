package impl

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/kb-service/models"
	"github.com/kb-service/services"
)

type docStoreImpl struct {
	db *gorm.DB
}

// NewDocStore returns the document bookkeeping store. Callers are expected
// to have run AutoMigrate for DocumentRecord and IndexMeta.
func NewDocStore(db *gorm.DB) services.DocStore {
	return &docStoreImpl{db: db}
}

func (s *docStoreImpl) GetDocument(ctx context.Context, docID string) (*models.DocumentRecord, error) {
	var record models.DocumentRecord
	err := s.db.WithContext(ctx).First(&record, "doc_id = ?", docID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load document %s: %w", docID, err)
	}
	return &record, nil
}

func (s *docStoreImpl) GetChecksum(ctx context.Context, docID string) (string, error) {
	record, err := s.GetDocument(ctx, docID)
	if err != nil || record == nil {
		return "", err
	}
	return record.Checksum, nil
}

func (s *docStoreImpl) GetChunkIDs(ctx context.Context, docID string) ([]string, error) {
	record, err := s.GetDocument(ctx, docID)
	if err != nil || record == nil {
		return nil, err
	}
	ids, err := models.StringsFromJSON(record.ChunkIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to decode chunk ids for %s: %w", docID, err)
	}
	return ids, nil
}

func (s *docStoreImpl) UpsertDocument(ctx context.Context, doc models.Document, chunkIDs []string) error {
	if chunkIDs == nil {
		chunkIDs = []string{}
	}
	chunkJSON, err := models.ConvertToJSON(chunkIDs)
	if err != nil {
		return fmt.Errorf("failed to encode chunk ids for %s: %w", doc.DocID, err)
	}

	record := models.DocumentRecord{
		DocID:    doc.DocID,
		Version:  doc.Version,
		Checksum: doc.Checksum,
		Path:     doc.Path,
		Title:    doc.Title,
		ChunkIDs: chunkJSON,
	}

	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "doc_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"version", "checksum", "path", "title", "chunk_ids", "indexed_at"}),
	}).Create(&record).Error
	if err != nil {
		return fmt.Errorf("failed to upsert document %s: %w", doc.DocID, err)
	}
	return nil
}

func (s *docStoreImpl) DeleteDocument(ctx context.Context, docID string) error {
	err := s.db.WithContext(ctx).Delete(&models.DocumentRecord{}, "doc_id = ?", docID).Error
	if err != nil {
		return fmt.Errorf("failed to delete document %s: %w", docID, err)
	}
	return nil
}

func (s *docStoreImpl) ListDocIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&models.DocumentRecord{}).Order("doc_id").Pluck("doc_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	return ids, nil
}

func (s *docStoreImpl) CountDocuments(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.DocumentRecord{}).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return count, nil
}

func (s *docStoreImpl) Clear(ctx context.Context) error {
	if err := s.db.WithContext(ctx).Where("1 = 1").Delete(&models.DocumentRecord{}).Error; err != nil {
		return fmt.Errorf("failed to clear documents: %w", err)
	}
	// The signature row is rewritten by the indexer after a wipe.
	if err := s.db.WithContext(ctx).Where("key = ?", models.IndexSignatureKey).Delete(&models.IndexMeta{}).Error; err != nil {
		return fmt.Errorf("failed to clear index metadata: %w", err)
	}
	return nil
}

func (s *docStoreImpl) GetMeta(ctx context.Context, key string) (string, error) {
	var meta models.IndexMeta
	err := s.db.WithContext(ctx).First(&meta, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load meta %s: %w", key, err)
	}
	return meta.Value, nil
}

func (s *docStoreImpl) SetMeta(ctx context.Context, key, value string) error {
	meta := models.IndexMeta{Key: key, Value: value}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&meta).Error
	if err != nil {
		return fmt.Errorf("failed to set meta %s: %w", key, err)
	}
	return nil
}
