package repository

import (
	"fmt"

	"gorm.io/gorm"

	"tiendabot/internal/model"
)

type ChunkRepository struct {
	db *gorm.DB
}

func NewChunkRepository(db *gorm.DB) *ChunkRepository {
	return &ChunkRepository{db: db}
}

func (r *ChunkRepository) CreateBatch(chunks []model.KnowledgeChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if err := r.db.Create(&chunks).Error; err != nil {
		return fmt.Errorf("create knowledge chunks failed: %w", err)
	}
	return nil
}

// All returns every chunk in the store. Retrieval and document bookkeeping
// both work as scans over the full collection; there is no secondary index.
func (r *ChunkRepository) All() ([]model.KnowledgeChunk, error) {
	var chunks []model.KnowledgeChunk
	if err := r.db.Find(&chunks).Error; err != nil {
		return nil, fmt.Errorf("list knowledge chunks failed: %w", err)
	}
	return chunks, nil
}

func (r *ChunkRepository) Count() (int64, error) {
	var count int64
	if err := r.db.Model(&model.KnowledgeChunk{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count knowledge chunks failed: %w", err)
	}
	return count, nil
}

// DeleteByDocumentID removes all chunks of a document in one statement, so
// callers never observe a partially deleted document.
func (r *ChunkRepository) DeleteByDocumentID(documentID string) (int64, error) {
	result := r.db.Where("document_id = ?", documentID).Delete(&model.KnowledgeChunk{})
	if result.Error != nil {
		return 0, fmt.Errorf("delete knowledge chunks failed: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// UpdateMetadataByDocumentID updates category and/or priority for every chunk
// of a document together. Nil fields are left untouched.
func (r *ChunkRepository) UpdateMetadataByDocumentID(documentID string, category *string, priority *int) (int64, error) {
	updates := map[string]interface{}{}
	if category != nil {
		updates["category"] = *category
	}
	if priority != nil {
		updates["priority"] = *priority
	}
	if len(updates) == 0 {
		return 0, nil
	}
	result := r.db.Model(&model.KnowledgeChunk{}).Where("document_id = ?", documentID).Updates(updates)
	if result.Error != nil {
		return 0, fmt.Errorf("update chunk metadata failed: %w", result.Error)
	}
	return result.RowsAffected, nil
}
