package repository

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/DafisNadhifSaputra/D-notebook-ai/internal/model"
)

type DocumentRepository struct {
	db *gorm.DB
}

func NewDocumentRepository(db *gorm.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

func (r *DocumentRepository) Create(doc *model.Document) error {
	if err := r.db.Create(doc).Error; err != nil {
		return fmt.Errorf("create document failed: %w", err)
	}
	return nil
}

// ReplaceContent overwrites a document's text and metadata on re-upload.
// Chunk cleanup is the caller's responsibility.
func (r *DocumentRepository) ReplaceContent(doc *model.Document) error {
	err := r.db.Model(&model.Document{}).Where("id = ?", doc.ID).Updates(map[string]interface{}{
		"content":            doc.Content,
		"size_bytes":         doc.SizeBytes,
		"page_count":         doc.PageCount,
		"contains_equations": doc.ContainsEquations,
	}).Error
	if err != nil {
		return fmt.Errorf("replace document content failed: %w", err)
	}
	return nil
}

func (r *DocumentRepository) GetByIDAndUserID(id, userID uint) (*model.Document, error) {
	var doc model.Document
	if err := r.db.Where("id = ? AND user_id = ?", id, userID).First(&doc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get document failed: %w", err)
	}
	return &doc, nil
}

// ListByUserID returns the user's documents without their full text.
func (r *DocumentRepository) ListByUserID(userID uint) ([]model.Document, error) {
	var list []model.Document
	err := r.db.Select("id", "user_id", "title", "size_bytes", "page_count", "contains_equations", "created_at").
		Where("user_id = ?", userID).Order("created_at DESC").Find(&list).Error
	if err != nil {
		return nil, fmt.Errorf("list documents failed: %w", err)
	}
	return list, nil
}

func (r *DocumentRepository) DeleteByIDAndUserID(id, userID uint) error {
	if err := r.db.Where("id = ? AND user_id = ?", id, userID).Delete(&model.Document{}).Error; err != nil {
		return fmt.Errorf("delete document failed: %w", err)
	}
	return nil
}
