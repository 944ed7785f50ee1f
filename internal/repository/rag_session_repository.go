package repository

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/DafisNadhifSaputra/D-notebook-ai/internal/model"
)

type RAGSessionRepository struct {
	db *gorm.DB
}

func NewRAGSessionRepository(db *gorm.DB) *RAGSessionRepository {
	return &RAGSessionRepository{db: db}
}

func (r *RAGSessionRepository) Create(session *model.RAGSession) error {
	if session.Status == "" {
		session.Status = model.RAGSessionActive
	}
	if session.LastAccessedAt.IsZero() {
		session.LastAccessedAt = time.Now()
	}
	if err := r.db.Create(session).Error; err != nil {
		return fmt.Errorf("create rag session failed: %w", err)
	}
	return nil
}

func (r *RAGSessionRepository) Save(session *model.RAGSession) error {
	if err := r.db.Save(session).Error; err != nil {
		return fmt.Errorf("save rag session failed: %w", err)
	}
	return nil
}

// GetActiveByUserID returns the authoritative session for "current context"
// queries: the most recently accessed active one, or nil.
func (r *RAGSessionRepository) GetActiveByUserID(userID uint) (*model.RAGSession, error) {
	var session model.RAGSession
	err := r.db.Where("user_id = ? AND status = ?", userID, model.RAGSessionActive).
		Order("last_accessed_at DESC").First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get active rag session failed: %w", err)
	}
	return &session, nil
}

func (r *RAGSessionRepository) ListByUserID(userID uint) ([]model.RAGSession, error) {
	var list []model.RAGSession
	if err := r.db.Where("user_id = ?", userID).
		Order("last_accessed_at DESC").Find(&list).Error; err != nil {
		return nil, fmt.Errorf("list rag sessions failed: %w", err)
	}
	return list, nil
}

// Touch refreshes the last-access timestamp.
func (r *RAGSessionRepository) Touch(id uint) error {
	err := r.db.Model(&model.RAGSession{}).Where("id = ?", id).
		Update("last_accessed_at", time.Now()).Error
	if err != nil {
		return fmt.Errorf("touch rag session failed: %w", err)
	}
	return nil
}

// RemoveDocumentFromAll strips a deleted document's id from every session of
// the user that references it, however many conversations those sessions
// serve.
func (r *RAGSessionRepository) RemoveDocumentFromAll(userID, documentID uint) error {
	var sessions []model.RAGSession
	if err := r.db.Where("user_id = ?", userID).Find(&sessions).Error; err != nil {
		return fmt.Errorf("list rag sessions for document removal failed: %w", err)
	}
	for i := range sessions {
		if !sessions[i].RemoveDocumentID(documentID) {
			continue
		}
		if err := r.db.Model(&model.RAGSession{}).Where("id = ?", sessions[i].ID).
			Update("active_doc_ids", sessions[i].ActiveDocIDs).Error; err != nil {
			return fmt.Errorf("remove document from rag session %d failed: %w", sessions[i].ID, err)
		}
	}
	return nil
}
