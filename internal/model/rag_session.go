package model

import (
	"encoding/json"
	"time"
)

const (
	RAGSessionActive   = "active"
	RAGSessionInactive = "inactive"
)

// RAGSession tracks which documents are in scope for a user's retrieval
// operations. The most recently accessed active session is authoritative;
// older sessions are kept as history.
type RAGSession struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	UserID         uint      `gorm:"not null;index" json:"user_id"`
	ConversationID uint      `gorm:"index" json:"conversation_id"` // 0 = not linked
	ActiveDocIDs   string    `gorm:"type:text" json:"-"`           // JSON array of document ids
	Status         string    `gorm:"size:16;not null;index" json:"status"`
	LastAccessedAt time.Time `gorm:"index" json:"last_accessed_at"`
	CreatedAt      time.Time `json:"created_at"`
}

// DocumentIDs returns the parsed active document id set.
func (s *RAGSession) DocumentIDs() []uint {
	if s.ActiveDocIDs == "" {
		return nil
	}
	var ids []uint
	_ = json.Unmarshal([]byte(s.ActiveDocIDs), &ids)
	return ids
}

// SetDocumentIDs stores the active document id set as JSON.
func (s *RAGSession) SetDocumentIDs(ids []uint) {
	if len(ids) == 0 {
		s.ActiveDocIDs = "[]"
		return
	}
	b, _ := json.Marshal(ids)
	s.ActiveDocIDs = string(b)
}

// RemoveDocumentID drops one document id from the active set; reports
// whether the set changed.
func (s *RAGSession) RemoveDocumentID(id uint) bool {
	ids := s.DocumentIDs()
	kept := ids[:0]
	for _, existing := range ids {
		if existing != id {
			kept = append(kept, existing)
		}
	}
	if len(kept) == len(ids) {
		return false
	}
	s.SetDocumentIDs(kept)
	return true
}
