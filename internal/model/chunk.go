package model

import (
	"encoding/json"
	"time"
)

// Chunk types as produced by the chunker.
const (
	ChunkTypeText     = "text"
	ChunkTypeEquation = "equation"
)

// Chunk stores one slice of a document's text plus its embedding.
// (document_id, chunk_index) is the idempotent conflict key for re-ingestion.
// Embedding is stored as a JSON array of float32 for portability.
type Chunk struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	DocumentID  uint      `gorm:"not null;uniqueIndex:uniq_doc_chunk" json:"document_id"`
	ChunkIndex  int       `gorm:"not null;uniqueIndex:uniq_doc_chunk" json:"chunk_index"`
	Content     string    `gorm:"type:text;not null" json:"content"`
	SourceTitle string    `gorm:"size:256" json:"source_title"`
	Page        int       `json:"page"` // 0 = unknown
	HasEquation bool      `json:"has_equation"`
	ChunkType   string    `gorm:"size:32" json:"chunk_type"`
	Embedding   string    `gorm:"type:mediumtext" json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}

// EmbeddingVector returns the parsed embedding slice; empty on parse error.
func (c *Chunk) EmbeddingVector() []float32 {
	if c.Embedding == "" {
		return nil
	}
	var v []float32
	_ = json.Unmarshal([]byte(c.Embedding), &v)
	return v
}

// SetEmbedding stores the embedding as JSON.
func (c *Chunk) SetEmbedding(vec []float32) {
	if len(vec) == 0 {
		c.Embedding = "[]"
		return
	}
	b, _ := json.Marshal(vec)
	c.Embedding = string(b)
}
