package model

import "time"

// Document is an uploaded source document. Content is immutable once stored;
// re-uploading replaces it and triggers re-chunking.
type Document struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	UserID            uint      `gorm:"not null;index" json:"user_id"`
	Title             string    `gorm:"size:256;not null" json:"title"`
	Content           string    `gorm:"type:longtext;not null" json:"-"`
	SizeBytes         int64     `json:"size_bytes"`
	PageCount         int       `json:"page_count"`
	ContainsEquations bool      `json:"contains_equations"`
	CreatedAt         time.Time `json:"created_at"`
}
