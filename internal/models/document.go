package models

import (
	"time"

	"github.com/google/uuid"
)

// Document is an uploaded knowledge-base source awaiting or finished indexing.
type Document struct {
	ID         uuid.UUID  `json:"id"`
	UserID     uuid.UUID  `json:"user_id"`
	Title      string     `json:"title"`
	FilePath   string     `json:"-"`
	Status     string     `json:"status"` // pending | indexing | indexed | failed
	ChunkCount int        `json:"chunk_count"`
	CreatedAt  time.Time  `json:"created_at"`
	IndexedAt  *time.Time `json:"indexed_at,omitempty"`
}

// Job tracks one asynchronous indexing run for a document.
type Job struct {
	ID           uuid.UUID  `json:"id"`
	UserID       uuid.UUID  `json:"user_id"`
	Type         string     `json:"type"`
	DocumentID   uuid.UUID  `json:"document_id"`
	Status       string     `json:"status"` // pending | processing | completed | failed
	RetryCount   int        `json:"retry_count"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// API Error response
type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Details   string `json:"details,omitempty"`
	RequestID string `json:"request_id"`
}

type ErrorResponse struct {
	Error APIError `json:"error"`
}
