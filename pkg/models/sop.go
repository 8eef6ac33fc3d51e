package models

import (
	"time"

	"github.com/google/uuid"
)

// SOP is a named rule collection ("Standard Operating Procedure").
type SOP struct {
	ID           uuid.UUID `json:"id"`
	ProjectID    uuid.UUID `json:"project_id"`
	Name         string    `json:"name"`
	ClientPrefix string    `json:"client_prefix"`
	Description  string    `json:"description,omitempty"`
	CreatedBy    string    `json:"created_by,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Ingestion modes.
const (
	IngestModeNew    = "new"
	IngestModeUpdate = "update"
)

// Document ingestion status values.
const (
	DocumentStatusQueued     = "queued"
	DocumentStatusProcessing = "processing"
	DocumentStatusCompleted  = "completed"
	DocumentStatusFailed     = "failed"
)

// Document is one uploaded source document and the outcome of ingesting it.
// Segments are supplied already extracted and chunked by the caller.
type Document struct {
	ID          uuid.UUID  `json:"id"`
	ProjectID   uuid.UUID  `json:"project_id"`
	SOPID       uuid.UUID  `json:"sop_id"`
	FileName    string     `json:"file_name"`
	UploadDate  time.Time  `json:"upload_date"`
	Mode        string     `json:"mode"`
	Trusted     bool       `json:"trusted"`
	Segments    []string   `json:"segments,omitempty"`
	Status      string     `json:"status"`
	Extracted   int        `json:"extracted"`
	Added       int        `json:"added"`
	Warnings    []string   `json:"warnings,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedBy   string     `json:"created_by,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
