// Package storage provides the database model and repository for documents.
package storage

import (
	"time"

	"github.com/google/uuid"
)

// DocumentStatus represents the processing lifecycle of a document.
type DocumentStatus string

const (
	StatusPending    DocumentStatus = "pending"
	StatusProcessing DocumentStatus = "processing"
	StatusCompleted  DocumentStatus = "completed"
	StatusError      DocumentStatus = "error"
	// StatusDeadLetter marks a document whose retry budget is exhausted.
	// Like StatusError it is terminal for automated processing.
	StatusDeadLetter DocumentStatus = "dead_letter"
)

// Terminal reports whether no automated transition may leave this status.
func (s DocumentStatus) Terminal() bool {
	return s == StatusError || s == StatusDeadLetter
}

// Document is the persistent record for one ingested file.
//
// Filename is the opaque object-store key; OriginalFilename is the
// user-facing name. Fingerprint is the store's content-integrity token
// (ETag), persisted so deduplication survives restarts. ExtractedText and
// Summary are both set exactly when the document reaches completed.
type Document struct {
	ID               uuid.UUID
	Filename         string
	OriginalFilename string
	BlobURL          string
	ContentType      string
	Fingerprint      *string
	Status           DocumentStatus
	ExtractedText    *string
	Summary          *string
	Attempts         int
	NextRetryAt      *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
