package model

import "time"

type DocumentStatus string

const (
	StatusPending    DocumentStatus = "pending"
	StatusProcessing DocumentStatus = "processing"
	StatusReady      DocumentStatus = "ready"
	StatusError      DocumentStatus = "error"
)

const MimePDF = "application/pdf"

// Document is an uploaded file. Name is unique per tenant; uploading the same
// name again bumps Version.
type Document struct {
	ID                  uint           `gorm:"primaryKey" json:"id"`
	TenantID            uint           `gorm:"not null;uniqueIndex:idx_documents_tenant_name,priority:1" json:"tenant_id"`
	UploadedBy          uint           `gorm:"not null;index" json:"uploaded_by"`
	Name                string         `gorm:"size:255;not null;uniqueIndex:idx_documents_tenant_name,priority:2" json:"name"`
	StorageKey          string         `gorm:"size:512;not null" json:"-"`
	MimeType            string         `gorm:"size:128" json:"mime_type"`
	Size                int64          `gorm:"not null" json:"size"`
	FileHash            string         `gorm:"size:64" json:"file_hash"`
	Version             int            `gorm:"not null;default:1" json:"version"`
	Status              DocumentStatus `gorm:"size:16;not null;default:pending;index" json:"status"`
	ProcessingStartedAt *time.Time     `json:"processing_started_at,omitempty"`
	LastError           string         `gorm:"size:1024" json:"last_error,omitempty"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

func (d *Document) IsIngestible() bool {
	return d.MimeType == MimePDF
}

var allowedTransitions = map[DocumentStatus][]DocumentStatus{
	StatusPending:    {StatusProcessing, StatusError},
	StatusProcessing: {StatusReady, StatusError},
	StatusError:      {StatusProcessing},
	StatusReady:      {StatusProcessing},
}

// CanTransition reports whether the ingestion state machine allows from -> to.
// Resetting to pending is not a transition; it happens when a new version replaces the document.
func CanTransition(from, to DocumentStatus) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// SourcesFrom returns the statuses that may move into to.
func SourcesFrom(to DocumentStatus) []DocumentStatus {
	var out []DocumentStatus
	for _, from := range []DocumentStatus{StatusPending, StatusProcessing, StatusReady, StatusError} {
		if CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}
