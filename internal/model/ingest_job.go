package model

// IngestJob asks the worker to ingest one version of a document.
type IngestJob struct {
	DocumentID uint `json:"document_id"`
	TenantID   uint `json:"tenant_id"`
	Version    int  `json:"version"`
}
