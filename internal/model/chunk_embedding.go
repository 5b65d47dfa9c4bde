package model

import (
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// MaxChunkTextRunes bounds the stored source text of one chunk.
const MaxChunkTextRunes = 2000

var chunkIDNamespace = uuid.MustParse("6c1f3bd2-8f57-4d43-a0c6-2a3c9b1d7e40")

// ChunkEmbedding is one retrievable unit of a document version. Rows are
// written in bulk by ingestion and never updated in place.
type ChunkEmbedding struct {
	ID         string    `gorm:"primaryKey;size:36" json:"id"`
	DocumentID uint      `gorm:"not null;index:idx_chunk_doc_version,priority:1" json:"document_id"`
	TenantID   uint      `gorm:"not null;index" json:"tenant_id"`
	Version    int       `gorm:"not null;index:idx_chunk_doc_version,priority:2" json:"version"`
	ChunkIndex int       `gorm:"not null" json:"chunk_index"`
	Embedding  Vector    `gorm:"not null" json:"-"`
	Text       string    `gorm:"type:text;not null" json:"text"`
	Model      string    `gorm:"size:128;not null" json:"model"`
	CreatedAt  time.Time `json:"created_at"`
}

// ScoredChunk is a chunk ranked against a query vector. Higher Score is more similar.
type ScoredChunk struct {
	Chunk        ChunkEmbedding
	Score        float64
	DocumentName string
}

// ChunkID is deterministic per document, version and index so re-ingesting a
// version overwrites its rows instead of duplicating them.
func ChunkID(documentID uint, version, index int) string {
	return uuid.NewSHA1(chunkIDNamespace, []byte(fmt.Sprintf("%d:%d:%d", documentID, version, index))).String()
}

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid chunk embedding %s: %s", e.Field, e.Reason)
}

// ValidateChunkEmbedding checks required fields and the fixed vector dimension.
func ValidateChunkEmbedding(c *ChunkEmbedding, dimension int) error {
	switch {
	case c.ID == "":
		return &ValidationError{Field: "id", Reason: "required"}
	case c.DocumentID == 0:
		return &ValidationError{Field: "document_id", Reason: "required"}
	case c.TenantID == 0:
		return &ValidationError{Field: "tenant_id", Reason: "required"}
	case c.Version <= 0:
		return &ValidationError{Field: "version", Reason: "must be positive"}
	case c.ChunkIndex < 0:
		return &ValidationError{Field: "chunk_index", Reason: "must not be negative"}
	case strings.TrimSpace(c.Text) == "":
		return &ValidationError{Field: "text", Reason: "required"}
	case utf8.RuneCountInString(c.Text) > MaxChunkTextRunes:
		return &ValidationError{Field: "text", Reason: fmt.Sprintf("longer than %d characters", MaxChunkTextRunes)}
	case c.Model == "":
		return &ValidationError{Field: "model", Reason: "required"}
	case len(c.Embedding) != dimension:
		return &ValidationError{
			Field:  "embedding",
			Reason: fmt.Sprintf("vector must have %d dimensions, got %d", dimension, len(c.Embedding)),
		}
	}
	for _, x := range c.Embedding {
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return &ValidationError{Field: "embedding", Reason: "contains NaN or Inf"}
		}
	}
	return nil
}

// TruncateRunes cuts s to at most n runes.
func TruncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
