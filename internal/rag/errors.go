package rag

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrInvalidChunkConfig = errors.New("chunk overlap must be non-negative and smaller than chunk size")
	ErrDocumentNotFound   = errors.New("document not found")
	ErrNotIngestible      = errors.New("document type is not ingestible")
	ErrNoExtractableText  = errors.New("no extractable text")
	ErrTransitionRejected = errors.New("document status transition rejected")
	ErrNoChunks           = errors.New("no embeddings found")
)

// ExtractionError means the source bytes were unavailable or could not be parsed.
type ExtractionError struct {
	Err       error
	Permanent bool
}

func (e *ExtractionError) Error() string { return fmt.Sprintf("extraction failed: %v", e.Err) }
func (e *ExtractionError) Unwrap() error { return e.Err }
func (e *ExtractionError) Retryable() bool {
	return !e.Permanent
}

// EmbeddingServiceError covers failed embedding calls and malformed replies.
type EmbeddingServiceError struct {
	Err error
}

func (e *EmbeddingServiceError) Error() string   { return fmt.Sprintf("embedding service failed: %v", e.Err) }
func (e *EmbeddingServiceError) Unwrap() error   { return e.Err }
func (e *EmbeddingServiceError) Retryable() bool { return true }

// StoreWriteError reports a batch whose written share fell below the configured ratio.
type StoreWriteError struct {
	Written int
	Total   int
	Failed  []ItemError
}

func (e *StoreWriteError) Error() string {
	msg := fmt.Sprintf("stored %d of %d chunks", e.Written, e.Total)
	if len(e.Failed) > 0 {
		msg += fmt.Sprintf(", first failure: %v", e.Failed[0].Err)
	}
	return msg
}

func (e *StoreWriteError) Unwrap() error {
	if len(e.Failed) == 0 {
		return nil
	}
	return e.Failed[0].Err
}

func (e *StoreWriteError) Retryable() bool { return true }

// IndexUnavailableError is raised by the managed search path. It never leaves
// the vector store; queries fall back to the local scan.
type IndexUnavailableError struct {
	Err error
}

func (e *IndexUnavailableError) Error() string { return fmt.Sprintf("vector index unavailable: %v", e.Err) }
func (e *IndexUnavailableError) Unwrap() error { return e.Err }

// SynthesisError wraps a failed or empty LLM completion.
type SynthesisError struct {
	Err error
}

func (e *SynthesisError) Error() string { return fmt.Sprintf("answer synthesis failed: %v", e.Err) }
func (e *SynthesisError) Unwrap() error { return e.Err }

// IsRetryable reports whether another ingestion attempt could succeed.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var r interface{ Retryable() bool }
	if errors.As(err, &r) {
		return r.Retryable()
	}
	switch {
	case errors.Is(err, context.Canceled),
		errors.Is(err, ErrDocumentNotFound),
		errors.Is(err, ErrNotIngestible),
		errors.Is(err, ErrInvalidChunkConfig),
		errors.Is(err, ErrTransitionRejected):
		return false
	}
	return true
}
