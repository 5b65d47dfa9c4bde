package rag

import (
	"context"
	"fmt"
	"time"
)

// Embedder maps texts to fixed-dimension vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Dimension() int
	Model() string
}

// EmbeddingBackend is the raw embedding service, e.g. ai.EmbeddingClient.
type EmbeddingBackend interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
}

// ServiceEmbedder batches calls to a backend and validates every reply.
type ServiceEmbedder struct {
	backend   EmbeddingBackend
	dimension int
	batchSize int
	timeout   time.Duration
}

func NewServiceEmbedder(backend EmbeddingBackend, dimension, batchSize int, timeout time.Duration) *ServiceEmbedder {
	if batchSize <= 0 {
		batchSize = 32
	}
	return &ServiceEmbedder{backend: backend, dimension: dimension, batchSize: batchSize, timeout: timeout}
}

func (e *ServiceEmbedder) Dimension() int { return e.dimension }
func (e *ServiceEmbedder) Model() string  { return e.backend.Model() }

func (e *ServiceEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := start + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := e.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (e *ServiceEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.embedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *ServiceEmbedder) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	callCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	vecs, err := e.backend.EmbedBatch(callCtx, batch)
	if err != nil {
		return nil, &EmbeddingServiceError{Err: err}
	}
	if len(vecs) != len(batch) {
		return nil, &EmbeddingServiceError{Err: fmt.Errorf("got %d vectors for %d inputs", len(vecs), len(batch))}
	}
	for i, v := range vecs {
		if len(v) != e.dimension {
			return nil, &EmbeddingServiceError{Err: fmt.Errorf("vector %d has %d dimensions, want %d", i, len(v), e.dimension)}
		}
	}
	return vecs, nil
}
