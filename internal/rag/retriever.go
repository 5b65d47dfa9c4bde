package rag

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"zenocloud/internal/model"
)

var tracer = otel.Tracer("zenocloud/internal/rag")

// Searcher ranks stored chunks against a query vector.
type Searcher interface {
	Query(ctx context.Context, tenantID uint, documentIDs []uint, vec []float32, k int) ([]model.ScoredChunk, error)
}

// Retrieval holds every ranked chunk and, in rank order, the first chunk of each document.
type Retrieval struct {
	Chunks  []model.ScoredChunk
	Sources []model.ScoredChunk
}

type Retriever struct {
	embedder Embedder
	store    Searcher
}

func NewRetriever(embedder Embedder, store Searcher) *Retriever {
	return &Retriever{embedder: embedder, store: store}
}

// Retrieve searches the given tenant documents for query. Chunks of other
// tenants or of a superseded version are dropped.
func (r *Retriever) Retrieve(ctx context.Context, tenantID uint, docs []model.Document, query string, k int) (*Retrieval, error) {
	byID := make(map[uint]model.Document, len(docs))
	ids := make([]uint, 0, len(docs))
	for _, d := range docs {
		if d.TenantID != tenantID {
			continue
		}
		if _, ok := byID[d.ID]; ok {
			continue
		}
		byID[d.ID] = d
		ids = append(ids, d.ID)
	}
	if len(ids) == 0 {
		return &Retrieval{}, nil
	}

	ctx, span := tracer.Start(ctx, "rag.retrieve")
	defer span.End()
	span.SetAttributes(attribute.Int("rag.documents", len(ids)), attribute.Int("rag.k", k))

	vec, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "embed query")
		return nil, err
	}
	ranked, err := r.store.Query(ctx, tenantID, ids, vec, k)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "vector query")
		return nil, fmt.Errorf("query vector store failed: %w", err)
	}

	chunks := make([]model.ScoredChunk, 0, len(ranked))
	for _, c := range ranked {
		doc, ok := byID[c.Chunk.DocumentID]
		if !ok || c.Chunk.TenantID != tenantID || c.Chunk.Version != doc.Version {
			continue
		}
		c.DocumentName = doc.Name
		chunks = append(chunks, c)
	}
	span.SetAttributes(attribute.Int("rag.chunks", len(chunks)))
	return &Retrieval{Chunks: chunks, Sources: DedupeSources(chunks)}, nil
}

// DedupeSources keeps the first chunk seen for each document.
func DedupeSources(chunks []model.ScoredChunk) []model.ScoredChunk {
	seen := make(map[uint]struct{}, len(chunks))
	var out []model.ScoredChunk
	for _, c := range chunks {
		if _, ok := seen[c.Chunk.DocumentID]; ok {
			continue
		}
		seen[c.Chunk.DocumentID] = struct{}{}
		out = append(out, c)
	}
	return out
}
