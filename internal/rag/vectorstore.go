package rag

import (
	"context"
	"fmt"
	"time"

	"zenocloud/internal/logger"
	"zenocloud/internal/model"
)

// ChunkRepository is the persistence behind VectorStore, implemented by
// repository.ChunkEmbeddingRepository.
type ChunkRepository interface {
	Upsert(ctx context.Context, chunk *model.ChunkEmbedding) error
	ListCandidates(ctx context.Context, tenantID uint, documentIDs []uint) ([]model.ChunkEmbedding, error)
	SearchIndex(ctx context.Context, tenantID uint, documentIDs []uint, vec []float32, k, candidates int) ([]model.ScoredChunk, error)
	DeleteByDocument(ctx context.Context, documentID uint) (int64, error)
	DeleteByDocumentVersion(ctx context.Context, documentID uint, version int) (int64, error)
}

type ItemError struct {
	ChunkID string
	Index   int
	Err     error
}

type PutResult struct {
	Written int
	Failed  []ItemError
}

func (r PutResult) Total() int {
	return r.Written + len(r.Failed)
}

type VectorStore struct {
	repo          ChunkRepository
	dimension     int
	candidatePool int
	timeout       time.Duration
	log           *logger.Logger
}

func NewVectorStore(repo ChunkRepository, dimension, candidatePool int, timeout time.Duration, log *logger.Logger) *VectorStore {
	return &VectorStore{
		repo:          repo,
		dimension:     dimension,
		candidatePool: candidatePool,
		timeout:       timeout,
		log:           log,
	}
}

func (s *VectorStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// Put validates and upserts every chunk on its own; one failing record does
// not stop the rest.
func (s *VectorStore) Put(ctx context.Context, chunks []model.ChunkEmbedding) PutResult {
	var res PutResult
	for i := range chunks {
		c := &chunks[i]
		err := model.ValidateChunkEmbedding(c, s.dimension)
		if err == nil {
			writeCtx, cancel := s.withTimeout(ctx)
			err = s.repo.Upsert(writeCtx, c)
			cancel()
		}
		if err != nil {
			s.log.Warn("chunk write failed", "chunk_id", c.ID, "document_id", c.DocumentID, "chunk_index", c.ChunkIndex, "error", err)
			res.Failed = append(res.Failed, ItemError{ChunkID: c.ID, Index: c.ChunkIndex, Err: err})
			continue
		}
		res.Written++
	}
	return res
}

// Query returns up to k chunks of the allowed documents ranked by similarity.
// The managed index is tried first; any failure or an empty answer falls back
// to scoring every candidate locally.
func (s *VectorStore) Query(ctx context.Context, tenantID uint, documentIDs []uint, vec []float32, k int) ([]model.ScoredChunk, error) {
	if len(documentIDs) == 0 || k <= 0 {
		return nil, nil
	}
	allowed := make(map[uint]struct{}, len(documentIDs))
	for _, id := range documentIDs {
		allowed[id] = struct{}{}
	}

	results, err := s.searchIndex(ctx, tenantID, documentIDs, vec, k)
	if err != nil {
		s.log.Warn("vector index search failed, using local scan", "tenant_id", tenantID, "error", err)
	} else if results = scoped(results, tenantID, allowed); len(results) > 0 {
		return results, nil
	}

	readCtx, cancel := s.withTimeout(ctx)
	defer cancel()
	candidates, err := s.repo.ListCandidates(readCtx, tenantID, documentIDs)
	if err != nil {
		return nil, fmt.Errorf("local vector scan failed: %w", err)
	}
	inScope := candidates[:0]
	for _, c := range candidates {
		if _, ok := allowed[c.DocumentID]; ok && c.TenantID == tenantID {
			inScope = append(inScope, c)
		}
	}
	return RankByCosine(vec, inScope, k), nil
}

func (s *VectorStore) searchIndex(ctx context.Context, tenantID uint, documentIDs []uint, vec []float32, k int) ([]model.ScoredChunk, error) {
	readCtx, cancel := s.withTimeout(ctx)
	defer cancel()
	results, err := s.repo.SearchIndex(readCtx, tenantID, documentIDs, vec, k, s.candidatePool)
	if err != nil {
		return nil, &IndexUnavailableError{Err: err}
	}
	return results, nil
}

func scoped(results []model.ScoredChunk, tenantID uint, allowed map[uint]struct{}) []model.ScoredChunk {
	out := results[:0]
	for _, r := range results {
		if _, ok := allowed[r.Chunk.DocumentID]; ok && r.Chunk.TenantID == tenantID {
			out = append(out, r)
		}
	}
	return out
}

func (s *VectorStore) DeleteByDocument(ctx context.Context, documentID uint) error {
	writeCtx, cancel := s.withTimeout(ctx)
	defer cancel()
	n, err := s.repo.DeleteByDocument(writeCtx, documentID)
	if err != nil {
		return err
	}
	s.log.Debug("chunks deleted", "document_id", documentID, "count", n)
	return nil
}

func (s *VectorStore) DeleteByDocumentVersion(ctx context.Context, documentID uint, version int) error {
	writeCtx, cancel := s.withTimeout(ctx)
	defer cancel()
	n, err := s.repo.DeleteByDocumentVersion(writeCtx, documentID, version)
	if err != nil {
		return err
	}
	s.log.Debug("chunks deleted", "document_id", documentID, "version", version, "count", n)
	return nil
}
