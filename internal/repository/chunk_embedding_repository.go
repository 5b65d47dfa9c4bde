package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"zenocloud/internal/model"
)

// ErrIndexUnavailable is returned by SearchIndex when no managed vector index can serve the query.
var ErrIndexUnavailable = errors.New("vector index unavailable")

type ChunkEmbeddingRepository struct {
	db        *gorm.DB
	indexName string
	dimension int
}

func NewChunkEmbeddingRepository(db *gorm.DB, indexName string, dimension int) *ChunkEmbeddingRepository {
	return &ChunkEmbeddingRepository{db: db, indexName: indexName, dimension: dimension}
}

// Upsert writes one chunk keyed by its deterministic id; an existing row with the same id is replaced.
func (r *ChunkEmbeddingRepository) Upsert(ctx context.Context, chunk *model.ChunkEmbedding) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, UpdateAll: true}).
		Create(chunk).Error
	if err != nil {
		return fmt.Errorf("upsert chunk embedding failed: %w", err)
	}
	return nil
}

// ListCandidates returns every chunk of the given documents inside the tenant.
func (r *ChunkEmbeddingRepository) ListCandidates(ctx context.Context, tenantID uint, documentIDs []uint) ([]model.ChunkEmbedding, error) {
	if len(documentIDs) == 0 {
		return nil, nil
	}
	var chunks []model.ChunkEmbedding
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND document_id IN ?", tenantID, documentIDs).
		Order("document_id ASC, chunk_index ASC").
		Find(&chunks).Error; err != nil {
		return nil, fmt.Errorf("list candidate chunks failed: %w", err)
	}
	return chunks, nil
}

type scoredRow struct {
	model.ChunkEmbedding `gorm:"embedded"`
	Score                float64
}

// SearchIndex ranks chunks with the pgvector HNSW index. candidates is the
// ef_search pool the index explores before tenant and document filters apply.
func (r *ChunkEmbeddingRepository) SearchIndex(ctx context.Context, tenantID uint, documentIDs []uint, vec []float32, k, candidates int) ([]model.ScoredChunk, error) {
	if r.db.Dialector.Name() != "postgres" {
		return nil, fmt.Errorf("%w: dialect %s has no vector index", ErrIndexUnavailable, r.db.Dialector.Name())
	}
	if len(documentIDs) == 0 || k <= 0 {
		return nil, nil
	}
	if candidates < k {
		candidates = k
	}

	var found int64
	if err := r.db.WithContext(ctx).
		Raw("SELECT COUNT(*) FROM pg_indexes WHERE tablename = ? AND indexname = ?", "chunk_embeddings", r.indexName).
		Scan(&found).Error; err != nil {
		return nil, fmt.Errorf("%w: lookup index failed: %v", ErrIndexUnavailable, err)
	}
	if found == 0 {
		return nil, fmt.Errorf("%w: index %s missing", ErrIndexUnavailable, r.indexName)
	}

	cast := fmt.Sprintf("vector(%d)", r.dimension)
	query := fmt.Sprintf(
		"SELECT *, 1 - ((embedding::%[1]s) <=> ?::%[1]s) AS score FROM chunk_embeddings "+
			"WHERE tenant_id = ? AND document_id IN ? ORDER BY (embedding::%[1]s) <=> ?::%[1]s LIMIT ?",
		cast,
	)
	qv := pgvector.NewVector(vec)

	var rows []scoredRow
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(fmt.Sprintf("SET LOCAL hnsw.ef_search = %d", candidates)).Error; err != nil {
			return err
		}
		return tx.Raw(query, qv, tenantID, documentIDs, qv, k).Scan(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("%w: search failed: %v", ErrIndexUnavailable, err)
	}

	out := make([]model.ScoredChunk, len(rows))
	for i := range rows {
		out[i] = model.ScoredChunk{Chunk: rows[i].ChunkEmbedding, Score: rows[i].Score}
	}
	return out, nil
}

func (r *ChunkEmbeddingRepository) DeleteByDocument(ctx context.Context, documentID uint) (int64, error) {
	res := r.db.WithContext(ctx).Where("document_id = ?", documentID).Delete(&model.ChunkEmbedding{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete chunks by document failed: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (r *ChunkEmbeddingRepository) DeleteByDocumentVersion(ctx context.Context, documentID uint, version int) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("document_id = ? AND version = ?", documentID, version).
		Delete(&model.ChunkEmbedding{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete chunks by document version failed: %w", res.Error)
	}
	return res.RowsAffected, nil
}
