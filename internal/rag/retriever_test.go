package rag

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zenocloud/internal/logger"
	"zenocloud/internal/model"
)

func TestRetrieveWithoutDocumentsSkipsEmbedder(t *testing.T) {
	emb := &fakeQueryEmbedder{vec: []float32{1, 0}}
	repo := newFakeChunkRepo()
	r := NewRetriever(emb, NewVectorStore(repo, 2, 20, 0, logger.Nop()))

	res, err := r.Retrieve(context.Background(), 1, nil, "anything?", 20)
	require.NoError(t, err)
	assert.Empty(t, res.Chunks)
	assert.Empty(t, res.Sources)
	assert.Zero(t, emb.calls)
	assert.Zero(t, repo.searches)

	// documents of another tenant do not count
	res, err = r.Retrieve(context.Background(), 1, []model.Document{{ID: 5, TenantID: 2, Version: 1}}, "q", 20)
	require.NoError(t, err)
	assert.Empty(t, res.Chunks)
	assert.Zero(t, emb.calls)
}

func TestRetrieveDedupesSourcesAndDropsStaleVersions(t *testing.T) {
	repo := newFakeChunkRepo()
	repo.searchErr = assert.AnError
	store := NewVectorStore(repo, 2, 20, 0, logger.Nop())
	ctx := context.Background()
	store.Put(ctx, []model.ChunkEmbedding{
		chunkFor(1, 1, 2, 0, model.Vector{1, 0}),
		chunkFor(1, 1, 2, 1, model.Vector{1, 0.2}),
		chunkFor(1, 1, 1, 0, model.Vector{1, 0}),
		chunkFor(2, 1, 1, 0, model.Vector{0.5, 1}),
	})

	docs := []model.Document{
		{ID: 1, TenantID: 1, Name: "a.pdf", Version: 2},
		{ID: 2, TenantID: 1, Name: "b.pdf", Version: 1},
	}
	emb := &fakeQueryEmbedder{vec: []float32{1, 0}}
	res, err := NewRetriever(emb, store).Retrieve(ctx, 1, docs, "q", 10)
	require.NoError(t, err)

	require.Len(t, res.Chunks, 3)
	for _, c := range res.Chunks {
		if c.Chunk.DocumentID == 1 {
			assert.Equal(t, 2, c.Chunk.Version)
			assert.Equal(t, "a.pdf", c.DocumentName)
		}
	}
	require.Len(t, res.Sources, 2)
	assert.EqualValues(t, 1, res.Sources[0].Chunk.DocumentID)
	assert.Equal(t, 0, res.Sources[0].Chunk.ChunkIndex)
	assert.EqualValues(t, 2, res.Sources[1].Chunk.DocumentID)
	assert.Equal(t, 1, emb.calls)
}

func TestDedupeSourcesKeepsFirstSeen(t *testing.T) {
	in := []model.ScoredChunk{
		{Chunk: model.ChunkEmbedding{ID: "a1", DocumentID: 1}, Score: 0.9},
		{Chunk: model.ChunkEmbedding{ID: "b1", DocumentID: 2}, Score: 0.9},
		{Chunk: model.ChunkEmbedding{ID: "a2", DocumentID: 1}, Score: 0.9},
	}
	out := DedupeSources(in)
	require.Len(t, out, 2)
	assert.Equal(t, "a1", out[0].Chunk.ID)
	assert.Equal(t, "b1", out[1].Chunk.ID)
}
