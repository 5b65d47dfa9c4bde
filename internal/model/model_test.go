package model

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validChunk() *ChunkEmbedding {
	return &ChunkEmbedding{
		ID:         ChunkID(1, 1, 0),
		DocumentID: 1,
		TenantID:   9,
		Version:    1,
		ChunkIndex: 0,
		Embedding:  Vector{0.1, 0.2, 0.3},
		Text:       "hello",
		Model:      "all-MiniLM-L6-v2",
	}
}

func TestValidateChunkEmbedding(t *testing.T) {
	require.NoError(t, ValidateChunkEmbedding(validChunk(), 3))

	tests := []struct {
		name   string
		field  string
		mutate func(*ChunkEmbedding)
	}{
		{"dimension mismatch", "embedding", func(c *ChunkEmbedding) { c.Embedding = Vector{1, 2} }},
		{"nan value", "embedding", func(c *ChunkEmbedding) { c.Embedding[1] = float32(math.NaN()) }},
		{"missing tenant", "tenant_id", func(c *ChunkEmbedding) { c.TenantID = 0 }},
		{"missing document", "document_id", func(c *ChunkEmbedding) { c.DocumentID = 0 }},
		{"blank text", "text", func(c *ChunkEmbedding) { c.Text = "  " }},
		{"text too long", "text", func(c *ChunkEmbedding) { c.Text = strings.Repeat("a", MaxChunkTextRunes+1) }},
		{"zero version", "version", func(c *ChunkEmbedding) { c.Version = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validChunk()
			tt.mutate(c)
			err := ValidateChunkEmbedding(c, 3)
			var vErr *ValidationError
			require.True(t, errors.As(err, &vErr), "got %v", err)
			assert.Equal(t, tt.field, vErr.Field)
		})
	}
}

func TestChunkIDDeterministic(t *testing.T) {
	assert.Equal(t, ChunkID(4, 2, 7), ChunkID(4, 2, 7))
	assert.NotEqual(t, ChunkID(4, 2, 7), ChunkID(4, 3, 7))
	assert.NotEqual(t, ChunkID(4, 2, 7), ChunkID(4, 2, 8))
	assert.Len(t, ChunkID(1, 1, 1), 36)
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StatusPending, StatusProcessing))
	assert.True(t, CanTransition(StatusProcessing, StatusReady))
	assert.True(t, CanTransition(StatusProcessing, StatusError))
	assert.True(t, CanTransition(StatusError, StatusProcessing))
	assert.True(t, CanTransition(StatusPending, StatusError))
	assert.False(t, CanTransition(StatusPending, StatusReady))
	assert.False(t, CanTransition(StatusReady, StatusError))

	assert.ElementsMatch(t, []DocumentStatus{StatusPending, StatusError, StatusReady}, SourcesFrom(StatusProcessing))
}

func TestVectorRoundTrip(t *testing.T) {
	v := Vector{1, -0.5, 2.25}
	raw, err := v.Value()
	require.NoError(t, err)

	var back Vector
	require.NoError(t, back.Scan(raw))
	assert.Equal(t, v, back)

	var fromBytes Vector
	require.NoError(t, fromBytes.Scan([]byte("[3,4]")))
	assert.Equal(t, Vector{3, 4}, fromBytes)
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "héll", TruncateRunes("héllo", 4))
	assert.Equal(t, "hi", TruncateRunes("hi", 10))
	assert.Equal(t, "", TruncateRunes("hi", 0))
}
