package rag

import (
	"math"
	"sort"

	"zenocloud/internal/model"
)

// Cosine is dot(a, b) / (|a| |b|). Zero-norm or mismatched vectors score 0.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// RankByCosine scores every candidate against query and returns the best k,
// highest first. Equal scores keep candidate order.
func RankByCosine(query []float32, candidates []model.ChunkEmbedding, k int) []model.ScoredChunk {
	if k <= 0 || len(candidates) == 0 {
		return nil
	}
	scored := make([]model.ScoredChunk, len(candidates))
	for i := range candidates {
		scored[i] = model.ScoredChunk{Chunk: candidates[i], Score: Cosine(query, candidates[i].Embedding)}
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if k < len(scored) {
		scored = scored[:k]
	}
	return scored
}
