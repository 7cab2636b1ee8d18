package knowledge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRerankPriorityBreaksSimilarityTies(t *testing.T) {
	entries := []ChunkDebug{
		{Text: "baja", Similarity: 0.80, Priority: 1, Score: 0.88},
		{Text: "alta", Similarity: 0.80, Priority: 5, Score: 1.20},
	}

	ranked := Rerank(entries, 2)
	require.Len(t, ranked, 2)
	assert.Equal(t, "alta", ranked[0].Text)
	assert.Equal(t, "baja", ranked[1].Text)
}

func TestRerankSimilarityWinsAtEqualPriority(t *testing.T) {
	entries := []ChunkDebug{
		{Text: "lejana", Similarity: 0.50, Priority: 3, Score: 0.65},
		{Text: "cercana", Similarity: 0.90, Priority: 3, Score: 1.17},
	}

	ranked := Rerank(entries, 1)
	require.Len(t, ranked, 1)
	assert.Equal(t, "cercana", ranked[0].Text)
}

func TestRerankHighPriorityCannotFullyOverrideRelevance(t *testing.T) {
	// Priority 5 multiplies by at most 1.5; a clearly more similar chunk
	// still wins against a barely related high-priority one.
	entries := []ChunkDebug{
		{Text: "irrelevante", Similarity: 0.30, Priority: 5, Score: 0.45},
		{Text: "relevante", Similarity: 0.90, Priority: 1, Score: 0.99},
	}

	ranked := Rerank(entries, 2)
	assert.Equal(t, "relevante", ranked[0].Text)
}

func TestRerankIsStableAndIdempotent(t *testing.T) {
	entries := []ChunkDebug{
		{Text: "a", ChunkIndex: 0, Score: 0.70},
		{Text: "b", ChunkIndex: 1, Score: 0.70},
		{Text: "c", ChunkIndex: 2, Score: 0.90},
	}

	first := Rerank(entries, 3)
	second := Rerank(first, 3)
	assert.Equal(t, first, second)
	// Equal scores keep input order.
	assert.Equal(t, "c", first[0].Text)
	assert.Equal(t, "a", first[1].Text)
	assert.Equal(t, "b", first[2].Text)
}

func TestRerankTruncatesToK(t *testing.T) {
	entries := []ChunkDebug{{Score: 1}, {Score: 2}, {Score: 3}}
	assert.Len(t, Rerank(entries, 2), 2)
	assert.Len(t, Rerank(entries, 10), 3)
	assert.Empty(t, Rerank(entries, 0))
}

func TestClampPriority(t *testing.T) {
	assert.Equal(t, 1, ClampPriority(-2))
	assert.Equal(t, 1, ClampPriority(0))
	assert.Equal(t, 3, ClampPriority(3))
	assert.Equal(t, 5, ClampPriority(9))
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, cosineSimilarity([]float32{1, 0}, []float32{1, 0}), 1e-9)
	assert.InDelta(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Zero(t, cosineSimilarity(nil, []float32{1}))
	assert.Zero(t, cosineSimilarity([]float32{1, 2}, []float32{1}))
}
