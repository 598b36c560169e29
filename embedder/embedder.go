// Package embedder turns transcript chunk text into fixed-dimension,
// unit-normalized vectors. Every implementation is a pure function of
// (model identifier, text): same input always yields the same vector.
package embedder

import (
	"context"
	"math"

	"transcribepipeline/core"
)

// Embedder produces embedding vectors for chunk text.
type Embedder interface {
	// ModelID identifies the embedding model. The stores do not persist it
	// alongside the vectors.
	ModelID() string
	// Dimension is the fixed length of every vector this Embedder returns.
	Dimension() int
	// EmbedBatch embeds texts in one batch where the backend supports it.
	// The returned slice has exactly len(texts) entries, one per input, in
	// order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Embed embeds a single piece of text.
func Embed(ctx context.Context, e Embedder, text string) ([]float32, error) {
	out, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func normalize(v []float32) []float32 {
	var sumSquares float64
	for _, x := range v {
		sumSquares += float64(x) * float64(x)
	}
	if sumSquares == 0 {
		return v
	}
	norm := float32(math.Sqrt(sumSquares))
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}

// dimensionError is returned when a backend returns a vector whose length
// does not match core.EmbeddingDim.
type dimensionError struct {
	got, want int
}

func (e dimensionError) Error() string {
	return "embedder: unexpected vector dimension"
}

func checkDimension(v []float32) error {
	if len(v) != core.EmbeddingDim {
		return dimensionError{got: len(v), want: core.EmbeddingDim}
	}
	return nil
}
