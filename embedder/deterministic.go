package embedder

import (
	"context"
	"hash/fnv"
	"strings"
)

// DeterministicEmbedder is a pure, local Embedder requiring no network
// access: it hashes n-grams of the input text into a fixed-width vector,
// the same way for the same text every time. It exists for tests and for
// operators who haven't configured a remote embeddings backend — the
// pack's tfidf embedder plays the same "always available, no API key"
// role relative to its remote openai embedder.
type DeterministicEmbedder struct {
	dim int
}

// NewDeterministicEmbedder builds a DeterministicEmbedder producing
// vectors of the given dimension.
func NewDeterministicEmbedder(dim int) *DeterministicEmbedder {
	return &DeterministicEmbedder{dim: dim}
}

func (e *DeterministicEmbedder) ModelID() string { return "deterministic-hash-v1" }
func (e *DeterministicEmbedder) Dimension() int  { return e.dim }

func (e *DeterministicEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.embedOne(t)
	}
	return out, nil
}

// embedOne hashes every 3-character shingle of t (lowercased) into one of
// e.dim buckets and accumulates a signed count, then unit-normalizes. The
// empty string always maps to the fixed unit vector e_0, so empty chunk
// text never produces an all-zero vector.
func (e *DeterministicEmbedder) embedOne(t string) []float32 {
	v := make([]float32, e.dim)
	if t == "" {
		v[0] = 1
		return v
	}

	runes := []rune(strings.ToLower(t))
	const shingle = 3
	n := shingle
	if len(runes) < n {
		n = len(runes)
	}
	for i := 0; i+n <= len(runes) || i == 0; i++ {
		end := i + n
		if end > len(runes) {
			end = len(runes)
		}
		gram := string(runes[i:end])
		h := fnv.New32a()
		_, _ = h.Write([]byte(gram))
		bucket := int(h.Sum32() % uint32(e.dim))
		sign := float32(1)
		if h.Sum32()&1 == 1 {
			sign = -1
		}
		v[bucket] += sign
		if end == len(runes) {
			break
		}
	}
	return normalize(v)
}
