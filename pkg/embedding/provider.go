package embedding

import (
	"context"
	"math"
)

// Dimensions is the fixed embedding width the queue store expects. Both
// supported providers emit 768-dimensional vectors.
const Dimensions = 768

// Provider defines the interface for converting topic text into a
// fixed-length vector suitable for cosine-similarity comparison.
type Provider interface {
	Generate(ctx context.Context, text string) ([]float32, error)
}

// normalizeVector scales a vector to unit magnitude. Cosine distance in
// pgvector expects normalized vectors; some providers (Ollama) return raw
// magnitudes.
func normalizeVector(values []float32) []float32 {
	var sumSquares float64
	for _, v := range values {
		sumSquares += float64(v) * float64(v)
	}
	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return values
	}

	normalized := make([]float32, len(values))
	for i, v := range values {
		normalized[i] = float32(float64(v) / magnitude)
	}
	return normalized
}
