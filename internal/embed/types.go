// Package embed turns query text into vectors for the vector channel.
//
// Providers (OpenAI-compatible API, Ollama, a local hash embedder) sit
// behind the Embedder interface. Chain adds a single fallback attempt with
// per-provider circuit breakers, and CachedEmbedder memoises repeated
// queries.
package embed

import (
	"context"
	"math"
	"time"
)

const (
	// MaxBatchSize caps a single provider request.
	MaxBatchSize = 256

	// DefaultBatchSize is the default batch size for embedding requests.
	DefaultBatchSize = 32

	// DefaultTimeout bounds one provider request.
	DefaultTimeout = 30 * time.Second

	// DefaultDimensions is used when a provider does not report its own.
	DefaultDimensions = 768

	// StaticDimensions is the default dimension of the hash embedder.
	StaticDimensions = 256
)

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed generates embedding for a single text
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension
	Dimensions() int

	// ModelName returns the model identifier
	ModelName() string

	// Available checks if the embedder is ready
	Available(ctx context.Context) bool

	// Close releases resources
	Close() error
}

// normalizeVector normalizes a vector to unit length.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
