// Package store holds the in-memory retrieval indexes: the BM25 lexical index,
// its fingerprint-keyed cache, and the vector stores behind semantic search.
package store

import (
	"context"
	"fmt"
	"time"
)

// Fragment is a retrievable unit of a document. Read-only snapshot.
type Fragment struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	Filename   string    `json:"filename"`
	Path       string    `json:"path,omitempty"`
	FileType   string    `json:"file_type"`
	Text       string    `json:"text"`
	ChunkIndex int       `json:"chunk_index"`
	CreatedAt  time.Time `json:"created_at,omitempty"`
	Embedding  []float32 `json:"embedding,omitempty"`
}

// Source identifies which channel produced a score.
type Source string

const (
	SourceLexical Source = "lexical"
	SourceVector  Source = "vector"
	SourceHybrid  Source = "hybrid"
	SourceFused   Source = "fused"
)

// ScoredResult is one entry of a ranked list. Rank is 1-based.
type ScoredResult struct {
	FragmentID string
	Score      float64
	Rank       int
	Source     Source

	// Hits counts the lists a fused result appeared in. Zero for unfused lists.
	Hits int
}

// Rerank assigns 1-based ranks in slice order.
func Rerank(results []ScoredResult) []ScoredResult {
	for i := range results {
		results[i].Rank = i + 1
	}
	return results
}

// BM25Config configures the lexical index.
type BM25Config struct {
	// K1 is the term frequency saturation parameter (default: 1.5)
	K1 float64 `yaml:"k1"`

	// B is the length normalization parameter (default: 0.75)
	B float64 `yaml:"b"`

	// FuzzyMinRunes is the minimum length of a fuzzy term that may match
	// vocabulary terms within edit distance 1 (default: 4)
	FuzzyMinRunes int `yaml:"fuzzy_min_runes"`

	// Workers bounds tokenization parallelism during Fit (default: NumCPU)
	Workers int `yaml:"workers"`
}

// DefaultBM25Config returns default BM25 configuration.
func DefaultBM25Config() BM25Config {
	return BM25Config{
		K1:            1.5,
		B:             0.75,
		FuzzyMinRunes: 4,
	}
}

// IndexStats describes a built lexical index.
type IndexStats struct {
	DocumentCount int       `json:"document_count"`
	TermCount     int       `json:"term_count"`
	AvgDocLength  float64   `json:"avg_doc_length"`
	Fingerprint   string    `json:"fingerprint"`
	BuiltAt       time.Time `json:"built_at"`
	BuildDuration string    `json:"build_duration"`
}

// VectorItem is a fragment embedding stored for nearest-neighbour search.
type VectorItem struct {
	ID       string
	FileType string
	Vector   []float32
}

// VectorResult is a single nearest-neighbour hit.
type VectorResult struct {
	ID       string  // Fragment ID
	Distance float32 // Lower is more similar (0-2 for cosine)
	Score    float32 // Normalized similarity (0-1)
}

// VectorStoreConfig configures the in-process vector store.
type VectorStoreConfig struct {
	// Dimensions is the vector dimension
	Dimensions int `yaml:"dimensions"`

	// Metric is the distance metric: "cos" (cosine), "l2" (euclidean) (default: "cos")
	Metric string `yaml:"metric"`

	// M is HNSW max connections per layer (default: 16)
	M int `yaml:"m"`

	// EfSearch is HNSW query-time search width (default: 20)
	EfSearch int `yaml:"ef_search"`
}

// VectorStore provides semantic search over fragment embeddings.
type VectorStore interface {
	// Add inserts vectors. An existing ID is replaced.
	Add(ctx context.Context, items []VectorItem) error

	// Search finds the k nearest neighbours to query, restricted to
	// fileTypes when non-empty.
	Search(ctx context.Context, query []float32, k int, fileTypes []string) ([]*VectorResult, error)

	// Delete removes vectors by ID.
	Delete(ctx context.Context, ids []string) error

	Close() error
}

// ErrDimensionMismatch indicates vector dimension mismatch.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d (re-embed the corpus with the configured model)", e.Expected, e.Got)
}
