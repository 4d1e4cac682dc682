package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/Aman-CERP/docsearch/internal/embed"
	dserrors "github.com/Aman-CERP/docsearch/internal/errors"
	"github.com/Aman-CERP/docsearch/internal/store"
)

// VectorQuery is one vector-channel request.
type VectorQuery struct {
	Text      string
	Image     string
	TopK      int
	FileTypes []string
}

// VectorResults is the vector channel's ranked list and provenance.
type VectorResults struct {
	// Hits carry similarity in [0,1] as Score.
	Hits []store.ScoredResult

	Provider string
	FellBack bool

	// Notices report degraded sub-steps (fallback provider, image description).
	Notices []Notice
}

// VectorSearcher is the semantic retrieval port.
type VectorSearcher interface {
	Query(ctx context.Context, q VectorQuery) (VectorResults, error)
}

// QueryEmbedder embeds one query, falling back across providers.
// Satisfied by *embed.Chain.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) (embed.Result, error)
}

// ImageDescriber turns an image reference into text. Satisfied by *llm.Client.
type ImageDescriber interface {
	Describe(ctx context.Context, imageURL string) (string, error)
	Available() bool
}

// EmbeddingVectorSearcher embeds the query and searches a VectorStore.
// Image queries are described by an ImageDescriber and the description is
// embedded with the query text.
type EmbeddingVectorSearcher struct {
	embedder  QueryEmbedder
	store     store.VectorStore
	describer ImageDescriber
	logger    *slog.Logger
}

// VectorSearcherOption configures an EmbeddingVectorSearcher.
type VectorSearcherOption func(*EmbeddingVectorSearcher)

// WithImageDescriber enables image queries.
func WithImageDescriber(d ImageDescriber) VectorSearcherOption {
	return func(s *EmbeddingVectorSearcher) { s.describer = d }
}

// WithVectorLogger sets the logger.
func WithVectorLogger(l *slog.Logger) VectorSearcherOption {
	return func(s *EmbeddingVectorSearcher) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewEmbeddingVectorSearcher creates a vector searcher.
func NewEmbeddingVectorSearcher(embedder QueryEmbedder, vectors store.VectorStore, opts ...VectorSearcherOption) *EmbeddingVectorSearcher {
	s := &EmbeddingVectorSearcher{
		embedder: embedder,
		store:    vectors,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Query implements VectorSearcher. An embedding or store failure is
// returned as an error; the caller decides how to degrade.
func (s *EmbeddingVectorSearcher) Query(ctx context.Context, q VectorQuery) (VectorResults, error) {
	var out VectorResults

	text := strings.TrimSpace(q.Text)
	if q.Image != "" {
		desc, notice := s.describe(ctx, q.Image)
		if notice != nil {
			out.Notices = append(out.Notices, *notice)
		}
		text = strings.TrimSpace(text + " " + desc)
	}
	if text == "" {
		return out, nil
	}

	res, err := s.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return out, err
	}
	out.Provider = res.Provider
	out.FellBack = res.FellBack
	if res.FellBack {
		msg := "embedding served by fallback provider " + res.Provider
		if res.PrimaryErr != nil {
			msg += ": " + res.PrimaryErr.Error()
		}
		out.Notices = append(out.Notices, Notice{Stage: "vector", Code: dserrors.ErrCodeEmbeddingFailed, Message: msg})
	}

	topK := q.TopK
	if topK <= 0 {
		topK = DefaultSearchConfig().DefaultLimit
	}
	hits, err := s.store.Search(ctx, res.Vector, topK, q.FileTypes)
	if err != nil {
		return out, dserrors.New(dserrors.ErrCodeVectorStore, "vector store search failed", err)
	}

	out.Hits = make([]store.ScoredResult, 0, len(hits))
	seen := make(map[string]bool, len(hits))
	for _, h := range hits {
		if h == nil || seen[h.ID] {
			continue
		}
		seen[h.ID] = true
		out.Hits = append(out.Hits, store.ScoredResult{
			FragmentID: h.ID,
			Score:      clamp01(float64(h.Score)),
			Source:     store.SourceVector,
		})
	}
	// VectorStore implementations do not promise an order.
	sort.SliceStable(out.Hits, func(i, j int) bool {
		if out.Hits[i].Score != out.Hits[j].Score {
			return out.Hits[i].Score > out.Hits[j].Score
		}
		return out.Hits[i].FragmentID < out.Hits[j].FragmentID
	})
	store.Rerank(out.Hits)
	return out, nil
}

func (s *EmbeddingVectorSearcher) describe(ctx context.Context, image string) (string, *Notice) {
	if s.describer == nil || !s.describer.Available() {
		return "", &Notice{
			Stage:   "image",
			Code:    dserrors.ErrCodeLLMUnavailable,
			Message: "image description unavailable; searching by text only",
		}
	}
	desc, err := s.describer.Describe(ctx, image)
	if err != nil {
		s.logger.Warn("image_describe_failed", slog.String("error", err.Error()))
		return "", &Notice{
			Stage:   "image",
			Code:    dserrors.GetCode(err),
			Message: fmt.Sprintf("image description failed: %v", err),
		}
	}
	return desc, nil
}

var _ VectorSearcher = (*EmbeddingVectorSearcher)(nil)
