// Package search turns a parsed query into a ranked, highlighted result list.
//
// Lexical BM25 scores and vector similarities are blended by Combine, query
// variants are fused with Reciprocal Rank Fusion, and an optional reranker
// reorders the candidates before Annotate builds snippets. The Orchestrator
// dispatches to one Strategy per request and never fails on a degraded
// stage: notices in the response Meta say what was skipped.
package search

import (
	"strings"
	"time"

	"github.com/Aman-CERP/docsearch/internal/store"
)

// Strategy names.
const (
	StrategyKeyword    = "keyword"
	StrategyVector     = "vector"
	StrategyHybrid     = "hybrid"
	StrategySmart      = "smart"
	StrategyMultimodal = "multimodal"
)

// Expansion methods.
const (
	ExpansionModel = "model"
	ExpansionRule  = "rule"
)

// Rerank methods reported in Meta.
const (
	RerankNone  = "none"
	RerankLocal = "local"
	RerankModel = "model"
	RerankHTTP  = "http"
)

// Request is one search call.
type Request struct {
	Query    string   `json:"query"`
	Strategy string   `json:"strategy"`
	Limit    int      `json:"limit"`
	Alpha    *float64 `json:"alpha,omitempty"`

	// UseRerank enables the configured reranker for vector and hybrid.
	UseRerank bool     `json:"use_rerank"`
	FileTypes []string `json:"file_types,omitempty"`

	// Image is an image URL or data URI for the multimodal strategy.
	Image string `json:"image,omitempty"`

	ExpansionMethod   string `json:"expansion_method,omitempty"`
	UseQueryExpansion *bool  `json:"use_query_expansion,omitempty"`
	UseLLMRerank      *bool  `json:"use_llm_rerank,omitempty"`
}

// Highlight is a match inside a snippet. Offsets are in runes.
type Highlight struct {
	Keyword string `json:"keyword"`
	Start   int    `json:"start"`
	End     int    `json:"end"`
}

// ResultItem is one ranked fragment.
type ResultItem struct {
	store.Fragment

	// Similarity is in [0,1].
	Similarity     float64     `json:"similarity"`
	Rank           int         `json:"rank"`
	ContentSnippet string      `json:"content_snippet"`
	Highlights     []Highlight `json:"highlights"`
	MatchedTerms   []string    `json:"matched_terms,omitempty"`

	// QueryHits is the number of query variants that retrieved the fragment
	// (smart strategy only).
	QueryHits int `json:"query_hits,omitempty"`
}

// Notice reports a degraded stage. It never fails the request.
type Notice struct {
	Stage   string `json:"stage"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// Meta describes how a response was produced.
type Meta struct {
	Strategy        string   `json:"strategy"`
	Query           string   `json:"query"`
	ExpandedQueries []string `json:"expanded_queries"`
	MatchedKeywords []string `json:"matched_keywords"`
	TimingMS        int64    `json:"timing_ms"`
	Notices         []Notice `json:"notices,omitempty"`
	ExpansionMethod string   `json:"expansion_method,omitempty"`
	RerankMethod    string   `json:"rerank_method"`
	TotalCandidates int      `json:"total_candidates"`
	Alpha           *float64 `json:"alpha,omitempty"`
}

// Response is the search envelope.
type Response struct {
	Results []ResultItem `json:"results"`
	Meta    Meta         `json:"meta"`
}

// StrategyInfo describes a registered strategy.
type StrategyInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Config tunes the orchestrator.
type Config struct {
	DefaultLimit int     `yaml:"default_limit"`
	MaxLimit     int     `yaml:"max_limit"`
	DefaultAlpha float64 `yaml:"alpha"`
	RRFConstant  int     `yaml:"rrf_constant"`

	RequestTimeout time.Duration `yaml:"request_timeout"`
	TaskTimeout    time.Duration `yaml:"task_timeout"`

	// SnippetRunes is the highlight window length.
	SnippetRunes int `yaml:"snippet_length"`

	// MaxVariants caps expanded queries, original included.
	MaxVariants int `yaml:"max_variants"`
	Parallelism int `yaml:"parallelism"`

	// VectorMultiplier scales topK for vector queries so filters that run
	// after retrieval still leave enough candidates.
	VectorMultiplier int `yaml:"vector_multiplier"`

	// DocumentPreviewRunes truncates DocumentFragments content.
	DocumentPreviewRunes int `yaml:"document_preview_runes"`
}

// DefaultSearchConfig returns the default orchestrator settings.
func DefaultSearchConfig() Config {
	return Config{
		DefaultLimit:         10,
		MaxLimit:             100,
		DefaultAlpha:         0.5,
		RRFConstant:          DefaultRRFConstant,
		RequestTimeout:       30 * time.Second,
		TaskTimeout:          10 * time.Second,
		SnippetRunes:         DefaultSnippetRunes,
		MaxVariants:          6,
		Parallelism:          4,
		VectorMultiplier:     3,
		DocumentPreviewRunes: 500,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultSearchConfig()
	if c.DefaultLimit <= 0 {
		c.DefaultLimit = d.DefaultLimit
	}
	if c.MaxLimit <= 0 {
		c.MaxLimit = d.MaxLimit
	}
	if c.DefaultAlpha < 0 || c.DefaultAlpha > 1 {
		c.DefaultAlpha = d.DefaultAlpha
	}
	if c.RRFConstant <= 0 {
		c.RRFConstant = d.RRFConstant
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = d.TaskTimeout
	}
	if c.SnippetRunes <= 0 {
		c.SnippetRunes = d.SnippetRunes
	}
	if c.MaxVariants <= 0 {
		c.MaxVariants = d.MaxVariants
	}
	if c.Parallelism <= 0 {
		c.Parallelism = d.Parallelism
	}
	if c.VectorMultiplier <= 0 {
		c.VectorMultiplier = d.VectorMultiplier
	}
	if c.DocumentPreviewRunes <= 0 {
		c.DocumentPreviewRunes = d.DocumentPreviewRunes
	}
	return c
}

// Stats summarises the corpus and index.
type Stats struct {
	TotalFragments int              `json:"total_fragments"`
	TotalDocuments int              `json:"total_documents"`
	FileTypes      map[string]int   `json:"file_types"`
	Index          store.IndexStats `json:"index"`
	IndexBuilds    int64            `json:"index_builds"`
	VectorBackend  string           `json:"vector_backend,omitempty"`
}

// DocumentFragment is one fragment of a document, content truncated.
type DocumentFragment struct {
	ID         string `json:"id"`
	ChunkIndex int    `json:"chunk_index"`
	Content    string `json:"content"`
	Truncated  bool   `json:"truncated"`
}

// Document lists a document's fragments in chunk order.
type Document struct {
	DocumentID string             `json:"document_id"`
	Filename   string             `json:"filename"`
	FileType   string             `json:"file_type"`
	Fragments  []DocumentFragment `json:"fragments"`
}

// ExpansionPreview is the result of PreviewExpansion.
type ExpansionPreview struct {
	Original     string   `json:"original_query"`
	Expanded     []string `json:"expanded_queries"`
	Method       string   `json:"method"`
	LLMAvailable bool     `json:"llm_available"`
	Notice       string   `json:"notice,omitempty"`
}

// BatchResult is one query's outcome in BatchSearch.
type BatchResult struct {
	Query   string       `json:"query"`
	Results []ResultItem `json:"results"`
	Error   string       `json:"error,omitempty"`
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

// CanonicalExpansionMethod maps the aliases "llm" and "keyword" onto
// ExpansionModel and ExpansionRule. Other values are returned lowercased.
func CanonicalExpansionMethod(method string) string {
	switch m := strings.ToLower(strings.TrimSpace(method)); m {
	case "llm":
		return ExpansionModel
	case "keyword":
		return ExpansionRule
	default:
		return m
	}
}
