package mcp

import (
	"github.com/Aman-CERP/docsearch/internal/search"
)

// SearchInput defines the input schema for the search tool.
type SearchInput struct {
	Query           string   `json:"query" jsonschema:"the search query; supports \"phrases\", -exclusions, filetype:pdf and date:2024-01-01..2024-12-31"`
	Strategy        string   `json:"strategy,omitempty" jsonschema:"keyword, vector, hybrid, smart or multimodal; default hybrid"`
	Limit           int      `json:"limit,omitempty" jsonschema:"maximum number of results, default 10"`
	Alpha           *float64 `json:"alpha,omitempty" jsonschema:"vector weight for hybrid fusion in [0,1]"`
	UseRerank       bool     `json:"use_rerank,omitempty" jsonschema:"rerank candidates before returning"`
	FileTypes       []string `json:"file_types,omitempty" jsonschema:"restrict to these file types, e.g. pdf, docx"`
	ExpansionMethod string   `json:"expansion_method,omitempty" jsonschema:"smart strategy expansion: model or rule"`
	Image           string   `json:"image,omitempty" jsonschema:"image reference for the multimodal strategy"`
}

// SearchOutput defines the output schema for the search tool.
type SearchOutput struct {
	Results         []SearchResultOutput `json:"results" jsonschema:"ranked fragments"`
	Strategy        string               `json:"strategy"`
	ExpandedQueries []string             `json:"expanded_queries"`
	RerankMethod    string               `json:"rerank_method"`
	TotalCandidates int                  `json:"total_candidates"`
	TimingMS        int64                `json:"timing_ms"`
	Notices         []string             `json:"notices" jsonschema:"degraded stages, e.g. vector search unavailable"`
}

// SearchResultOutput is one ranked fragment.
type SearchResultOutput struct {
	FragmentID   string   `json:"fragment_id"`
	DocumentID   string   `json:"document_id"`
	Filename     string   `json:"filename"`
	FileType     string   `json:"file_type"`
	ChunkIndex   int      `json:"chunk_index"`
	Rank         int      `json:"rank"`
	Similarity   float64  `json:"similarity" jsonschema:"relevance between 0 and 1"`
	Snippet      string   `json:"snippet"`
	MatchedTerms []string `json:"matched_terms"`
}

// BatchSearchInput defines the input schema for the batch_search tool.
type BatchSearchInput struct {
	Queries []string `json:"queries" jsonschema:"queries to run with the hybrid strategy"`
	Limit   int      `json:"limit,omitempty" jsonschema:"results per query, default 5"`
}

// BatchSearchOutput defines the output schema for the batch_search tool.
type BatchSearchOutput struct {
	Batches []BatchOutput `json:"batches"`
}

// BatchOutput is the outcome of one batch query.
type BatchOutput struct {
	Query   string               `json:"query"`
	Results []SearchResultOutput `json:"results"`
	Error   string               `json:"error,omitempty"`
}

// ListStrategiesInput takes no parameters.
type ListStrategiesInput struct{}

// ListStrategiesOutput lists the registered strategies.
type ListStrategiesOutput struct {
	Strategies []search.StrategyInfo `json:"strategies"`
}

// PreviewExpansionInput defines the input schema for the preview_expansion tool.
type PreviewExpansionInput struct {
	Query  string `json:"query" jsonschema:"query to expand"`
	Method string `json:"method,omitempty" jsonschema:"model or rule; default model"`
}

// LLMStatusInput takes no parameters.
type LLMStatusInput struct{}

// LLMStatusOutput reports the language model.
type LLMStatusOutput struct {
	Available     bool   `json:"llm_available"`
	APIConfigured bool   `json:"api_configured"`
	BaseURL       string `json:"base_url"`
	Model         string `json:"model"`
	Circuit       string `json:"circuit"`
}

// CorpusStatsInput takes no parameters.
type CorpusStatsInput struct{}

// CorpusStatsOutput summarises the corpus and its index.
type CorpusStatsOutput struct {
	TotalFragments int            `json:"total_fragments"`
	TotalDocuments int            `json:"total_documents"`
	FileTypes      map[string]int `json:"file_types"`
	TermCount      int            `json:"term_count"`
	AvgDocLength   float64        `json:"avg_doc_length"`
	IndexBuilds    int64          `json:"index_builds"`
	VectorBackend  string         `json:"vector_backend"`
}

// GetDocumentInput defines the input schema for the get_document tool.
type GetDocumentInput struct {
	DocumentID string `json:"document_id" jsonschema:"document to list fragments for"`
}
