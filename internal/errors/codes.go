// Package errors provides structured error handling for docsearch.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration and parameter errors
//   - 2XX: External service errors (embedding, LLM, reranker)
//   - 3XX: Corpus and index errors
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration or request parameter errors.
	CategoryConfig Category = "CONFIG"
	// CategoryService indicates a failing external collaborator.
	CategoryService Category = "SERVICE"
	// CategoryCorpus indicates corpus snapshot or index errors.
	CategoryCorpus Category = "CORPUS"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates the request cannot be answered.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates the operation failed.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates a degraded but answered request.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config and parameter errors (100-199)
	ErrCodeConfigInvalid     = "ERR_101_CONFIG_INVALID"
	ErrCodeConfigNotFound    = "ERR_102_CONFIG_NOT_FOUND"
	ErrCodeInvalidParameter  = "ERR_107_INVALID_PARAMETER"
	ErrCodeUnknownStrategy   = "ERR_108_UNKNOWN_STRATEGY"
	ErrCodeDimensionMismatch = "ERR_109_DIMENSION_MISMATCH"

	// External service errors (200-299)
	ErrCodeServiceTimeout     = "ERR_201_SERVICE_TIMEOUT"
	ErrCodeServiceUnavailable = "ERR_202_SERVICE_UNAVAILABLE"
	ErrCodeEmbeddingFailed    = "ERR_203_EMBEDDING_FAILED"
	ErrCodeMalformedResponse  = "ERR_204_MALFORMED_RESPONSE"
	ErrCodeRateLimited        = "ERR_205_RATE_LIMITED"
	ErrCodeLLMUnavailable     = "ERR_206_LLM_UNAVAILABLE"

	// Corpus errors (300-399)
	ErrCodeCorpusRead       = "ERR_301_CORPUS_READ"
	ErrCodeCorpusCorrupt    = "ERR_302_CORPUS_CORRUPT"
	ErrCodeVectorStore      = "ERR_303_VECTOR_STORE"
	ErrCodeIndexBuild       = "ERR_304_INDEX_BUILD"
	ErrCodeIndexUnavailable = "ERR_305_INDEX_UNAVAILABLE"
	ErrCodeDocumentNotFound = "ERR_306_DOCUMENT_NOT_FOUND"

	// Internal errors (500-599)
	ErrCodeInternal     = "ERR_501_INTERNAL"
	ErrCodeSearchFailed = "ERR_502_SEARCH_FAILED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryService
	case '3':
		return CategoryCorpus
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeIndexUnavailable, ErrCodeCorpusCorrupt:
		return SeverityFatal
	}

	// External services degrade the pipeline instead of failing it
	if categoryFromCode(code) == CategoryService {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeServiceTimeout, ErrCodeServiceUnavailable, ErrCodeEmbeddingFailed,
		ErrCodeMalformedResponse, ErrCodeRateLimited:
		return true
	default:
		return false
	}
}
