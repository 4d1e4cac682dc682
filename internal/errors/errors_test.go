package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocsearchError_Unwrap_PreservesOriginalError(t *testing.T) {
	// Given: a root cause
	root := stderrors.New("connection refused")

	// When: wrapped
	err := New(ErrCodeServiceUnavailable, "llm down", root)

	// Then: the chain is intact
	assert.ErrorIs(t, err, root)
	assert.Equal(t, "[ERR_202_SERVICE_UNAVAILABLE] llm down", err.Error())
}

func TestDocsearchError_Is_MatchesByCode(t *testing.T) {
	sentinel := New(ErrCodeInvalidParameter, "", nil)
	err := fmt.Errorf("search: %w", InvalidParameter("limit", "limit must be > 0"))

	assert.ErrorIs(t, err, sentinel)
	assert.NotErrorIs(t, err, New(ErrCodeCorpusRead, "", nil))
}

func TestCategoryAndSeverityFromCode(t *testing.T) {
	tests := []struct {
		code      string
		category  Category
		severity  Severity
		retryable bool
	}{
		{ErrCodeInvalidParameter, CategoryConfig, SeverityError, false},
		{ErrCodeServiceTimeout, CategoryService, SeverityWarning, true},
		{ErrCodeLLMUnavailable, CategoryService, SeverityWarning, false},
		{ErrCodeIndexUnavailable, CategoryCorpus, SeverityFatal, false},
		{ErrCodeInternal, CategoryInternal, SeverityError, false},
		{"bad", CategoryInternal, SeverityError, false},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "msg", nil)
			assert.Equal(t, tt.category, err.Category)
			assert.Equal(t, tt.severity, err.Severity)
			assert.Equal(t, tt.retryable, err.Retryable)
		})
	}
}

func TestServiceError_ClassifiesDeadline(t *testing.T) {
	// Given: a deadline error from an embedding call
	err := ServiceError("embedding", fmt.Errorf("post: %w", context.DeadlineExceeded))

	// Then: it is a retryable timeout naming the service
	assert.Equal(t, ErrCodeServiceTimeout, err.Code)
	assert.True(t, IsRetryable(err))
	assert.Equal(t, "embedding", err.Details["service"])
}

func TestInvalidParameter_IsDetected(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", InvalidParameter("alpha", "alpha must be within [0,1]"))

	assert.True(t, IsInvalidParameter(err))
	assert.False(t, IsInvalidParameter(stderrors.New("plain")))
	assert.Equal(t, ErrCodeInvalidParameter, GetCode(err))
	assert.Equal(t, CategoryConfig, GetCategory(err))
}

func TestWrap_NilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(ErrCodeInternal, nil))
}

func TestFormatJSON_IncludesDetails(t *testing.T) {
	err := InvalidParameter("limit", "limit must be > 0").WithSuggestion("pass --limit 10")

	data, jerr := FormatJSON(err)
	require.NoError(t, jerr)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, ErrCodeInvalidParameter, decoded["code"])
	assert.Equal(t, "pass --limit 10", decoded["suggestion"])
	assert.Equal(t, "limit", decoded["details"].(map[string]any)["parameter"])
}

func TestFormatForCLI_StandardError(t *testing.T) {
	out := FormatForCLI(stderrors.New("boom"))

	assert.Contains(t, out, "Error: boom")
	assert.Contains(t, out, ErrCodeInternal)
	assert.Empty(t, FormatForCLI(nil))
}

func TestLogAttrs(t *testing.T) {
	attrs := LogAttrs(ServiceError("llm", stderrors.New("503")))

	assert.Contains(t, attrs, "error_code")
	assert.Contains(t, attrs, ErrCodeServiceUnavailable)
	assert.Contains(t, attrs, "detail_service")
	assert.Equal(t, []any{"error", "x"}, LogAttrs(stderrors.New("x")))
}
