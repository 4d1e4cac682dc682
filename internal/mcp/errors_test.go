package mcp

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dserrors "github.com/Aman-CERP/docsearch/internal/errors"
)

func TestMapError_NilError(t *testing.T) {
	assert.Nil(t, MapError(nil))
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantMsg  string
	}{
		{"deadline", context.DeadlineExceeded, ErrCodeTimeout, "timed out"},
		{"canceled", fmt.Errorf("search: %w", context.Canceled), ErrCodeTimeout, "canceled"},
		{"invalid parameter", dserrors.InvalidParameter("limit", "limit must be > 0"), ErrCodeInvalidParams, "limit must be > 0"},
		{"unknown strategy", dserrors.New(dserrors.ErrCodeUnknownStrategy, "unknown strategy \"x\"", nil), ErrCodeInvalidParams, "unknown strategy"},
		{"document not found", dserrors.New(dserrors.ErrCodeDocumentNotFound, "document d9 not found", nil), ErrCodeDocumentNotFound, "d9"},
		{"corpus read", dserrors.CorpusError("read failed", nil), ErrCodeIndexUnavailable, "read failed"},
		{"service", dserrors.ServiceError("llm", errors.New("503")), ErrCodeServiceFailed, "llm failed"},
		{"service timeout", dserrors.ServiceError("embed", context.DeadlineExceeded), ErrCodeTimeout, "timed out"},
		{"internal", dserrors.InternalError("boom", nil), ErrCodeInternalError, "boom"},
		{"foreign", errors.New("disk on fire"), ErrCodeInternalError, "Internal server error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.err)

			require.NotNil(t, got)
			assert.Equal(t, tt.wantCode, got.Code)
			assert.Contains(t, got.Message, tt.wantMsg)
		})
	}
}

func TestMapError_SuggestionAppended(t *testing.T) {
	// Given: an error carrying a suggestion
	err := dserrors.New(dserrors.ErrCodeIndexUnavailable, "corpus is empty", nil).
		WithSuggestion("Load fragments first.")

	// When: mapping it
	got := MapError(err)

	// Then: the suggestion follows the message
	assert.Equal(t, "corpus is empty Load fragments first.", got.Message)
}

func TestMapError_PassesThroughMCPError(t *testing.T) {
	orig := NewInvalidParamsError("query is required")

	got := MapError(fmt.Errorf("wrapped: %w", orig))

	assert.Same(t, orig, got)
	assert.Equal(t, "MCP error -32602: query is required", got.Error())
}
