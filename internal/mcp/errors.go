// Package mcp serves the search orchestrator as Model Context Protocol tools.
package mcp

import (
	"context"
	"errors"
	"fmt"

	dserrors "github.com/Aman-CERP/docsearch/internal/errors"
)

// MCP error codes. The -320xx range is reserved for server-defined errors.
const (
	ErrCodeIndexUnavailable = -32001
	ErrCodeServiceFailed    = -32002
	ErrCodeTimeout          = -32003
	ErrCodeDocumentNotFound = -32004

	// Standard JSON-RPC error codes.
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// MCPError is a protocol error with code and message.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// MapError converts internal errors to MCP errors.
func MapError(err error) *MCPError {
	if err == nil {
		return nil
	}

	var mcpErr *MCPError
	if errors.As(err, &mcpErr) {
		return mcpErr
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request timed out."}
	case errors.Is(err, context.Canceled):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request was canceled."}
	}

	var de *dserrors.DocsearchError
	if errors.As(err, &de) {
		return mapDocsearchError(de)
	}
	return &MCPError{Code: ErrCodeInternalError, Message: "Internal server error."}
}

// NewInvalidParamsError creates an error for invalid parameters with a custom message.
func NewInvalidParamsError(msg string) *MCPError {
	return &MCPError{Code: ErrCodeInvalidParams, Message: msg}
}

func mapDocsearchError(de *dserrors.DocsearchError) *MCPError {
	message := de.Message
	if de.Suggestion != "" {
		message = fmt.Sprintf("%s %s", de.Message, de.Suggestion)
	}

	switch de.Code {
	case dserrors.ErrCodeInvalidParameter, dserrors.ErrCodeUnknownStrategy:
		return &MCPError{Code: ErrCodeInvalidParams, Message: message}
	case dserrors.ErrCodeDocumentNotFound:
		return &MCPError{Code: ErrCodeDocumentNotFound, Message: message}
	case dserrors.ErrCodeIndexUnavailable, dserrors.ErrCodeIndexBuild, dserrors.ErrCodeCorpusRead, dserrors.ErrCodeCorpusCorrupt:
		return &MCPError{Code: ErrCodeIndexUnavailable, Message: message}
	case dserrors.ErrCodeServiceTimeout:
		return &MCPError{Code: ErrCodeTimeout, Message: message}
	}

	switch de.Category {
	case dserrors.CategoryConfig:
		return &MCPError{Code: ErrCodeInvalidParams, Message: message}
	case dserrors.CategoryService:
		return &MCPError{Code: ErrCodeServiceFailed, Message: message}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: message}
	}
}
