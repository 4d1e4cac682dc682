package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// asDocsearchError returns err as a DocsearchError, wrapping foreign errors as internal.
func asDocsearchError(err error) *DocsearchError {
	var de *DocsearchError
	if errors.As(err, &de) {
		return de
	}
	return Wrap(ErrCodeInternal, err)
}

// FormatForCLI formats an error for terminal output.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}
	de := asDocsearchError(err)

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Error: %s\n", de.Message))
	if param, ok := de.Details["parameter"]; ok {
		sb.WriteString(fmt.Sprintf("  Parameter: %s\n", param))
	}
	if de.Suggestion != "" {
		sb.WriteString(fmt.Sprintf("  Hint: %s\n", de.Suggestion))
	}
	sb.WriteString(fmt.Sprintf("  Code: %s\n", de.Code))
	return sb.String()
}

// jsonError is the JSON representation of an error.
type jsonError struct {
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Category   string            `json:"category"`
	Severity   string            `json:"severity"`
	Details    map[string]string `json:"details,omitempty"`
	Suggestion string            `json:"suggestion,omitempty"`
	Cause      string            `json:"cause,omitempty"`
	Retryable  bool              `json:"retryable"`
}

// FormatJSON returns a JSON representation of the error for API responses.
func FormatJSON(err error) ([]byte, error) {
	if err == nil {
		return json.Marshal(nil)
	}
	de := asDocsearchError(err)

	je := jsonError{
		Code:       de.Code,
		Message:    de.Message,
		Category:   string(de.Category),
		Severity:   string(de.Severity),
		Details:    de.Details,
		Suggestion: de.Suggestion,
		Retryable:  de.Retryable,
	}
	if de.Cause != nil {
		je.Cause = de.Cause.Error()
	}
	return json.Marshal(je)
}

// LogAttrs returns key-value pairs suitable for slog.Logger.With or slog.Group.
func LogAttrs(err error) []any {
	if err == nil {
		return nil
	}
	var de *DocsearchError
	if !errors.As(err, &de) {
		return []any{"error", err.Error()}
	}

	attrs := []any{
		"error_code", de.Code,
		"error", de.Message,
		"category", string(de.Category),
		"retryable", de.Retryable,
	}
	if de.Cause != nil {
		attrs = append(attrs, "cause", de.Cause.Error())
	}
	for k, v := range de.Details {
		attrs = append(attrs, "detail_"+k, v)
	}
	return attrs
}
