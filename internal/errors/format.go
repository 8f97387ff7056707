package errors

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FormatForCLI formats an error for CLI output, a concise form suitable
// for terminal display.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}

	re, ok := err.(*RecallError)
	if !ok {
		re = Internal(err.Error(), err)
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Error: %s\n", re.Message))
	sb.WriteString(fmt.Sprintf("  Code: %s\n", re.Code))
	return sb.String()
}

// boundaryError is the JSON representation of an error crossing the Core
// API boundary (§6): a stable short code, a human-readable message, and
// no stack trace.
type boundaryError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// FormatBoundary returns the {code, message} envelope the Core API
// returns across the boundary (§6), using the stable Kind rather than the
// richer internal Code.
func FormatBoundary(err error) ([]byte, error) {
	if err == nil {
		return json.Marshal(nil)
	}

	re, ok := err.(*RecallError)
	if !ok {
		re = Internal(err.Error(), err)
	}

	return json.Marshal(boundaryError{
		Code:    string(re.Kind),
		Message: re.Message,
	})
}

// MapToBoundaryCode extracts the {code, message} pair callers across the
// Core API boundary should see: internal Category/Severity/numeric-range
// detail stays behind the boundary, only the stable Kind and message
// cross it.
func MapToBoundaryCode(err error) (code string, message string) {
	if err == nil {
		return "", ""
	}
	re, ok := err.(*RecallError)
	if !ok {
		re = Internal(err.Error(), err)
	}
	return string(re.Kind), re.Message
}

// FormatForLog formats an error for structured slog attributes.
func FormatForLog(err error) map[string]any {
	if err == nil {
		return nil
	}

	re, ok := err.(*RecallError)
	if !ok {
		return map[string]any{
			"error": err.Error(),
		}
	}

	result := map[string]any{
		"error_code": re.Code,
		"kind":       string(re.Kind),
		"message":    re.Message,
		"category":   string(re.Category),
		"severity":   string(re.Severity),
		"retryable":  re.Retryable,
	}

	if re.Cause != nil {
		result["cause"] = re.Cause.Error()
	}

	for k, v := range re.Details {
		result["detail_"+k] = v
	}

	return result
}
