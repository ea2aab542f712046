package status

import (
	"fmt"
	"net/http"
	"strings"
)

// ErrorInfo is the body of an unsuccessful status API response. The contents
// MUST only contain user visible state, never internal details.
type ErrorInfo struct {
	// StatusCode contains the HTTP status code.
	StatusCode int `json:"status_code"`

	// Message contains the error message to return to the user.
	Message string `json:"message"`
}

func NewErrorInfo(statusCode int, message string) *ErrorInfo {
	return &ErrorInfo{
		StatusCode: statusCode,
		Message:    message,
	}
}

func (e *ErrorInfo) Error() string {
	return fmt.Sprintf(
		"%s (%d): %s",
		strings.ToLower(http.StatusText(e.StatusCode)),
		e.StatusCode,
		e.Message,
	)
}
