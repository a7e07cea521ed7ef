package utils

import (
	"fmt"
	"strings"
)

// ErrorWithSuggestion wraps an error with a user-friendly suggestion.
type ErrorWithSuggestion struct {
	Err        error
	Suggestion string
}

// Error implements the error interface.
func (e *ErrorWithSuggestion) Error() string {
	return fmt.Sprintf("%s\n\nSuggestion: %s", e.Err.Error(), e.Suggestion)
}

// GetSuggestion returns the suggestion text.
func (e *ErrorWithSuggestion) GetSuggestion() string {
	return e.Suggestion
}

// Unwrap returns the underlying error for error chain support.
func (e *ErrorWithSuggestion) Unwrap() error {
	return e.Err
}

// WrapWithSuggestion wraps an existing error with a suggestion.
func WrapWithSuggestion(err error, suggestion string) error {
	return &ErrorWithSuggestion{
		Err:        err,
		Suggestion: suggestion,
	}
}

// ErrTaskNotFound wraps err for a task id that matched nothing on the server.
func ErrTaskNotFound(err error, id string) error {
	return &ErrorWithSuggestion{
		Err:        err,
		Suggestion: fmt.Sprintf("Check the id %q or use 'caldavtasks list' to see open tasks", id),
	}
}

// ErrCalendarNotFound wraps err for a calendar name that matched nothing on the server.
func ErrCalendarNotFound(err error, name string) error {
	return &ErrorWithSuggestion{
		Err:        err,
		Suggestion: fmt.Sprintf("Check calendar_name (%q) against the calendar's display name or the last segment of its URL", name),
	}
}

// ErrServerUnreachable wraps a network failure with a suggestion based on its cause.
func ErrServerUnreachable(err error) error {
	return &ErrorWithSuggestion{
		Err:        err,
		Suggestion: getSmartSuggestion(err.Error()),
	}
}

// getSmartSuggestion returns a context-aware suggestion based on the error reason.
func getSmartSuggestion(reason string) string {
	lowerReason := strings.ToLower(reason)

	if strings.Contains(lowerReason, "no such host") || strings.Contains(lowerReason, "dns") {
		return "Check your DNS settings and internet connection"
	}

	if strings.Contains(lowerReason, "connection refused") {
		return "Check if the server is running and accessible"
	}

	if strings.Contains(lowerReason, "timeout") || strings.Contains(lowerReason, "i/o timeout") {
		return "The server may be slow or unreachable. Try again later"
	}

	if strings.Contains(lowerReason, "401") || strings.Contains(lowerReason, "unauthorized") {
		return "Verify your username and password (an app password may be required)"
	}

	return "Check server_url in your config and your internet connection"
}

// ErrCredentialsNotFound returns an error when no password is available.
func ErrCredentialsNotFound(user string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("credentials not found for user %s", user),
		Suggestion: "Run 'caldavtasks credentials set' or set CALDAVTASKS_PASSWORD",
	}
}

// ErrNotConfigured returns an error when a required config value is missing.
func ErrNotConfigured(key string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("%s is not configured", key),
		Suggestion: fmt.Sprintf("Set %s in your config file", key),
	}
}

// ErrAuthenticationFailed wraps err for a server that rejected the credentials.
func ErrAuthenticationFailed(err error) error {
	return &ErrorWithSuggestion{
		Err:        err,
		Suggestion: "Verify username in your config and run 'caldavtasks credentials set' (an app password may be required)",
	}
}

// IsAuthFailure reports whether err looks like an HTTP 401 from the server.
func IsAuthFailure(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "401") || strings.Contains(msg, "unauthorized")
}
