package utils

import (
	"errors"
	"strings"
	"testing"
)

// =============================================================================
// Error Tests
// =============================================================================

// TestErrorWithSuggestionImplementsError verifies interface compliance
func TestErrorWithSuggestionImplementsError(t *testing.T) {
	var _ error = &ErrorWithSuggestion{}
}

// TestErrorWithSuggestionError verifies Error() method output
func TestErrorWithSuggestionError(t *testing.T) {
	err := &ErrorWithSuggestion{
		Err:        errors.New("something went wrong"),
		Suggestion: "Try doing X",
	}

	errStr := err.Error()
	if !strings.Contains(errStr, "something went wrong") {
		t.Errorf("Error() should contain error message, got: %s", errStr)
	}
	if !strings.Contains(errStr, "Suggestion: Try doing X") {
		t.Errorf("Error() should contain suggestion text, got: %s", errStr)
	}
}

// TestErrorWithSuggestionUnwrap verifies Unwrap() for error chain
func TestErrorWithSuggestionUnwrap(t *testing.T) {
	underlying := errors.New("underlying error")
	err := WrapWithSuggestion(underlying, "suggestion")

	if !errors.Is(err, underlying) {
		t.Error("errors.Is should reach the underlying error")
	}
}

// TestErrTaskNotFound verifies the suggestion points at the list command
func TestErrTaskNotFound(t *testing.T) {
	base := errors.New("issue not found: 42")
	err := ErrTaskNotFound(base, "42")

	var ews *ErrorWithSuggestion
	if !errors.As(err, &ews) {
		t.Fatal("Should return *ErrorWithSuggestion")
	}
	if !strings.Contains(ews.GetSuggestion(), "caldavtasks list") {
		t.Errorf("suggestion should mention 'caldavtasks list', got: %s", ews.GetSuggestion())
	}
	if !errors.Is(err, base) {
		t.Error("ErrTaskNotFound should wrap the original error")
	}
}

// TestErrCalendarNotFound verifies the suggestion names the configured calendar
func TestErrCalendarNotFound(t *testing.T) {
	err := ErrCalendarNotFound(errors.New("calendar not found: Work"), "Work")

	if !strings.Contains(err.Error(), `"Work"`) {
		t.Errorf("expected calendar name in suggestion, got: %s", err.Error())
	}
}

// TestErrServerUnreachableSuggestions verifies smart suggestions per failure cause
func TestErrServerUnreachableSuggestions(t *testing.T) {
	tests := []struct {
		reason string
		want   string
	}{
		{"dial tcp: lookup dav.example.com: no such host", "dns"},
		{"dial tcp 127.0.0.1:443: connect: connection refused", "running"},
		{"read tcp: i/o timeout", "try again"},
		{"HTTP 401 Unauthorized", "password"},
		{"unknown error xyz", "server_url"},
	}

	for _, tt := range tests {
		t.Run(tt.reason, func(t *testing.T) {
			err := ErrServerUnreachable(errors.New(tt.reason))

			var ews *ErrorWithSuggestion
			if !errors.As(err, &ews) {
				t.Fatal("Should return *ErrorWithSuggestion")
			}
			if !strings.Contains(strings.ToLower(ews.GetSuggestion()), tt.want) {
				t.Errorf("suggestion for %q should mention %q, got: %s", tt.reason, tt.want, ews.GetSuggestion())
			}
		})
	}
}

// TestErrCredentialsNotFound verifies credentials error mentions user and setup
func TestErrCredentialsNotFound(t *testing.T) {
	err := ErrCredentialsNotFound("alice")

	errStr := err.Error()
	if !strings.Contains(errStr, "alice") {
		t.Errorf("Error should contain username, got: %s", errStr)
	}
	if !strings.Contains(errStr, "CALDAVTASKS_PASSWORD") {
		t.Errorf("Suggestion should mention the environment variable, got: %s", errStr)
	}
}

// TestErrNotConfigured verifies the missing key is named
func TestErrNotConfigured(t *testing.T) {
	err := ErrNotConfigured("server_url")
	if !strings.Contains(err.Error(), "server_url is not configured") {
		t.Errorf("unexpected error: %s", err.Error())
	}
}

func TestErrAuthenticationFailed(t *testing.T) {
	base := errors.New("401 Unauthorized")
	err := ErrAuthenticationFailed(base)

	if !errors.Is(err, base) {
		t.Error("expected wrapped error to match")
	}
	if !strings.Contains(err.Error(), "credentials set") {
		t.Errorf("expected credentials suggestion, got %q", err.Error())
	}
}

func TestIsAuthFailure(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("caldav network error: connect: 401 Unauthorized"), true},
		{errors.New("HTTP unauthorized"), true},
		{errors.New("dial tcp: connection refused"), false},
	}
	for _, tt := range tests {
		if got := IsAuthFailure(tt.err); got != tt.want {
			t.Errorf("IsAuthFailure(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
