package caldav

import (
	"errors"
	"fmt"
)

// Error kinds. Use errors.Is on anything returned by the Service.
var (
	ErrNetwork          = errors.New("caldav network error")
	ErrCalendarNotFound = errors.New("calendar not found")
	ErrIssueNotFound    = errors.New("issue not found")
	ErrMalformedTask    = errors.New("malformed task")
)

// HandledErrorPrefix starts every HandledError message.
const HandledErrorPrefix = "Caldav: "

// HandledError is the single failure shape leaving the Service. Notified reports
// whether the user has already been told about the failure through the notifier,
// so the host can tell expected failures from unexpected ones.
type HandledError struct {
	Message  string
	Notified bool
	Err      error
}

// Error implements the error interface.
func (e *HandledError) Error() string {
	return e.Message
}

// Unwrap returns the underlying error for error chain support.
func (e *HandledError) Unwrap() error {
	return e.Err
}

// IsHandled reports whether err is a HandledError whose user notification was sent.
func IsHandled(err error) bool {
	var he *HandledError
	return errors.As(err, &he) && he.Notified
}

// notifiedError marks an error that already produced a user notification.
type notifiedError struct {
	err error
}

func (e *notifiedError) Error() string { return e.err.Error() }
func (e *notifiedError) Unwrap() error { return e.err }

// handle wraps err into the HandledError envelope. A nil err stays nil and an
// existing envelope is returned as is.
func handle(err error) error {
	if err == nil {
		return nil
	}
	var he *HandledError
	if errors.As(err, &he) {
		return he
	}
	var ne *notifiedError
	notified := errors.As(err, &ne)
	return &HandledError{
		Message:  HandledErrorPrefix + err.Error(),
		Notified: notified,
		Err:      err,
	}
}

func networkError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrNetwork, op, err)
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedTask, fmt.Sprintf(format, args...))
}
