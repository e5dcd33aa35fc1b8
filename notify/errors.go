package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrUnauthorized is matched by send errors caused by invalid sink
// credentials. The monitor treats it as fatal.
var ErrUnauthorized = errors.New("sink credentials rejected")

// SendError describes a failed delivery attempt
type SendError struct {
	Permanent   bool
	Status      int
	Description string
	Err         error
}

func (e *SendError) Error() string {
	kind := "transient"
	if e.Permanent {
		kind = "permanent"
	}
	switch {
	case e.Status != 0:
		return fmt.Sprintf("%s send error: status %d: %s", kind, e.Status, e.Description)
	case e.Err != nil:
		return fmt.Sprintf("%s send error: %v", kind, e.Err)
	default:
		return fmt.Sprintf("%s send error: %s", kind, e.Description)
	}
}

func (e *SendError) Unwrap() error {
	return e.Err
}

func (e *SendError) Is(target error) bool {
	return target == ErrUnauthorized && (e.Status == http.StatusUnauthorized || e.Status == http.StatusNotFound)
}

// statusError classifies an HTTP status from the sink
func statusError(status int, description string) *SendError {
	return &SendError{
		Permanent:   status != http.StatusTooManyRequests && status < 500,
		Status:      status,
		Description: description,
	}
}

// IsTransient reports whether err is worth retrying. Errors that are not a
// SendError are assumed to be network failures.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *SendError
	if errors.As(err, &se) {
		return !se.Permanent
	}
	return true
}
