package provider

import (
	"errors"
	"fmt"
)

// ErrNotConfigured means credentials are missing. Expected and silent: no
// network call was made and nothing should be shown to the user unless a
// login was explicitly forced.
var ErrNotConfigured = errors.New("credentials not configured")

// ErrAborted means the user or system cancelled. Propagates as an empty
// result, never logged as an error.
var ErrAborted = errors.New("aborted")

// AuthError is a provider rejection (bad credentials, device limit, no
// stream entitlement). Message is user-visible copy.
type AuthError struct {
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth: %s: %v", e.Message, e.Err)
	}
	return "auth: " + e.Message
}

func (e *AuthError) Unwrap() error { return e.Err }

// ShapeError marks a response missing expected fields or carrying an
// unexpected status. Triggers one retry-with-relogin; after that callers
// receive it as the sentinel failure.
type ShapeError struct {
	URL     string
	Status  int
	Missing string
}

func (e *ShapeError) Error() string {
	if e.Missing != "" {
		return fmt.Sprintf("upstream shape: %s: missing %s (status %d)", e.URL, e.Missing, e.Status)
	}
	return fmt.Sprintf("upstream shape: %s: status %d", e.URL, e.Status)
}
