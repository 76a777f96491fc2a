package source

import (
	"errors"
	"fmt"
)

// Kind classifies a fetch failure.
type Kind int

const (
	// KindUnknown is any failure that is not classified below.
	// The original cause is preserved for diagnostics.
	KindUnknown Kind = iota

	// KindCommunication covers transport problems: timeouts, proxy and DNS
	// failures, client errors, and non-2xx statuses other than 401/403.
	KindCommunication

	// KindAuthentication is a 401 or 403 response.
	KindAuthentication
)

// String returns the kind name used in logs and metrics labels.
func (k Kind) String() string {
	switch k {
	case KindCommunication:
		return "communication"
	case KindAuthentication:
		return "authentication"
	default:
		return "unknown"
	}
}

// Error is a classified fetch failure.
type Error struct {
	// Kind is the failure class.
	Kind Kind

	// URL is the endpoint that was being fetched.
	URL string

	// StatusCode is the HTTP status when the failure came from a response.
	StatusCode int

	// Err is the underlying cause. It may be nil for status failures.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s error fetching %s", e.Kind, e.URL)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(": status %d", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the classification of err.
// Errors that are not (and do not wrap) an *Error are KindUnknown.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// IsCommunication reports whether err is a communication failure.
func IsCommunication(err error) bool {
	return err != nil && KindOf(err) == KindCommunication
}

// IsAuthentication reports whether err is an authentication failure.
func IsAuthentication(err error) bool {
	return err != nil && KindOf(err) == KindAuthentication
}
