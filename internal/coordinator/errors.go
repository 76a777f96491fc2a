package coordinator

import "errors"

// Failure signals returned by Refresh. The classified *source.Error is
// wrapped alongside, so errors.As still recovers the kind and cause.
var (
	// ErrAuthFailed means an endpoint rejected the request with 401/403.
	// It does not clear on its own; the configuration has to change.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrUpdateFailed means the refresh failed for a reason that may clear
	// on the next scheduled attempt.
	ErrUpdateFailed = errors.New("update failed")

	// ErrClosed is returned by Refresh after Close.
	ErrClosed = errors.New("coordinator is closed")
)
