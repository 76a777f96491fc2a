package scheduler

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nao1215/torcheck/internal/coordinator"
)

// State is the availability of the check after a refresh.
type State int

const (
	// StateAvailable means the last refresh succeeded.
	StateAvailable State = iota

	// StateUnavailable means the last refresh failed with a transient error.
	// It clears on the next successful refresh.
	StateUnavailable

	// StateReauthRequired means an endpoint rejected our requests. It does
	// not clear until the configuration changes.
	StateReauthRequired
)

// String returns the state name used in logs, reports and the API.
func (s State) String() string {
	switch s {
	case StateAvailable:
		return "available"
	case StateUnavailable:
		return "unavailable"
	case StateReauthRequired:
		return "reauth_required"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ErrUnknownState is returned by ParseState.
var ErrUnknownState = errors.New("unknown state")

// ParseState is the inverse of State.String.
func ParseState(s string) (State, error) {
	switch s {
	case "available":
		return StateAvailable, nil
	case "unavailable":
		return StateUnavailable, nil
	case "reauth_required":
		return StateReauthRequired, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownState, s)
	}
}

// stateFor maps a refresh error onto a State.
func stateFor(err error) State {
	switch {
	case err == nil:
		return StateAvailable
	case errors.Is(err, coordinator.ErrAuthFailed):
		return StateReauthRequired
	default:
		return StateUnavailable
	}
}

// Status is the published outcome of one refresh.
//
// On failure Result still holds the last successful result, so readers keep
// seeing known addresses while a source is down.
type Status struct {
	RunID     uuid.UUID          `json:"run_id"`
	State     State              `json:"state"`
	Result    coordinator.Result `json:"result"`
	Err       error              `json:"-"`
	Message   string             `json:"error,omitempty"`
	CheckedAt time.Time          `json:"checked_at"`
	Duration  time.Duration      `json:"duration_ns"`
}

// IsZero reports whether s was never published.
func (s Status) IsZero() bool {
	return s.RunID == uuid.Nil
}

// OK reports whether the refresh succeeded.
func (s Status) OK() bool {
	return s.State == StateAvailable && s.Err == nil
}
