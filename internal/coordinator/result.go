package coordinator

import (
	"slices"
	"time"
)

// Result is the merged outcome of one refresh.
// An empty address means the value is not known.
type Result struct {
	ExitIdentifiers  []string  `json:"exit_identifiers"`
	OverlayAddress   string    `json:"overlay_address,omitempty"`
	RealAddress      string    `json:"real_address,omitempty"`
	RoutedViaOverlay bool      `json:"is_routed_via_overlay"`
	RefreshedAt      time.Time `json:"refreshed_at"`
}

// Equal reports whether r and other carry the same data.
// RefreshedAt is ignored.
func (r Result) Equal(other Result) bool {
	return slices.Equal(r.ExitIdentifiers, other.ExitIdentifiers) &&
		r.OverlayAddress == other.OverlayAddress &&
		r.RealAddress == other.RealAddress &&
		r.RoutedViaOverlay == other.RoutedViaOverlay
}

// Clone returns a copy that shares no memory with r.
func (r Result) Clone() Result {
	r.ExitIdentifiers = slices.Clone(r.ExitIdentifiers)
	if r.ExitIdentifiers == nil {
		r.ExitIdentifiers = []string{}
	}
	return r
}

// isRoutedViaOverlay reports whether addr is a known exit.
// An unknown address is never routed.
func isRoutedViaOverlay(addr string, exits []string) bool {
	if addr == "" {
		return false
	}
	return slices.Contains(exits, addr)
}
