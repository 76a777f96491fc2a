// Package coordinator implements the refresh cycle that decides whether
// traffic leaves through Tor.
//
// Each refresh reads three cached values (the Tor bulk exit list, the
// address seen through the Tor session, and the address seen directly),
// fetches whichever are missing, and derives the routed-via-Tor flag from
// whatever ended up populated. Communication failures are tolerated so a
// flaky source does not blank out known values. Authentication and
// unclassified failures abort the refresh and are reported through
// ErrAuthFailed and ErrUpdateFailed.
//
// A Coordinator takes no locks around its cache. Callers must not run two
// refreshes at once; the scheduler package provides that guarantee.
package coordinator
