// Package scheduler drives a coordinator on a fixed interval and publishes
// the outcome of every refresh as an immutable Status.
//
// The scheduler is the only caller of Refresh. Scheduled and on-demand
// refreshes share one mutex, so at most one refresh is in flight. Readers
// such as the HTTP API only ever see published Status values.
package scheduler
