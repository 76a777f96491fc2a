// Package cache provides a small keyed cache with per-entry expiry.
//
// Entries are evicted lazily: an expired entry stays in memory until the
// next Get for its key, which removes it and reports the caller's default.
// There is no capacity bound and no background sweep. The cache is not
// safe for concurrent mutation; the owner must serialize access.
package cache
