// Package source fetches the raw remote data torcheck works with.
//
// A fetch is a single HTTP GET over a caller-supplied session (the direct
// client or the Tor-proxied client) bounded by a fixed timeout. Failures are
// normalized into three kinds so callers can decide which ones to recover
// from: communication problems, authentication rejections, and everything
// else.
package source
