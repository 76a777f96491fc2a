// Package tor builds the two network sessions torcheck compares: a direct
// HTTP client and an HTTP client that egresses through a Tor SOCKS5 proxy.
//
// Hostnames are resolved by the proxy rather than locally, so the proxied
// session does not leak DNS lookups. The package can also verify that a
// configured address really speaks SOCKS5, and can launch an embedded Tor
// daemon via tornago when no system Tor is available.
package tor
