// Package main provides the entry point for the torcheck CLI.
//
// torcheck reports whether this host's traffic leaves through the Tor
// network. It compares the address seen over a direct connection with the
// address seen through the Tor SOCKS proxy and looks the latter up in the
// Tor Project's exit list.
//
// Usage:
//
//	torcheck check
//	torcheck serve --listen 127.0.0.1:8080
//	torcheck history --limit 10
//
// See --help for all available options.
package main

// main is the entry point for torcheck.
func main() {
	Execute()
}
