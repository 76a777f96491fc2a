// Package database provides SQLite-based storage for torcheck.
//
// HistoryDB is an append-only audit log with one row per published refresh.
// It is never read back into the coordinator's cache; the cache always
// starts empty.
//
// SQLite (via modernc.org/sqlite) keeps the history in a single file and
// needs no cgo, so the binary cross-compiles. WAL mode lets the history
// command read while serve is writing.
package database
