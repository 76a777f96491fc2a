package database

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"golang.org/x/crypto/sha3"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/nao1215/torcheck/internal/scheduler"
)

// FileName is the database file created inside the history directory.
const FileName = "torcheck.db"

// storedTimeFormat has a fixed width so text ordering matches time ordering.
const storedTimeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// ErrNoChecks is returned by Latest when nothing has been recorded.
var ErrNoChecks = errors.New("no checks recorded")

// HistoryDB stores refresh outcomes.
type HistoryDB struct {
	// db is the underlying SQL database connection.
	db *sql.DB

	// dbPath is the path to the SQLite database file.
	dbPath string
}

// Options configures HistoryDB behavior.
type Options struct {
	// CreateIfNotExists creates the database file if it doesn't exist.
	CreateIfNotExists bool

	// EnableWAL enables Write-Ahead Logging so readers do not block the
	// writer.
	EnableWAL bool
}

// DefaultOptions returns the options used by serve.
func DefaultOptions() Options {
	return Options{
		CreateIfNotExists: true,
		EnableWAL:         true,
	}
}

// Open opens or creates a HistoryDB in dbDir.
// If CreateIfNotExists is false and the database doesn't exist, an error is returned.
func Open(dbDir string, opts Options) (*HistoryDB, error) {
	dbPath := filepath.Join(dbDir, FileName)

	if !opts.CreateIfNotExists {
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("database not found at %s (run serve or check with history enabled first)", dbPath)
		} else if err != nil {
			return nil, fmt.Errorf("failed to check database path: %w", err)
		}
	} else {
		if err := os.MkdirAll(dbDir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// mode=rw refuses to create a missing file.
	dsn := dbPath + "?mode=rw"
	if opts.CreateIfNotExists {
		dsn = dbPath + "?mode=rwc"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite only supports one writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	hdb := &HistoryDB{
		db:     db,
		dbPath: dbPath,
	}

	if opts.EnableWAL {
		if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	if err := hdb.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return hdb, nil
}

// Close closes the database connection.
func (h *HistoryDB) Close() error {
	return h.db.Close()
}

// Path returns the database file path.
func (h *HistoryDB) Path() string {
	return h.dbPath
}

func (h *HistoryDB) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS checks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL UNIQUE,
		checked_at TEXT NOT NULL,
		state TEXT NOT NULL,
		real_address TEXT,
		overlay_address TEXT,
		routed INTEGER NOT NULL DEFAULT 0,
		exit_count INTEGER NOT NULL DEFAULT 0,
		exit_digest TEXT,
		error TEXT,
		duration_ms INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_checks_checked_at ON checks(checked_at);
	CREATE INDEX IF NOT EXISTS idx_checks_state ON checks(state);
	`

	_, err := h.db.ExecContext(context.Background(), schema)
	return err
}

// Check is one recorded refresh outcome.
type Check struct {
	ID             int64     `json:"id"`
	RunID          string    `json:"run_id"`
	CheckedAt      time.Time `json:"checked_at"`
	State          string    `json:"state"`
	RealAddress    string    `json:"real_address,omitempty"`
	OverlayAddress string    `json:"overlay_address,omitempty"`
	Routed         bool      `json:"is_routed_via_overlay"`
	ExitCount      int       `json:"exit_count"`
	// ExitDigest identifies the exit list contents independent of order.
	ExitDigest string        `json:"exit_digest,omitempty"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration_ns"`
}

// CheckFromStatus converts a published status into a history row.
func CheckFromStatus(st scheduler.Status) *Check {
	return &Check{
		RunID:          st.RunID.String(),
		CheckedAt:      st.CheckedAt,
		State:          st.State.String(),
		RealAddress:    st.Result.RealAddress,
		OverlayAddress: st.Result.OverlayAddress,
		Routed:         st.Result.RoutedViaOverlay,
		ExitCount:      len(st.Result.ExitIdentifiers),
		ExitDigest:     ExitDigest(st.Result.ExitIdentifiers),
		Error:          st.Message,
		Duration:       st.Duration,
	}
}

// ExitDigest returns the hex SHA3-256 of the sorted exit list, or "" for an
// empty list.
func ExitDigest(exits []string) string {
	if len(exits) == 0 {
		return ""
	}
	sorted := slices.Clone(exits)
	slices.Sort(sorted)
	sum := sha3.Sum256([]byte(strings.Join(sorted, "\n")))
	return hex.EncodeToString(sum[:])
}

// Record inserts a check and returns its row id.
func (h *HistoryDB) Record(ctx context.Context, c *Check) (int64, error) {
	query := `
	INSERT INTO checks (run_id, checked_at, state, real_address, overlay_address,
		routed, exit_count, exit_digest, error, duration_ms)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := h.db.ExecContext(ctx, query,
		c.RunID,
		c.CheckedAt.UTC().Format(storedTimeFormat),
		c.State,
		c.RealAddress,
		c.OverlayAddress,
		c.Routed,
		c.ExitCount,
		c.ExitDigest,
		c.Error,
		c.Duration.Milliseconds(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert check: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get inserted id: %w", err)
	}
	c.ID = id
	return id, nil
}

// Observe implements scheduler.Observer by recording every published status.
func (h *HistoryDB) Observe(ctx context.Context, _, cur scheduler.Status) error {
	_, err := h.Record(ctx, CheckFromStatus(cur))
	return err
}

const selectChecks = `
	SELECT id, run_id, checked_at, state, real_address, overlay_address,
		routed, exit_count, exit_digest, error, duration_ms
	FROM checks
`

// List returns up to limit checks, newest first. A non-positive limit
// returns every check.
func (h *HistoryDB) List(ctx context.Context, limit int) ([]Check, error) {
	query := selectChecks + " ORDER BY checked_at DESC, id DESC"
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := h.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query checks: %w", err)
	}
	defer rows.Close()

	var checks []Check
	for rows.Next() {
		c, err := scanCheck(rows)
		if err != nil {
			return nil, err
		}
		checks = append(checks, *c)
	}
	return checks, rows.Err()
}

// Latest returns the most recent check, or ErrNoChecks.
func (h *HistoryDB) Latest(ctx context.Context) (*Check, error) {
	query := selectChecks + " ORDER BY checked_at DESC, id DESC LIMIT 1"
	c, err := scanCheck(h.db.QueryRowContext(ctx, query))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoChecks
	}
	return c, err
}

// Count returns the number of recorded checks.
func (h *HistoryDB) Count(ctx context.Context) (int, error) {
	var n int
	if err := h.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM checks").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count checks: %w", err)
	}
	return n, nil
}

// DeleteBefore removes checks older than cutoff and returns how many were
// removed.
func (h *HistoryDB) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := h.db.ExecContext(ctx,
		"DELETE FROM checks WHERE checked_at < ?",
		cutoff.UTC().Format(storedTimeFormat),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete checks: %w", err)
	}
	return result.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCheck(row rowScanner) (*Check, error) {
	var (
		c          Check
		checkedAt  string
		realAddr   sql.NullString
		overlay    sql.NullString
		digest     sql.NullString
		errText    sql.NullString
		durationMS int64
	)
	err := row.Scan(
		&c.ID,
		&c.RunID,
		&checkedAt,
		&c.State,
		&realAddr,
		&overlay,
		&c.Routed,
		&c.ExitCount,
		&digest,
		&errText,
		&durationMS,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan check: %w", err)
	}

	c.CheckedAt = parseTimestamp(checkedAt)
	c.RealAddress = realAddr.String
	c.OverlayAddress = overlay.String
	c.ExitDigest = digest.String
	c.Error = errText.String
	c.Duration = time.Duration(durationMS) * time.Millisecond
	return &c, nil
}

// timestampFormats lists formats SQLite timestamps may come back in.
var timestampFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.999",
}

// parseTimestamp returns the zero time when no format matches.
func parseTimestamp(s string) time.Time {
	for _, format := range timestampFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
