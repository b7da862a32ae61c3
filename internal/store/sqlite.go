// ABOUTME: SQLite implementation of the OutcomeStore interface using modernc.org/sqlite
// ABOUTME: Records settled requests with automatic schema creation; ":memory:" keeps history in-process

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// MemoryPath selects an in-process database that disappears on exit.
const MemoryPath = ":memory:"

// SQLiteStore implements OutcomeStore using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "store")

	if path == "" {
		path = MemoryPath
	}
	memory := path == MemoryPath

	if !memory {
		path = expandHome(path)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if memory {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	} else {
		// Enable WAL mode for better concurrent performance
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enabling WAL mode: %w", err)
		}
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS outcomes (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			status TEXT NOT NULL,
			payload TEXT NOT NULL DEFAULT '{}',
			answer TEXT NOT NULL DEFAULT '',
			is_error INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			settled_at TEXT NOT NULL,
			waited_ms INTEGER NOT NULL DEFAULT 0
		);

		CREATE INDEX IF NOT EXISTS idx_outcomes_settled_at
			ON outcomes(settled_at);

		CREATE INDEX IF NOT EXISTS idx_outcomes_status
			ON outcomes(status);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// RecordOutcome inserts a settled request.
func (s *SQLiteStore) RecordOutcome(ctx context.Context, o *Outcome) error {
	query := `
		INSERT INTO outcomes (id, kind, status, payload, answer, is_error, created_at, settled_at, waited_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	payload := o.Payload
	if payload == "" {
		payload = "{}"
	}
	_, err := s.db.ExecContext(ctx, query,
		o.ID,
		o.Kind,
		o.Status,
		payload,
		o.Answer,
		boolToInt(o.IsError),
		o.CreatedAt.UTC().Format(timeLayout),
		o.SettledAt.UTC().Format(timeLayout),
		o.Waited.Milliseconds(),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateOutcome
		}
		return fmt.Errorf("inserting outcome: %w", err)
	}
	return nil
}

// isConstraintViolation checks if the error is a unique constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "PRIMARY KEY constraint failed")
}

const outcomeColumns = `id, kind, status, payload, answer, is_error, created_at, settled_at, waited_ms`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanOutcome(row rowScanner) (*Outcome, error) {
	var (
		o         Outcome
		isError   int
		createdAt string
		settledAt string
		waitedMS  int64
	)
	if err := row.Scan(&o.ID, &o.Kind, &o.Status, &o.Payload, &o.Answer, &isError, &createdAt, &settledAt, &waitedMS); err != nil {
		return nil, err
	}

	var err error
	o.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	o.SettledAt, err = time.Parse(time.RFC3339Nano, settledAt)
	if err != nil {
		return nil, fmt.Errorf("parsing settled_at: %w", err)
	}
	o.IsError = isError != 0
	o.Waited = time.Duration(waitedMS) * time.Millisecond
	return &o, nil
}

// GetOutcome retrieves an outcome by request id.
func (s *SQLiteStore) GetOutcome(ctx context.Context, id string) (*Outcome, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+outcomeColumns+` FROM outcomes WHERE id = ?`, id)
	o, err := scanOutcome(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying outcome: %w", err)
	}
	return o, nil
}

// ListOutcomes returns outcomes newest first. A non-positive limit means 50.
func (s *SQLiteStore) ListOutcomes(ctx context.Context, limit int) ([]*Outcome, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+outcomeColumns+` FROM outcomes ORDER BY settled_at DESC, rowid DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []*Outcome
	for rows.Next() {
		o, err := scanOutcome(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning outcome: %w", err)
		}
		outcomes = append(outcomes, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating outcomes: %w", err)
	}
	return outcomes, nil
}

// CountOutcomes returns totals per final status.
func (s *SQLiteStore) CountOutcomes(ctx context.Context) (Counts, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM outcomes GROUP BY status`)
	if err != nil {
		return Counts{}, fmt.Errorf("counting outcomes: %w", err)
	}
	defer rows.Close()

	var c Counts
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return Counts{}, fmt.Errorf("scanning count: %w", err)
		}
		switch status {
		case "answered":
			c.Answered = n
		case "timed_out":
			c.TimedOut = n
		}
	}
	if err := rows.Err(); err != nil {
		return Counts{}, fmt.Errorf("iterating counts: %w", err)
	}
	return c, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Ensure SQLiteStore implements OutcomeStore
var _ OutcomeStore = (*SQLiteStore)(nil)
