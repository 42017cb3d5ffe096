// Package sqlite provides a SQLite-backed record store.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/flowscribe/flowscribe/pkg/record"
)

const schema = `
CREATE TABLE IF NOT EXISTS records (
	id          TEXT PRIMARY KEY,
	identity    TEXT NOT NULL,
	model       TEXT NOT NULL,
	messages    TEXT NOT NULL,
	response    TEXT NOT NULL,
	outcome     TEXT NOT NULL,
	status      INTEGER NOT NULL,
	timestamp   TEXT NOT NULL,
	duration_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_records_identity ON records(identity);
`

// Store persists records in a SQLite database. Each Append is a single
// INSERT, so atomicity and writer serialization come from SQLite itself.
type Store struct {
	db         *sql.DB
	insertStmt *sql.Stmt
}

// NewStore opens (or creates) the database at dbPath. WAL mode keeps
// concurrent appends from blocking on each other longer than necessary.
func NewStore(dbPath string) (*Store, error) {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening record database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating records schema: %w", err)
	}

	insertStmt, err := db.Prepare(`
		INSERT INTO records (id, identity, model, messages, response, outcome, status, timestamp, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("preparing insert: %w", err)
	}

	return &Store{db: db, insertStmt: insertStmt}, nil
}

// Append inserts one record row.
func (s *Store) Append(ctx context.Context, rec *record.Record) error {
	messages, err := json.Marshal(rec.Messages)
	if err != nil {
		return fmt.Errorf("encoding messages for record %s: %w", rec.ID, err)
	}

	_, err = s.insertStmt.ExecContext(ctx,
		rec.ID,
		rec.Identity,
		rec.Model,
		string(messages),
		rec.Response,
		string(rec.Outcome),
		rec.Status,
		rec.Timestamp.UTC().Format(time.RFC3339Nano),
		rec.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("inserting record %s: %w", rec.ID, err)
	}
	return nil
}

// List returns all records ordered by ID. ULIDs sort lexicographically by
// creation time, which matches append order.
func (s *Store) List(ctx context.Context) ([]*record.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, identity, model, messages, response, outcome, status, timestamp, duration_ms
		FROM records ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying records: %w", err)
	}
	defer rows.Close()

	var records []*record.Record
	for rows.Next() {
		var (
			rec       record.Record
			messages  string
			outcome   string
			timestamp string
		)
		if err := rows.Scan(&rec.ID, &rec.Identity, &rec.Model, &messages, &rec.Response,
			&outcome, &rec.Status, &timestamp, &rec.DurationMs); err != nil {
			return nil, fmt.Errorf("scanning record row: %w", err)
		}
		if err := json.Unmarshal([]byte(messages), &rec.Messages); err != nil {
			return nil, fmt.Errorf("decoding messages for record %s: %w", rec.ID, err)
		}
		rec.Outcome = record.Outcome(outcome)
		if rec.Timestamp, err = time.Parse(time.RFC3339Nano, timestamp); err != nil {
			return nil, fmt.Errorf("parsing timestamp for record %s: %w", rec.ID, err)
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}

// Count returns the number of persisted records.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting records: %w", err)
	}
	return n, nil
}

// Close releases the prepared statement and database handle.
func (s *Store) Close() error {
	if err := s.insertStmt.Close(); err != nil {
		s.db.Close()
		return fmt.Errorf("closing insert statement: %w", err)
	}
	return s.db.Close()
}

var _ record.Store = (*Store)(nil)
