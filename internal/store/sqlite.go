// Package store persists generation records in SQLite.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Status is the outcome of a generation.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Order is the created_at sort direction of List.
type Order string

const (
	OrderAsc  Order = "asc"
	OrderDesc Order = "desc"
)

// List limits.
const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// timeLayout sorts lexically in UTC, unlike RFC3339Nano which trims zeros.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// GenerationRecord describes one generation request and its outcome.
type GenerationRecord struct {
	ID            string    `json:"id"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Caller        string    `json:"caller,omitempty"`
	Model         string    `json:"model"`
	Status        Status    `json:"status"`
	Code          string    `json:"code,omitempty"`
	Attempts      int       `json:"attempts"`
	DurationMs    int64     `json:"duration_ms"`
	CardCount     int       `json:"card_count"`
	CreatedAt     time.Time `json:"created_at"`
}

// Filter selects records for List. Zero fields do not filter.
type Filter struct {
	Caller string
	Status Status
	Limit  int
	Offset int
	Order  Order
}

// SQLite stores records in a SQLite database.
type SQLite struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
	now  func() time.Time
}

// Open opens (or creates) the database at path and applies the schema.
// Use ":memory:" for a throwaway database.
func Open(ctx context.Context, path string) (*SQLite, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("store: create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	if path == ":memory:" {
		// every connection would get its own empty database
		db.SetMaxOpenConns(1)
	}

	s := &SQLite{db: db, path: path, now: time.Now}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS generations (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		correlation_id TEXT,
		caller TEXT,
		model TEXT,
		status TEXT NOT NULL,
		code TEXT,
		attempts INTEGER,
		duration_ms INTEGER,
		card_count INTEGER,
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_generations_created_at ON generations (created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_generations_status ON generations (status)`,
}

// Migrate creates the tables and indexes if they do not exist.
func (s *SQLite) Migrate(ctx context.Context) error {
	for _, stmt := range migrations {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: migrate: %w", err)
		}
	}
	return nil
}

// Insert saves rec. An empty ID is filled with a new UUID and a zero
// CreatedAt with the current time.
func (s *SQLite) Insert(ctx context.Context, rec *GenerationRecord) error {
	if rec.Status != StatusSucceeded && rec.Status != StatusFailed {
		return fmt.Errorf("store: invalid status %q", rec.Status)
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	rec.CreatedAt = rec.CreatedAt.UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `INSERT INTO generations
		(id, correlation_id, caller, model, status, code, attempts, duration_ms, card_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.CorrelationID,
		rec.Caller,
		rec.Model,
		string(rec.Status),
		rec.Code,
		rec.Attempts,
		rec.DurationMs,
		rec.CardCount,
		rec.CreatedAt.Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("store: insert: %w", err)
	}
	return nil
}

// List returns the records matching f sorted by creation time.
// Limit defaults to DefaultLimit and is capped at MaxLimit; Order defaults
// to newest first.
func (s *SQLite) List(ctx context.Context, f Filter) ([]GenerationRecord, error) {
	order := f.Order
	switch order {
	case "":
		order = OrderDesc
	case OrderAsc, OrderDesc:
	default:
		return nil, fmt.Errorf("store: invalid order %q", f.Order)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	builder := strings.Builder{}
	builder.WriteString("SELECT id, correlation_id, caller, model, status, code, attempts, duration_ms, card_count, created_at FROM generations")
	var (
		where []string
		args  []any
	)
	if f.Caller != "" {
		where = append(where, "caller = ?")
		args = append(args, f.Caller)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if len(where) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(where, " AND "))
	}
	if order == OrderAsc {
		builder.WriteString(" ORDER BY created_at ASC, seq ASC")
	} else {
		builder.WriteString(" ORDER BY created_at DESC, seq DESC")
	}
	builder.WriteString(" LIMIT ? OFFSET ?")
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, builder.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	defer rows.Close()

	records := []GenerationRecord{}
	for rows.Next() {
		var (
			rec                         GenerationRecord
			correlationID, caller, code sql.NullString
			status, createdAt           string
		)
		if err := rows.Scan(&rec.ID, &correlationID, &caller, &rec.Model, &status, &code,
			&rec.Attempts, &rec.DurationMs, &rec.CardCount, &createdAt); err != nil {
			return nil, fmt.Errorf("store: scan: %w", err)
		}
		rec.CorrelationID = correlationID.String
		rec.Caller = caller.String
		rec.Code = code.String
		rec.Status = Status(status)
		if t, err := time.Parse(timeLayout, createdAt); err == nil {
			rec.CreatedAt = t
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	return records, nil
}

// Path returns the database path.
func (s *SQLite) Path() string {
	return s.path
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}
