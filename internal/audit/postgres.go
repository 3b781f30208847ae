package audit

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgxPool is a minimal abstraction over a Postgres connection pool.
// It is implemented by *pgxpool.Pool and pgxmock.PgxPoolIface.
type PgxPool interface {
	// Exec executes a SQL command and returns the command tag.
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	// Query executes a SELECT and returns a rows iterator.
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	// QueryRow executes a query expected to return at most one row.
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	// Close shuts down the pool and frees resources.
	Close()
}

// DB wraps pgxpool.Pool to satisfy recorder constructors and allow testing.
type DB struct{ Pool PgxPool }

// New creates a new connection pool for the given DSN.
func New(ctx context.Context, dsn string) (*DB, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &DB{Pool: pool}, nil
}

// Close closes the underlying pool.
func (db *DB) Close() { db.Pool.Close() }

// Postgres persists audit events to the audit_events table.
type Postgres struct{ db *DB }

var _ Recorder = (*Postgres)(nil)

// NewPostgres constructs a Postgres-backed recorder.
func NewPostgres(db *DB) *Postgres { return &Postgres{db: db} }

// Record inserts one event row, filling ID and At when unset.
func (r *Postgres) Record(ctx context.Context, ev Event) error {
	if ev.ID.IsNil() {
		id, err := uuid.NewV4()
		if err != nil {
			return err
		}
		ev.ID = id
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	const q = `
INSERT INTO audit_events (id, document_id, actor, action, detail, at)
VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.db.Pool.Exec(ctx, q, ev.ID, ev.DocumentID, ev.Actor, ev.Action, ev.Detail, ev.At)
	return err
}

// ListByDocument returns all events for a document, oldest first.
func (r *Postgres) ListByDocument(ctx context.Context, docID uuid.UUID) ([]Event, error) {
	const q = `
SELECT id, document_id, actor, action, detail, at
FROM audit_events WHERE document_id=$1 ORDER BY at ASC`
	rows, err := r.db.Pool.Query(ctx, q, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.ID, &ev.DocumentID, &ev.Actor, &ev.Action, &ev.Detail, &ev.At); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
