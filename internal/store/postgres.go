package store

// postgres.go stores revisions in PostgreSQL.
//
// Each revision is one row whose payload column holds the column snapshot as
// JSONB. Rows are insert-only; Latest orders by created_at and then by the
// ULID primary key, which is monotonic within a process.

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/JonMunkholm/colconfig/internal/assign"
	"github.com/JonMunkholm/colconfig/internal/catalog"
)

// DBTX is the interface for database operations.
// Satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS column_configurations (
	id          TEXT PRIMARY KEY,
	table_key   TEXT NOT NULL,
	payload     JSONB NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS column_configurations_table_key_idx
	ON column_configurations (table_key, created_at DESC, id DESC);
`

const insertRevisionSQL = `
INSERT INTO column_configurations (id, table_key, payload, created_at)
VALUES ($1, $2, $3, $4)`

const latestRevisionSQL = `
SELECT id, table_key, payload, created_at
FROM column_configurations
WHERE table_key = $1
ORDER BY created_at DESC, id DESC
LIMIT 1`

// PostgresStore persists revisions through pgx.
type PostgresStore struct {
	db  DBTX
	cat *catalog.Catalog
	ids *idSource
	now func() time.Time
}

// NewPostgresStore creates a store on db validating against cat.
func NewPostgresStore(db DBTX, cat *catalog.Catalog) *PostgresStore {
	return &PostgresStore{
		db:  db,
		cat: cat,
		ids: newIDSource(),
		now: time.Now,
	}
}

// EnsureSchema creates the revisions table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Submit validates snapshot and inserts it as a new revision.
func (s *PostgresStore) Submit(ctx context.Context, tableKey string, snapshot []assign.ColumnAssignment) (Revision, error) {
	tableKey = strings.TrimSpace(tableKey)
	if tableKey == "" {
		return Revision{}, ValidationErrors{{Field: FieldTable, Message: "table key is required"}}
	}
	if err := Validate(s.cat, snapshot); err != nil {
		return Revision{}, err
	}

	payload, err := json.Marshal(snapshot)
	if err != nil {
		return Revision{}, fmt.Errorf("encode snapshot: %w", err)
	}

	now := s.now().UTC()
	rev := Revision{
		ID:        s.ids.next(now),
		TableKey:  tableKey,
		Columns:   copyColumns(snapshot),
		CreatedAt: now,
	}

	if _, err := s.db.Exec(ctx, insertRevisionSQL, rev.ID, rev.TableKey, payload, rev.CreatedAt); err != nil {
		return Revision{}, fmt.Errorf("insert revision: %w", err)
	}

	slog.Info("configuration saved", "table", tableKey, "revision", rev.ID, "columns", len(rev.Columns))
	return rev, nil
}

// Latest returns the newest revision of tableKey.
func (s *PostgresStore) Latest(ctx context.Context, tableKey string) (Revision, error) {
	var (
		rev     Revision
		payload []byte
	)
	err := s.db.QueryRow(ctx, latestRevisionSQL, tableKey).Scan(&rev.ID, &rev.TableKey, &payload, &rev.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Revision{}, fmt.Errorf("%w: %s", ErrNoRevision, tableKey)
	}
	if err != nil {
		return Revision{}, fmt.Errorf("query latest revision: %w", err)
	}
	if err := json.Unmarshal(payload, &rev.Columns); err != nil {
		return Revision{}, fmt.Errorf("decode revision %s: %w", rev.ID, err)
	}
	return rev, nil
}
