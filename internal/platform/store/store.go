// Package store implements table-scoped CRUD over PostgreSQL. Tables are
// addressed by name; reads support column projection and exact-match
// equality filters combined with AND. Every operation returns an error so
// callers can tell an empty result from a failed one.
package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ehr/clinicdata/internal/platform/db"
)

const (
	IDColumn        = "id"
	UpdatedAtColumn = "updated_at"
)

// Record maps column names to values.
type Record map[string]any

// Clone returns a shallow copy of r.
func (r Record) Clone() Record {
	out := make(Record, len(r)+1)
	for k, v := range r {
		out[k] = v
	}
	return out
}

// FetchOptions shapes a read. Empty Columns selects every column. Filters
// are exact-match equality predicates joined with AND; a nil value matches
// NULL. OrderBy entries are "column" or "column asc|desc".
type FetchOptions struct {
	Columns []string
	Filters map[string]any
	OrderBy []string
	Limit   uint64
	Offset  uint64
}

type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// DB is satisfied by *pgxpool.Pool and pgxmock pools.
type DB interface {
	Querier
	db.Beginner
}

type Store struct {
	db  DB
	now func() time.Time
}

func New(d DB) *Store {
	return &Store{
		db:  d,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the clock used for updated_at stamps.
func (s *Store) WithClock(now func() time.Time) *Store {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *Store) Now() time.Time {
	return s.now()
}

func (s *Store) conn(ctx context.Context) Querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return s.db
}

// RunInTx runs fn in a transaction; store calls made with the context passed
// to fn join it.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return db.RunInTx(ctx, s.db, fn)
}

// Records returns an untyped view of table.
func (s *Store) Records(table string) *Table[Record] {
	return &Table[Record]{store: s, name: table, scan: scanRecords}
}

func (s *Store) Fetch(ctx context.Context, table string, opts FetchOptions) ([]Record, error) {
	return s.Records(table).Fetch(ctx, opts)
}

func (s *Store) GetByID(ctx context.Context, table string, id any, columns ...string) (Record, error) {
	return s.Records(table).GetByID(ctx, id, columns...)
}

func (s *Store) Create(ctx context.Context, table string, item Record) (Record, error) {
	return s.Records(table).Create(ctx, item)
}

func (s *Store) InsertMany(ctx context.Context, table string, items []Record) ([]Record, error) {
	return s.Records(table).InsertMany(ctx, items)
}

func (s *Store) Update(ctx context.Context, table string, id any, updates Record) (Record, error) {
	return s.Records(table).Update(ctx, id, updates)
}

func (s *Store) Upsert(ctx context.Context, table string, item Record, conflict ...string) (Record, error) {
	return s.Records(table).Upsert(ctx, item, conflict...)
}

func (s *Store) Delete(ctx context.Context, table string, id any) error {
	return s.Records(table).Delete(ctx, id)
}

func (s *Store) DeleteWhere(ctx context.Context, table string, filters map[string]any) (int64, error) {
	return s.Records(table).DeleteWhere(ctx, filters)
}
