package store

import (
	"context"
	"fmt"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Table is a typed view over one table. Rows are scanned into T by column
// name (db tags, snake_case otherwise).
type Table[T any] struct {
	store   *Store
	name    string
	columns []string
	scan    func(rows pgx.Rows) ([]T, error)
}

func NewTable[T any](s *Store, name string) *Table[T] {
	return &Table[T]{
		store:   s,
		name:    name,
		columns: columnNames[T](),
		scan:    scanStructs[T],
	}
}

func (t *Table[T]) Name() string {
	return t.name
}

func scanStructs[T any](rows pgx.Rows) ([]T, error) {
	var out []T
	if err := pgxscan.ScanAll(&out, rows); err != nil {
		return nil, err
	}
	return out, nil
}

func scanRecords(rows pgx.Rows) ([]Record, error) {
	maps, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, err
	}
	out := make([]Record, len(maps))
	for i, m := range maps {
		for k, v := range m {
			// pgx decodes uuid columns as raw bytes
			if b, ok := v.([16]byte); ok {
				m[k] = uuid.UUID(b).String()
			}
		}
		out[i] = Record(m)
	}
	return out, nil
}

func (t *Table[T]) op(verb string) string {
	return verb + " " + t.name
}

func (t *Table[T]) query(ctx context.Context, op, sql string, args []any) ([]T, error) {
	rows, err := t.store.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, classify(op, err)
	}
	out, err := t.scan(rows)
	if err != nil {
		return nil, classify(op, err)
	}
	if out == nil {
		out = []T{}
	}
	return out, nil
}

func (t *Table[T]) one(op string, items []T) (T, error) {
	var zero T
	switch len(items) {
	case 0:
		return zero, fmt.Errorf("%s: %w", op, ErrNotFound)
	case 1:
		return items[0], nil
	default:
		return zero, fmt.Errorf("%s: %w", op, ErrMultipleRows)
	}
}

func (t *Table[T]) Fetch(ctx context.Context, opts FetchOptions) ([]T, error) {
	op := t.op("fetch")
	sql, args, err := buildSelect(t.name, t.columns, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return t.query(ctx, op, sql, args)
}

// FetchOne expects exactly one row to match filters.
func (t *Table[T]) FetchOne(ctx context.Context, filters map[string]any, columns ...string) (T, error) {
	items, err := t.Fetch(ctx, FetchOptions{Columns: columns, Filters: filters, Limit: 2})
	if err != nil {
		var zero T
		return zero, err
	}
	return t.one(t.op("fetch one"), items)
}

func (t *Table[T]) GetByID(ctx context.Context, id any, columns ...string) (T, error) {
	return t.FetchOne(ctx, map[string]any{IDColumn: id}, columns...)
}

// Create inserts item and returns the stored row, server defaults included.
func (t *Table[T]) Create(ctx context.Context, item Record) (T, error) {
	op := t.op("create")
	sql, args, err := buildInsert(t.name, []Record{item}, t.columns)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("%s: %w", op, err)
	}
	items, err := t.query(ctx, op, sql, args)
	if err != nil {
		var zero T
		return zero, err
	}
	return t.one(op, items)
}

// InsertMany inserts items with one statement. Columns missing from an item
// take their default.
func (t *Table[T]) InsertMany(ctx context.Context, items []Record) ([]T, error) {
	if len(items) == 0 {
		return []T{}, nil
	}
	op := t.op("insert")
	sql, args, err := buildInsert(t.name, items, t.columns)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return t.query(ctx, op, sql, args)
}

// Update applies updates to the row with the given id and stamps updated_at.
func (t *Table[T]) Update(ctx context.Context, id any, updates Record) (T, error) {
	var zero T
	op := t.op("update")

	set := updates.Clone()
	set[UpdatedAtColumn] = t.store.now()

	sql, args, err := buildUpdate(t.name, map[string]any{IDColumn: id}, set, t.columns)
	if err != nil {
		return zero, fmt.Errorf("%s: %w", op, err)
	}
	items, err := t.query(ctx, op, sql, args)
	if err != nil {
		return zero, err
	}
	return t.one(op, items)
}

// Upsert inserts item or, when a row with the same conflict key exists,
// overwrites the given columns. The conflict key defaults to id. updated_at
// is stamped unless item sets it.
func (t *Table[T]) Upsert(ctx context.Context, item Record, conflict ...string) (T, error) {
	var zero T
	op := t.op("upsert")

	if len(conflict) == 0 {
		conflict = []string{IDColumn}
	}
	rec := item.Clone()
	if _, ok := rec[UpdatedAtColumn]; !ok {
		rec[UpdatedAtColumn] = t.store.now()
	}

	sql, args, err := buildUpsert(t.name, rec, conflict, t.columns)
	if err != nil {
		return zero, fmt.Errorf("%s: %w", op, err)
	}
	items, err := t.query(ctx, op, sql, args)
	if err != nil {
		return zero, err
	}
	return t.one(op, items)
}

func (t *Table[T]) Delete(ctx context.Context, id any) error {
	n, err := t.DeleteWhere(ctx, map[string]any{IDColumn: id})
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", t.op("delete"), ErrNotFound)
	}
	return nil
}

// DeleteWhere removes every row matching filters and returns how many went.
// Unfiltered deletes are refused.
func (t *Table[T]) DeleteWhere(ctx context.Context, filters map[string]any) (int64, error) {
	op := t.op("delete")
	sql, args, err := buildDelete(t.name, filters)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	tag, err := t.store.conn(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return 0, classify(op, err)
	}
	return tag.RowsAffected(), nil
}
