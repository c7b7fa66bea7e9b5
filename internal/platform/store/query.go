package store

import (
	"database/sql/driver"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/dbscan"
	"github.com/jackc/pgx/v5"
)

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar) //nolint:gochecknoglobals // squirrel recommends this

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidIdentifier reports whether name is usable as a table or column name:
// one identifier, optionally schema-qualified ("public.user_settings").
func ValidIdentifier(name string) bool {
	parts := strings.Split(name, ".")
	if len(parts) > 2 {
		return false
	}
	for _, p := range parts {
		if !identPattern.MatchString(p) {
			return false
		}
	}
	return true
}

func quoteIdent(name string) (string, error) {
	if !ValidIdentifier(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidIdentifier, name)
	}
	return pgx.Identifier(strings.Split(name, ".")).Sanitize(), nil
}

func quoteColumns(columns []string) ([]string, error) {
	if len(columns) == 0 {
		return []string{"*"}, nil
	}
	quoted := make([]string, len(columns))
	for i, c := range columns {
		if c == "*" {
			quoted[i] = c
			continue
		}
		q, err := quoteIdent(c)
		if err != nil {
			return nil, err
		}
		quoted[i] = q
	}
	return quoted, nil
}

// FilterValue converts a filter given as text, on a command line or in a
// query string, into a value for FetchOptions.Filters. "null" matches NULL;
// anything else stays a string and PostgreSQL casts it to the column type.
func FilterValue(raw string) any {
	if raw == "null" {
		return nil
	}
	return raw
}

// isList reports values squirrel would expand into IN (...). Filters are
// exact-match only, so those are rejected.
func isList(v any) bool {
	if _, ok := v.(driver.Valuer); ok {
		return false
	}
	if _, ok := v.([]byte); ok {
		return false
	}
	switch reflect.ValueOf(v).Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return true
	default:
		return false
	}
}

func equality(filters map[string]any) (squirrel.Eq, error) {
	eq := make(squirrel.Eq, len(filters))
	for col, val := range filters {
		q, err := quoteIdent(col)
		if err != nil {
			return nil, err
		}
		if isList(val) {
			return nil, fmt.Errorf("%w: filter on %q must be a single value", ErrInvalidQuery, col)
		}
		eq[q] = val
	}
	return eq, nil
}

func orderClause(spec string) (string, error) {
	fields := strings.Fields(spec)
	if len(fields) == 0 || len(fields) > 2 {
		return "", fmt.Errorf("%w: order %q", ErrInvalidQuery, spec)
	}
	col, err := quoteIdent(fields[0])
	if err != nil {
		return "", err
	}
	if len(fields) == 1 {
		return col, nil
	}
	dir := strings.ToUpper(fields[1])
	if dir != "ASC" && dir != "DESC" {
		return "", fmt.Errorf("%w: order direction %q", ErrInvalidQuery, fields[1])
	}
	return col + " " + dir, nil
}

func returning(columns []string) string {
	return "RETURNING " + strings.Join(columns, ", ")
}

func buildSelect(table string, columns []string, opts FetchOptions) (string, []any, error) {
	t, err := quoteIdent(table)
	if err != nil {
		return "", nil, err
	}
	if len(opts.Columns) > 0 {
		columns = opts.Columns
	}
	cols, err := quoteColumns(columns)
	if err != nil {
		return "", nil, err
	}

	query := psql.Select(cols...).From(t)
	if len(opts.Filters) > 0 {
		eq, err := equality(opts.Filters)
		if err != nil {
			return "", nil, err
		}
		query = query.Where(eq)
	}
	for _, o := range opts.OrderBy {
		clause, err := orderClause(o)
		if err != nil {
			return "", nil, err
		}
		query = query.OrderBy(clause)
	}
	if opts.Limit > 0 {
		query = query.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		query = query.Offset(opts.Offset)
	}

	sql, args, err := query.ToSql()
	if err != nil {
		return "", nil, fmt.Errorf("%w: could not build select: %v", ErrInvalidQuery, err)
	}
	return sql, args, nil
}

// insertColumns returns the sorted union of keys over all items.
func insertColumns(items []Record) []string {
	seen := make(map[string]struct{})
	for _, item := range items {
		for k := range item {
			seen[k] = struct{}{}
		}
	}
	cols := make([]string, 0, len(seen))
	for k := range seen {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

func buildInsert(table string, items []Record, returnCols []string) (string, []any, error) {
	return insertStatement(table, items, "", returnCols)
}

func insertStatement(table string, items []Record, onConflict string, returnCols []string) (string, []any, error) {
	t, err := quoteIdent(table)
	if err != nil {
		return "", nil, err
	}
	ret, err := quoteColumns(returnCols)
	if err != nil {
		return "", nil, err
	}
	suffix := returning(ret)
	if onConflict != "" {
		suffix = onConflict + " " + suffix
	}

	cols := insertColumns(items)
	if len(cols) == 0 {
		if len(items) != 1 || onConflict != "" {
			return "", nil, fmt.Errorf("%w: insert of empty records", ErrInvalidQuery)
		}
		return "INSERT INTO " + t + " DEFAULT VALUES " + suffix, nil, nil
	}

	quoted, err := quoteColumns(cols)
	if err != nil {
		return "", nil, err
	}
	query := psql.Insert(t).Columns(quoted...)
	for _, item := range items {
		values := make([]any, len(cols))
		for i, c := range cols {
			v, ok := item[c]
			if !ok {
				values[i] = squirrel.Expr("DEFAULT")
				continue
			}
			values[i] = v
		}
		query = query.Values(values...)
	}

	sql, args, err := query.Suffix(suffix).ToSql()
	if err != nil {
		return "", nil, fmt.Errorf("%w: could not build insert: %v", ErrInvalidQuery, err)
	}
	return sql, args, nil
}

func buildUpsert(table string, item Record, conflict []string, returnCols []string) (string, []any, error) {
	if len(item) == 0 {
		return "", nil, fmt.Errorf("%w: upsert of empty record", ErrInvalidQuery)
	}
	if len(conflict) == 0 {
		return "", nil, fmt.Errorf("%w: upsert needs a conflict target", ErrInvalidQuery)
	}
	target, err := quoteColumns(conflict)
	if err != nil {
		return "", nil, err
	}

	isConflict := make(map[string]bool, len(conflict))
	for _, c := range conflict {
		isConflict[c] = true
	}
	var sets []string
	for _, c := range insertColumns([]Record{item}) {
		if isConflict[c] {
			continue
		}
		q, err := quoteIdent(c)
		if err != nil {
			return "", nil, err
		}
		sets = append(sets, q+" = EXCLUDED."+q)
	}
	if len(sets) == 0 {
		// no-op update so RETURNING still yields the existing row
		sets = append(sets, target[0]+" = EXCLUDED."+target[0])
	}

	onConflict := "ON CONFLICT (" + strings.Join(target, ", ") + ") DO UPDATE SET " + strings.Join(sets, ", ")
	return insertStatement(table, []Record{item}, onConflict, returnCols)
}

func buildUpdate(table string, filters map[string]any, set Record, returnCols []string) (string, []any, error) {
	t, err := quoteIdent(table)
	if err != nil {
		return "", nil, err
	}
	ret, err := quoteColumns(returnCols)
	if err != nil {
		return "", nil, err
	}
	eq, err := equality(filters)
	if err != nil {
		return "", nil, err
	}

	values := make(map[string]any, len(set))
	for col, v := range set {
		q, err := quoteIdent(col)
		if err != nil {
			return "", nil, err
		}
		values[q] = v
	}

	sql, args, err := psql.Update(t).SetMap(values).Where(eq).Suffix(returning(ret)).ToSql()
	if err != nil {
		return "", nil, fmt.Errorf("%w: could not build update: %v", ErrInvalidQuery, err)
	}
	return sql, args, nil
}

func buildDelete(table string, filters map[string]any) (string, []any, error) {
	if len(filters) == 0 {
		return "", nil, fmt.Errorf("%w: delete without filters", ErrInvalidQuery)
	}
	t, err := quoteIdent(table)
	if err != nil {
		return "", nil, err
	}
	eq, err := equality(filters)
	if err != nil {
		return "", nil, err
	}
	sql, args, err := psql.Delete(t).Where(eq).ToSql()
	if err != nil {
		return "", nil, fmt.Errorf("%w: could not build delete: %v", ErrInvalidQuery, err)
	}
	return sql, args, nil
}

// columnNames derives the selected columns from T's db tags, falling back to
// the snake_case field name like scany does. Non-struct types select "*".
func columnNames[T any]() []string {
	t := reflect.TypeOf((*T)(nil)).Elem()
	if t.Kind() != reflect.Struct {
		return nil
	}

	var columns []string
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		col := f.Tag.Get("db")
		if col == "-" {
			continue
		}
		if col == "" {
			col = dbscan.SnakeCaseMapper(f.Name)
		}
		columns = append(columns, col)
	}
	return columns
}
