package store

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound          = errors.New("record not found")
	ErrMultipleRows      = errors.New("more than one record matched")
	ErrInvalidQuery      = errors.New("invalid query")
	ErrInvalidIdentifier = errors.New("invalid identifier")
	ErrConflict          = errors.New("record conflicts with an existing row")
)

const (
	uniqueViolation           = "23505"
	invalidTextRepresentation = "22P02"
	invalidDatetimeFormat     = "22007"
)

// classify wraps a driver error with the operation that produced it and maps
// well-known conditions onto the package sentinels.
func classify(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case uniqueViolation:
			return fmt.Errorf("%s: %w: %s", op, ErrConflict, pgErr.Detail)
		case invalidTextRepresentation, invalidDatetimeFormat:
			// A filter or id the column type cannot parse, e.g. "abc" for a uuid.
			return fmt.Errorf("%s: %w: %s", op, ErrInvalidQuery, pgErr.Message)
		}
	}

	return fmt.Errorf("%s: %w", op, err)
}
