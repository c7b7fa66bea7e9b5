package dataaccess

import (
	"context"

	"github.com/ehr/clinicdata/internal/platform/store"
)

// FetchAs is Fetch scanning rows into T by db tag.
func FetchAs[T any](ctx context.Context, c *Client, table string, opts FetchOptions) []T {
	c.watchOnFetch(ctx, table)
	rows, err := store.NewTable[T](c.store, table).Fetch(ctx, opts)
	if err != nil {
		c.degraded("fetch", table, err)
		return []T{}
	}
	return rows
}

func GetByIDAs[T any](ctx context.Context, c *Client, table string, id any, columns ...string) *T {
	item, err := store.NewTable[T](c.store, table).GetByID(ctx, id, columns...)
	if err != nil {
		c.degraded("get_by_id", table, err)
		return nil
	}
	return &item
}

func CreateAs[T any](ctx context.Context, c *Client, table string, item Record) *T {
	created, err := store.NewTable[T](c.store, table).Create(ctx, item)
	if err != nil {
		c.degraded("create", table, err)
		return nil
	}
	return &created
}

func UpdateAs[T any](ctx context.Context, c *Client, table string, id any, updates Record) *T {
	updated, err := store.NewTable[T](c.store, table).Update(ctx, id, updates)
	if err != nil {
		c.degraded("update", table, err)
		return nil
	}
	return &updated
}
