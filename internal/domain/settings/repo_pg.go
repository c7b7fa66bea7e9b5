package settings

import (
	"context"

	"github.com/ehr/clinicdata/internal/platform/store"
)

type repoPG struct {
	table *store.Table[UserSettings]
}

func NewRepoPG(s *store.Store) Repository {
	return &repoPG{table: store.NewTable[UserSettings](s, Table)}
}

func (r *repoPG) GetByUserID(ctx context.Context, userID string) (*UserSettings, error) {
	us, err := r.table.FetchOne(ctx, map[string]any{"user_id": userID})
	if err != nil {
		return nil, err
	}
	return &us, nil
}

// Upsert writes only the given fields; the store stamps updated_at.
func (r *repoPG) Upsert(ctx context.Context, userID string, u Update) (*UserSettings, error) {
	rec := store.Record{"user_id": userID}
	if u.TimeFormat != nil {
		rec["time_format"] = *u.TimeFormat
	}
	if u.Theme != nil {
		rec["theme"] = *u.Theme
	}

	us, err := r.table.Upsert(ctx, rec, "user_id")
	if err != nil {
		return nil, err
	}
	return &us, nil
}
