package settings

import (
	"context"
)

type Repository interface {
	GetByUserID(ctx context.Context, userID string) (*UserSettings, error)
	Upsert(ctx context.Context, userID string, u Update) (*UserSettings, error)
}
