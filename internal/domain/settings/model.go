package settings

import (
	"time"
)

const Table = "user_settings"

const (
	DefaultTimeFormat = "24h"
	DefaultTheme      = "light"
)

// UserSettings maps to user_settings, one row per user.
type UserSettings struct {
	ID         string    `db:"id" json:"id,omitempty"`
	UserID     string    `db:"user_id" json:"user_id"`
	TimeFormat string    `db:"time_format" json:"time_format"`
	Theme      string    `db:"theme" json:"theme"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// Defaults is what a user without a stored row sees. It is not persisted.
func Defaults(userID string) *UserSettings {
	return &UserSettings{
		UserID:     userID,
		TimeFormat: DefaultTimeFormat,
		Theme:      DefaultTheme,
	}
}

// IsDefault reports whether s came from Defaults rather than the database.
func (s *UserSettings) IsDefault() bool {
	return s.ID == ""
}

// Update carries the fields to change. Nil fields keep their stored value,
// or the column default for a new row.
type Update struct {
	TimeFormat *string `json:"time_format,omitempty"`
	Theme      *string `json:"theme,omitempty"`
}
