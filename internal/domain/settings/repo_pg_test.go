package settings

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehr/clinicdata/internal/platform/store"
)

var settingsColumns = []string{"id", "user_id", "time_format", "theme", "created_at", "updated_at"}

func newPGService(t *testing.T, now time.Time) (*Service, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		mock.Close()
	})
	s := store.New(mock).WithClock(func() time.Time { return now })
	return NewService(NewRepoPG(s)), mock
}

func TestRepoPG_GetMissingRowYieldsDefaults(t *testing.T) {
	svc, mock := newPGService(t, time.Now())

	mock.ExpectQuery(regexp.QuoteMeta(`FROM "user_settings" WHERE "user_id" = $1 LIMIT 2`)).
		WithArgs("user-9").
		WillReturnRows(mock.NewRows(settingsColumns))

	us, err := svc.Get(context.Background(), "user-9")
	require.NoError(t, err)
	assert.Equal(t, Defaults("user-9"), us)
}

func TestRepoPG_GetBackendError(t *testing.T) {
	svc, mock := newPGService(t, time.Now())

	mock.ExpectQuery(`FROM "user_settings"`).WillReturnError(errors.New("conn closed"))

	_, err := svc.Get(context.Background(), "user-9")
	assert.Error(t, err)
}

func TestRepoPG_UpsertOnUserID(t *testing.T) {
	now := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	svc, mock := newPGService(t, now)

	mock.ExpectQuery(regexp.QuoteMeta(`ON CONFLICT ("user_id") DO UPDATE SET "theme" = EXCLUDED."theme", "updated_at" = EXCLUDED."updated_at"`)).
		WithArgs("dark", now, "user-1").
		WillReturnRows(mock.NewRows(settingsColumns).AddRow("s-1", "user-1", "24h", "dark", now, now))

	us, err := svc.Update(context.Background(), "user-1", Update{Theme: strPtr("dark")})
	require.NoError(t, err)
	assert.Equal(t, "dark", us.Theme)
	assert.Equal(t, "24h", us.TimeFormat)
	assert.Equal(t, now, us.UpdatedAt)
}
