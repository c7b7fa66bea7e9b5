package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehr/clinicdata/internal/platform/db"
)

var fixedNow = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		mock.Close()
	})
	return New(mock).WithClock(func() time.Time { return fixedNow }), mock
}

type planRow struct {
	ID        string    `db:"id"`
	PatientID string    `db:"patient_id"`
	Title     string    `db:"title"`
	UpdatedAt time.Time `db:"updated_at"`
}

func TestStore_Fetch(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT "id", "title" FROM "treatment_plans" WHERE "patient_id" = $1`)).
		WithArgs("pat-1").
		WillReturnRows(mock.NewRows([]string{"id", "title"}).
			AddRow("p-1", "Ortho").
			AddRow("p-2", "Hygiene"))

	got, err := s.Fetch(context.Background(), "treatment_plans", FetchOptions{
		Columns: []string{"id", "title"},
		Filters: map[string]any{"patient_id": "pat-1"},
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Ortho", got[0]["title"])
	assert.Equal(t, "p-2", got[1]["id"])
}

func TestStore_FetchEmptyIsNotNil(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT \* FROM "treatment_plans"`).
		WillReturnRows(mock.NewRows([]string{"id"}))

	got, err := s.Fetch(context.Background(), "treatment_plans", FetchOptions{})
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestStore_FetchInvalidTableNeverQueries(t *testing.T) {
	s, _ := newMockStore(t)

	_, err := s.Fetch(context.Background(), "plans; drop table x", FetchOptions{})
	assert.ErrorIs(t, err, ErrInvalidIdentifier)
}

func TestStore_FetchBackendError(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT`).WillReturnError(errors.New("connection refused"))

	_, err := s.Fetch(context.Background(), "treatment_plans", FetchOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetch treatment_plans")
	assert.Contains(t, err.Error(), "connection refused")
}

func TestStore_GetByID(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "treatment_plans" WHERE "id" = $1 LIMIT 2`)).
		WithArgs("p-1").
		WillReturnRows(mock.NewRows([]string{"id", "title"}).AddRow("p-1", "Ortho"))

	got, err := s.GetByID(context.Background(), "treatment_plans", "p-1")
	require.NoError(t, err)
	assert.Equal(t, Record{"id": "p-1", "title": "Ortho"}, got)
}

func TestStore_GetByID_NotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT`).WithArgs("missing").
		WillReturnRows(mock.NewRows([]string{"id"}))

	got, err := s.GetByID(context.Background(), "treatment_plans", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Nil(t, got)
}

func TestStore_GetByID_MultipleRows(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT`).WithArgs("dup").
		WillReturnRows(mock.NewRows([]string{"id"}).AddRow("dup").AddRow("dup"))

	_, err := s.GetByID(context.Background(), "treatment_plans", "dup")
	assert.ErrorIs(t, err, ErrMultipleRows)
}

func TestStore_GetByID_UnparseableIDIsInvalidQuery(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT`).WithArgs("not-a-uuid").
		WillReturnError(&pgconn.PgError{Code: "22P02", Message: `invalid input syntax for type uuid: "not-a-uuid"`})

	_, err := s.GetByID(context.Background(), "treatment_plans", "not-a-uuid")
	assert.ErrorIs(t, err, ErrInvalidQuery)
	assert.Contains(t, err.Error(), "invalid input syntax")
}

func TestStore_FetchBadTimestampFilterIsInvalidQuery(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT`).WithArgs("yesterday-ish").
		WillReturnError(&pgconn.PgError{Code: "22007", Message: "invalid input syntax for type timestamp with time zone"})

	_, err := s.Fetch(context.Background(), "treatment_plans", FetchOptions{
		Filters: map[string]any{"created_at": "yesterday-ish"},
	})
	assert.ErrorIs(t, err, ErrInvalidQuery)
}

func TestStore_Create(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "treatment_plans" ("patient_id","title") VALUES ($1,$2) RETURNING *`)).
		WithArgs("pat-1", "Ortho").
		WillReturnRows(mock.NewRows([]string{"id", "patient_id", "title", "updated_at"}).
			AddRow("p-1", "pat-1", "Ortho", fixedNow))

	got, err := s.Create(context.Background(), "treatment_plans", Record{"patient_id": "pat-1", "title": "Ortho"})
	require.NoError(t, err)
	assert.Equal(t, "p-1", got["id"])
	assert.Equal(t, "Ortho", got["title"])
}

func TestStore_CreateConflict(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`INSERT INTO "user_settings"`).
		WillReturnError(&pgconn.PgError{Code: "23505", Detail: "Key (user_id)=(u-1) already exists."})

	_, err := s.Create(context.Background(), "user_settings", Record{"user_id": "u-1"})
	assert.ErrorIs(t, err, ErrConflict)
	assert.Contains(t, err.Error(), "already exists")
}

func TestStore_UpdateStampsUpdatedAt(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`UPDATE "treatment_plans" SET "title" = $1, "updated_at" = $2 WHERE "id" = $3 RETURNING *`)).
		WithArgs("Phase 2", fixedNow, "p-1").
		WillReturnRows(mock.NewRows([]string{"id", "title", "updated_at"}).AddRow("p-1", "Phase 2", fixedNow))

	got, err := s.Update(context.Background(), "treatment_plans", "p-1", Record{"title": "Phase 2"})
	require.NoError(t, err)
	assert.Equal(t, "Phase 2", got["title"])
	assert.Equal(t, fixedNow, got["updated_at"])
}

func TestStore_UpdateDoesNotMutateInput(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`UPDATE`).
		WillReturnRows(mock.NewRows([]string{"id"}).AddRow("p-1"))

	updates := Record{"title": "x"}
	_, err := s.Update(context.Background(), "treatment_plans", "p-1", updates)
	require.NoError(t, err)
	assert.NotContains(t, updates, UpdatedAtColumn)
}

func TestStore_UpdateMissingRow(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`UPDATE`).WillReturnRows(mock.NewRows([]string{"id"}))

	_, err := s.Update(context.Background(), "treatment_plans", "missing", Record{"title": "x"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_Upsert(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`ON CONFLICT ("user_id") DO UPDATE SET "theme" = EXCLUDED."theme", "updated_at" = EXCLUDED."updated_at"`)).
		WithArgs("dark", fixedNow, "u-1").
		WillReturnRows(mock.NewRows([]string{"user_id", "theme"}).AddRow("u-1", "dark"))

	got, err := s.Upsert(context.Background(), "user_settings", Record{"user_id": "u-1", "theme": "dark"}, "user_id")
	require.NoError(t, err)
	assert.Equal(t, "dark", got["theme"])
}

func TestStore_Delete(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "treatment_plans" WHERE "id" = $1`)).
		WithArgs("p-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	require.NoError(t, s.Delete(context.Background(), "treatment_plans", "p-1"))
}

func TestStore_DeleteMissingRow(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`DELETE FROM`).WithArgs("missing").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	err := s.Delete(context.Background(), "treatment_plans", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_InsertManyEmpty(t *testing.T) {
	s, _ := newMockStore(t)

	got, err := s.InsertMany(context.Background(), "treatment_procedures", nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStore_RunInTxUsesTransaction(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM "treatment_procedures"`).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))
	mock.ExpectQuery(`INSERT INTO "treatment_procedures"`).
		WillReturnError(errors.New("check constraint"))
	mock.ExpectRollback()

	err := s.RunInTx(context.Background(), func(ctx context.Context) error {
		assert.NotNil(t, db.TxFromContext(ctx))
		if _, err := s.DeleteWhere(ctx, "treatment_procedures", map[string]any{"treatment_plan_id": "p-1"}); err != nil {
			return err
		}
		_, err := s.InsertMany(ctx, "treatment_procedures", []Record{{"name": "Crown"}})
		return err
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "check constraint")
}

func TestTable_TypedScan(t *testing.T) {
	s, mock := newMockStore(t)
	plans := NewTable[planRow](s, "treatment_plans")

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT "id", "patient_id", "title", "updated_at" FROM "treatment_plans" WHERE "patient_id" = $1 ORDER BY "title"`)).
		WithArgs("pat-1").
		WillReturnRows(mock.NewRows([]string{"id", "patient_id", "title", "updated_at"}).
			AddRow("p-1", "pat-1", "Ortho", fixedNow))

	got, err := plans.Fetch(context.Background(), FetchOptions{
		Filters: map[string]any{"patient_id": "pat-1"},
		OrderBy: []string{"title"},
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, planRow{ID: "p-1", PatientID: "pat-1", Title: "Ortho", UpdatedAt: fixedNow}, got[0])
	assert.Equal(t, "treatment_plans", plans.Name())
}

func TestTable_TypedGetByIDNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	plans := NewTable[planRow](s, "treatment_plans")

	mock.ExpectQuery(`SELECT`).WillReturnRows(mock.NewRows([]string{"id", "patient_id", "title", "updated_at"}))

	got, err := plans.GetByID(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, planRow{}, got)
}
