package settings

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/clinicdata/internal/platform/store"
)

type mockRepo struct {
	rows    map[string]*UserSettings
	failErr error
}

func newMockRepo() *mockRepo {
	return &mockRepo{rows: make(map[string]*UserSettings)}
}

func (m *mockRepo) GetByUserID(_ context.Context, userID string) (*UserSettings, error) {
	if m.failErr != nil {
		return nil, m.failErr
	}
	us, ok := m.rows[userID]
	if !ok {
		return nil, fmt.Errorf("fetch one user_settings: %w", store.ErrNotFound)
	}
	return us, nil
}

func (m *mockRepo) Upsert(_ context.Context, userID string, u Update) (*UserSettings, error) {
	if m.failErr != nil {
		return nil, m.failErr
	}
	us, ok := m.rows[userID]
	if !ok {
		us = Defaults(userID)
		us.ID = uuid.NewString()
		us.CreatedAt = time.Now()
		m.rows[userID] = us
	}
	if u.TimeFormat != nil {
		us.TimeFormat = *u.TimeFormat
	}
	if u.Theme != nil {
		us.Theme = *u.Theme
	}
	us.UpdatedAt = time.Now()
	return us, nil
}

func strPtr(s string) *string { return &s }

func TestGet_UnknownUserReturnsDefaults(t *testing.T) {
	svc := NewService(newMockRepo())
	us, err := svc.Get(context.Background(), "user-unknown")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if us.UserID != "user-unknown" || us.TimeFormat != "24h" || us.Theme != "light" {
		t.Errorf("unexpected defaults: %+v", us)
	}
	if !us.IsDefault() {
		t.Error("expected defaults to report IsDefault")
	}
}

func TestGet_DefaultsAreNotPersisted(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)
	if _, err := svc.Get(context.Background(), "user-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(repo.rows) != 0 {
		t.Errorf("expected no stored rows, got %d", len(repo.rows))
	}
}

func TestGet_BackendFailureIsAnError(t *testing.T) {
	repo := newMockRepo()
	repo.failErr = errors.New("connection refused")
	if _, err := NewService(repo).Get(context.Background(), "user-1"); err == nil {
		t.Fatal("expected error")
	}
}

func TestUpdate_CreatesThenMerges(t *testing.T) {
	svc := NewService(newMockRepo())
	ctx := context.Background()

	us, err := svc.Update(ctx, "user-1", Update{Theme: strPtr("dark")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if us.Theme != "dark" || us.TimeFormat != "24h" {
		t.Errorf("unexpected settings: %+v", us)
	}
	first := us.UpdatedAt

	time.Sleep(time.Millisecond)
	us, err = svc.Update(ctx, "user-1", Update{TimeFormat: strPtr("12h")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if us.Theme != "dark" || us.TimeFormat != "12h" {
		t.Errorf("expected merged settings, got %+v", us)
	}
	if !us.UpdatedAt.After(first) {
		t.Error("expected updated_at to advance")
	}

	got, err := svc.Get(ctx, "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.IsDefault() {
		t.Error("expected stored settings after update")
	}
}

func TestUpdate_RequiresUserID(t *testing.T) {
	_, err := NewService(newMockRepo()).Update(context.Background(), "", Update{})
	if !errors.Is(err, ErrInvalid) {
		t.Errorf("expected ErrInvalid, got %v", err)
	}
}
