package settings

import (
	"context"
	"errors"
	"fmt"

	"github.com/ehr/clinicdata/internal/platform/store"
)

var ErrInvalid = errors.New("invalid settings")

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Get returns the stored settings, or Defaults when the user has none.
// Other failures are returned as errors.
func (s *Service) Get(ctx context.Context, userID string) (*UserSettings, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalid)
	}
	us, err := s.repo.GetByUserID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return Defaults(userID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("get settings for %s: %w", userID, err)
	}
	return us, nil
}

// Update inserts or merges the user's settings row and returns it.
func (s *Service) Update(ctx context.Context, userID string, u Update) (*UserSettings, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalid)
	}
	us, err := s.repo.Upsert(ctx, userID, u)
	if err != nil {
		return nil, fmt.Errorf("update settings for %s: %w", userID, err)
	}
	return us, nil
}
