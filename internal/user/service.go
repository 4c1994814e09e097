package user

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/frahmantamala/approval-workflow/internal"
)

type Repository interface {
	GetByID(ctx context.Context, id string) (*User, error)
	GetByIDs(ctx context.Context, ids []string) ([]*User, error)
	ListByRole(ctx context.Context, role Role, activeOnly bool) ([]*User, error)
}

// Service is the directory collaborator: identity and role lookups only.
type Service struct {
	repo   Repository
	logger *slog.Logger
}

func NewService(repo Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:   repo,
		logger: logger,
	}
}

func (s *Service) GetByID(ctx context.Context, id string) (*User, error) {
	u, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if _, ok := internal.IsAppError(err); !ok {
			s.logger.Error("failed to get user", "error", err, "user_id", id)
			return nil, fmt.Errorf("failed to get user by id: %w", err)
		}
		return nil, err
	}
	return u, nil
}

// GetByIDs returns the users that exist, in no particular order. Missing ids are skipped.
func (s *Service) GetByIDs(ctx context.Context, ids []string) ([]*User, error) {
	if len(ids) == 0 {
		return []*User{}, nil
	}
	users, err := s.repo.GetByIDs(ctx, ids)
	if err != nil {
		s.logger.Error("failed to get users", "error", err, "count", len(ids))
		return nil, fmt.Errorf("failed to get users by ids: %w", err)
	}
	return users, nil
}

func (s *Service) ListByRole(ctx context.Context, role Role, activeOnly bool) ([]*User, error) {
	users, err := s.repo.ListByRole(ctx, role, activeOnly)
	if err != nil {
		s.logger.Error("failed to list users by role", "error", err, "role", role)
		return nil, fmt.Errorf("failed to list users by role: %w", err)
	}
	return users, nil
}
