// Package routing derives approver sets for each level from the user directory.
// It stores nothing itself.
package routing

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/frahmantamala/approval-workflow/internal"
	"github.com/frahmantamala/approval-workflow/internal/user"
	"github.com/frahmantamala/approval-workflow/internal/workflow"
)

type Directory interface {
	GetByIDs(ctx context.Context, ids []string) ([]*user.User, error)
	ListByRole(ctx context.Context, role user.Role, activeOnly bool) ([]*user.User, error)
}

type Resolver struct {
	directory Directory
	logger    *slog.Logger
}

func NewResolver(directory Directory, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{directory: directory, logger: logger}
}

// ResolveFactoryApprovers validates the applicant's factory manager selection.
func (r *Resolver) ResolveFactoryApprovers(ctx context.Context, ids []string) ([]string, error) {
	return r.resolveSelected(ctx, workflow.LevelFactory, user.RoleFactoryManager, ids)
}

// ResolveManagerApprovers validates the director's manager selection.
func (r *Resolver) ResolveManagerApprovers(ctx context.Context, ids []string) ([]string, error) {
	return r.resolveSelected(ctx, workflow.LevelManager, user.RoleManager, ids)
}

func (r *Resolver) ResolveDirectorApprovers(ctx context.Context) ([]string, error) {
	return r.resolveRole(ctx, workflow.LevelDirector, user.RoleDirector)
}

func (r *Resolver) ResolveCEOApprovers(ctx context.Context) ([]string, error) {
	return r.resolveRole(ctx, workflow.LevelCEO, user.RoleCEO)
}

// resolveSelected keeps the caller's order, drops duplicates and fails listing every id
// that is unknown, inactive or holds another role.
func (r *Resolver) resolveSelected(ctx context.Context, level workflow.Level, role user.Role, ids []string) ([]string, error) {
	ids = workflow.Dedupe(ids)
	details := internal.WorkflowErrorDetails{Level: string(level)}
	if len(ids) == 0 {
		return nil, internal.NewInvalidApproverError(fmt.Sprintf("no %s approvers selected", level), details)
	}

	users, err := r.directory.GetByIDs(ctx, ids)
	if err != nil {
		r.logger.Error("directory lookup failed", "error", err, "level", level)
		return nil, err
	}
	byID := make(map[string]*user.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}

	var invalid []string
	for _, id := range ids {
		if u, ok := byID[id]; !ok || !u.Holds(role) {
			invalid = append(invalid, id)
		}
	}
	if len(invalid) > 0 {
		details.InvalidApprovers = invalid
		r.logger.Warn("invalid approvers selected", "level", level, "role", role, "invalid", invalid)
		return nil, internal.NewInvalidApproverError(
			fmt.Sprintf("selected users are not active %s holders", role), details)
	}
	return ids, nil
}

func (r *Resolver) resolveRole(ctx context.Context, level workflow.Level, role user.Role) ([]string, error) {
	users, err := r.directory.ListByRole(ctx, role, true)
	if err != nil {
		r.logger.Error("directory lookup failed", "error", err, "level", level)
		return nil, err
	}

	ids := make([]string, 0, len(users))
	for _, u := range users {
		if u.Holds(role) {
			ids = append(ids, u.ID)
		}
	}
	if len(ids) == 0 {
		return nil, internal.NewInvalidApproverError(fmt.Sprintf("no active %s is available", role),
			internal.WorkflowErrorDetails{Level: string(level)})
	}
	return workflow.Dedupe(ids), nil
}
