package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/frahmantamala/approval-workflow/internal"
	userDatamodel "github.com/frahmantamala/approval-workflow/internal/core/datamodel/user"
	"github.com/frahmantamala/approval-workflow/internal/user"
	"github.com/jmoiron/sqlx"
)

const userColumns = `id, employee_id, name, email, role, department, is_active, created_at, updated_at`

type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) GetByID(ctx context.Context, id string) (*user.User, error) {
	var row userDatamodel.User
	query := r.db.Rebind(`SELECT ` + userColumns + ` FROM users WHERE id = ?`)
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, internal.NewUserNotFoundError(id)
		}
		return nil, err
	}
	return user.FromDataModel(&row), nil
}

func (r *Repository) GetByIDs(ctx context.Context, ids []string) ([]*user.User, error) {
	if len(ids) == 0 {
		return []*user.User{}, nil
	}
	query, args, err := sqlx.In(`SELECT `+userColumns+` FROM users WHERE id IN (?)`, ids)
	if err != nil {
		return nil, err
	}

	var rows []userDatamodel.User
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	return toDomain(rows), nil
}

func (r *Repository) ListByRole(ctx context.Context, role user.Role, activeOnly bool) ([]*user.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE role = ?`
	if activeOnly {
		query += ` AND is_active = ?`
	}
	query += ` ORDER BY name, id`

	args := []interface{}{string(role)}
	if activeOnly {
		args = append(args, true)
	}

	var rows []userDatamodel.User
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	return toDomain(rows), nil
}

// Upsert writes a directory entry keyed by id. Used by the seed command.
func (r *Repository) Upsert(ctx context.Context, u *user.User) error {
	row := user.ToDataModel(u)
	query := r.db.Rebind(`
INSERT INTO users (id, employee_id, name, email, role, department, is_active, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
  email = excluded.email,
  employee_id = excluded.employee_id,
  name = excluded.name,
  role = excluded.role,
  department = excluded.department,
  is_active = excluded.is_active,
  updated_at = excluded.updated_at`)
	_, err := r.db.ExecContext(ctx, query,
		row.ID, row.EmployeeID, row.Name, row.Email, row.Role, row.Department, row.IsActive, row.CreatedAt, row.UpdatedAt)
	return err
}

func toDomain(rows []userDatamodel.User) []*user.User {
	users := make([]*user.User, 0, len(rows))
	for i := range rows {
		users = append(users, user.FromDataModel(&rows[i]))
	}
	return users
}
