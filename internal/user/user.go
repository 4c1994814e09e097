package user

import (
	"time"

	userDatamodel "github.com/frahmantamala/approval-workflow/internal/core/datamodel/user"
)

type Role string

const (
	RoleUser           Role = "USER"
	RoleFactoryManager Role = "FACTORY_MANAGER"
	RoleDirector       Role = "DIRECTOR"
	RoleManager        Role = "MANAGER"
	RoleCEO            Role = "CEO"
	RoleAdmin          Role = "ADMIN"
	RoleReadonly       Role = "READONLY"
)

var AllRoles = []Role{
	RoleUser,
	RoleFactoryManager,
	RoleDirector,
	RoleManager,
	RoleCEO,
	RoleAdmin,
	RoleReadonly,
}

// ApproverRoles can hold approval records.
var ApproverRoles = []Role{
	RoleFactoryManager,
	RoleDirector,
	RoleManager,
	RoleCEO,
}

func ParseRole(s string) (Role, bool) {
	for _, r := range AllRoles {
		if string(r) == s {
			return r, true
		}
	}
	return "", false
}

type User struct {
	ID         string    `json:"id"`
	EmployeeID string    `json:"employee_id"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	Role       Role      `json:"role"`
	Department string    `json:"department,omitempty"`
	IsActive   bool      `json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// Holds reports whether the user is an active holder of role.
func (u *User) Holds(role Role) bool {
	return u.IsActive && u.Role == role
}

func ToDataModel(u *User) *userDatamodel.User {
	return &userDatamodel.User{
		ID:         u.ID,
		EmployeeID: u.EmployeeID,
		Name:       u.Name,
		Email:      u.Email,
		Role:       string(u.Role),
		Department: u.Department,
		IsActive:   u.IsActive,
		CreatedAt:  u.CreatedAt,
		UpdatedAt:  u.UpdatedAt,
	}
}

func FromDataModel(u *userDatamodel.User) *User {
	return &User{
		ID:         u.ID,
		EmployeeID: u.EmployeeID,
		Name:       u.Name,
		Email:      u.Email,
		Role:       Role(u.Role),
		Department: u.Department,
		IsActive:   u.IsActive,
		CreatedAt:  u.CreatedAt,
		UpdatedAt:  u.UpdatedAt,
	}
}
