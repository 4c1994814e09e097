package user

import "time"

// User is a directory entry. Rows are written by the seed command and read through sqlx.
type User struct {
	ID         string    `db:"id" gorm:"primaryKey;size:36"`
	EmployeeID string    `db:"employee_id" gorm:"column:employee_id;uniqueIndex;not null"`
	Name       string    `db:"name" gorm:"column:name;not null"`
	Email      string    `db:"email" gorm:"column:email;uniqueIndex;not null"`
	Role       string    `db:"role" gorm:"column:role;index;not null"`
	Department string    `db:"department" gorm:"column:department"`
	IsActive   bool      `db:"is_active" gorm:"column:is_active;not null;default:true"`
	CreatedAt  time.Time `db:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time `db:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

func (User) TableName() string {
	return "users"
}
