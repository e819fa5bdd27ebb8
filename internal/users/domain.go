package users

import "time"

// User represents a user account for management.
type User struct {
	ID          int64
	Email       string
	Name        string
	IsActive    bool
	IsSuperuser bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// UserWithRoles pairs an account with its current role names.
type UserWithRoles struct {
	User
	Roles []string
}
