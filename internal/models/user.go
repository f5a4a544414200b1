// Package models defines the core persisted entities for octabot: users,
// projects, tasks, and the in-memory plugin handle.
//
// Database tags use the snake_case convention matching the Postgres schema
// in internal/db; JSON tags follow the HTTP API's camelCase convention.
package models

import "time"

// Role values recognized by the API and task-store authorization checks.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User is an API caller identity. Outside the core engine's scope except
// that it owns projects via Project.OwnerID.
type User struct {
	ID           string    `json:"id" db:"id"`
	Username     string    `json:"username" db:"username"`
	Email        *string   `json:"email,omitempty" db:"email"`
	Role         string    `json:"role" db:"role"`
	PasswordHash string    `json:"-" db:"password_hash"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time `json:"updatedAt" db:"updated_at"`
}

// CreateUserRequest is the payload for POST /api/v1/users.
type CreateUserRequest struct {
	Username string `json:"username" binding:"required"`
	Email    string `json:"email,omitempty"`
	Password string `json:"password" binding:"required"`
	Role     string `json:"role,omitempty"`
}

// UpdateUserRequest carries only the fields to change.
type UpdateUserRequest struct {
	Email *string `json:"email,omitempty"`
	Role  *string `json:"role,omitempty"`
}

// LoginRequest is the payload for POST /api/v1/auth/login.
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}
