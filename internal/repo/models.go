package repo

import (
	"time"

	"github.com/google/uuid"
)

// User is a staff member who can sign in.
type User struct {
	ID           uuid.UUID
	Name         string
	Email        string
	PasswordHash string
	DepartmentID *uuid.UUID
	Active       bool
	LastLoginAt  *time.Time
	CreatedAt    time.Time
}

// RefreshToken models the refresh_tokens table.
type RefreshToken struct {
	ID        uuid.UUID
	Subject   uuid.UUID
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
	Revoked   bool
}

// InsertRefreshTokenParams groups the columns written on login and rotation.
type InsertRefreshTokenParams struct {
	ID        uuid.UUID
	Subject   uuid.UUID
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// CreateUserParams is used by the bootstrap command.
type CreateUserParams struct {
	Name         string
	Email        string
	PasswordHash string
	RoleID       uuid.UUID
}

// UserSummary is the row printed by the admin command.
type UserSummary struct {
	ID     uuid.UUID
	Name   string
	Email  string
	Active bool
	Access []string
}
