package employee

import (
	"time"

	"github.com/google/uuid"
)

// Ref is a named link shown next to an employee.
type Ref struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// RoleRef is a role with the access level it grants.
type RoleRef struct {
	ID     uuid.UUID `json:"id"`
	Name   string    `json:"name"`
	Access string    `json:"access"`
}

// Employee is a staff account. The password hash never leaves the repository.
type Employee struct {
	ID             uuid.UUID  `json:"id"`
	Name           string     `json:"name"`
	Email          string     `json:"email"`
	DepartmentID   *uuid.UUID `json:"departmentId"`
	DepartmentName *string    `json:"departmentName"`
	Active         bool       `json:"active"`
	Roles          []RoleRef  `json:"roles"`
	JobTitles      []Ref      `json:"jobTitles"`
	LastLoginAt    *time.Time `json:"lastLoginAt"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// Input is the create/update payload. Password is required on create and optional on
// update, where an empty value keeps the current one.
type Input struct {
	Name         string      `json:"name" label:"ชื่อ-นามสกุล" validate:"required,max=255"`
	Email        string      `json:"email" label:"อีเมล" validate:"required,email,max=255"`
	Password     string      `json:"password"`
	DepartmentID *uuid.UUID  `json:"departmentId"`
	RoleIDs      []uuid.UUID `json:"roleIds" label:"บทบาท" validate:"min=1"`
	JobTitleIDs  []uuid.UUID `json:"jobTitleIds"`
	Active       *bool       `json:"active"`
}

// PasswordInput changes the password of the signed-in user.
type PasswordInput struct {
	CurrentPassword string `json:"currentPassword" label:"รหัสผ่านปัจจุบัน" validate:"required"`
	NewPassword     string `json:"newPassword" label:"รหัสผ่านใหม่" validate:"required"`
}

// Filter narrows List.
type Filter struct {
	DepartmentID *uuid.UUID
	RoleID       *uuid.UUID
	JobTitleID   *uuid.UUID
	Query        string
}

// Draft is a cleaned Input ready to be stored. An empty PasswordHash leaves the stored
// hash untouched on update.
type Draft struct {
	Name         string
	Email        string
	PasswordHash string
	DepartmentID *uuid.UUID
	Active       bool
	RoleIDs      []uuid.UUID
	JobTitleIDs  []uuid.UUID
}
