package directory

import (
	"context"
	"errors"
	"time"

	"github.com/dashborion/dashborion/pkg/rbac"
)

// ErrUserNotFound is returned when an email has no registered user row.
var ErrUserNotFound = errors.New("user not found")

// User is a registered dashboard user.
type User struct {
	ID          int64     `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name,omitempty"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// SubjectType distinguishes what a grant attaches to.
type SubjectType string

const (
	SubjectUser  SubjectType = "user"
	SubjectGroup SubjectType = "group"
)

// Grant is one stored permission row.
type Grant struct {
	ID          int64           `json:"id"`
	SubjectType SubjectType     `json:"subject_type"`
	Subject     string          `json:"subject"` // email or group name
	Permission  rbac.Permission `json:"permission"`
	GrantedBy   string          `json:"granted_by,omitempty"`
	GrantedAt   time.Time       `json:"granted_at"`
}

// Directory is the user/permission lookup contract.
type Directory interface {
	rbac.Directory

	// LookupUser returns the active user for an email, or ErrUserNotFound.
	LookupUser(ctx context.Context, email string) (*User, error)

	// CreateUser inserts or refreshes the user row for an email and
	// returns the stored record.
	CreateUser(ctx context.Context, email, displayName string) (*User, error)
}
