// Package user defines the canonical global identity shared across tenants.
package user

import (
	"fmt"
	"net/mail"
	"time"

	"github.com/opencampus/tenantcore/internal/domain"
)

// User is the canonical identity record shared across all tenants. Its ID is a
// UUID assigned at creation, never a partition-local auto-increment, so it stays
// stable when projected into tenant schemas.
type User struct {
	ID           string            `json:"id"`
	Email        string            `json:"email"`
	FirstName    string            `json:"first_name"`
	LastName     string            `json:"last_name"`
	PasswordHash string            `json:"-"` // never serialized
	Preferences  map[string]string `json:"preferences,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
	DeletedAt    *time.Time        `json:"deleted_at,omitempty"` // soft delete marker
}

// Deleted reports whether the user has been soft-deleted.
func (u *User) Deleted() bool { return u.DeletedAt != nil }

// FullName returns the display name.
func (u *User) FullName() string {
	if u.FirstName == "" {
		return u.LastName
	}
	if u.LastName == "" {
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}

// CreateRequest is the input for registering a new global user.
type CreateRequest struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Password  string `json:"password"` //nolint:gosec // request field, not a hardcoded secret
}

// Validate checks that the CreateRequest has all required fields.
func (r *CreateRequest) Validate() error {
	if r.Email == "" {
		return fmt.Errorf("email is required: %w", domain.ErrValidation)
	}
	if _, err := mail.ParseAddress(r.Email); err != nil {
		return fmt.Errorf("invalid email format: %w", domain.ErrValidation)
	}
	if r.FirstName == "" && r.LastName == "" {
		return fmt.Errorf("a name is required: %w", domain.ErrValidation)
	}
	if len(r.Password) < 8 {
		return fmt.Errorf("password must be at least 8 characters: %w", domain.ErrValidation)
	}
	return nil
}

// UpdateRequest is the input for updating an existing global user.
// Changes to these canonical fields fan out to tenant-local profile
// projections via the sync engine.
type UpdateRequest struct {
	Email       string            `json:"email,omitempty"`
	FirstName   string            `json:"first_name,omitempty"`
	LastName    string            `json:"last_name,omitempty"`
	Preferences map[string]string `json:"preferences,omitempty"`
}

// Validate checks that the UpdateRequest carries valid values.
func (r *UpdateRequest) Validate() error {
	if r.Email != "" {
		if _, err := mail.ParseAddress(r.Email); err != nil {
			return fmt.Errorf("invalid email format: %w", domain.ErrValidation)
		}
	}
	return nil
}
