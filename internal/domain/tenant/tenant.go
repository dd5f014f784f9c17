// Package tenant defines the tenant domain model for schema-based multi-tenancy.
package tenant

import (
	"fmt"
	"regexp"
	"time"

	"github.com/opencampus/tenantcore/internal/domain"
)

// Status represents the lifecycle state of a tenant.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusArchived  Status = "archived"
)

// validStatuses enumerates all valid tenant statuses.
var validStatuses = map[Status]bool{
	StatusActive:    true,
	StatusSuspended: true,
	StatusArchived:  true,
}

// Tenant represents an isolated customer organization. Its SchemaName names the
// physical PostgreSQL schema holding the tenant's partition and is immutable
// once the partition has been created.
type Tenant struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Slug       string            `json:"slug"`
	SchemaName string            `json:"schema_name"`
	Status     Status            `json:"status"`
	Settings   map[string]string `json:"settings,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// Active reports whether the tenant may serve traffic.
func (t *Tenant) Active() bool { return t.Status == StatusActive }

// SlugPattern constrains tenant slugs so the derived schema name is always a
// safe SQL identifier.
var SlugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{1,46}[a-z0-9]$`)

// SchemaFromSlug derives the partition schema name for a slug.
// Hyphens are folded to underscores; the t_ prefix keeps tenant schemas
// distinguishable from the shared schema.
func SchemaFromSlug(slug string) string {
	out := make([]byte, 0, len(slug)+2)
	out = append(out, 't', '_')
	for i := 0; i < len(slug); i++ {
		c := slug[i]
		if c == '-' {
			c = '_'
		}
		out = append(out, c)
	}
	return string(out)
}

// CreateRequest holds the fields required to provision a new tenant.
type CreateRequest struct {
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// Validate checks that the CreateRequest has all required fields.
func (r *CreateRequest) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("tenant name is required: %w", domain.ErrValidation)
	}
	if !SlugPattern.MatchString(r.Slug) {
		return fmt.Errorf("invalid slug %q: must be 3-48 lowercase alphanumeric characters, hyphens or underscores: %w", r.Slug, domain.ErrValidation)
	}
	return nil
}

// UpdateRequest holds the fields that can be updated on a tenant.
// The schema name is deliberately absent: it is immutable.
type UpdateRequest struct {
	Name   string `json:"name,omitempty"`
	Status Status `json:"status,omitempty"`
}

// Validate checks that the UpdateRequest carries valid values.
func (r *UpdateRequest) Validate() error {
	if r.Status != "" && !validStatuses[r.Status] {
		return fmt.Errorf("invalid status %q: %w", r.Status, domain.ErrValidation)
	}
	return nil
}
