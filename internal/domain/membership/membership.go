// Package membership binds global users to tenants with a role, a permission
// set, and activity-recency tracking.
package membership

import (
	"fmt"
	"time"

	"github.com/opencampus/tenantcore/internal/domain"
)

// Role represents the authorization level of a membership. Roles form a fixed
// ordered hierarchy; see Level.
type Role string

const (
	RoleSuperAdmin Role = "super_admin"
	RoleAdmin      Role = "admin"
	RoleInstructor Role = "instructor"
	RoleStudent    Role = "student"
	RoleGuest      Role = "guest"
)

// roleLevels is the fixed role hierarchy. Higher outranks lower.
var roleLevels = map[Role]int{
	RoleSuperAdmin: 100,
	RoleAdmin:      80,
	RoleInstructor: 60,
	RoleStudent:    40,
	RoleGuest:      20,
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool { _, ok := roleLevels[r]; return ok }

// Level returns the numeric rank of the role, or 0 for unknown roles.
func (r Role) Level() int { return roleLevels[r] }

// HasAuthorityOver reports whether r outranks or equals other.
func (r Role) HasAuthorityOver(other Role) bool {
	return roleLevels[r] >= roleLevels[other]
}

// Status represents the lifecycle state of a membership.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusInactive  Status = "inactive"
	StatusSuspended Status = "suspended"
)

// validTransitions encodes the one-way membership lifecycle:
// pending->active, active->suspended, suspended->active, any->inactive.
var validTransitions = map[Status]map[Status]bool{
	StatusPending:   {StatusActive: true, StatusInactive: true},
	StatusActive:    {StatusSuspended: true, StatusInactive: true},
	StatusSuspended: {StatusActive: true, StatusInactive: true},
	StatusInactive:  {},
}

// Membership is the join entity between a global user and a tenant. At most one
// membership exists per (user, tenant) pair; Grants and Revocations layer on
// top of the role's default permission set.
type Membership struct {
	ID          string       `json:"id"`
	UserID      string       `json:"user_id"`
	TenantID    string       `json:"tenant_id"`
	Role        Role         `json:"role"`
	Status      Status       `json:"status"`
	Grants      []Permission `json:"grants,omitempty"`
	Revocations []Permission `json:"revocations,omitempty"`
	JoinedAt    time.Time    `json:"joined_at"`
	LastActive  *time.Time   `json:"last_active,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	DeletedAt   *time.Time   `json:"deleted_at,omitempty"` // soft delete on removal
}

// Transition moves the membership to a new status, enforcing the lifecycle
// graph. Returns ErrValidation on an illegal transition.
func (m *Membership) Transition(to Status) error {
	if to == m.Status {
		return nil
	}
	if !validTransitions[m.Status][to] {
		return fmt.Errorf("membership status %s cannot transition to %s: %w", m.Status, to, domain.ErrValidation)
	}
	m.Status = to
	return nil
}

// Permissions resolves the effective permission set:
// role defaults, plus explicit grants, minus explicit revocations.
func (m *Membership) Permissions() []Permission {
	set := make(map[Permission]bool)
	for _, p := range DefaultPermissions(m.Role) {
		set[p] = true
	}
	for _, p := range m.Grants {
		set[p] = true
	}
	for _, p := range m.Revocations {
		delete(set, p)
	}
	out := make([]Permission, 0, len(set))
	for _, p := range allPermissions {
		if set[p] {
			out = append(out, p)
		}
	}
	return out
}

// Has reports whether the effective permission set contains p.
func (m *Membership) Has(p Permission) bool {
	for _, got := range m.Permissions() {
		if got == p {
			return true
		}
	}
	return false
}

// AddRequest holds the fields for binding a user to a tenant.
type AddRequest struct {
	UserID   string       `json:"user_id"`
	TenantID string       `json:"tenant_id"`
	Role     Role         `json:"role"`
	Grants   []Permission `json:"grants,omitempty"`
}

// Validate checks that the AddRequest has all required fields.
func (r *AddRequest) Validate() error {
	if r.UserID == "" {
		return fmt.Errorf("user_id is required: %w", domain.ErrValidation)
	}
	if r.TenantID == "" {
		return fmt.Errorf("tenant_id is required: %w", domain.ErrValidation)
	}
	if !r.Role.Valid() {
		return fmt.Errorf("invalid role %q: %w", r.Role, domain.ErrValidation)
	}
	for _, p := range r.Grants {
		if !p.Valid() {
			return fmt.Errorf("unknown permission %q: %w", p, domain.ErrValidation)
		}
	}
	return nil
}
