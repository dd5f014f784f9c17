// Package database defines the storage ports for the shared catalog schema
// and the per-tenant partitions.
package database

import (
	"context"
	"time"

	"github.com/opencampus/tenantcore/internal/domain/audit"
	"github.com/opencampus/tenantcore/internal/domain/course"
	"github.com/opencampus/tenantcore/internal/domain/membership"
	"github.com/opencampus/tenantcore/internal/domain/sync"
	"github.com/opencampus/tenantcore/internal/domain/tenant"
	"github.com/opencampus/tenantcore/internal/domain/user"
)

// Store is the port for the shared (global) schema: tenants, canonical users
// and courses, memberships, and the sync log.
//
// Mutations on tracked entities take the audit entry to persist; the
// implementation commits business write and audit write in one atomic unit,
// and a failed audit write fails the whole mutation (domain.ErrAuditWriteFailed).
type Store interface {
	// Tenants
	CreateTenant(ctx context.Context, t *tenant.Tenant, entry *audit.Entry) error
	GetTenant(ctx context.Context, id string) (*tenant.Tenant, error)
	GetTenantBySlug(ctx context.Context, slug string) (*tenant.Tenant, error)
	ListTenants(ctx context.Context) ([]tenant.Tenant, error)
	UpdateTenant(ctx context.Context, t *tenant.Tenant, entry *audit.Entry) error

	// Global users
	CreateUser(ctx context.Context, u *user.User, entry *audit.Entry) error
	GetUser(ctx context.Context, id string) (*user.User, error)
	GetUserByEmail(ctx context.Context, email string) (*user.User, error)
	ListUsers(ctx context.Context) ([]user.User, error)
	UpdateUser(ctx context.Context, u *user.User, entry *audit.Entry) error
	SoftDeleteUser(ctx context.Context, id string, entry *audit.Entry) error

	// Memberships
	UpsertMembership(ctx context.Context, m *membership.Membership, entry *audit.Entry) error
	GetMembership(ctx context.Context, userID, tenantID string) (*membership.Membership, error)
	ListMembershipsByTenant(ctx context.Context, tenantID string) ([]membership.Membership, error)
	ListMembershipsByUser(ctx context.Context, userID string) ([]membership.Membership, error)
	TouchMembershipActivity(ctx context.Context, userID, tenantID string) error

	// Global courses
	CreateCourse(ctx context.Context, c *course.GlobalCourse, entry *audit.Entry) error
	GetCourse(ctx context.Context, id string) (*course.GlobalCourse, error)
	ListCourses(ctx context.Context) ([]course.GlobalCourse, error)
	UpdateCourse(ctx context.Context, c *course.GlobalCourse, entry *audit.Entry) error

	// Sync log. Units mutate only through their state machine; rows in
	// non-terminal states are never purged.
	CreateSyncUnit(ctx context.Context, u *sync.Unit) error
	GetSyncUnit(ctx context.Context, id string) (*sync.Unit, error)
	// ClaimSyncUnit atomically moves a pending or retrying unit to
	// in_progress and returns the claimed row. claimed is false when the
	// unit is missing or already past that state, so competing workers get
	// at most one claim per unit.
	ClaimSyncUnit(ctx context.Context, id string) (u *sync.Unit, claimed bool, err error)
	UpdateSyncUnit(ctx context.Context, u *sync.Unit) error
	ListSyncUnits(ctx context.Context, filter SyncFilter) ([]sync.Unit, error)
	ListSyncUnitsByBatch(ctx context.Context, batchID string) ([]sync.Unit, error)
	CleanupSyncLog(ctx context.Context, olderThan time.Time) (int64, error)
}

// SyncFilter narrows ListSyncUnits.
type SyncFilter struct {
	Type     sync.Type
	Status   sync.Status
	TenantID string
	Limit    int
}

// TenantStore is the port for entities living inside a tenant partition.
// Every call resolves its physical schema through the isolation gate from the
// ambient tenant context; with no tenant resolved it fails with
// domain.ErrTenantContextMissing before any partition access.
type TenantStore interface {
	// Course offerings (tenant projection of the global catalog)
	UpsertOffering(ctx context.Context, o *course.Offering, entry *audit.Entry) error
	GetOffering(ctx context.Context, id string) (*course.Offering, error)
	GetOfferingByCourse(ctx context.Context, globalCourseID string) (*course.Offering, error)
	ListOfferings(ctx context.Context) ([]course.Offering, error)
	DeleteOffering(ctx context.Context, id string, entry *audit.Entry) error

	// Local user profile projections of global users
	UpsertProfile(ctx context.Context, p *user.Profile) error
	GetProfile(ctx context.Context, userID string) (*user.Profile, error)
}
