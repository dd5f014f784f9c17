package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/opencampus/tenantcore/internal/domain"
	"github.com/opencampus/tenantcore/internal/domain/audit"
	"github.com/opencampus/tenantcore/internal/domain/membership"
	"github.com/opencampus/tenantcore/internal/domain/tenant"
	"github.com/opencampus/tenantcore/internal/domain/user"
)

// memCache is an in-process cache double counting hits and invalidations.
type memCache struct {
	data    map[string][]byte
	hits    int
	sets    int
	deletes int
}

func newMemCache() *memCache { return &memCache{data: make(map[string][]byte)} }

func (c *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := c.data[key]
	if ok {
		c.hits++
	}
	return v, ok, nil
}

func (c *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.sets++
	c.data[key] = value
	return nil
}

func (c *memCache) Delete(_ context.Context, key string) error {
	c.deletes++
	delete(c.data, key)
	return nil
}

func newMembershipFixture() (*MembershipService, *mockStore, *memCache) {
	store := newMockStore()
	store.users["u-1"] = &user.User{ID: "u-1", Email: "jo@acme.test"}
	store.users["root"] = &user.User{ID: "root", Email: "root@campus.test"}
	store.tenants["t-1"] = &tenant.Tenant{ID: "t-1", Slug: "acme-u", SchemaName: "t_acme_u", Status: tenant.StatusActive}
	cache := newMemCache()
	svc := NewMembershipService(store, cache, NewAuditRecorder(&mockAuditStore{}, nil, nil), time.Minute)
	return svc, store, cache
}

func TestAddToTenantCreatesActiveMembership(t *testing.T) {
	svc, store, _ := newMembershipFixture()

	m, err := svc.AddToTenant(context.Background(), membership.AddRequest{
		UserID: "u-1", TenantID: "t-1", Role: membership.RoleStudent,
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if m.Status != membership.StatusActive {
		t.Errorf("status = %s, want active", m.Status)
	}

	if len(store.entries) != 1 {
		t.Fatalf("audit entries = %d, want 1", len(store.entries))
	}
	e := store.entries[0]
	if e.Entity != audit.EntityMembership || e.Operation != audit.OpCreate {
		t.Errorf("audited as %s/%s", e.Entity, e.Operation)
	}
	if e.TenantID != "t-1" {
		t.Errorf("audit entry tenant = %q, want t-1", e.TenantID)
	}
}

func TestAddToTenantIsIdempotentForSameRole(t *testing.T) {
	svc, store, _ := newMembershipFixture()

	req := membership.AddRequest{UserID: "u-1", TenantID: "t-1", Role: membership.RoleStudent}
	first, err := svc.AddToTenant(context.Background(), req)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	second, err := svc.AddToTenant(context.Background(), req)
	if err != nil {
		t.Fatalf("re-add: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("re-add created a new membership %s", second.ID)
	}
	if len(store.entries) != 1 {
		t.Errorf("audit entries = %d, want 1 (idempotent re-add must not audit)", len(store.entries))
	}
}

func TestAddToTenantWithDifferentRoleIsRoleChange(t *testing.T) {
	svc, store, _ := newMembershipFixture()

	if _, err := svc.AddToTenant(context.Background(), membership.AddRequest{
		UserID: "u-1", TenantID: "t-1", Role: membership.RoleStudent,
	}); err != nil {
		t.Fatalf("add: %v", err)
	}
	m, err := svc.AddToTenant(context.Background(), membership.AddRequest{
		UserID: "u-1", TenantID: "t-1", Role: membership.RoleInstructor,
	})
	if err != nil {
		t.Fatalf("re-add: %v", err)
	}
	if m.Role != membership.RoleInstructor {
		t.Errorf("role = %s, want instructor", m.Role)
	}

	e := store.entries[len(store.entries)-1]
	if e.Operation != audit.OpRoleChange {
		t.Fatalf("operation = %s, want role_change", e.Operation)
	}
	if e.Severity != audit.SeverityCritical {
		t.Errorf("role change severity = %s, want critical", e.Severity)
	}
}

func TestRevocationOverridesRoleDefaultsAndGrants(t *testing.T) {
	svc, _, _ := newMembershipFixture()
	ctx := context.Background()

	if _, err := svc.AddToTenant(ctx, membership.AddRequest{
		UserID: "u-1", TenantID: "t-1", Role: membership.RoleStudent,
	}); err != nil {
		t.Fatalf("add: %v", err)
	}

	if _, err := svc.Grant(ctx, "u-1", "t-1", membership.PermPostJobs); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if ok, _ := svc.HasPermission(ctx, "u-1", "t-1", membership.PermPostJobs); !ok {
		t.Error("granted permission not effective")
	}

	// view_courses is a student default; an explicit revocation beats it.
	if _, err := svc.Revoke(ctx, "u-1", "t-1", membership.PermViewCourses); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if ok, _ := svc.HasPermission(ctx, "u-1", "t-1", membership.PermViewCourses); ok {
		t.Error("revoked default permission still effective")
	}

	// And a revocation beats a prior grant of the same permission.
	if _, err := svc.Revoke(ctx, "u-1", "t-1", membership.PermPostJobs); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if ok, _ := svc.HasPermission(ctx, "u-1", "t-1", membership.PermPostJobs); ok {
		t.Error("revocation did not override grant")
	}
}

func TestSuspendedMembershipConfersNoAccess(t *testing.T) {
	svc, _, _ := newMembershipFixture()
	ctx := context.Background()

	if _, err := svc.AddToTenant(ctx, membership.AddRequest{
		UserID: "u-1", TenantID: "t-1", Role: membership.RoleAdmin,
	}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := svc.TransitionStatus(ctx, "u-1", "t-1", membership.StatusSuspended); err != nil {
		t.Fatalf("suspend: %v", err)
	}

	if ok, _ := svc.HasPermission(ctx, "u-1", "t-1", membership.PermManageUsers); ok {
		t.Error("suspended membership still confers permissions")
	}
	if ok, _ := svc.HasAccessToTenant(ctx, "u-1", "t-1"); ok {
		t.Error("suspended membership still grants tenant access")
	}
}

func TestHasAccessToTenantWithoutMembership(t *testing.T) {
	svc, _, _ := newMembershipFixture()

	ok, err := svc.HasAccessToTenant(context.Background(), "stranger", "t-1")
	if err != nil {
		t.Fatalf("access check: %v", err)
	}
	if ok {
		t.Error("access granted without membership")
	}
}

func TestResolveServesFromCacheUntilInvalidated(t *testing.T) {
	svc, store, cache := newMembershipFixture()
	ctx := context.Background()

	if _, err := svc.AddToTenant(ctx, membership.AddRequest{
		UserID: "u-1", TenantID: "t-1", Role: membership.RoleStudent,
	}); err != nil {
		t.Fatalf("add: %v", err)
	}

	role, err := svc.RoleInTenant(ctx, "u-1", "t-1")
	if err != nil || role != membership.RoleStudent {
		t.Fatalf("role = %s, %v", role, err)
	}
	if cache.sets == 0 {
		t.Fatal("resolved access was not cached")
	}

	// A write bypassing the service is not visible while the cache holds.
	store.memberships[membershipKey("u-1", "t-1")].Role = membership.RoleGuest
	role, _ = svc.RoleInTenant(ctx, "u-1", "t-1")
	if role != membership.RoleStudent {
		t.Fatalf("role = %s, want cached student", role)
	}
	if cache.hits == 0 {
		t.Error("second lookup missed the cache")
	}

	// Mutating through the service invalidates and the next lookup is fresh.
	if _, err := svc.ChangeRole(ctx, "u-1", "t-1", membership.RoleInstructor); err != nil {
		t.Fatalf("change role: %v", err)
	}
	if cache.deletes == 0 {
		t.Error("role change did not invalidate the cache")
	}
	role, _ = svc.RoleInTenant(ctx, "u-1", "t-1")
	if role != membership.RoleInstructor {
		t.Errorf("role = %s, want instructor after invalidation", role)
	}
}

func TestIsSuperAdmin(t *testing.T) {
	svc, _, _ := newMembershipFixture()
	ctx := context.Background()

	if _, err := svc.AddToTenant(ctx, membership.AddRequest{
		UserID: "root", TenantID: "t-1", Role: membership.RoleSuperAdmin,
	}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := svc.AddToTenant(ctx, membership.AddRequest{
		UserID: "u-1", TenantID: "t-1", Role: membership.RoleAdmin,
	}); err != nil {
		t.Fatalf("add: %v", err)
	}

	if ok, _ := svc.IsSuperAdmin(ctx, "root"); !ok {
		t.Error("active super_admin membership not recognized")
	}
	if ok, _ := svc.IsSuperAdmin(ctx, "u-1"); ok {
		t.Error("plain admin treated as super admin")
	}

	// A suspended super_admin membership confers nothing.
	if _, err := svc.TransitionStatus(ctx, "root", "t-1", membership.StatusSuspended); err != nil {
		t.Fatalf("suspend: %v", err)
	}
	if ok, _ := svc.IsSuperAdmin(ctx, "root"); ok {
		t.Error("suspended super_admin still recognized")
	}
}

func TestAddToTenantRequiresExistingUserAndTenant(t *testing.T) {
	svc, store, _ := newMembershipFixture()
	ctx := context.Background()

	_, err := svc.AddToTenant(ctx, membership.AddRequest{
		UserID: "ghost", TenantID: "t-1", Role: membership.RoleStudent,
	})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("unknown user: err = %v, want ErrNotFound", err)
	}

	_, err = svc.AddToTenant(ctx, membership.AddRequest{
		UserID: "u-1", TenantID: "t-404", Role: membership.RoleStudent,
	})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("unknown tenant: err = %v, want ErrNotFound", err)
	}

	if len(store.memberships) != 0 {
		t.Errorf("memberships written = %d, want 0", len(store.memberships))
	}
	if len(store.entries) != 0 {
		t.Errorf("audit entries = %d, want 0", len(store.entries))
	}
}
