package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/opencampus/tenantcore/internal/domain"
	"github.com/opencampus/tenantcore/internal/domain/audit"
	"github.com/opencampus/tenantcore/internal/domain/membership"
	"github.com/opencampus/tenantcore/internal/port/cache"
	"github.com/opencampus/tenantcore/internal/port/database"
)

// MembershipService binds global users to tenants and answers role and
// permission questions. Resolved entries are cached; every membership
// mutation invalidates the pair's cache entry.
type MembershipService struct {
	store    database.Store
	cache    cache.Cache
	recorder *AuditRecorder
	cacheTTL time.Duration
}

// NewMembershipService creates a new MembershipService. cache may be nil.
func NewMembershipService(store database.Store, c cache.Cache, recorder *AuditRecorder, cacheTTL time.Duration) *MembershipService {
	return &MembershipService{store: store, cache: c, recorder: recorder, cacheTTL: cacheTTL}
}

// cachedAccess is the cached resolution for one (user, tenant) pair.
type cachedAccess struct {
	Role        membership.Role         `json:"role"`
	Status      membership.Status       `json:"status"`
	Permissions []membership.Permission `json:"permissions"`
}

// AddToTenant binds a user to a tenant. Adding an existing member with the
// same role is idempotent; with a different role it is a role change and is
// audited as one.
func (s *MembershipService) AddToTenant(ctx context.Context, req membership.AddRequest) (*membership.Membership, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	existing, err := s.store.GetMembership(ctx, req.UserID, req.TenantID)
	switch {
	case err == nil && existing.Role == req.Role:
		return existing, nil
	case err == nil:
		return s.ChangeRole(ctx, req.UserID, req.TenantID, req.Role)
	case !errors.Is(err, domain.ErrNotFound):
		return nil, err
	}

	// A first-time membership must reference a live user and tenant; the
	// upsert must not reserve rows against identities that do not exist.
	if _, err := s.store.GetUser(ctx, req.UserID); err != nil {
		return nil, err
	}
	if _, err := s.store.GetTenant(ctx, req.TenantID); err != nil {
		return nil, err
	}

	m := &membership.Membership{
		UserID:   req.UserID,
		TenantID: req.TenantID,
		Role:     req.Role,
		Status:   membership.StatusActive,
		Grants:   req.Grants,
	}

	entry := s.recorder.Build(ctx, audit.Change{
		Entity:      audit.EntityMembership,
		Operation:   audit.OpCreate,
		NewValues:   snapshotMembership(m),
		Description: fmt.Sprintf("user %s joined tenant as %s", m.UserID, m.Role),
	})
	entry.TenantID = req.TenantID
	if err := s.store.UpsertMembership(ctx, m, entry); err != nil {
		return nil, err
	}
	s.recorder.Observe(ctx, entry)
	s.invalidate(ctx, req.UserID, req.TenantID)
	return m, nil
}

// ChangeRole replaces the member's role. Role changes are critical audit
// events regardless of direction.
func (s *MembershipService) ChangeRole(ctx context.Context, userID, tenantID string, newRole membership.Role) (*membership.Membership, error) {
	m, err := s.store.GetMembership(ctx, userID, tenantID)
	if err != nil {
		return nil, err
	}
	if m.Role == newRole {
		return m, nil
	}

	before := snapshotMembership(m)
	m.Role = newRole

	entry := s.recorder.Build(ctx, audit.Change{
		Entity:      audit.EntityMembership,
		RecordID:    m.ID,
		Operation:   audit.OpRoleChange,
		OldValues:   before,
		NewValues:   snapshotMembership(m),
		Description: fmt.Sprintf("role %s -> %s", before["role"], newRole),
	})
	entry.TenantID = tenantID
	if err := s.store.UpsertMembership(ctx, m, entry); err != nil {
		return nil, err
	}
	s.recorder.Observe(ctx, entry)
	s.invalidate(ctx, userID, tenantID)
	return m, nil
}

// Grant adds an explicit permission on top of the role defaults.
func (s *MembershipService) Grant(ctx context.Context, userID, tenantID string, p membership.Permission) (*membership.Membership, error) {
	return s.changePermissions(ctx, userID, tenantID, p, true)
}

// Revoke removes a permission, overriding role defaults and grants alike.
func (s *MembershipService) Revoke(ctx context.Context, userID, tenantID string, p membership.Permission) (*membership.Membership, error) {
	return s.changePermissions(ctx, userID, tenantID, p, false)
}

func (s *MembershipService) changePermissions(ctx context.Context, userID, tenantID string, p membership.Permission, grant bool) (*membership.Membership, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("unknown permission %q: %w", p, domain.ErrValidation)
	}

	m, err := s.store.GetMembership(ctx, userID, tenantID)
	if err != nil {
		return nil, err
	}

	before := snapshotMembership(m)
	if grant {
		m.Grants = appendUnique(m.Grants, p)
		m.Revocations = removePermission(m.Revocations, p)
	} else {
		m.Revocations = appendUnique(m.Revocations, p)
		m.Grants = removePermission(m.Grants, p)
	}

	verb := "revoked"
	if grant {
		verb = "granted"
	}
	entry := s.recorder.Build(ctx, audit.Change{
		Entity:      audit.EntityMembership,
		RecordID:    m.ID,
		Operation:   audit.OpPermissionChange,
		OldValues:   before,
		NewValues:   snapshotMembership(m),
		Description: fmt.Sprintf("%s %s", verb, p),
	})
	entry.TenantID = tenantID
	if err := s.store.UpsertMembership(ctx, m, entry); err != nil {
		return nil, err
	}
	s.recorder.Observe(ctx, entry)
	s.invalidate(ctx, userID, tenantID)
	return m, nil
}

// TransitionStatus moves the membership along its lifecycle graph.
func (s *MembershipService) TransitionStatus(ctx context.Context, userID, tenantID string, to membership.Status) (*membership.Membership, error) {
	m, err := s.store.GetMembership(ctx, userID, tenantID)
	if err != nil {
		return nil, err
	}

	before := snapshotMembership(m)
	if err := m.Transition(to); err != nil {
		return nil, err
	}

	entry := s.recorder.Build(ctx, audit.Change{
		Entity:    audit.EntityMembership,
		RecordID:  m.ID,
		Operation: audit.OpUpdate,
		OldValues: before,
		NewValues: snapshotMembership(m),
	})
	entry.TenantID = tenantID
	if err := s.store.UpsertMembership(ctx, m, entry); err != nil {
		return nil, err
	}
	s.recorder.Observe(ctx, entry)
	s.invalidate(ctx, userID, tenantID)
	return m, nil
}

// Get returns the membership for a (user, tenant) pair.
func (s *MembershipService) Get(ctx context.Context, userID, tenantID string) (*membership.Membership, error) {
	return s.store.GetMembership(ctx, userID, tenantID)
}

// ListByTenant returns all memberships of a tenant.
func (s *MembershipService) ListByTenant(ctx context.Context, tenantID string) ([]membership.Membership, error) {
	return s.store.ListMembershipsByTenant(ctx, tenantID)
}

// ListByUser returns all of a user's memberships.
func (s *MembershipService) ListByUser(ctx context.Context, userID string) ([]membership.Membership, error) {
	return s.store.ListMembershipsByUser(ctx, userID)
}

// RoleInTenant resolves the user's role within a tenant.
func (s *MembershipService) RoleInTenant(ctx context.Context, userID, tenantID string) (membership.Role, error) {
	a, err := s.resolve(ctx, userID, tenantID)
	if err != nil {
		return "", err
	}
	return a.Role, nil
}

// PermissionsInTenant resolves the user's effective permission set:
// role defaults plus grants minus revocations.
func (s *MembershipService) PermissionsInTenant(ctx context.Context, userID, tenantID string) ([]membership.Permission, error) {
	a, err := s.resolve(ctx, userID, tenantID)
	if err != nil {
		return nil, err
	}
	return a.Permissions, nil
}

// HasPermission reports whether the user's effective permission set contains p.
// Only active memberships confer permissions.
func (s *MembershipService) HasPermission(ctx context.Context, userID, tenantID string, p membership.Permission) (bool, error) {
	a, err := s.resolve(ctx, userID, tenantID)
	if err != nil {
		return false, err
	}
	if a.Status != membership.StatusActive {
		return false, nil
	}
	for _, got := range a.Permissions {
		if got == p {
			return true, nil
		}
	}
	return false, nil
}

// HasAccessToTenant reports whether the user holds an active membership, and
// bumps the membership's activity recency on success.
func (s *MembershipService) HasAccessToTenant(ctx context.Context, userID, tenantID string) (bool, error) {
	a, err := s.resolve(ctx, userID, tenantID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if a.Status != membership.StatusActive {
		return false, nil
	}
	if err := s.store.TouchMembershipActivity(ctx, userID, tenantID); err != nil {
		slog.Debug("touch membership activity failed", "user", userID, "error", err)
	}
	return true, nil
}

// IsSuperAdmin reports whether the user holds an active super_admin
// membership in any tenant.
func (s *MembershipService) IsSuperAdmin(ctx context.Context, userID string) (bool, error) {
	mems, err := s.store.ListMembershipsByUser(ctx, userID)
	if err != nil {
		return false, err
	}
	for i := range mems {
		if mems[i].Role == membership.RoleSuperAdmin && mems[i].Status == membership.StatusActive {
			return true, nil
		}
	}
	return false, nil
}

func (s *MembershipService) resolve(ctx context.Context, userID, tenantID string) (*cachedAccess, error) {
	key := cacheKey(userID, tenantID)
	if s.cache != nil {
		if data, ok, err := s.cache.Get(ctx, key); err == nil && ok {
			var a cachedAccess
			if err := json.Unmarshal(data, &a); err == nil {
				return &a, nil
			}
		}
	}

	m, err := s.store.GetMembership(ctx, userID, tenantID)
	if err != nil {
		return nil, err
	}
	a := &cachedAccess{Role: m.Role, Status: m.Status, Permissions: m.Permissions()}

	// A fresh resolve means the user is acting in the tenant right now. The
	// cache TTL bounds the write rate to one bump per window.
	s.TouchActivity(ctx, userID, tenantID)

	if s.cache != nil {
		if data, err := json.Marshal(a); err == nil {
			if err := s.cache.Set(ctx, key, data, s.cacheTTL); err != nil {
				slog.Debug("membership cache set failed", "error", err)
			}
		}
	}
	return a, nil
}

// TouchActivity bumps the membership's last-active marker. Best effort and
// untracked: recency is telemetry, not an audited state change.
func (s *MembershipService) TouchActivity(ctx context.Context, userID, tenantID string) {
	if err := s.store.TouchMembershipActivity(ctx, userID, tenantID); err != nil {
		slog.Debug("membership activity touch failed", "error", err)
	}
}

func (s *MembershipService) invalidate(ctx context.Context, userID, tenantID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, cacheKey(userID, tenantID)); err != nil {
		slog.Debug("membership cache invalidation failed", "error", err)
	}
}

func cacheKey(userID, tenantID string) string {
	return "membership:" + tenantID + ":" + userID
}

func snapshotMembership(m *membership.Membership) map[string]any {
	return map[string]any{
		"user_id":   m.UserID,
		"tenant_id": m.TenantID,
		"role":      string(m.Role),
		"status":    string(m.Status),
		"grants":    fmt.Sprintf("%v", m.Grants),
	}
}

func appendUnique(list []membership.Permission, p membership.Permission) []membership.Permission {
	for _, got := range list {
		if got == p {
			return list
		}
	}
	return append(list, p)
}

func removePermission(list []membership.Permission, p membership.Permission) []membership.Permission {
	out := list[:0]
	for _, got := range list {
		if got != p {
			out = append(out, got)
		}
	}
	return out
}
