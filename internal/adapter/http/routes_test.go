package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/opencampus/tenantcore/internal/domain"
	"github.com/opencampus/tenantcore/internal/domain/membership"
	"github.com/opencampus/tenantcore/internal/domain/tenant"
	"github.com/opencampus/tenantcore/internal/middleware"
)

// stubAccess answers role and permission questions from fixed maps.
type stubAccess struct {
	superAdmins map[string]bool
	roles       map[string]membership.Role
	perms       map[string]bool
}

func (s *stubAccess) RoleInTenant(_ context.Context, userID, _ string) (membership.Role, error) {
	role, ok := s.roles[userID]
	if !ok {
		return "", domain.ErrNotFound
	}
	return role, nil
}

func (s *stubAccess) HasPermission(_ context.Context, userID, _ string, _ membership.Permission) (bool, error) {
	return s.perms[userID], nil
}

func (s *stubAccess) IsSuperAdmin(_ context.Context, userID string) (bool, error) {
	return s.superAdmins[userID], nil
}

// stubTenantLookup resolves tenants from a fixed map keyed by slug and id.
type stubTenantLookup struct {
	tenants map[string]*tenant.Tenant
}

func (s *stubTenantLookup) GetTenant(_ context.Context, id string) (*tenant.Tenant, error) {
	if t, ok := s.tenants[id]; ok {
		return t, nil
	}
	return nil, domain.ErrNotFound
}

func (s *stubTenantLookup) GetTenantBySlug(_ context.Context, slug string) (*tenant.Tenant, error) {
	if t, ok := s.tenants[slug]; ok {
		return t, nil
	}
	return nil, domain.ErrNotFound
}

func newTestRouter(t *testing.T) chi.Router {
	t.Helper()

	access := &stubAccess{
		superAdmins: map[string]bool{"root-1": true, "student-1": false},
		roles:       map[string]membership.Role{"student-1": membership.RoleStudent},
		perms:       map[string]bool{},
	}
	lookup := &stubTenantLookup{tenants: map[string]*tenant.Tenant{
		"acme-u": {ID: "t-1", Slug: "acme-u", SchemaName: "t_acme_u", Status: tenant.StatusActive},
		"frozen": {ID: "t-2", Slug: "frozen", SchemaName: "t_frozen", Status: tenant.StatusSuspended},
	}}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Actor)
	MountRoutes(r, &Handlers{}, access, middleware.NewTenantResolver(lookup))
	return r
}

func do(t *testing.T, r chi.Router, method, path string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestGlobalAdminRoutesRequireActor(t *testing.T) {
	r := newTestRouter(t)

	w := do(t, r, http.MethodGet, "/api/v1/tenants", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestGlobalAdminRoutesRejectNonSuperAdmin(t *testing.T) {
	r := newTestRouter(t)

	w := do(t, r, http.MethodGet, "/api/v1/audit", map[string]string{"X-Actor-ID": "student-1"})
	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", w.Code)
	}
}

func TestTenantRoutesRequireTenantHeader(t *testing.T) {
	r := newTestRouter(t)

	w := do(t, r, http.MethodGet, "/api/v1/tenant", map[string]string{"X-Actor-ID": "student-1"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestTenantRoutesRejectUnknownTenant(t *testing.T) {
	r := newTestRouter(t)

	w := do(t, r, http.MethodGet, "/api/v1/tenant", map[string]string{
		"X-Actor-ID": "student-1",
		"X-Tenant":   "nowhere",
	})
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestTenantRoutesRejectSuspendedTenant(t *testing.T) {
	r := newTestRouter(t)

	w := do(t, r, http.MethodGet, "/api/v1/tenant", map[string]string{
		"X-Actor-ID": "student-1",
		"X-Tenant":   "frozen",
	})
	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", w.Code)
	}
}

func TestCurrentTenantResolvesBySlug(t *testing.T) {
	r := newTestRouter(t)

	w := do(t, r, http.MethodGet, "/api/v1/tenant", map[string]string{
		"X-Actor-ID": "student-1",
		"X-Tenant":   "acme-u",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}

	var got tenant.Tenant
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.ID != "t-1" || got.SchemaName != "t_acme_u" {
		t.Errorf("resolved tenant = %+v", got)
	}
}

func TestMemberRoutesRequireAdminRole(t *testing.T) {
	r := newTestRouter(t)

	w := do(t, r, http.MethodGet, "/api/v1/members", map[string]string{
		"X-Actor-ID": "student-1",
		"X-Tenant":   "acme-u",
	})
	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", w.Code)
	}
}

func TestOfferingRoutesDenyWithoutMembership(t *testing.T) {
	r := newTestRouter(t)

	// outsider-9 has no membership entry at all.
	w := do(t, r, http.MethodGet, "/api/v1/offerings", map[string]string{
		"X-Actor-ID": "outsider-9",
		"X-Tenant":   "acme-u",
	})
	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", w.Code)
	}
}
