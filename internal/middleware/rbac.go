package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/opencampus/tenantcore/internal/domain"
	"github.com/opencampus/tenantcore/internal/domain/membership"
	"github.com/opencampus/tenantcore/internal/domain/tenant"
	"github.com/opencampus/tenantcore/internal/logger"
	"github.com/opencampus/tenantcore/internal/tenantctx"
)

// AccessResolver answers role and permission questions for an actor within a
// tenant. The membership service implements it; tests use a stub.
type AccessResolver interface {
	RoleInTenant(ctx context.Context, userID, tenantID string) (membership.Role, error)
	HasPermission(ctx context.Context, userID, tenantID string, p membership.Permission) (bool, error)
	IsSuperAdmin(ctx context.Context, userID string) (bool, error)
}

// RequireRole restricts access to actors whose role in the current tenant has
// authority over minRole. It runs after the tenant resolver and Actor
// middleware.
func RequireRole(res AccessResolver, minRole membership.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, t, ok := actorAndTenant(w, r)
			if !ok {
				return
			}

			role, err := res.RoleInTenant(r.Context(), actor, t.ID)
			if err != nil {
				denyOnErr(w, err)
				return
			}
			if !role.HasAuthorityOver(minRole) {
				http.Error(w, `{"error":"forbidden"}`, http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequirePermission restricts access to actors holding the given effective
// permission in the current tenant.
func RequirePermission(res AccessResolver, p membership.Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, t, ok := actorAndTenant(w, r)
			if !ok {
				return
			}

			allowed, err := res.HasPermission(r.Context(), actor, t.ID, p)
			if err != nil {
				denyOnErr(w, err)
				return
			}
			if !allowed {
				http.Error(w, `{"error":"forbidden"}`, http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireSuperAdmin gates cross-tenant operations. On success it marks the
// request context for privileged all-tenants access under the actor's id; the
// isolation gate audits the access itself.
func RequireSuperAdmin(res AccessResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor := logger.Actor(r.Context())
			if actor == "" {
				http.Error(w, `{"error":"authorization required"}`, http.StatusUnauthorized)
				return
			}

			ok, err := res.IsSuperAdmin(r.Context(), actor)
			if err != nil {
				denyOnErr(w, err)
				return
			}
			if !ok {
				http.Error(w, `{"error":"forbidden"}`, http.StatusForbidden)
				return
			}

			ctx := tenantctx.WithAllTenants(r.Context(), actor)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func actorAndTenant(w http.ResponseWriter, r *http.Request) (actor string, t *tenant.Tenant, ok bool) {
	actor = logger.Actor(r.Context())
	if actor == "" {
		http.Error(w, `{"error":"authorization required"}`, http.StatusUnauthorized)
		return "", nil, false
	}
	t, ok = tenantctx.FromContext(r.Context())
	if !ok {
		http.Error(w, `{"error":"tenant context required"}`, http.StatusBadRequest)
		return "", nil, false
	}
	return actor, t, true
}

func denyOnErr(w http.ResponseWriter, err error) {
	if errors.Is(err, domain.ErrNotFound) {
		http.Error(w, `{"error":"no membership in tenant"}`, http.StatusForbidden)
		return
	}
	http.Error(w, `{"error":"authorization check failed"}`, http.StatusInternalServerError)
}
