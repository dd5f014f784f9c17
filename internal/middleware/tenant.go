package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/opencampus/tenantcore/internal/domain"
	"github.com/opencampus/tenantcore/internal/domain/tenant"
	"github.com/opencampus/tenantcore/internal/logger"
	"github.com/opencampus/tenantcore/internal/tenantctx"
)

const (
	headerTenant  = "X-Tenant"
	headerActorID = "X-Actor-ID"
)

// tenantLookup is the slice of the store the resolver needs.
type tenantLookup interface {
	GetTenant(ctx context.Context, id string) (*tenant.Tenant, error)
	GetTenantBySlug(ctx context.Context, slug string) (*tenant.Tenant, error)
}

// TenantResolver resolves the X-Tenant header (slug or UUID) to a tenant and
// scopes the request context to it. There is deliberately no fallback tenant:
// tenant-scoped routes without a resolvable tenant are rejected before any
// handler runs.
type TenantResolver struct {
	store tenantLookup
}

// NewTenantResolver creates a resolver backed by the given store.
func NewTenantResolver(store tenantLookup) *TenantResolver {
	return &TenantResolver{store: store}
}

// Require resolves the tenant or rejects the request. An absent header is a
// 400, an unknown tenant a 404, and a suspended or archived tenant a 403.
func (tr *TenantResolver) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(headerTenant)
		if key == "" {
			http.Error(w, `{"error":"tenant header required"}`, http.StatusBadRequest)
			return
		}

		t, err := tr.lookup(r.Context(), key)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				http.Error(w, `{"error":"unknown tenant"}`, http.StatusNotFound)
				return
			}
			http.Error(w, `{"error":"tenant resolution failed"}`, http.StatusInternalServerError)
			return
		}
		if !t.Active() {
			http.Error(w, `{"error":"tenant is not active"}`, http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r.WithContext(tenantctx.WithTenant(r.Context(), t)))
	})
}

// lookup tries slug first, then UUID. Slugs are the common path for API
// clients; UUIDs come from internal tooling.
func (tr *TenantResolver) lookup(ctx context.Context, key string) (*tenant.Tenant, error) {
	if tenant.SlugPattern.MatchString(key) {
		t, err := tr.store.GetTenantBySlug(ctx, key)
		if err == nil || !errors.Is(err, domain.ErrNotFound) {
			return t, err
		}
	}
	return tr.store.GetTenant(ctx, key)
}

// Actor stores the actor id from the X-Actor-ID header in the request context
// for audit attribution. The header is trusted as-is: this service expects to
// run behind an authenticating perimeter (gateway or reverse proxy) that
// verifies the session, strips any client-supplied X-Actor-ID, and sets its
// own. Exposing the service directly lets callers attribute actions to
// arbitrary actors. Requests without the header proceed as system/anonymous
// actions; role enforcement is RBAC's job, not this middleware's.
func Actor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := r.Header.Get(headerActorID); id != "" {
			r = r.WithContext(logger.WithActor(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}
