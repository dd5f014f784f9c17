// Package tenantctx carries the resolved tenant for one logical unit of work
// (request, job execution, CLI invocation) through context.Context.
//
// There is deliberately no process-wide "current tenant" and no default
// fallback: a tenant-scoped operation with no tenant in its context fails with
// domain.ErrTenantContextMissing before any partition is touched. The only
// escape hatch is the explicit all-tenants mode, which is never the default
// and is audit-logged as a privileged operation at the isolation gate.
package tenantctx

import (
	"context"
	"fmt"

	"github.com/opencampus/tenantcore/internal/domain"
	"github.com/opencampus/tenantcore/internal/domain/tenant"
)

type tenantKey struct{}

type allTenantsKey struct{}

// WithTenant returns a context scoped to the given tenant.
func WithTenant(ctx context.Context, t *tenant.Tenant) context.Context {
	return context.WithValue(ctx, tenantKey{}, t)
}

// FromContext returns the tenant stored in ctx, if any.
func FromContext(ctx context.Context) (*tenant.Tenant, bool) {
	t, ok := ctx.Value(tenantKey{}).(*tenant.Tenant)
	return t, ok && t != nil
}

// HasTenant reports whether ctx carries a resolved tenant.
func HasTenant(ctx context.Context) bool {
	_, ok := FromContext(ctx)
	return ok
}

// Require returns the tenant in ctx or domain.ErrTenantContextMissing.
func Require(ctx context.Context) (*tenant.Tenant, error) {
	t, ok := FromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("tenant-scoped operation without resolved tenant: %w", domain.ErrTenantContextMissing)
	}
	return t, nil
}

// WithAllTenants marks ctx for privileged cross-tenant access by the given
// actor. A per-tenant context, if present, still wins for partition routing;
// this marker only authorizes operations that explicitly span partitions.
func WithAllTenants(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, allTenantsKey{}, actorID)
}

// AllTenants reports whether ctx carries the privileged all-tenants marker and
// returns the actor that requested it.
func AllTenants(ctx context.Context) (actorID string, ok bool) {
	actorID, ok = ctx.Value(allTenantsKey{}).(string)
	return actorID, ok
}
