package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/opencampus/tenantcore/internal/domain"
	"github.com/opencampus/tenantcore/internal/domain/audit"
	"github.com/opencampus/tenantcore/internal/domain/tenant"
	"github.com/opencampus/tenantcore/internal/tenantctx"
)

// connPool is the subset of pgxpool.Pool the gate needs. Tests substitute a
// spy to prove that no connection is acquired when resolution fails.
type connPool interface {
	Acquire(ctx context.Context) (*pgxpool.Conn, error)
}

// schemaPattern constrains partition schema names. Schema names derive from
// validated slugs, but the gate re-checks at the boundary since it is the one
// place that interpolates an identifier into SQL.
var schemaPattern = regexp.MustCompile(`^t_[a-z0-9_]{1,50}$`)

// AuditHook receives security-relevant gate events (privileged all-tenants
// access, attempted isolation breaches) for recording in the audit trail.
type AuditHook func(ctx context.Context, op audit.Operation, actorID, description string)

// Gate is the schema isolation gate: the sole arbiter of which physical
// partition an operation touches. Every tenant-partition access acquires its
// connection here; no other component computes a schema name.
type Gate struct {
	pool connPool
	hook AuditHook
}

// NewGate creates a Gate over the given connection pool.
func NewGate(pool connPool) *Gate {
	return &Gate{pool: pool}
}

// SetAuditHook wires the gate to the audit recorder. Set once at startup,
// before the gate serves traffic.
func (g *Gate) SetAuditHook(h AuditHook) { g.hook = h }

// Partition resolves the physical schema for the tenant in ctx. It touches no
// connection: with no tenant resolved it fails with ErrTenantContextMissing
// before any partition access.
func (g *Gate) Partition(ctx context.Context) (string, error) {
	t, ok := tenantctx.FromContext(ctx)
	if !ok {
		return "", fmt.Errorf("isolation gate: %w", domain.ErrTenantContextMissing)
	}
	if !schemaPattern.MatchString(t.SchemaName) {
		g.breach(ctx, fmt.Sprintf("tenant %s has malformed schema name %q", t.ID, t.SchemaName))
		return "", fmt.Errorf("isolation gate: schema %q: %w", t.SchemaName, domain.ErrTenantIsolationViolation)
	}
	return t.SchemaName, nil
}

// VerifySchema rejects a caller-supplied schema hint that does not match the
// partition of the tenant in ctx. Any mismatch is recorded as a critical
// security event.
func (g *Gate) VerifySchema(ctx context.Context, schema string) error {
	want, err := g.Partition(ctx)
	if err != nil {
		return err
	}
	if schema != want {
		g.breach(ctx, fmt.Sprintf("operation targeted schema %q under tenant partition %q", schema, want))
		return fmt.Errorf("isolation gate: schema %q does not match partition %q: %w", schema, want, domain.ErrTenantIsolationViolation)
	}
	return nil
}

// Acquire returns a pooled connection pinned to the current tenant partition
// via search_path. Callers must Release it.
func (g *Gate) Acquire(ctx context.Context) (*TenantConn, error) {
	schema, err := g.Partition(ctx)
	if err != nil {
		return nil, err
	}

	conn, err := g.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire partition conn: %w", err)
	}

	setPath := "SET search_path TO " + pgx.Identifier{schema}.Sanitize() + ", public"
	if _, err := conn.Exec(ctx, setPath); err != nil {
		conn.Release()
		return nil, fmt.Errorf("pin search_path to %s: %w", schema, err)
	}

	return &TenantConn{conn: conn, Schema: schema}, nil
}

// ForEachTenant runs fn once per given tenant, each call under that tenant's
// context. It requires the explicit all-tenants mode; the privileged access
// itself is audit-logged, and an attempt without the mode is recorded as an
// isolation breach and rejected. Cancellation is honored between tenants.
func (g *Gate) ForEachTenant(ctx context.Context, tenants []tenant.Tenant, fn func(ctx context.Context, t *tenant.Tenant) error) error {
	actor, ok := tenantctx.AllTenants(ctx)
	if !ok {
		g.breach(ctx, "cross-tenant scan attempted without all-tenants mode")
		return fmt.Errorf("isolation gate: cross-tenant scan: %w", domain.ErrTenantIsolationViolation)
	}
	if g.hook != nil {
		g.hook(ctx, audit.OpPrivilegedAccess, actor, fmt.Sprintf("all-tenants scan over %d tenants", len(tenants)))
	}

	for i := range tenants {
		if err := ctx.Err(); err != nil {
			return err
		}
		t := &tenants[i]
		if !t.Active() {
			continue
		}
		if err := fn(tenantctx.WithTenant(ctx, t), t); err != nil {
			return fmt.Errorf("tenant %s: %w", t.Slug, err)
		}
	}
	return nil
}

// ProvisionPartition creates the tenant's schema and its partition tables
// from the embedded DDL template. The schema name is immutable once this
// succeeds; re-provisioning an existing schema is rejected by CREATE SCHEMA.
func (g *Gate) ProvisionPartition(ctx context.Context, t *tenant.Tenant) error {
	if !schemaPattern.MatchString(t.SchemaName) {
		return fmt.Errorf("provision: schema %q: %w", t.SchemaName, domain.ErrValidation)
	}

	conn, err := g.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("provision: acquire conn: %w", err)
	}
	defer func() {
		_, _ = conn.Exec(context.Background(), "SET search_path TO public")
		conn.Release()
	}()

	ident := pgx.Identifier{t.SchemaName}.Sanitize()
	if _, err := conn.Exec(ctx, "CREATE SCHEMA "+ident); err != nil {
		return fmt.Errorf("provision: create schema %s: %w", t.SchemaName, err)
	}
	if _, err := conn.Exec(ctx, "SET search_path TO "+ident); err != nil {
		return fmt.Errorf("provision: pin search_path: %w", err)
	}
	if _, err := conn.Exec(ctx, tenantSchemaDDL); err != nil {
		return fmt.Errorf("provision: partition DDL for %s: %w", t.SchemaName, err)
	}

	slog.Info("tenant partition provisioned", "tenant", t.Slug, "schema", t.SchemaName)
	return nil
}

// breach reports an attempted isolation violation to the audit trail.
func (g *Gate) breach(ctx context.Context, description string) {
	slog.Error("tenant isolation breach attempt", "detail", description)
	if g.hook != nil {
		actor, _ := tenantctx.AllTenants(ctx)
		g.hook(ctx, audit.OpIsolationBreach, actor, description)
	}
}

// TenantConn is a pooled connection pinned to one tenant partition.
type TenantConn struct {
	conn   *pgxpool.Conn
	Schema string
}

// Exec runs a statement against the partition.
func (c *TenantConn) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return c.conn.Exec(ctx, sql, args...)
}

// Query runs a query against the partition.
func (c *TenantConn) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return c.conn.Query(ctx, sql, args...)
}

// QueryRow runs a single-row query against the partition.
func (c *TenantConn) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return c.conn.QueryRow(ctx, sql, args...)
}

// Begin starts a transaction on the pinned connection. The session
// search_path applies inside the transaction.
func (c *TenantConn) Begin(ctx context.Context) (pgx.Tx, error) {
	return c.conn.Begin(ctx)
}

// Release resets the search_path and returns the connection to the pool.
// The reset keeps partition pinning from leaking into unrelated pool users.
func (c *TenantConn) Release() {
	_, _ = c.conn.Exec(context.Background(), "SET search_path TO public")
	c.conn.Release()
}
