package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/opencampus/tenantcore/internal/domain/audit"
	"github.com/opencampus/tenantcore/internal/domain/tenant"
)

const tenantColumns = `id, name, slug, schema_name, status, settings, created_at, updated_at`

func (s *Store) CreateTenant(ctx context.Context, t *tenant.Tenant, entry *audit.Entry) error {
	settings, err := marshalJSON(t.Settings)
	if err != nil {
		return fmt.Errorf("marshal tenant settings: %w", err)
	}
	return s.mutate(ctx, entry, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`INSERT INTO tenants (name, slug, schema_name, status, settings)
			 VALUES ($1, $2, $3, $4, $5)
			 RETURNING id, created_at, updated_at`,
			t.Name, t.Slug, t.SchemaName, t.Status, settings,
		).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
		if err != nil {
			return conflictWrap(err, "create tenant %s", t.Slug)
		}
		if entry != nil {
			entry.RecordID = t.ID
		}
		return nil
	})
}

func (s *Store) GetTenant(ctx context.Context, id string) (*tenant.Tenant, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, id)
	t, err := scanTenant(row)
	if err != nil {
		return nil, notFoundWrap(err, "get tenant %s", id)
	}
	return t, nil
}

func (s *Store) GetTenantBySlug(ctx context.Context, slug string) (*tenant.Tenant, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE slug = $1`, slug)
	t, err := scanTenant(row)
	if err != nil {
		return nil, notFoundWrap(err, "get tenant by slug %s", slug)
	}
	return t, nil
}

func (s *Store) ListTenants(ctx context.Context) ([]tenant.Tenant, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tenantColumns+` FROM tenants ORDER BY slug`)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	defer rows.Close()

	var tenants []tenant.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		tenants = append(tenants, *t)
	}
	return tenants, rows.Err()
}

// UpdateTenant persists name, status, and settings. The slug and schema name
// are immutable and deliberately absent from the UPDATE.
func (s *Store) UpdateTenant(ctx context.Context, t *tenant.Tenant, entry *audit.Entry) error {
	settings, err := marshalJSON(t.Settings)
	if err != nil {
		return fmt.Errorf("marshal tenant settings: %w", err)
	}
	return s.mutate(ctx, entry, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`UPDATE tenants SET name = $2, status = $3, settings = $4, updated_at = now()
			 WHERE id = $1
			 RETURNING updated_at`,
			t.ID, t.Name, t.Status, settings,
		).Scan(&t.UpdatedAt)
		if err != nil {
			return notFoundWrap(err, "update tenant %s", t.ID)
		}
		return nil
	})
}

func scanTenant(row scannable) (*tenant.Tenant, error) {
	var t tenant.Tenant
	var settings []byte
	err := row.Scan(&t.ID, &t.Name, &t.Slug, &t.SchemaName, &t.Status, &settings, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := unmarshalJSON(settings, &t.Settings); err != nil {
		return nil, fmt.Errorf("decode tenant settings: %w", err)
	}
	return &t, nil
}
