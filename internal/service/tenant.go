package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/opencampus/tenantcore/internal/domain/audit"
	"github.com/opencampus/tenantcore/internal/domain/tenant"
	"github.com/opencampus/tenantcore/internal/port/database"
)

// partitionProvisioner creates the physical partition for a new tenant.
// The postgres gate implements it.
type partitionProvisioner interface {
	ProvisionPartition(ctx context.Context, t *tenant.Tenant) error
}

// TenantService handles tenant lifecycle: provisioning the catalog row and
// the physical partition, status changes, and lookups.
type TenantService struct {
	store    database.Store
	gate     partitionProvisioner
	recorder *AuditRecorder
}

// NewTenantService creates a new TenantService.
func NewTenantService(store database.Store, gate partitionProvisioner, recorder *AuditRecorder) *TenantService {
	return &TenantService{store: store, gate: gate, recorder: recorder}
}

// Provision creates the tenant row and its partition schema. The catalog row
// and its audit entry commit together; partition DDL follows, and a DDL
// failure leaves the tenant suspended for operator retry rather than
// half-visible as active.
func (s *TenantService) Provision(ctx context.Context, req tenant.CreateRequest) (*tenant.Tenant, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	t := &tenant.Tenant{
		Name:       req.Name,
		Slug:       req.Slug,
		SchemaName: tenant.SchemaFromSlug(req.Slug),
		Status:     tenant.StatusActive,
	}

	entry := s.recorder.Build(ctx, audit.Change{
		Entity:      audit.EntityTenant,
		Operation:   audit.OpCreate,
		NewValues:   snapshotTenant(t),
		Description: fmt.Sprintf("provisioned tenant %s", t.Slug),
	})
	if err := s.store.CreateTenant(ctx, t, entry); err != nil {
		return nil, err
	}
	s.recorder.Observe(ctx, entry)

	if err := s.gate.ProvisionPartition(ctx, t); err != nil {
		slog.Error("partition provisioning failed", "tenant", t.Slug, "error", err)
		t.Status = tenant.StatusSuspended
		if uerr := s.store.UpdateTenant(ctx, t, nil); uerr != nil {
			slog.Error("suspend after failed provisioning failed", "tenant", t.Slug, "error", uerr)
		}
		return nil, fmt.Errorf("provision partition for %s: %w", t.Slug, err)
	}

	slog.Info("tenant provisioned", "tenant", t.Slug, "schema", t.SchemaName)
	return t, nil
}

// Get returns a tenant by ID.
func (s *TenantService) Get(ctx context.Context, id string) (*tenant.Tenant, error) {
	return s.store.GetTenant(ctx, id)
}

// GetBySlug returns a tenant by slug.
func (s *TenantService) GetBySlug(ctx context.Context, slug string) (*tenant.Tenant, error) {
	return s.store.GetTenantBySlug(ctx, slug)
}

// List returns all tenants.
func (s *TenantService) List(ctx context.Context) ([]tenant.Tenant, error) {
	return s.store.ListTenants(ctx)
}

// Update applies name and status changes. The slug and schema name are
// immutable once provisioned.
func (s *TenantService) Update(ctx context.Context, id string, req tenant.UpdateRequest) (*tenant.Tenant, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	t, err := s.store.GetTenant(ctx, id)
	if err != nil {
		return nil, err
	}

	before := snapshotTenant(t)
	if req.Name != "" {
		t.Name = req.Name
	}
	if req.Status != "" {
		t.Status = req.Status
	}

	entry := s.recorder.Build(ctx, audit.Change{
		Entity:    audit.EntityTenant,
		RecordID:  t.ID,
		Operation: audit.OpUpdate,
		OldValues: before,
		NewValues: snapshotTenant(t),
	})
	if err := s.store.UpdateTenant(ctx, t, entry); err != nil {
		return nil, err
	}
	s.recorder.Observe(ctx, entry)
	return t, nil
}

func snapshotTenant(t *tenant.Tenant) map[string]any {
	return map[string]any{
		"name":        t.Name,
		"slug":        t.Slug,
		"schema_name": t.SchemaName,
		"status":      string(t.Status),
	}
}
