package service

import (
	"context"
	"errors"
	"testing"

	"github.com/opencampus/tenantcore/internal/domain/audit"
	"github.com/opencampus/tenantcore/internal/domain/tenant"
)

type stubProvisioner struct {
	fail        bool
	provisioned []string
}

func (p *stubProvisioner) ProvisionPartition(_ context.Context, t *tenant.Tenant) error {
	if p.fail {
		return errors.New("schema ddl failed")
	}
	p.provisioned = append(p.provisioned, t.SchemaName)
	return nil
}

func TestProvisionCreatesActiveTenantWithPartition(t *testing.T) {
	store := newMockStore()
	prov := &stubProvisioner{}
	svc := NewTenantService(store, prov, NewAuditRecorder(&mockAuditStore{}, nil, nil))

	got, err := svc.Provision(context.Background(), tenant.CreateRequest{Name: "Acme University", Slug: "acme-u"})
	if err != nil {
		t.Fatalf("provision: %v", err)
	}
	if got.SchemaName != "t_acme_u" {
		t.Errorf("schema = %q, want t_acme_u", got.SchemaName)
	}
	if !got.Active() {
		t.Errorf("status = %s, want active", got.Status)
	}
	if len(prov.provisioned) != 1 || prov.provisioned[0] != "t_acme_u" {
		t.Errorf("provisioned schemas = %v", prov.provisioned)
	}

	if len(store.entries) != 1 {
		t.Fatalf("audit entries = %d, want 1", len(store.entries))
	}
	e := store.entries[0]
	if e.Entity != audit.EntityTenant || e.Operation != audit.OpCreate {
		t.Errorf("audited as %s/%s, want tenant/create", e.Entity, e.Operation)
	}
	if e.NewValues["schema_name"] != "t_acme_u" {
		t.Errorf("audit snapshot schema = %v", e.NewValues["schema_name"])
	}
}

func TestProvisionSuspendsTenantWhenPartitionDDLFails(t *testing.T) {
	store := newMockStore()
	svc := NewTenantService(store, &stubProvisioner{fail: true}, NewAuditRecorder(&mockAuditStore{}, nil, nil))

	_, err := svc.Provision(context.Background(), tenant.CreateRequest{Name: "Acme", Slug: "acme"})
	if err == nil {
		t.Fatal("expected provisioning error")
	}

	got, err := store.GetTenantBySlug(context.Background(), "acme")
	if err != nil {
		t.Fatalf("tenant row missing after failed provisioning: %v", err)
	}
	if got.Status != tenant.StatusSuspended {
		t.Errorf("status = %s, want suspended", got.Status)
	}
}

func TestProvisionRejectsInvalidSlug(t *testing.T) {
	store := newMockStore()
	svc := NewTenantService(store, &stubProvisioner{}, NewAuditRecorder(&mockAuditStore{}, nil, nil))

	if _, err := svc.Provision(context.Background(), tenant.CreateRequest{Name: "Bad", Slug: "Robert'); DROP SCHEMA"}); err == nil {
		t.Fatal("expected validation error")
	}
	if len(store.tenants) != 0 {
		t.Errorf("tenant row created for invalid slug")
	}
}

func TestUpdateAuditsBeforeAndAfter(t *testing.T) {
	store := newMockStore()
	svc := NewTenantService(store, &stubProvisioner{}, NewAuditRecorder(&mockAuditStore{}, nil, nil))

	created, err := svc.Provision(context.Background(), tenant.CreateRequest{Name: "Acme", Slug: "acme"})
	if err != nil {
		t.Fatalf("provision: %v", err)
	}

	if _, err := svc.Update(context.Background(), created.ID, tenant.UpdateRequest{Status: tenant.StatusSuspended}); err != nil {
		t.Fatalf("update: %v", err)
	}

	e := store.entries[len(store.entries)-1]
	if e.Operation != audit.OpUpdate {
		t.Fatalf("operation = %s, want update", e.Operation)
	}
	if e.OldValues["status"] != "active" || e.NewValues["status"] != "suspended" {
		t.Errorf("snapshots old=%v new=%v", e.OldValues["status"], e.NewValues["status"])
	}
	if got := e.ChangedFields; len(got) != 1 || got[0] != "status" {
		t.Errorf("changed fields = %v, want [status]", got)
	}
}
