package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/opencampus/tenantcore/internal/config"
	"github.com/opencampus/tenantcore/internal/domain"
	"github.com/opencampus/tenantcore/internal/domain/membership"
	"github.com/opencampus/tenantcore/internal/domain/sync"
	"github.com/opencampus/tenantcore/internal/domain/tenant"
	"github.com/opencampus/tenantcore/internal/port/broadcast"
	"github.com/opencampus/tenantcore/internal/port/messagequeue"
)

func newSyncFixture() (*SyncService, *mockStore, *mockQueue, *mockBroadcaster) {
	store := newMockStore()
	queue := &mockQueue{}
	bc := &mockBroadcaster{}
	svc := NewSyncService(store, queue, NewAuditRecorder(&mockAuditStore{}, nil, nil), bc, config.Sync{})
	return svc, store, queue, bc
}

func seedTenants(t *testing.T, store *mockStore, tenants ...*tenant.Tenant) {
	t.Helper()
	for _, tn := range tenants {
		if err := store.CreateTenant(context.Background(), tn, nil); err != nil {
			t.Fatalf("seed tenant %s: %v", tn.Slug, err)
		}
	}
}

func catalogRequest(tenantID string) sync.CreateRequest {
	return sync.CreateRequest{
		Type:        sync.TypeCourseCatalog,
		Operation:   "reconcile",
		SourceTable: "global_courses",
		TargetTable: "course_offerings",
		TenantID:    tenantID,
		Direction:   sync.DirectionGlobalToTenant,
	}
}

func TestCreateDispatchesToTypedSubject(t *testing.T) {
	svc, store, queue, _ := newSyncFixture()

	u, err := svc.Create(context.Background(), catalogRequest("t-1"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if u.Status != sync.StatusPending {
		t.Errorf("status = %s, want pending", u.Status)
	}
	if u.MaxRetries != sync.DefaultMaxRetries {
		t.Errorf("max retries = %d, want default %d", u.MaxRetries, sync.DefaultMaxRetries)
	}
	if _, err := store.GetSyncUnit(context.Background(), u.ID); err != nil {
		t.Fatalf("unit not persisted: %v", err)
	}

	msgs := queue.publishedTo("sync.dispatch.course_catalog")
	if len(msgs) != 1 {
		t.Fatalf("dispatched %d messages, want 1", len(msgs))
	}
	var p messagequeue.SyncDispatchPayload
	if err := json.Unmarshal(msgs[0].data, &p); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if p.UnitID != u.ID || p.TenantID != "t-1" {
		t.Errorf("payload = %+v", p)
	}
}

func TestCreateKeepsUnitPendingWhenDispatchFails(t *testing.T) {
	svc, store, queue, _ := newSyncFixture()
	queue.failNext = true

	u, err := svc.Create(context.Background(), catalogRequest("t-1"))
	if err != nil {
		t.Fatalf("create must not fail on dispatch: %v", err)
	}
	got, err := store.GetSyncUnit(context.Background(), u.ID)
	if err != nil {
		t.Fatalf("unit not persisted: %v", err)
	}
	if got.Status != sync.StatusPending {
		t.Errorf("status = %s, want pending for a later sweep", got.Status)
	}
}

func TestCreateRejectsUnknownType(t *testing.T) {
	svc, _, queue, _ := newSyncFixture()

	_, err := svc.Create(context.Background(), sync.CreateRequest{
		Type: "gradebook", SourceTable: "a", TargetTable: "b",
	})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
	if len(queue.published) != 0 {
		t.Error("invalid request was dispatched")
	}
}

func TestCreateBatchCoversActiveTenantsOnly(t *testing.T) {
	svc, store, _, _ := newSyncFixture()
	seedTenants(t, store,
		&tenant.Tenant{Name: "One", Slug: "one", SchemaName: "t_one", Status: tenant.StatusActive},
		&tenant.Tenant{Name: "Two", Slug: "two", SchemaName: "t_two", Status: tenant.StatusSuspended},
		&tenant.Tenant{Name: "Three", Slug: "three", SchemaName: "t_three", Status: tenant.StatusActive},
	)

	batchID, units, err := svc.CreateBatch(context.Background(), sync.TypeCourseCatalog)
	if err != nil {
		t.Fatalf("create batch: %v", err)
	}
	if len(units) != 2 {
		t.Fatalf("units = %d, want 2 (suspended tenant skipped)", len(units))
	}
	for _, u := range units {
		if u.BatchID != batchID {
			t.Errorf("unit %s batch = %q, want %q", u.ID, u.BatchID, batchID)
		}
	}

	bs, err := svc.BatchStatus(context.Background(), batchID)
	if err != nil {
		t.Fatalf("batch status: %v", err)
	}
	if bs.Total != 2 || bs.Status != sync.StatusPending {
		t.Errorf("batch status = %+v, want 2 pending", bs)
	}
}

func TestCreateBatchWithoutActiveTenants(t *testing.T) {
	svc, store, _, _ := newSyncFixture()
	seedTenants(t, store,
		&tenant.Tenant{Name: "Two", Slug: "two", SchemaName: "t_two", Status: tenant.StatusSuspended},
	)

	if _, _, err := svc.CreateBatch(context.Background(), sync.TypeCourseCatalog); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

// failUnit drives a unit into the failed state through its state machine.
func failUnit(t *testing.T, store *mockStore, id string) {
	t.Helper()
	ctx := context.Background()
	u, err := store.GetSyncUnit(ctx, id)
	if err != nil {
		t.Fatalf("load unit: %v", err)
	}
	if err := u.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := u.Fail("partition unreachable", sync.Stats{}); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if err := store.UpdateSyncUnit(ctx, u); err != nil {
		t.Fatalf("update: %v", err)
	}
}

func TestRetryConsumesBudgetThenExhausts(t *testing.T) {
	svc, store, queue, _ := newSyncFixture()
	ctx := context.Background()

	req := catalogRequest("t-1")
	req.MaxRetries = 1
	created, err := svc.Create(ctx, req)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	failUnit(t, store, created.ID)
	u, err := svc.Retry(ctx, created.ID)
	if err != nil {
		t.Fatalf("first retry: %v", err)
	}
	if u.Status != sync.StatusRetrying || u.RetryCount != 1 {
		t.Errorf("after retry: status=%s count=%d", u.Status, u.RetryCount)
	}
	if msgs := queue.publishedTo("sync.dispatch."); len(msgs) != 2 {
		t.Errorf("dispatches = %d, want 2 (create + retry)", len(msgs))
	}

	failUnit(t, store, created.ID)
	if _, err := svc.Retry(ctx, created.ID); !errors.Is(err, domain.ErrRetryExhausted) {
		t.Fatalf("err = %v, want ErrRetryExhausted", err)
	}

	got, _ := store.GetSyncUnit(ctx, created.ID)
	if got.Status != sync.StatusFailed || got.RetryCount != 1 {
		t.Errorf("exhausted retry mutated state: status=%s count=%d", got.Status, got.RetryCount)
	}
}

func TestCancelPendingUnit(t *testing.T) {
	svc, store, _, bc := newSyncFixture()
	ctx := context.Background()

	created, err := svc.Create(ctx, catalogRequest("t-1"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Cancel(ctx, created.ID, "operator abort"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	got, _ := store.GetSyncUnit(ctx, created.ID)
	if got.Status != sync.StatusCancelled || got.ErrorMessage != "operator abort" {
		t.Errorf("unit = %s/%q", got.Status, got.ErrorMessage)
	}

	found := false
	for _, ev := range bc.events {
		if ev == broadcast.EventSyncStatus {
			found = true
		}
	}
	if !found {
		t.Error("cancellation was not broadcast")
	}
}

func TestCancelRunningUnitSignalsCooperatively(t *testing.T) {
	svc, store, queue, _ := newSyncFixture()
	ctx := context.Background()

	created, err := svc.Create(ctx, catalogRequest("t-1"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	u, _ := store.GetSyncUnit(ctx, created.ID)
	if err := u.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := store.UpdateSyncUnit(ctx, u); err != nil {
		t.Fatalf("update: %v", err)
	}

	if _, err := svc.Cancel(ctx, created.ID, "too slow"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	// The unit itself is untouched; the worker observes the request at its
	// next record boundary.
	got, _ := store.GetSyncUnit(ctx, created.ID)
	if got.Status != sync.StatusInProgress {
		t.Errorf("status = %s, want in_progress until the worker yields", got.Status)
	}
	if msgs := queue.publishedTo(messagequeue.SubjectSyncCancel); len(msgs) != 1 {
		t.Errorf("cancel messages = %d, want 1", len(msgs))
	}
	if reason, ok := svc.cancelReason(created.ID); !ok || reason != "too slow" {
		t.Errorf("cancel registry = %q/%v", reason, ok)
	}
}

func TestCleanupPurgesOnlyTerminalUnits(t *testing.T) {
	svc, store, _, _ := newSyncFixture()
	ctx := context.Background()

	pending, err := svc.Create(ctx, catalogRequest("t-1"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	done, err := svc.Create(ctx, catalogRequest("t-1"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	u, _ := store.GetSyncUnit(ctx, done.ID)
	if err := u.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := u.Complete(sync.Stats{}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := store.UpdateSyncUnit(ctx, u); err != nil {
		t.Fatalf("update: %v", err)
	}

	// Retention of -1 day puts the cutoff in the future, so every terminal
	// row is stale.
	n, err := svc.Cleanup(ctx, -1)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if n != 1 {
		t.Errorf("purged = %d, want 1", n)
	}
	if _, err := store.GetSyncUnit(ctx, pending.ID); err != nil {
		t.Error("pending unit was purged")
	}
	if _, err := store.GetSyncUnit(ctx, done.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Error("completed unit survived cleanup")
	}
}

func TestSyncUserAcrossTenantsQueuesPerMembership(t *testing.T) {
	svc, store, queue, _ := newSyncFixture()
	ctx := context.Background()

	for _, tid := range []string{"t-1", "t-2"} {
		m := &membership.Membership{UserID: "u-1", TenantID: tid, Role: membership.RoleStudent, Status: membership.StatusActive}
		if err := store.UpsertMembership(ctx, m, nil); err != nil {
			t.Fatalf("seed membership: %v", err)
		}
	}

	if err := svc.SyncUserAcrossTenants(ctx, "u-1"); err != nil {
		t.Fatalf("fan-out: %v", err)
	}
	if msgs := queue.publishedTo("sync.dispatch.user_directory"); len(msgs) != 2 {
		t.Errorf("dispatches = %d, want one per membership", len(msgs))
	}
}
