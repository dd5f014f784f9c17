package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	gosync "sync"
	"time"

	"github.com/google/uuid"

	"github.com/opencampus/tenantcore/internal/config"
	"github.com/opencampus/tenantcore/internal/domain"
	"github.com/opencampus/tenantcore/internal/domain/audit"
	"github.com/opencampus/tenantcore/internal/domain/sync"
	"github.com/opencampus/tenantcore/internal/port/broadcast"
	"github.com/opencampus/tenantcore/internal/port/database"
	"github.com/opencampus/tenantcore/internal/port/messagequeue"
)

// SyncService creates and tracks sync units, dispatches them to the worker
// over the queue, and answers batch and unit status queries. Unit execution
// lives in SyncWorker.
type SyncService struct {
	store       database.Store
	queue       messagequeue.Queue
	recorder    *AuditRecorder
	broadcaster broadcast.Broadcaster
	cfg         config.Sync

	mu        gosync.Mutex
	cancelled map[string]string // unit id -> reason, cooperative cancel registry
}

// NewSyncService creates a new SyncService. broadcaster may be nil.
func NewSyncService(store database.Store, queue messagequeue.Queue, recorder *AuditRecorder, b broadcast.Broadcaster, cfg config.Sync) *SyncService {
	return &SyncService{
		store:       store,
		queue:       queue,
		recorder:    recorder,
		broadcaster: b,
		cfg:         cfg,
		cancelled:   make(map[string]string),
	}
}

// Create persists a pending sync unit and dispatches it to the worker.
func (s *SyncService) Create(ctx context.Context, req sync.CreateRequest) (*sync.Unit, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	maxRetries := req.MaxRetries
	if maxRetries == 0 {
		maxRetries = s.cfg.MaxRetries
	}
	if maxRetries == 0 {
		maxRetries = sync.DefaultMaxRetries
	}

	u := &sync.Unit{
		Type:        req.Type,
		Operation:   req.Operation,
		SourceTable: req.SourceTable,
		TargetTable: req.TargetTable,
		TenantID:    req.TenantID,
		Direction:   req.Direction,
		Status:      sync.StatusPending,
		Priority:    req.Priority,
		BatchID:     req.BatchID,
		MaxRetries:  maxRetries,
	}
	if err := s.store.CreateSyncUnit(ctx, u); err != nil {
		return nil, err
	}

	if err := s.dispatch(ctx, u); err != nil {
		// The unit stays pending in the log; a requeue sweep or manual
		// retry picks it up.
		slog.Error("sync dispatch failed", "unit", u.ID, "error", err)
	}

	s.recorder.RecordBestEffort(ctx, audit.Change{
		Entity:      audit.EntitySyncUnit,
		RecordID:    u.ID,
		Operation:   audit.OpSync,
		Description: fmt.Sprintf("%s sync queued for tenant %s", u.Type, u.TenantID),
	})
	return u, nil
}

// CreateBatch creates one unit per active tenant under a shared batch id.
// The batch status is always derived from its members, never stored.
func (s *SyncService) CreateBatch(ctx context.Context, syncType sync.Type) (string, []sync.Unit, error) {
	tenants, err := s.store.ListTenants(ctx)
	if err != nil {
		return "", nil, err
	}

	source, target := tablesFor(syncType)
	batchID := uuid.NewString()
	var units []sync.Unit
	for i := range tenants {
		if !tenants[i].Active() {
			continue
		}
		u, err := s.Create(ctx, sync.CreateRequest{
			Type:        syncType,
			Operation:   "reconcile",
			SourceTable: source,
			TargetTable: target,
			TenantID:    tenants[i].ID,
			Direction:   sync.DirectionGlobalToTenant,
			BatchID:     batchID,
		})
		if err != nil {
			return batchID, units, fmt.Errorf("batch unit for tenant %s: %w", tenants[i].Slug, err)
		}
		units = append(units, *u)
	}
	if len(units) == 0 {
		return "", nil, fmt.Errorf("no active tenants to sync: %w", domain.ErrValidation)
	}
	return batchID, units, nil
}

// BatchStatus derives the aggregate status of a batch from its member units.
func (s *SyncService) BatchStatus(ctx context.Context, batchID string) (*sync.BatchStatus, error) {
	units, err := s.store.ListSyncUnitsByBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if len(units) == 0 {
		return nil, fmt.Errorf("batch %s: %w", batchID, domain.ErrNotFound)
	}
	bs := sync.DeriveBatchStatus(batchID, units)
	return &bs, nil
}

// Get returns one sync unit.
func (s *SyncService) Get(ctx context.Context, id string) (*sync.Unit, error) {
	return s.store.GetSyncUnit(ctx, id)
}

// List returns sync units matching the filter.
func (s *SyncService) List(ctx context.Context, f database.SyncFilter) ([]sync.Unit, error) {
	return s.store.ListSyncUnits(ctx, f)
}

// Retry consumes one retry of a failed unit and re-dispatches it. A spent
// budget or a cancelled unit surfaces domain.ErrRetryExhausted with the unit
// left unchanged.
func (s *SyncService) Retry(ctx context.Context, id string) (*sync.Unit, error) {
	u, err := s.store.GetSyncUnit(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := u.Retry(); err != nil {
		return nil, err
	}
	if err := s.store.UpdateSyncUnit(ctx, u); err != nil {
		return nil, err
	}
	if err := s.dispatch(ctx, u); err != nil {
		slog.Error("sync retry dispatch failed", "unit", u.ID, "error", err)
	}
	return u, nil
}

// Cancel requests cancellation. Pending and retrying units cancel
// immediately; running units are signalled and cancel cooperatively between
// records.
func (s *SyncService) Cancel(ctx context.Context, id, reason string) (*sync.Unit, error) {
	u, err := s.store.GetSyncUnit(ctx, id)
	if err != nil {
		return nil, err
	}

	if u.Status == sync.StatusInProgress {
		s.requestCancel(id, reason)
		payload, merr := json.Marshal(messagequeue.SyncCancelPayload{UnitID: id, Reason: reason})
		if merr == nil {
			if perr := s.queue.Publish(ctx, messagequeue.SubjectSyncCancel, payload); perr != nil {
				slog.Error("publish sync cancel failed", "unit", id, "error", perr)
			}
		}
		return u, nil
	}

	if err := u.Cancel(reason); err != nil {
		return nil, err
	}
	if err := s.store.UpdateSyncUnit(ctx, u); err != nil {
		return nil, err
	}
	s.notifyStatus(ctx, u)
	return u, nil
}

// Cleanup purges terminal sync log rows past the retention window.
func (s *SyncService) Cleanup(ctx context.Context, olderThan int) (int64, error) {
	cutoff := retentionCutoff(olderThan)
	n, err := s.store.CleanupSyncLog(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		slog.Info("sync log cleanup", "purged", n, "retention_days", olderThan)
	}
	return n, nil
}

// SyncUserAcrossTenants queues a directory reconcile for every tenant the
// user belongs to.
func (s *SyncService) SyncUserAcrossTenants(ctx context.Context, userID string) error {
	mems, err := s.store.ListMembershipsByUser(ctx, userID)
	if err != nil {
		return err
	}
	source, target := tablesFor(sync.TypeUserDirectory)
	var errs []error
	for i := range mems {
		_, err := s.Create(ctx, sync.CreateRequest{
			Type:        sync.TypeUserDirectory,
			Operation:   "reconcile",
			SourceTable: source,
			TargetTable: target,
			TenantID:    mems[i].TenantID,
			Direction:   sync.DirectionGlobalToTenant,
		})
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SyncCourseAcrossTenants queues a catalog reconcile for every active tenant.
func (s *SyncService) SyncCourseAcrossTenants(ctx context.Context, courseID string) error {
	_, _, err := s.CreateBatch(ctx, sync.TypeCourseCatalog)
	if err != nil {
		return fmt.Errorf("catalog fan-out for course %s: %w", courseID, err)
	}
	return nil
}

// SubscribeCancel wires the cancel subject into the in-process registry so a
// worker on another node observes cancellations too.
func (s *SyncService) SubscribeCancel(ctx context.Context) (func(), error) {
	return s.queue.Subscribe(ctx, messagequeue.SubjectSyncCancel, func(_ context.Context, subject string, data []byte) error {
		if err := messagequeue.Validate(subject, data); err != nil {
			return err
		}
		var p messagequeue.SyncCancelPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		s.requestCancel(p.UnitID, p.Reason)
		return nil
	})
}

func (s *SyncService) dispatch(ctx context.Context, u *sync.Unit) error {
	payload, err := json.Marshal(messagequeue.SyncDispatchPayload{
		UnitID:   u.ID,
		SyncType: string(u.Type),
		TenantID: u.TenantID,
		BatchID:  u.BatchID,
		Priority: u.Priority,
	})
	if err != nil {
		return fmt.Errorf("marshal dispatch payload: %w", err)
	}
	return s.queue.Publish(ctx, messagequeue.DispatchSubject(string(u.Type)), payload)
}

func (s *SyncService) requestCancel(unitID, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if reason == "" {
		reason = "cancelled by operator"
	}
	s.cancelled[unitID] = reason
}

// cancelReason returns and clears a pending cancel request for the unit.
func (s *SyncService) cancelReason(unitID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reason, ok := s.cancelled[unitID]
	if ok {
		delete(s.cancelled, unitID)
	}
	return reason, ok
}

func (s *SyncService) notifyStatus(ctx context.Context, u *sync.Unit) {
	if s.broadcaster != nil {
		s.broadcaster.BroadcastEvent(ctx, broadcast.EventSyncStatus, u)
	}
}

func retentionCutoff(days int) time.Time {
	return time.Now().UTC().AddDate(0, 0, -days)
}

// tablesFor maps a sync type to its source and target tables.
func tablesFor(t sync.Type) (source, target string) {
	switch t {
	case sync.TypeUserDirectory:
		return "global_users", "user_profiles"
	default:
		return "global_courses", "course_offerings"
	}
}
