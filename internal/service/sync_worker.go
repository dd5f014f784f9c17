package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/opencampus/tenantcore/internal/adapter/otel"
	"github.com/opencampus/tenantcore/internal/config"
	"github.com/opencampus/tenantcore/internal/domain"
	"github.com/opencampus/tenantcore/internal/domain/audit"
	"github.com/opencampus/tenantcore/internal/domain/course"
	"github.com/opencampus/tenantcore/internal/domain/sync"
	"github.com/opencampus/tenantcore/internal/domain/user"
	"github.com/opencampus/tenantcore/internal/port/database"
	"github.com/opencampus/tenantcore/internal/port/messagequeue"
	"github.com/opencampus/tenantcore/internal/tenantctx"
)

// SyncWorker consumes dispatched sync units and reconciles tenant partitions
// against the global catalog. Record-level work checks for cooperative
// cancellation between records, never mid-record.
type SyncWorker struct {
	svc         *SyncService
	store       database.Store
	tenantStore database.TenantStore
	recorder    *AuditRecorder
	metrics     *otel.Metrics
	cfg         config.Sync
}

// NewSyncWorker creates a new SyncWorker. metrics may be nil.
func NewSyncWorker(svc *SyncService, store database.Store, tenantStore database.TenantStore, recorder *AuditRecorder, metrics *otel.Metrics, cfg config.Sync) *SyncWorker {
	return &SyncWorker{svc: svc, store: store, tenantStore: tenantStore, recorder: recorder, metrics: metrics, cfg: cfg}
}

// Start subscribes to the dispatch and cancel subjects and runs the worker
// pool. The returned stop function unsubscribes and waits for in-flight units.
func (w *SyncWorker) Start(ctx context.Context) (func(), error) {
	parallel := w.cfg.WorkerParallel
	if parallel <= 0 {
		parallel = 1
	}

	jobs := make(chan string, parallel)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < parallel; i++ {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case unitID, ok := <-jobs:
					if !ok {
						return nil
					}
					if err := w.Execute(gctx, unitID); err != nil {
						slog.Error("sync unit execution failed", "unit", unitID, "error", err)
					}
				}
			}
		})
	}

	stopDispatch, err := w.svc.queue.Subscribe(ctx, messagequeue.SubjectSyncDispatch+".>", func(_ context.Context, subject string, data []byte) error {
		if err := messagequeue.Validate(subject, data); err != nil {
			return err
		}
		var p messagequeue.SyncDispatchPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		select {
		case jobs <- p.UnitID:
			return nil
		case <-gctx.Done():
			return gctx.Err()
		}
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe dispatch: %w", err)
	}

	stopCancel, err := w.svc.SubscribeCancel(ctx)
	if err != nil {
		stopDispatch()
		return nil, fmt.Errorf("subscribe cancel: %w", err)
	}

	slog.Info("sync worker started", "parallel", parallel)
	return func() {
		stopDispatch()
		stopCancel()
		close(jobs)
		if err := g.Wait(); err != nil {
			slog.Error("sync worker drain", "error", err)
		}
	}, nil
}

// Execute runs one sync unit through its state machine. The claim is a
// single conditional update in the store, so redeliveries and competing
// workers race for at most one winner per unit.
func (w *SyncWorker) Execute(ctx context.Context, unitID string) error {
	u, claimed, err := w.store.ClaimSyncUnit(ctx, unitID)
	if err != nil {
		return err
	}
	if !claimed {
		slog.Debug("skipping sync unit not in a startable state", "unit", unitID)
		return nil
	}

	if reason, ok := w.svc.cancelReason(u.ID); ok {
		return w.finishCancelled(ctx, u, reason)
	}

	if w.metrics != nil {
		w.metrics.SyncUnitsStarted.Add(ctx, 1)
	}
	w.svc.notifyStatus(ctx, u)

	started := time.Now()
	stats, cancelReason, runErr := w.run(ctx, u)

	switch {
	case cancelReason != "":
		return w.finishCancelled(ctx, u, cancelReason)
	case runErr != nil:
		return w.finishFailed(ctx, u, stats, runErr)
	default:
		return w.finishCompleted(ctx, u, stats, time.Since(started))
	}
}

// run reconciles the unit's tenant partition under that tenant's context.
func (w *SyncWorker) run(ctx context.Context, u *sync.Unit) (sync.Stats, string, error) {
	var stats sync.Stats

	t, err := w.store.GetTenant(ctx, u.TenantID)
	if err != nil {
		return stats, "", fmt.Errorf("resolve sync target tenant: %w", err)
	}
	if !t.Active() {
		return stats, "", fmt.Errorf("tenant %s is %s: %w", t.Slug, t.Status, domain.ErrValidation)
	}
	tctx := tenantctx.WithTenant(ctx, t)

	switch u.Type {
	case sync.TypeCourseCatalog:
		return w.runCourseCatalog(tctx, u)
	case sync.TypeUserDirectory:
		return w.runUserDirectory(tctx, u, t.ID)
	default:
		return stats, "", fmt.Errorf("unknown sync type %q: %w", u.Type, domain.ErrValidation)
	}
}

// runCourseCatalog projects the global catalog into the tenant's offerings.
// Customized offerings are skipped and surfaced as conflicts for manual
// reconciliation; the run is idempotent.
func (w *SyncWorker) runCourseCatalog(ctx context.Context, u *sync.Unit) (sync.Stats, string, error) {
	var stats sync.Stats

	courses, err := w.store.ListCourses(ctx)
	if err != nil {
		return stats, "", err
	}

	for i := range courses {
		if reason, cancelled := w.checkpoint(ctx, u); cancelled {
			return stats, reason, nil
		}
		gc := &courses[i]

		offering, err := w.tenantStore.GetOfferingByCourse(ctx, gc.ID)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			if !gc.Active {
				continue
			}
			fresh := &course.Offering{
				GlobalCourseID: gc.ID,
				Title:          gc.Title,
				Description:    gc.Description,
				CreditHours:    gc.CreditHours,
				Prerequisites:  append([]string(nil), gc.Prerequisites...),
			}
			if err := w.tenantStore.UpsertOffering(ctx, fresh, nil); err != nil {
				stats.Failed++
				u.AddValidationError(gc.ID, "", err.Error())
				continue
			}
			stats.Created++
			stats.Processed++

		case err != nil:
			stats.Failed++
			u.AddValidationError(gc.ID, "", err.Error())

		case offering.IsCustom:
			u.AddConflict(gc.ID, "is_custom", "offering is customized; canonical update not applied")
			stats.Processed++

		default:
			if offering.ApplyCanonical(gc) {
				if err := w.tenantStore.UpsertOffering(ctx, offering, nil); err != nil {
					stats.Failed++
					u.AddValidationError(gc.ID, "", err.Error())
					continue
				}
				stats.Updated++
			}
			stats.Processed++
		}
	}
	return stats, "", nil
}

// runUserDirectory refreshes tenant-local profiles for every member of the
// tenant. Soft-deleted users are skipped; their memberships are surfaced as
// validation errors so an operator notices the dangling binding.
func (w *SyncWorker) runUserDirectory(ctx context.Context, u *sync.Unit, tenantID string) (sync.Stats, string, error) {
	var stats sync.Stats

	mems, err := w.store.ListMembershipsByTenant(ctx, tenantID)
	if err != nil {
		return stats, "", err
	}

	for i := range mems {
		if reason, cancelled := w.checkpoint(ctx, u); cancelled {
			return stats, reason, nil
		}
		m := &mems[i]

		gu, err := w.store.GetUser(ctx, m.UserID)
		if errors.Is(err, domain.ErrNotFound) {
			u.AddValidationError(m.UserID, "user_id", "membership references a deleted user")
			continue
		}
		if err != nil {
			stats.Failed++
			u.AddValidationError(m.UserID, "", err.Error())
			continue
		}

		p, err := w.tenantStore.GetProfile(ctx, gu.ID)
		created := false
		if errors.Is(err, domain.ErrNotFound) {
			p = &user.Profile{UserID: gu.ID}
			created = true
		} else if err != nil {
			stats.Failed++
			u.AddValidationError(m.UserID, "", err.Error())
			continue
		}

		changed := p.ProjectFrom(gu)
		if created || changed {
			if err := w.tenantStore.UpsertProfile(ctx, p); err != nil {
				stats.Failed++
				u.AddValidationError(m.UserID, "", err.Error())
				continue
			}
			if created {
				stats.Created++
			} else {
				stats.Updated++
			}
		}
		stats.Processed++
	}
	return stats, "", nil
}

// checkpoint is the between-records cancellation check: an operator cancel
// request or context cancellation stops the run at the next record boundary.
func (w *SyncWorker) checkpoint(ctx context.Context, u *sync.Unit) (string, bool) {
	if reason, ok := w.svc.cancelReason(u.ID); ok {
		return reason, true
	}
	if err := ctx.Err(); err != nil {
		return "worker shutting down", true
	}
	return "", false
}

func (w *SyncWorker) finishCancelled(ctx context.Context, u *sync.Unit, reason string) error {
	if err := u.Cancel(reason); err != nil {
		return err
	}
	if err := w.store.UpdateSyncUnit(ctx, u); err != nil {
		return err
	}
	w.svc.notifyStatus(ctx, u)
	w.publishResult(ctx, u)
	return nil
}

func (w *SyncWorker) finishFailed(ctx context.Context, u *sync.Unit, stats sync.Stats, runErr error) error {
	if err := u.Fail(runErr.Error(), stats); err != nil {
		return err
	}
	if err := w.store.UpdateSyncUnit(ctx, u); err != nil {
		return err
	}
	if w.metrics != nil {
		w.metrics.SyncUnitsFailed.Add(ctx, 1)
	}
	w.svc.notifyStatus(ctx, u)
	w.publishResult(ctx, u)

	if u.CanRetry() {
		w.scheduleRetry(ctx, u)
	}
	return nil
}

func (w *SyncWorker) finishCompleted(ctx context.Context, u *sync.Unit, stats sync.Stats, took time.Duration) error {
	if err := u.Complete(stats); err != nil {
		return err
	}
	if err := w.store.UpdateSyncUnit(ctx, u); err != nil {
		return err
	}
	if w.metrics != nil {
		w.metrics.SyncUnitsCompleted.Add(ctx, 1)
		w.metrics.SyncDuration.Record(ctx, took.Seconds())
	}
	w.svc.notifyStatus(ctx, u)
	w.publishResult(ctx, u)

	w.recorder.RecordBestEffort(ctx, audit.Change{
		Entity:    audit.EntitySyncUnit,
		RecordID:  u.ID,
		Operation: audit.OpSync,
		Description: fmt.Sprintf("%s sync completed: %d processed, %d created, %d updated, %d conflicts",
			u.Type, stats.Processed, stats.Created, stats.Updated, len(u.Conflicts)),
	})
	return nil
}

// scheduleRetry re-dispatches a failed unit after exponential backoff. The
// retry consumes budget through the unit's state machine, so a unit that was
// cancelled or exhausted in the meantime stays put.
func (w *SyncWorker) scheduleRetry(ctx context.Context, u *sync.Unit) {
	delay := w.backoff(u.RetryCount)
	slog.Info("scheduling sync retry", "unit", u.ID, "attempt", u.RetryCount+1, "delay", delay)

	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		if w.metrics != nil {
			w.metrics.SyncRetries.Add(ctx, 1)
		}
		if _, err := w.svc.Retry(ctx, u.ID); err != nil {
			if errors.Is(err, domain.ErrRetryExhausted) {
				slog.Warn("sync retry budget exhausted", "unit", u.ID)
				return
			}
			slog.Error("sync retry failed", "unit", u.ID, "error", err)
		}
	}()
}

func (w *SyncWorker) backoff(retryCount int) time.Duration {
	base := w.cfg.BackoffBase
	if base <= 0 {
		base = 2 * time.Second
	}
	d := base << uint(retryCount)
	if w.cfg.BackoffMax > 0 && d > w.cfg.BackoffMax {
		d = w.cfg.BackoffMax
	}
	return d
}

func (w *SyncWorker) publishResult(ctx context.Context, u *sync.Unit) {
	payload, err := json.Marshal(messagequeue.SyncResultPayload{
		UnitID:     u.ID,
		SyncType:   string(u.Type),
		TenantID:   u.TenantID,
		BatchID:    u.BatchID,
		Status:     string(u.Status),
		Processed:  u.Stats.Processed,
		Created:    u.Stats.Created,
		Updated:    u.Stats.Updated,
		Failed:     u.Stats.Failed,
		Conflicts:  len(u.Conflicts),
		RetryCount: u.RetryCount,
		Error:      u.ErrorMessage,
	})
	if err != nil {
		slog.Error("marshal sync result", "unit", u.ID, "error", err)
		return
	}
	if err := w.svc.queue.Publish(ctx, messagequeue.SubjectSyncResult, payload); err != nil {
		slog.Error("publish sync result", "unit", u.ID, "error", err)
	}
}
