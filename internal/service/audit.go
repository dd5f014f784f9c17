package service

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/opencampus/tenantcore/internal/adapter/otel"
	"github.com/opencampus/tenantcore/internal/domain/audit"
	"github.com/opencampus/tenantcore/internal/logger"
	"github.com/opencampus/tenantcore/internal/port/auditstore"
	"github.com/opencampus/tenantcore/internal/port/broadcast"
	"github.com/opencampus/tenantcore/internal/tenantctx"
)

// AuditRecorder turns raw changes into classified, masked, immutable audit
// entries. Entries coupled to a business mutation are built here and persisted
// by the store inside the mutation's transaction; standalone events (logins,
// security events, exports) go through Record.
type AuditRecorder struct {
	store       auditstore.Store
	metrics     *otel.Metrics
	broadcaster broadcast.Broadcaster
}

// NewAuditRecorder creates an AuditRecorder. metrics and broadcaster may be
// nil; recording then skips those side channels.
func NewAuditRecorder(store auditstore.Store, metrics *otel.Metrics, b broadcast.Broadcaster) *AuditRecorder {
	return &AuditRecorder{store: store, metrics: metrics, broadcaster: b}
}

// Build assembles one entry from a change: the field diff is computed on the
// raw values, then both snapshots are masked, and severity and category are
// classified from (operation, entity). Actor, tenant, and request correlation
// fall back to the ambient context when the change does not name them.
func (r *AuditRecorder) Build(ctx context.Context, c audit.Change) *audit.Entry {
	e := &audit.Entry{
		ActorID:       c.ActorID,
		Entity:        c.Entity,
		RecordID:      c.RecordID,
		Operation:     c.Operation,
		OldValues:     audit.Mask(c.Entity, c.OldValues),
		NewValues:     audit.Mask(c.Entity, c.NewValues),
		ChangedFields: audit.ChangedFields(c.OldValues, c.NewValues),
		Severity:      audit.Classify(c.Operation, c.Entity),
		Category:      audit.CategoryOf(c.Operation, c.Entity),
		Description:   c.Description,
		IPAddress:     c.IPAddress,
		UserAgent:     c.UserAgent,
		SessionID:     c.SessionID,
		RequestID:     logger.RequestID(ctx),
	}
	if e.ActorID == "" {
		e.ActorID = logger.Actor(ctx)
	}
	if t, ok := tenantctx.FromContext(ctx); ok {
		e.TenantID = t.ID
	}
	return e
}

// Record builds and persists a standalone entry, then feeds the metric and
// broadcast side channels. Persistence failure is the caller's problem: a
// change that cannot be audited must not silently pass.
func (r *AuditRecorder) Record(ctx context.Context, c audit.Change) (*audit.Entry, error) {
	e := r.Build(ctx, c)
	if err := r.store.Append(ctx, e); err != nil {
		return nil, err
	}
	r.observe(ctx, e)
	return e, nil
}

// RecordBestEffort records an entry for an event whose primary operation has
// already been decided (rejected access, failed login). A failed write is
// logged, never propagated.
func (r *AuditRecorder) RecordBestEffort(ctx context.Context, c audit.Change) {
	if _, err := r.Record(ctx, c); err != nil {
		slog.Error("audit record failed", "entity", c.Entity, "operation", c.Operation, "error", err)
	}
}

// Observe feeds the side channels for an entry persisted elsewhere (inside a
// business transaction).
func (r *AuditRecorder) Observe(ctx context.Context, e *audit.Entry) {
	if e != nil {
		r.observe(ctx, e)
	}
}

func (r *AuditRecorder) observe(ctx context.Context, e *audit.Entry) {
	if r.metrics != nil {
		r.metrics.AuditEntries.Add(ctx, 1, metric.WithAttributes(
			attribute.String("severity", string(e.Severity)),
			attribute.String("category", string(e.Category)),
		))
		if e.Operation == audit.OpIsolationBreach {
			r.metrics.IsolationViolations.Add(ctx, 1)
		}
	}
	if r.broadcaster != nil && e.Severity == audit.SeverityCritical {
		r.broadcaster.BroadcastEvent(ctx, broadcast.EventAuditCritical, e)
	}
}

// GateEvent adapts the recorder to the isolation gate's hook: privileged
// cross-tenant access and breach attempts become audit entries.
func (r *AuditRecorder) GateEvent(ctx context.Context, op audit.Operation, actorID, description string) {
	r.RecordBestEffort(ctx, audit.Change{
		ActorID:     actorID,
		Entity:      audit.EntityTenant,
		Operation:   op,
		Description: description,
	})
}

// Query returns entries matching the filter, newest first.
func (r *AuditRecorder) Query(ctx context.Context, f auditstore.Filter) ([]audit.Entry, error) {
	return r.store.Query(ctx, f)
}

// Stats returns aggregate counts for entries matching the filter.
func (r *AuditRecorder) Stats(ctx context.Context, f auditstore.Filter) (*auditstore.Statistics, error) {
	return r.store.Stats(ctx, f)
}

// ExportCSV streams matching entries as CSV. The export itself is a
// high-severity audited operation.
func (r *AuditRecorder) ExportCSV(ctx context.Context, f auditstore.Filter, w io.Writer) error {
	entries, err := r.store.Query(ctx, f)
	if err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	header := []string{"timestamp", "sequence", "actor_id", "tenant_id", "entity", "record_id",
		"operation", "category", "severity", "changed_fields", "description", "ip_address"}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for i := range entries {
		e := &entries[i]
		changed, err := json.Marshal(e.ChangedFields)
		if err != nil {
			return fmt.Errorf("marshal changed fields: %w", err)
		}
		row := []string{
			e.CreatedAt.UTC().Format(time.RFC3339), strconv.FormatInt(e.Seq, 10),
			e.ActorID, e.TenantID, string(e.Entity), e.RecordID,
			string(e.Operation), string(e.Category), string(e.Severity),
			string(changed), e.Description, e.IPAddress,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}

	r.RecordBestEffort(ctx, audit.Change{
		Entity:      audit.EntitySystemSetting,
		Operation:   audit.OpExport,
		Description: fmt.Sprintf("audit trail export, %d entries", len(entries)),
	})
	return nil
}

// Cleanup purges entries past the retention window. Critical entries are
// never purged.
func (r *AuditRecorder) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	n, err := r.store.Cleanup(ctx, retentionDays)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		slog.Info("audit retention cleanup", "purged", n, "retention_days", retentionDays)
	}
	return n, nil
}
