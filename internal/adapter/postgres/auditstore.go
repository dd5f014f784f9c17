package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/opencampus/tenantcore/internal/domain"
	"github.com/opencampus/tenantcore/internal/domain/audit"
	"github.com/opencampus/tenantcore/internal/port/auditstore"
)

const auditColumns = `id, actor_id, tenant_id, entity, record_id, operation, old_values, new_values,
	changed_fields, severity, category, description, ip_address, user_agent, session_id, request_id, created_at`

// AuditStore implements auditstore.Store over the audit_trail table. The table
// carries a trigger rejecting UPDATE and DELETE; only Cleanup bypasses it, and
// only for non-critical rows past retention.
type AuditStore struct {
	pool *pgxpool.Pool
}

// NewAuditStore creates an AuditStore backed by the given pool.
func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

// Append persists one entry in its own transaction. Mutations coupled to a
// business write go through Store.mutate instead, which shares this insert.
func (s *AuditStore) Append(ctx context.Context, e *audit.Entry) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return errors.Join(domain.ErrAuditWriteFailed, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if err := appendAuditTx(ctx, tx, e); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return errors.Join(domain.ErrAuditWriteFailed, fmt.Errorf("commit audit entry: %w", err))
	}
	return nil
}

func (s *AuditStore) Query(ctx context.Context, f auditstore.Filter) ([]audit.Entry, error) {
	where, args := auditWhere(f)
	query := `SELECT ` + auditColumns + ` FROM audit_trail` + where + ` ORDER BY id DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit trail: %w", err)
	}
	defer rows.Close()

	var entries []audit.Entry
	for rows.Next() {
		var e audit.Entry
		var actorID, tenantID *string
		var oldJSON, newJSON []byte
		err := rows.Scan(&e.ID, &actorID, &tenantID, &e.Entity, &e.RecordID, &e.Operation,
			&oldJSON, &newJSON, &e.ChangedFields, &e.Severity, &e.Category, &e.Description,
			&e.IPAddress, &e.UserAgent, &e.SessionID, &e.RequestID, &e.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		if actorID != nil {
			e.ActorID = *actorID
		}
		if tenantID != nil {
			e.TenantID = *tenantID
		}
		if err := unmarshalJSON(oldJSON, &e.OldValues); err != nil {
			return nil, fmt.Errorf("decode old_values: %w", err)
		}
		if err := unmarshalJSON(newJSON, &e.NewValues); err != nil {
			return nil, fmt.Errorf("decode new_values: %w", err)
		}
		e.Seq = e.ID
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Stats aggregates matching entries by severity, category, operation, and
// actor in a single grouping-sets pass.
func (s *AuditStore) Stats(ctx context.Context, f auditstore.Filter) (*auditstore.Statistics, error) {
	where, args := auditWhere(f)
	rows, err := s.pool.Query(ctx,
		`SELECT severity, category, operation, COALESCE(actor_id::text, ''), count(*)
		 FROM audit_trail`+where+`
		 GROUP BY GROUPING SETS ((severity), (category), (operation), (actor_id), ())`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("audit stats: %w", err)
	}
	defer rows.Close()

	stats := &auditstore.Statistics{
		BySeverity:  map[string]int64{},
		ByCategory:  map[string]int64{},
		ByOperation: map[string]int64{},
		ByActor:     map[string]int64{},
	}
	for rows.Next() {
		var severity, category, operation, actor *string
		var count int64
		if err := rows.Scan(&severity, &category, &operation, &actor, &count); err != nil {
			return nil, fmt.Errorf("scan audit stats: %w", err)
		}
		switch {
		case severity != nil:
			stats.BySeverity[*severity] = count
		case category != nil:
			stats.ByCategory[*category] = count
		case operation != nil:
			stats.ByOperation[*operation] = count
		case actor != nil && *actor != "":
			stats.ByActor[*actor] = count
		default:
			stats.Total = count
		}
	}
	return stats, rows.Err()
}

// Cleanup purges entries past the retention window, always preserving
// critical-severity rows. The session disables triggers for the delete; the
// immutability trigger otherwise blocks it.
func (s *AuditStore) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, fmt.Errorf("retention days must be positive: %w", domain.ErrValidation)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin cleanup tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if _, err := tx.Exec(ctx, `SET LOCAL session_replication_role = 'replica'`); err != nil {
		return 0, fmt.Errorf("disable audit trigger for cleanup: %w", err)
	}
	tag, err := tx.Exec(ctx,
		`DELETE FROM audit_trail
		 WHERE severity <> 'critical' AND created_at < now() - make_interval(days => $1)`,
		retentionDays)
	if err != nil {
		return 0, fmt.Errorf("cleanup audit trail: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit cleanup: %w", err)
	}
	return tag.RowsAffected(), nil
}

// auditWhere builds the WHERE clause shared by Query and Stats.
func auditWhere(f auditstore.Filter) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.TenantID != "" {
		add("tenant_id = $%d", f.TenantID)
	}
	if f.ActorID != "" {
		add("actor_id = $%d", f.ActorID)
	}
	if f.Entity != "" {
		add("entity = $%d", f.Entity)
	}
	if f.Operation != "" {
		add("operation = $%d", f.Operation)
	}
	if f.Category != "" {
		add("category = $%d", f.Category)
	}
	if f.Severity != "" {
		add("severity = $%d", f.Severity)
	}
	if f.After != nil {
		add("created_at >= $%d", *f.After)
	}
	if f.Before != nil {
		add("created_at < $%d", *f.Before)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
