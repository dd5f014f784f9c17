package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/opencampus/tenantcore/internal/domain"
	"github.com/opencampus/tenantcore/internal/domain/audit"
)

// Store implements database.Store over the shared schema using PostgreSQL.
//
// Tracked mutations write the business row and the audit entry in one
// transaction: if the audit insert fails, the mutation rolls back and the
// caller sees domain.ErrAuditWriteFailed.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// mutate runs fn and the audit insert for entry (if any) in one transaction.
func (s *Store) mutate(ctx context.Context, entry *audit.Entry, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if err := fn(tx); err != nil {
		return err
	}
	if err := appendAuditTx(ctx, tx, entry); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// appendAuditTx inserts one audit entry inside the caller's transaction and
// fills in its storage-assigned id, sequence, and timestamp. A nil entry is a
// no-op (untracked mutation). Any insert failure is surfaced as
// domain.ErrAuditWriteFailed so the surrounding transaction rolls back.
func appendAuditTx(ctx context.Context, tx pgx.Tx, entry *audit.Entry) error {
	if entry == nil {
		return nil
	}
	oldJSON, err := jsonOrNil(entry.OldValues)
	if err != nil {
		return errors.Join(domain.ErrAuditWriteFailed, fmt.Errorf("marshal old_values: %w", err))
	}
	newJSON, err := jsonOrNil(entry.NewValues)
	if err != nil {
		return errors.Join(domain.ErrAuditWriteFailed, fmt.Errorf("marshal new_values: %w", err))
	}

	err = tx.QueryRow(ctx,
		`INSERT INTO public.audit_trail
		   (actor_id, tenant_id, entity, record_id, operation, old_values, new_values,
		    changed_fields, severity, category, description, ip_address, user_agent,
		    session_id, request_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		 RETURNING id, created_at`,
		nullIfEmpty(entry.ActorID), nullIfEmpty(entry.TenantID), entry.Entity, entry.RecordID,
		entry.Operation, oldJSON, newJSON, pgTextArray(entry.ChangedFields),
		entry.Severity, entry.Category, entry.Description, entry.IPAddress,
		entry.UserAgent, entry.SessionID, entry.RequestID,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return errors.Join(domain.ErrAuditWriteFailed, fmt.Errorf("append audit entry: %w", err))
	}
	entry.Seq = entry.ID
	return nil
}

// jsonOrNil marshals m to JSONB input, keeping SQL NULL for absent maps.
func jsonOrNil(m map[string]any) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// marshalJSON is jsonOrNil for the string-map and slice columns.
func marshalJSON(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// unmarshalJSON decodes a nullable JSONB column into dest, leaving dest
// untouched for SQL NULL.
func unmarshalJSON(raw []byte, dest any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dest)
}
