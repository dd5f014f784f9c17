package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/opencampus/tenantcore/internal/domain/sync"
	"github.com/opencampus/tenantcore/internal/port/database"
)

const syncColumns = `id, sync_type, operation, source_table, target_table, tenant_id, direction,
	status, priority, batch_id, retry_count, max_retries, stats, conflicts, validation_errors,
	error_message, started_at, completed_at, failed_at, created_at, updated_at`

func (s *Store) CreateSyncUnit(ctx context.Context, u *sync.Unit) error {
	stats, conflicts, validationErrs, err := marshalSyncDetails(u)
	if err != nil {
		return err
	}
	err = s.pool.QueryRow(ctx,
		`INSERT INTO sync_log
		   (sync_type, operation, source_table, target_table, tenant_id, direction,
		    status, priority, batch_id, retry_count, max_retries, stats, conflicts,
		    validation_errors, error_message)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		 RETURNING id, created_at, updated_at`,
		u.Type, u.Operation, u.SourceTable, u.TargetTable, nullIfEmpty(u.TenantID),
		u.Direction, u.Status, u.Priority, nullIfEmpty(u.BatchID), u.RetryCount,
		u.MaxRetries, stats, conflicts, validationErrs, u.ErrorMessage,
	).Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create sync unit: %w", err)
	}
	return nil
}

func (s *Store) GetSyncUnit(ctx context.Context, id string) (*sync.Unit, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+syncColumns+` FROM sync_log WHERE id = $1`, id)
	u, err := scanSyncUnit(row)
	if err != nil {
		return nil, notFoundWrap(err, "get sync unit %s", id)
	}
	return u, nil
}

// ClaimSyncUnit transitions a pending or retrying unit to in_progress in a
// single UPDATE, so two workers racing on the same unit cannot both win the
// claim. A row that is missing or in any other state yields claimed=false.
func (s *Store) ClaimSyncUnit(ctx context.Context, id string) (*sync.Unit, bool, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE sync_log
		 SET status = $2, started_at = now(), updated_at = now()
		 WHERE id = $1 AND status IN ($3, $4)
		 RETURNING `+syncColumns,
		id, sync.StatusInProgress, sync.StatusPending, sync.StatusRetrying)
	u, err := scanSyncUnit(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("claim sync unit %s: %w", id, err)
	}
	return u, true, nil
}

// UpdateSyncUnit persists the unit's current state-machine position. The
// retry_count <= max_retries table constraint backs the state machine up at
// the storage layer.
func (s *Store) UpdateSyncUnit(ctx context.Context, u *sync.Unit) error {
	stats, conflicts, validationErrs, err := marshalSyncDetails(u)
	if err != nil {
		return err
	}
	err = s.pool.QueryRow(ctx,
		`UPDATE sync_log
		 SET status = $2, retry_count = $3, stats = $4, conflicts = $5,
		     validation_errors = $6, error_message = $7, started_at = $8,
		     completed_at = $9, failed_at = $10, updated_at = now()
		 WHERE id = $1
		 RETURNING updated_at`,
		u.ID, u.Status, u.RetryCount, stats, conflicts, validationErrs,
		u.ErrorMessage, u.StartedAt, u.CompletedAt, u.FailedAt,
	).Scan(&u.UpdatedAt)
	if err != nil {
		return notFoundWrap(err, "update sync unit %s", u.ID)
	}
	return nil
}

func (s *Store) ListSyncUnits(ctx context.Context, filter database.SyncFilter) ([]sync.Unit, error) {
	query := `SELECT ` + syncColumns + ` FROM sync_log WHERE 1=1`
	args := []any{}
	if filter.Type != "" {
		args = append(args, filter.Type)
		query += fmt.Sprintf(" AND sync_type = $%d", len(args))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.TenantID != "" {
		args = append(args, filter.TenantID)
		query += fmt.Sprintf(" AND tenant_id = $%d", len(args))
	}
	query += " ORDER BY priority DESC, created_at"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return s.querySyncUnits(ctx, query, args...)
}

func (s *Store) ListSyncUnitsByBatch(ctx context.Context, batchID string) ([]sync.Unit, error) {
	return s.querySyncUnits(ctx,
		`SELECT `+syncColumns+` FROM sync_log WHERE batch_id = $1 ORDER BY created_at`, batchID)
}

// CleanupSyncLog purges terminal units older than the cutoff. Pending,
// in-progress, and retrying rows are never eligible regardless of age.
func (s *Store) CleanupSyncLog(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM sync_log
		 WHERE status IN ('completed', 'failed', 'cancelled') AND updated_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("cleanup sync log: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) querySyncUnits(ctx context.Context, query string, args ...any) ([]sync.Unit, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sync units: %w", err)
	}
	defer rows.Close()

	var units []sync.Unit
	for rows.Next() {
		u, err := scanSyncUnit(rows)
		if err != nil {
			return nil, err
		}
		units = append(units, *u)
	}
	return units, rows.Err()
}

func marshalSyncDetails(u *sync.Unit) (stats, conflicts, validationErrs []byte, err error) {
	if stats, err = marshalJSON(u.Stats); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal sync stats: %w", err)
	}
	if conflicts, err = marshalJSON(orEmpty(u.Conflicts)); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal sync conflicts: %w", err)
	}
	if validationErrs, err = marshalJSON(orEmpty(u.ValidationErrors)); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal sync validation errors: %w", err)
	}
	return stats, conflicts, validationErrs, nil
}

func scanSyncUnit(row scannable) (*sync.Unit, error) {
	var u sync.Unit
	var tenantID, batchID *string
	var stats, conflicts, validationErrs []byte
	err := row.Scan(&u.ID, &u.Type, &u.Operation, &u.SourceTable, &u.TargetTable,
		&tenantID, &u.Direction, &u.Status, &u.Priority, &batchID, &u.RetryCount,
		&u.MaxRetries, &stats, &conflicts, &validationErrs, &u.ErrorMessage,
		&u.StartedAt, &u.CompletedAt, &u.FailedAt, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if tenantID != nil {
		u.TenantID = *tenantID
	}
	if batchID != nil {
		u.BatchID = *batchID
	}
	if err := unmarshalJSON(stats, &u.Stats); err != nil {
		return nil, fmt.Errorf("decode sync stats: %w", err)
	}
	if err := unmarshalJSON(conflicts, &u.Conflicts); err != nil {
		return nil, fmt.Errorf("decode sync conflicts: %w", err)
	}
	if err := unmarshalJSON(validationErrs, &u.ValidationErrors); err != nil {
		return nil, fmt.Errorf("decode sync validation errors: %w", err)
	}
	return &u, nil
}
