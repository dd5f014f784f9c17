package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/opencampus/tenantcore/internal/domain/audit"
	"github.com/opencampus/tenantcore/internal/domain/membership"
)

const membershipColumns = `id, user_id, tenant_id, role, status, grants, revocations,
	joined_at, last_active, created_at, updated_at, deleted_at`

// UpsertMembership inserts or updates the single membership row per
// (user, tenant) pair. A re-add of a removed membership clears deleted_at.
func (s *Store) UpsertMembership(ctx context.Context, m *membership.Membership, entry *audit.Entry) error {
	grants, err := marshalJSON(m.Grants)
	if err != nil {
		return fmt.Errorf("marshal membership grants: %w", err)
	}
	revocations, err := marshalJSON(m.Revocations)
	if err != nil {
		return fmt.Errorf("marshal membership revocations: %w", err)
	}
	return s.mutate(ctx, entry, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`INSERT INTO memberships (user_id, tenant_id, role, status, grants, revocations)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (user_id, tenant_id) DO UPDATE SET
			     role = EXCLUDED.role,
			     status = EXCLUDED.status,
			     grants = EXCLUDED.grants,
			     revocations = EXCLUDED.revocations,
			     deleted_at = NULL,
			     updated_at = now()
			 RETURNING id, joined_at, created_at, updated_at`,
			m.UserID, m.TenantID, m.Role, m.Status, grants, revocations,
		).Scan(&m.ID, &m.JoinedAt, &m.CreatedAt, &m.UpdatedAt)
		if err != nil {
			return refNotFoundWrap(err, "upsert membership %s/%s", m.UserID, m.TenantID)
		}
		if entry != nil {
			entry.RecordID = m.ID
		}
		return nil
	})
}

func (s *Store) GetMembership(ctx context.Context, userID, tenantID string) (*membership.Membership, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+membershipColumns+` FROM memberships
		 WHERE user_id = $1 AND tenant_id = $2 AND deleted_at IS NULL`, userID, tenantID)
	m, err := scanMembership(row)
	if err != nil {
		return nil, notFoundWrap(err, "get membership %s/%s", userID, tenantID)
	}
	return m, nil
}

func (s *Store) ListMembershipsByTenant(ctx context.Context, tenantID string) ([]membership.Membership, error) {
	return s.listMemberships(ctx, `tenant_id = $1`, tenantID)
}

func (s *Store) ListMembershipsByUser(ctx context.Context, userID string) ([]membership.Membership, error) {
	return s.listMemberships(ctx, `user_id = $1`, userID)
}

func (s *Store) listMemberships(ctx context.Context, where string, arg any) ([]membership.Membership, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+membershipColumns+` FROM memberships
		 WHERE `+where+` AND deleted_at IS NULL ORDER BY joined_at`, arg)
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	defer rows.Close()

	var out []membership.Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// TouchMembershipActivity bumps last_active. Untracked: recency is
// operational telemetry, not an audited state change.
func (s *Store) TouchMembershipActivity(ctx context.Context, userID, tenantID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE memberships SET last_active = now()
		 WHERE user_id = $1 AND tenant_id = $2 AND deleted_at IS NULL`, userID, tenantID)
	return execExpectOne(tag, err, "touch membership %s/%s", userID, tenantID)
}

func scanMembership(row scannable) (*membership.Membership, error) {
	var m membership.Membership
	var grants, revocations []byte
	err := row.Scan(&m.ID, &m.UserID, &m.TenantID, &m.Role, &m.Status, &grants, &revocations,
		&m.JoinedAt, &m.LastActive, &m.CreatedAt, &m.UpdatedAt, &m.DeletedAt)
	if err != nil {
		return nil, err
	}
	if err := unmarshalJSON(grants, &m.Grants); err != nil {
		return nil, fmt.Errorf("decode membership grants: %w", err)
	}
	if err := unmarshalJSON(revocations, &m.Revocations); err != nil {
		return nil, fmt.Errorf("decode membership revocations: %w", err)
	}
	return &m, nil
}
