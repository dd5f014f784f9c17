package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/opencampus/tenantcore/internal/domain"
	"github.com/opencampus/tenantcore/internal/domain/audit"
	"github.com/opencampus/tenantcore/internal/domain/course"
	"github.com/opencampus/tenantcore/internal/domain/user"
	"github.com/opencampus/tenantcore/internal/tenantctx"
)

const offeringColumns = `id, global_course_id, title, description, credit_hours, prerequisites,
	is_custom, enrollment_count, instructor_id, price_cents, created_at, updated_at`

// TenantStore implements database.TenantStore. Every call routes through the
// isolation gate: the partition schema comes from the ambient tenant context
// and nothing here ever names a tenant schema directly.
//
// Tracked mutations write three things in one transaction: the business row
// in the tenant partition, the shared audit_trail entry, and the tenant-local
// activity_log projection of that entry.
type TenantStore struct {
	gate *Gate
}

// NewTenantStore creates a TenantStore routing through the given gate.
func NewTenantStore(gate *Gate) *TenantStore {
	return &TenantStore{gate: gate}
}

// mutate runs fn plus the audit and activity-log writes in one transaction on
// a partition-pinned connection.
func (s *TenantStore) mutate(ctx context.Context, entry *audit.Entry, fn func(tx pgx.Tx) error) error {
	conn, err := s.gate.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin partition tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if err := fn(tx); err != nil {
		return err
	}
	if entry != nil {
		if entry.TenantID == "" {
			t, err := tenantctx.Require(ctx)
			if err != nil {
				return err
			}
			entry.TenantID = t.ID
		}
		if err := appendAuditTx(ctx, tx, entry); err != nil {
			return err
		}
		// activity_log resolves into the pinned partition schema.
		_, err = tx.Exec(ctx,
			`INSERT INTO activity_log
			   (audit_id, actor_id, entity, record_id, operation, changed_fields,
			    severity, category, description)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			entry.ID, nullIfEmpty(entry.ActorID), entry.Entity, entry.RecordID,
			entry.Operation, pgTextArray(entry.ChangedFields), entry.Severity,
			entry.Category, entry.Description)
		if err != nil {
			return errors.Join(domain.ErrAuditWriteFailed, fmt.Errorf("append activity log: %w", err))
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit partition tx: %w", err)
	}
	return nil
}

// UpsertOffering inserts or refreshes the single offering per global course.
func (s *TenantStore) UpsertOffering(ctx context.Context, o *course.Offering, entry *audit.Entry) error {
	return s.mutate(ctx, entry, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`INSERT INTO course_offerings
			   (global_course_id, title, description, credit_hours, prerequisites,
			    is_custom, enrollment_count, instructor_id, price_cents)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			 ON CONFLICT (global_course_id) DO UPDATE SET
			     title = EXCLUDED.title,
			     description = EXCLUDED.description,
			     credit_hours = EXCLUDED.credit_hours,
			     prerequisites = EXCLUDED.prerequisites,
			     is_custom = EXCLUDED.is_custom,
			     enrollment_count = EXCLUDED.enrollment_count,
			     instructor_id = EXCLUDED.instructor_id,
			     price_cents = EXCLUDED.price_cents,
			     updated_at = now()
			 RETURNING id, created_at, updated_at`,
			o.GlobalCourseID, o.Title, o.Description, o.CreditHours, pgTextArray(o.Prerequisites),
			o.IsCustom, o.EnrollmentCount, nullIfEmpty(o.InstructorID), o.PriceCents,
		).Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
		if err != nil {
			return fmt.Errorf("upsert offering for course %s: %w", o.GlobalCourseID, err)
		}
		if entry != nil {
			entry.RecordID = o.ID
		}
		return nil
	})
}

func (s *TenantStore) GetOffering(ctx context.Context, id string) (*course.Offering, error) {
	return s.getOffering(ctx, `id = $1`, id)
}

func (s *TenantStore) GetOfferingByCourse(ctx context.Context, globalCourseID string) (*course.Offering, error) {
	return s.getOffering(ctx, `global_course_id = $1`, globalCourseID)
}

func (s *TenantStore) getOffering(ctx context.Context, where string, arg any) (*course.Offering, error) {
	conn, err := s.gate.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	row := conn.QueryRow(ctx,
		`SELECT `+offeringColumns+` FROM course_offerings WHERE `+where, arg)
	o, err := scanOffering(row)
	if err != nil {
		return nil, notFoundWrap(err, "get offering %v", arg)
	}
	return o, nil
}

func (s *TenantStore) ListOfferings(ctx context.Context) ([]course.Offering, error) {
	conn, err := s.gate.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	rows, err := conn.Query(ctx,
		`SELECT `+offeringColumns+` FROM course_offerings ORDER BY title`)
	if err != nil {
		return nil, fmt.Errorf("list offerings: %w", err)
	}
	defer rows.Close()

	var offerings []course.Offering
	for rows.Next() {
		o, err := scanOffering(rows)
		if err != nil {
			return nil, err
		}
		offerings = append(offerings, *o)
	}
	return offerings, rows.Err()
}

func (s *TenantStore) DeleteOffering(ctx context.Context, id string, entry *audit.Entry) error {
	return s.mutate(ctx, entry, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM course_offerings WHERE id = $1`, id)
		return execExpectOne(tag, err, "delete offering %s", id)
	})
}

// UpsertProfile refreshes the tenant-local projection of a global user.
// Untracked: the projection is derived data, the canonical mutation on the
// global user is what gets audited.
func (s *TenantStore) UpsertProfile(ctx context.Context, p *user.Profile) error {
	conn, err := s.gate.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	_, err = conn.Exec(ctx,
		`INSERT INTO user_profiles (user_id, email, display_name, synced_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (user_id) DO UPDATE SET
		     email = EXCLUDED.email,
		     display_name = EXCLUDED.display_name,
		     synced_at = now()`,
		p.UserID, p.Email, p.DisplayName)
	if err != nil {
		return fmt.Errorf("upsert profile %s: %w", p.UserID, err)
	}
	return nil
}

func (s *TenantStore) GetProfile(ctx context.Context, userID string) (*user.Profile, error) {
	conn, err := s.gate.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	var p user.Profile
	err = conn.QueryRow(ctx,
		`SELECT user_id, email, display_name, synced_at FROM user_profiles WHERE user_id = $1`,
		userID).Scan(&p.UserID, &p.Email, &p.DisplayName, &p.SyncedAt)
	if err != nil {
		return nil, notFoundWrap(err, "get profile %s", userID)
	}
	return &p, nil
}

func scanOffering(row scannable) (*course.Offering, error) {
	var o course.Offering
	var instructorID *string
	err := row.Scan(&o.ID, &o.GlobalCourseID, &o.Title, &o.Description, &o.CreditHours,
		&o.Prerequisites, &o.IsCustom, &o.EnrollmentCount, &instructorID, &o.PriceCents,
		&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if instructorID != nil {
		o.InstructorID = *instructorID
	}
	return &o, nil
}
