package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/opencampus/tenantcore/internal/domain/audit"
	"github.com/opencampus/tenantcore/internal/domain/course"
)

const courseColumns = `id, code, title, description, credit_hours, prerequisites, active, created_at, updated_at`

func (s *Store) CreateCourse(ctx context.Context, c *course.GlobalCourse, entry *audit.Entry) error {
	return s.mutate(ctx, entry, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`INSERT INTO global_courses (id, code, title, description, credit_hours, prerequisites, active)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 RETURNING created_at, updated_at`,
			c.ID, c.Code, c.Title, c.Description, c.CreditHours, pgTextArray(c.Prerequisites), c.Active,
		).Scan(&c.CreatedAt, &c.UpdatedAt)
		if err != nil {
			return conflictWrap(err, "create course %s", c.Code)
		}
		return nil
	})
}

func (s *Store) GetCourse(ctx context.Context, id string) (*course.GlobalCourse, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+courseColumns+` FROM global_courses WHERE id = $1`, id)
	c, err := scanCourse(row)
	if err != nil {
		return nil, notFoundWrap(err, "get course %s", id)
	}
	return c, nil
}

func (s *Store) ListCourses(ctx context.Context) ([]course.GlobalCourse, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+courseColumns+` FROM global_courses ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("list courses: %w", err)
	}
	defer rows.Close()

	var courses []course.GlobalCourse
	for rows.Next() {
		c, err := scanCourse(rows)
		if err != nil {
			return nil, err
		}
		courses = append(courses, *c)
	}
	return courses, rows.Err()
}

func (s *Store) UpdateCourse(ctx context.Context, c *course.GlobalCourse, entry *audit.Entry) error {
	return s.mutate(ctx, entry, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`UPDATE global_courses
			 SET title = $2, description = $3, credit_hours = $4, prerequisites = $5,
			     active = $6, updated_at = now()
			 WHERE id = $1
			 RETURNING updated_at`,
			c.ID, c.Title, c.Description, c.CreditHours, pgTextArray(c.Prerequisites), c.Active,
		).Scan(&c.UpdatedAt)
		if err != nil {
			return notFoundWrap(err, "update course %s", c.ID)
		}
		return nil
	})
}

func scanCourse(row scannable) (*course.GlobalCourse, error) {
	var c course.GlobalCourse
	err := row.Scan(&c.ID, &c.Code, &c.Title, &c.Description, &c.CreditHours,
		&c.Prerequisites, &c.Active, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
