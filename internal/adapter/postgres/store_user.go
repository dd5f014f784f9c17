package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/opencampus/tenantcore/internal/domain/audit"
	"github.com/opencampus/tenantcore/internal/domain/user"
)

const userColumns = `id, email, first_name, last_name, password_hash, preferences, created_at, updated_at, deleted_at`

func (s *Store) CreateUser(ctx context.Context, u *user.User, entry *audit.Entry) error {
	prefs, err := marshalJSON(u.Preferences)
	if err != nil {
		return fmt.Errorf("marshal user preferences: %w", err)
	}
	return s.mutate(ctx, entry, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`INSERT INTO global_users (id, email, first_name, last_name, password_hash, preferences)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 RETURNING created_at, updated_at`,
			u.ID, u.Email, u.FirstName, u.LastName, u.PasswordHash, prefs,
		).Scan(&u.CreatedAt, &u.UpdatedAt)
		if err != nil {
			return conflictWrap(err, "create user %s", u.Email)
		}
		return nil
	})
}

func (s *Store) GetUser(ctx context.Context, id string) (*user.User, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM global_users WHERE id = $1 AND deleted_at IS NULL`, id)
	u, err := scanUser(row)
	if err != nil {
		return nil, notFoundWrap(err, "get user %s", id)
	}
	return u, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*user.User, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM global_users WHERE email = $1 AND deleted_at IS NULL`, email)
	u, err := scanUser(row)
	if err != nil {
		return nil, notFoundWrap(err, "get user by email %s", email)
	}
	return u, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]user.User, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+userColumns+` FROM global_users WHERE deleted_at IS NULL ORDER BY email`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []user.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

func (s *Store) UpdateUser(ctx context.Context, u *user.User, entry *audit.Entry) error {
	prefs, err := marshalJSON(u.Preferences)
	if err != nil {
		return fmt.Errorf("marshal user preferences: %w", err)
	}
	return s.mutate(ctx, entry, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`UPDATE global_users
			 SET email = $2, first_name = $3, last_name = $4, password_hash = $5,
			     preferences = $6, updated_at = now()
			 WHERE id = $1 AND deleted_at IS NULL
			 RETURNING updated_at`,
			u.ID, u.Email, u.FirstName, u.LastName, u.PasswordHash, prefs,
		).Scan(&u.UpdatedAt)
		if err != nil {
			return notFoundWrap(err, "update user %s", u.ID)
		}
		return nil
	})
}

// SoftDeleteUser marks the user deleted without removing the row: memberships
// and audit entries keep referencing a real identity.
func (s *Store) SoftDeleteUser(ctx context.Context, id string, entry *audit.Entry) error {
	return s.mutate(ctx, entry, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE global_users SET deleted_at = now(), updated_at = now()
			 WHERE id = $1 AND deleted_at IS NULL`, id)
		return execExpectOne(tag, err, "soft delete user %s", id)
	})
}

func scanUser(row scannable) (*user.User, error) {
	var u user.User
	var prefs []byte
	err := row.Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.PasswordHash,
		&prefs, &u.CreatedAt, &u.UpdatedAt, &u.DeletedAt)
	if err != nil {
		return nil, err
	}
	if err := unmarshalJSON(prefs, &u.Preferences); err != nil {
		return nil, fmt.Errorf("decode user preferences: %w", err)
	}
	return &u, nil
}
