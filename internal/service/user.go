package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/opencampus/tenantcore/internal/domain"
	"github.com/opencampus/tenantcore/internal/domain/audit"
	"github.com/opencampus/tenantcore/internal/domain/user"
	"github.com/opencampus/tenantcore/internal/port/database"
)

// directorySyncer fans a canonical user change out to tenant partitions.
// The sync service implements it.
type directorySyncer interface {
	SyncUserAcrossTenants(ctx context.Context, userID string) error
}

// UserService manages canonical global identities. Changes to canonical
// fields fan out to tenant-local profile projections through the sync engine.
type UserService struct {
	store      database.Store
	recorder   *AuditRecorder
	syncer     directorySyncer
	bcryptCost int
}

// NewUserService creates a new UserService. syncer may be nil; updates then
// skip the fan-out (the admin CLI runs without a worker).
func NewUserService(store database.Store, recorder *AuditRecorder, syncer directorySyncer, bcryptCost int) *UserService {
	if bcryptCost == 0 {
		bcryptCost = bcrypt.DefaultCost
	}
	return &UserService{store: store, recorder: recorder, syncer: syncer, bcryptCost: bcryptCost}
}

// Register creates a global user with a bcrypt-hashed password.
func (s *UserService) Register(ctx context.Context, req user.CreateRequest) (*user.User, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u := &user.User{
		ID:           uuid.NewString(),
		Email:        req.Email,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		PasswordHash: string(hash),
	}

	entry := s.recorder.Build(ctx, audit.Change{
		Entity:    audit.EntityGlobalUser,
		RecordID:  u.ID,
		Operation: audit.OpCreate,
		NewValues: snapshotUser(u),
	})
	if err := s.store.CreateUser(ctx, u, entry); err != nil {
		return nil, err
	}
	s.recorder.Observe(ctx, entry)
	return u, nil
}

// Authenticate verifies credentials. Failures are recorded as high-severity
// login_failed events; successes as login events.
func (s *UserService) Authenticate(ctx context.Context, email, password string) (*user.User, error) {
	u, err := s.store.GetUserByEmail(ctx, email)
	if err == nil {
		err = bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password))
	}
	if err != nil {
		s.recorder.RecordBestEffort(ctx, audit.Change{
			Entity:      audit.EntityGlobalUser,
			Operation:   audit.OpLoginFailed,
			Description: fmt.Sprintf("failed login for %s", email),
		})
		return nil, fmt.Errorf("invalid credentials: %w", domain.ErrValidation)
	}

	s.recorder.RecordBestEffort(ctx, audit.Change{
		ActorID:   u.ID,
		Entity:    audit.EntityGlobalUser,
		RecordID:  u.ID,
		Operation: audit.OpLogin,
	})
	return u, nil
}

// Get returns a user by ID.
func (s *UserService) Get(ctx context.Context, id string) (*user.User, error) {
	return s.store.GetUser(ctx, id)
}

// GetByEmail returns a user by email.
func (s *UserService) GetByEmail(ctx context.Context, email string) (*user.User, error) {
	return s.store.GetUserByEmail(ctx, email)
}

// List returns all non-deleted users.
func (s *UserService) List(ctx context.Context) ([]user.User, error) {
	return s.store.ListUsers(ctx)
}

// Update applies canonical field changes and fans them out to the user's
// tenant profiles. The fan-out is asynchronous and best-effort here; the sync
// log owns its retries.
func (s *UserService) Update(ctx context.Context, id string, req user.UpdateRequest) (*user.User, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	u, err := s.store.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}

	before := snapshotUser(u)
	if req.Email != "" {
		u.Email = req.Email
	}
	if req.FirstName != "" {
		u.FirstName = req.FirstName
	}
	if req.LastName != "" {
		u.LastName = req.LastName
	}
	if req.Preferences != nil {
		u.Preferences = req.Preferences
	}

	entry := s.recorder.Build(ctx, audit.Change{
		Entity:    audit.EntityGlobalUser,
		RecordID:  u.ID,
		Operation: audit.OpUpdate,
		OldValues: before,
		NewValues: snapshotUser(u),
	})
	if err := s.store.UpdateUser(ctx, u, entry); err != nil {
		return nil, err
	}
	s.recorder.Observe(ctx, entry)

	if s.syncer != nil {
		if err := s.syncer.SyncUserAcrossTenants(ctx, u.ID); err != nil {
			slog.Error("user directory fan-out failed", "user", u.ID, "error", err)
		}
	}
	return u, nil
}

// SetPassword replaces the user's password hash.
func (s *UserService) SetPassword(ctx context.Context, id, password string) error {
	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters: %w", domain.ErrValidation)
	}
	u, err := s.store.GetUser(ctx, id)
	if err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	u.PasswordHash = string(hash)

	entry := s.recorder.Build(ctx, audit.Change{
		Entity:      audit.EntityGlobalUser,
		RecordID:    u.ID,
		Operation:   audit.OpSecurityEvent,
		Description: "password changed",
	})
	if err := s.store.UpdateUser(ctx, u, entry); err != nil {
		return err
	}
	s.recorder.Observe(ctx, entry)
	return nil
}

// Delete soft-deletes a user. The row stays so memberships and audit entries
// keep a real identity to reference.
func (s *UserService) Delete(ctx context.Context, id string) error {
	u, err := s.store.GetUser(ctx, id)
	if err != nil {
		return err
	}
	entry := s.recorder.Build(ctx, audit.Change{
		Entity:    audit.EntityGlobalUser,
		RecordID:  id,
		Operation: audit.OpDelete,
		OldValues: snapshotUser(u),
	})
	if err := s.store.SoftDeleteUser(ctx, id, entry); err != nil {
		return err
	}
	s.recorder.Observe(ctx, entry)
	return nil
}

func snapshotUser(u *user.User) map[string]any {
	return map[string]any{
		"email":         u.Email,
		"first_name":    u.FirstName,
		"last_name":     u.LastName,
		"password_hash": u.PasswordHash,
	}
}
