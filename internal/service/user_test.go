package service

import (
	"context"
	"errors"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/opencampus/tenantcore/internal/domain"
	"github.com/opencampus/tenantcore/internal/domain/audit"
	"github.com/opencampus/tenantcore/internal/domain/user"
)

type stubDirectorySyncer struct {
	synced []string
	err    error
}

func (s *stubDirectorySyncer) SyncUserAcrossTenants(_ context.Context, userID string) error {
	if s.err != nil {
		return s.err
	}
	s.synced = append(s.synced, userID)
	return nil
}

func newUserFixture() (*UserService, *mockStore, *mockAuditStore, *stubDirectorySyncer) {
	store := newMockStore()
	auditStore := &mockAuditStore{}
	syncer := &stubDirectorySyncer{}
	svc := NewUserService(store, NewAuditRecorder(auditStore, nil, nil), syncer, bcrypt.MinCost)
	return svc, store, auditStore, syncer
}

func TestRegisterHashesPasswordAndMasksAudit(t *testing.T) {
	svc, store, _, _ := newUserFixture()

	u, err := svc.Register(context.Background(), user.CreateRequest{
		Email:     "jo@campus.edu",
		FirstName: "Jo",
		LastName:  "Meyer",
		Password:  "hunter2hunter2",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if u.PasswordHash == "hunter2hunter2" || u.PasswordHash == "" {
		t.Fatal("password stored without hashing")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte("hunter2hunter2")); err != nil {
		t.Errorf("hash does not verify: %v", err)
	}

	e := store.entries[len(store.entries)-1]
	if e.Operation != audit.OpCreate || e.Entity != audit.EntityGlobalUser {
		t.Fatalf("audited as %s/%s", e.Entity, e.Operation)
	}
	if e.NewValues["password_hash"] != audit.Redacted {
		t.Errorf("audit snapshot leaked password hash: %v", e.NewValues["password_hash"])
	}
}

func TestRegisterRejectsShortPassword(t *testing.T) {
	svc, store, _, _ := newUserFixture()

	_, err := svc.Register(context.Background(), user.CreateRequest{
		Email: "jo@campus.edu", FirstName: "Jo", Password: "short",
	})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
	if len(store.users) != 0 {
		t.Error("user created despite invalid request")
	}
}

func TestAuthenticate(t *testing.T) {
	svc, _, auditStore, _ := newUserFixture()

	reg, err := svc.Register(context.Background(), user.CreateRequest{
		Email: "jo@campus.edu", FirstName: "Jo", Password: "hunter2hunter2",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	got, err := svc.Authenticate(context.Background(), "jo@campus.edu", "hunter2hunter2")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if got.ID != reg.ID {
		t.Errorf("authenticated as %s, want %s", got.ID, reg.ID)
	}
	if last := auditStore.lastEntry(); last == nil || last.Operation != audit.OpLogin {
		t.Errorf("successful login not audited: %+v", last)
	}

	if _, err := svc.Authenticate(context.Background(), "jo@campus.edu", "wrong-password"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
	last := auditStore.lastEntry()
	if last == nil || last.Operation != audit.OpLoginFailed {
		t.Fatalf("failed login not audited: %+v", last)
	}
	if last.Severity != audit.SeverityHigh {
		t.Errorf("failed login severity = %s, want high", last.Severity)
	}

	// Unknown account fails the same way as a wrong password.
	if _, err := svc.Authenticate(context.Background(), "nobody@campus.edu", "whatever"); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("err = %v, want ErrValidation", err)
	}
}

func TestUpdateFansOutToTenantDirectories(t *testing.T) {
	svc, _, _, syncer := newUserFixture()

	reg, err := svc.Register(context.Background(), user.CreateRequest{
		Email: "jo@campus.edu", FirstName: "Jo", Password: "hunter2hunter2",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	updated, err := svc.Update(context.Background(), reg.ID, user.UpdateRequest{LastName: "Meyer-Schulz"})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.LastName != "Meyer-Schulz" {
		t.Errorf("last name = %q", updated.LastName)
	}
	if len(syncer.synced) != 1 || syncer.synced[0] != reg.ID {
		t.Errorf("directory fan-out = %v, want [%s]", syncer.synced, reg.ID)
	}
}

func TestUpdateSurvivesFanOutFailure(t *testing.T) {
	svc, _, _, syncer := newUserFixture()
	syncer.err = errors.New("queue down")

	reg, err := svc.Register(context.Background(), user.CreateRequest{
		Email: "jo@campus.edu", FirstName: "Jo", Password: "hunter2hunter2",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := svc.Update(context.Background(), reg.ID, user.UpdateRequest{FirstName: "Joanna"}); err != nil {
		t.Fatalf("update must not fail on fan-out: %v", err)
	}
}

func TestDeleteSoftDeletes(t *testing.T) {
	svc, store, _, _ := newUserFixture()

	reg, err := svc.Register(context.Background(), user.CreateRequest{
		Email: "jo@campus.edu", FirstName: "Jo", Password: "hunter2hunter2",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := svc.Delete(context.Background(), reg.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if _, err := svc.Get(context.Background(), reg.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("get after delete = %v, want ErrNotFound", err)
	}

	e := store.entries[len(store.entries)-1]
	if e.Operation != audit.OpDelete {
		t.Fatalf("operation = %s, want delete", e.Operation)
	}
	if e.Severity != audit.SeverityCritical {
		t.Errorf("delete severity = %s, want critical", e.Severity)
	}
}
