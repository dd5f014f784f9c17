package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	gosync "sync"
	"time"

	"github.com/opencampus/tenantcore/internal/domain"
	"github.com/opencampus/tenantcore/internal/domain/audit"
	"github.com/opencampus/tenantcore/internal/domain/course"
	"github.com/opencampus/tenantcore/internal/domain/membership"
	syncdom "github.com/opencampus/tenantcore/internal/domain/sync"
	"github.com/opencampus/tenantcore/internal/domain/tenant"
	"github.com/opencampus/tenantcore/internal/domain/user"
	"github.com/opencampus/tenantcore/internal/port/auditstore"
	"github.com/opencampus/tenantcore/internal/port/database"
	"github.com/opencampus/tenantcore/internal/port/messagequeue"
	"github.com/opencampus/tenantcore/internal/tenantctx"
)

// mockStore is an in-memory database.Store. Audit entries passed to tracked
// mutations are collected; with failAudit set, mutations abort without
// applying, mirroring the transactional coupling of the real store.
type mockStore struct {
	mu          gosync.Mutex
	seq         int
	tenants     map[string]*tenant.Tenant
	users       map[string]*user.User
	memberships map[string]*membership.Membership
	courses     map[string]*course.GlobalCourse
	syncUnits   map[string]*syncdom.Unit
	entries     []*audit.Entry
	failAudit   bool
}

func newMockStore() *mockStore {
	return &mockStore{
		tenants:     make(map[string]*tenant.Tenant),
		users:       make(map[string]*user.User),
		memberships: make(map[string]*membership.Membership),
		courses:     make(map[string]*course.GlobalCourse),
		syncUnits:   make(map[string]*syncdom.Unit),
	}
}

func (m *mockStore) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-%d", prefix, m.seq)
}

func (m *mockStore) audit(entry *audit.Entry) error {
	if entry == nil {
		return nil
	}
	if m.failAudit {
		return fmt.Errorf("append audit entry: %w", domain.ErrAuditWriteFailed)
	}
	entry.ID = int64(len(m.entries) + 1)
	entry.Seq = entry.ID
	entry.CreatedAt = time.Now().UTC()
	m.entries = append(m.entries, entry)
	return nil
}

func (m *mockStore) CreateTenant(_ context.Context, t *tenant.Tenant, entry *audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.audit(entry); err != nil {
		return err
	}
	if t.ID == "" {
		t.ID = m.nextID("tenant")
	}
	cp := *t
	m.tenants[t.ID] = &cp
	return nil
}

func (m *mockStore) GetTenant(_ context.Context, id string) (*tenant.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tenants[id]; ok {
		cp := *t
		return &cp, nil
	}
	return nil, fmt.Errorf("tenant %s: %w", id, domain.ErrNotFound)
}

func (m *mockStore) GetTenantBySlug(_ context.Context, slug string) (*tenant.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tenants {
		if t.Slug == slug {
			cp := *t
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("tenant %s: %w", slug, domain.ErrNotFound)
}

func (m *mockStore) ListTenants(_ context.Context) ([]tenant.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []tenant.Tenant
	for _, t := range m.tenants {
		out = append(out, *t)
	}
	return out, nil
}

func (m *mockStore) UpdateTenant(_ context.Context, t *tenant.Tenant, entry *audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tenants[t.ID]; !ok {
		return fmt.Errorf("tenant %s: %w", t.ID, domain.ErrNotFound)
	}
	if err := m.audit(entry); err != nil {
		return err
	}
	cp := *t
	m.tenants[t.ID] = &cp
	return nil
}

func (m *mockStore) CreateUser(_ context.Context, u *user.User, entry *audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, got := range m.users {
		if got.Email == u.Email && got.DeletedAt == nil {
			return fmt.Errorf("email taken: %w", domain.ErrConflict)
		}
	}
	if err := m.audit(entry); err != nil {
		return err
	}
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *mockStore) GetUser(_ context.Context, id string) (*user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok && u.DeletedAt == nil {
		cp := *u
		return &cp, nil
	}
	return nil, fmt.Errorf("user %s: %w", id, domain.ErrNotFound)
}

func (m *mockStore) GetUserByEmail(_ context.Context, email string) (*user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email && u.DeletedAt == nil {
			cp := *u
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("user %s: %w", email, domain.ErrNotFound)
}

func (m *mockStore) ListUsers(_ context.Context) ([]user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []user.User
	for _, u := range m.users {
		if u.DeletedAt == nil {
			out = append(out, *u)
		}
	}
	return out, nil
}

func (m *mockStore) UpdateUser(_ context.Context, u *user.User, entry *audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.ID]; !ok {
		return fmt.Errorf("user %s: %w", u.ID, domain.ErrNotFound)
	}
	if err := m.audit(entry); err != nil {
		return err
	}
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *mockStore) SoftDeleteUser(_ context.Context, id string, entry *audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok || u.DeletedAt != nil {
		return fmt.Errorf("user %s: %w", id, domain.ErrNotFound)
	}
	if err := m.audit(entry); err != nil {
		return err
	}
	now := time.Now().UTC()
	u.DeletedAt = &now
	return nil
}

func membershipKey(userID, tenantID string) string { return userID + "|" + tenantID }

func (m *mockStore) UpsertMembership(_ context.Context, mem *membership.Membership, entry *audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	// Mirror the foreign keys: a membership row cannot reference a user or
	// tenant that is not there.
	if _, ok := m.users[mem.UserID]; !ok {
		return fmt.Errorf("upsert membership %s/%s: %w", mem.UserID, mem.TenantID, domain.ErrNotFound)
	}
	if _, ok := m.tenants[mem.TenantID]; !ok {
		return fmt.Errorf("upsert membership %s/%s: %w", mem.UserID, mem.TenantID, domain.ErrNotFound)
	}
	if err := m.audit(entry); err != nil {
		return err
	}
	if mem.ID == "" {
		mem.ID = m.nextID("mem")
		mem.JoinedAt = time.Now().UTC()
	}
	cp := *mem
	m.memberships[membershipKey(mem.UserID, mem.TenantID)] = &cp
	return nil
}

func (m *mockStore) GetMembership(_ context.Context, userID, tenantID string) (*membership.Membership, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mem, ok := m.memberships[membershipKey(userID, tenantID)]; ok && mem.DeletedAt == nil {
		cp := *mem
		return &cp, nil
	}
	return nil, fmt.Errorf("membership %s/%s: %w", userID, tenantID, domain.ErrNotFound)
}

func (m *mockStore) ListMembershipsByTenant(_ context.Context, tenantID string) ([]membership.Membership, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []membership.Membership
	for _, mem := range m.memberships {
		if mem.TenantID == tenantID && mem.DeletedAt == nil {
			out = append(out, *mem)
		}
	}
	return out, nil
}

func (m *mockStore) ListMembershipsByUser(_ context.Context, userID string) ([]membership.Membership, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []membership.Membership
	for _, mem := range m.memberships {
		if mem.UserID == userID && mem.DeletedAt == nil {
			out = append(out, *mem)
		}
	}
	return out, nil
}

func (m *mockStore) TouchMembershipActivity(_ context.Context, userID, tenantID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mem, ok := m.memberships[membershipKey(userID, tenantID)]
	if !ok {
		return fmt.Errorf("membership: %w", domain.ErrNotFound)
	}
	now := time.Now().UTC()
	mem.LastActive = &now
	return nil
}

func (m *mockStore) CreateCourse(_ context.Context, c *course.GlobalCourse, entry *audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.audit(entry); err != nil {
		return err
	}
	cp := *c
	m.courses[c.ID] = &cp
	return nil
}

func (m *mockStore) GetCourse(_ context.Context, id string) (*course.GlobalCourse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.courses[id]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, fmt.Errorf("course %s: %w", id, domain.ErrNotFound)
}

func (m *mockStore) ListCourses(_ context.Context) ([]course.GlobalCourse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []course.GlobalCourse
	for _, c := range m.courses {
		out = append(out, *c)
	}
	return out, nil
}

func (m *mockStore) UpdateCourse(_ context.Context, c *course.GlobalCourse, entry *audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.courses[c.ID]; !ok {
		return fmt.Errorf("course %s: %w", c.ID, domain.ErrNotFound)
	}
	if err := m.audit(entry); err != nil {
		return err
	}
	cp := *c
	m.courses[c.ID] = &cp
	return nil
}

func (m *mockStore) CreateSyncUnit(_ context.Context, u *syncdom.Unit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u.ID = m.nextID("sync")
	u.CreatedAt = time.Now().UTC()
	cp := *u
	m.syncUnits[u.ID] = &cp
	return nil
}

func (m *mockStore) GetSyncUnit(_ context.Context, id string) (*syncdom.Unit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.syncUnits[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, fmt.Errorf("sync unit %s: %w", id, domain.ErrNotFound)
}

func (m *mockStore) ClaimSyncUnit(_ context.Context, id string) (*syncdom.Unit, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.syncUnits[id]
	if !ok {
		return nil, false, nil
	}
	// Check-and-set under the lock, same guarantee as the conditional UPDATE.
	if err := u.Start(); err != nil {
		return nil, false, nil
	}
	u.UpdatedAt = time.Now().UTC()
	cp := *u
	return &cp, true, nil
}

func (m *mockStore) UpdateSyncUnit(_ context.Context, u *syncdom.Unit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.syncUnits[u.ID]; !ok {
		return fmt.Errorf("sync unit %s: %w", u.ID, domain.ErrNotFound)
	}
	u.UpdatedAt = time.Now().UTC()
	cp := *u
	m.syncUnits[u.ID] = &cp
	return nil
}

func (m *mockStore) ListSyncUnits(_ context.Context, f database.SyncFilter) ([]syncdom.Unit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []syncdom.Unit
	for _, u := range m.syncUnits {
		if f.Type != "" && u.Type != f.Type {
			continue
		}
		if f.Status != "" && u.Status != f.Status {
			continue
		}
		if f.TenantID != "" && u.TenantID != f.TenantID {
			continue
		}
		out = append(out, *u)
	}
	return out, nil
}

func (m *mockStore) ListSyncUnitsByBatch(_ context.Context, batchID string) ([]syncdom.Unit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []syncdom.Unit
	for _, u := range m.syncUnits {
		if u.BatchID == batchID {
			out = append(out, *u)
		}
	}
	return out, nil
}

func (m *mockStore) CleanupSyncLog(_ context.Context, olderThan time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, u := range m.syncUnits {
		if u.Status.Terminal() && u.UpdatedAt.Before(olderThan) {
			delete(m.syncUnits, id)
			n++
		}
	}
	return n, nil
}

// mockTenantStore is an in-memory database.TenantStore. Like the real one it
// refuses any call whose context carries no resolved tenant.
type mockTenantStore struct {
	mu        gosync.Mutex
	offerings map[string]map[string]*course.Offering // tenant id -> global course id -> offering
	profiles  map[string]map[string]*user.Profile    // tenant id -> user id -> profile
	entries   []*audit.Entry
	seq       int
	calls     int // partition accesses, for isolation assertions
}

func newMockTenantStore() *mockTenantStore {
	return &mockTenantStore{
		offerings: make(map[string]map[string]*course.Offering),
		profiles:  make(map[string]map[string]*user.Profile),
	}
}

func (m *mockTenantStore) partition(ctx context.Context) (string, error) {
	t, err := tenantctx.Require(ctx)
	if err != nil {
		return "", err
	}
	m.calls++
	if m.offerings[t.ID] == nil {
		m.offerings[t.ID] = make(map[string]*course.Offering)
	}
	if m.profiles[t.ID] == nil {
		m.profiles[t.ID] = make(map[string]*user.Profile)
	}
	return t.ID, nil
}

func (m *mockTenantStore) UpsertOffering(ctx context.Context, o *course.Offering, entry *audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tid, err := m.partition(ctx)
	if err != nil {
		return err
	}
	if entry != nil {
		m.entries = append(m.entries, entry)
	}
	if o.ID == "" {
		m.seq++
		o.ID = fmt.Sprintf("off-%d", m.seq)
	}
	cp := *o
	m.offerings[tid][o.GlobalCourseID] = &cp
	return nil
}

func (m *mockTenantStore) GetOffering(ctx context.Context, id string) (*course.Offering, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tid, err := m.partition(ctx)
	if err != nil {
		return nil, err
	}
	for _, o := range m.offerings[tid] {
		if o.ID == id {
			cp := *o
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("offering %s: %w", id, domain.ErrNotFound)
}

func (m *mockTenantStore) GetOfferingByCourse(ctx context.Context, globalCourseID string) (*course.Offering, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tid, err := m.partition(ctx)
	if err != nil {
		return nil, err
	}
	if o, ok := m.offerings[tid][globalCourseID]; ok {
		cp := *o
		return &cp, nil
	}
	return nil, fmt.Errorf("offering for course %s: %w", globalCourseID, domain.ErrNotFound)
}

func (m *mockTenantStore) ListOfferings(ctx context.Context) ([]course.Offering, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tid, err := m.partition(ctx)
	if err != nil {
		return nil, err
	}
	var out []course.Offering
	for _, o := range m.offerings[tid] {
		out = append(out, *o)
	}
	return out, nil
}

func (m *mockTenantStore) DeleteOffering(ctx context.Context, id string, entry *audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tid, err := m.partition(ctx)
	if err != nil {
		return err
	}
	if entry != nil {
		m.entries = append(m.entries, entry)
	}
	for key, o := range m.offerings[tid] {
		if o.ID == id {
			delete(m.offerings[tid], key)
			return nil
		}
	}
	return fmt.Errorf("offering %s: %w", id, domain.ErrNotFound)
}

func (m *mockTenantStore) UpsertProfile(ctx context.Context, p *user.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tid, err := m.partition(ctx)
	if err != nil {
		return err
	}
	cp := *p
	cp.SyncedAt = time.Now().UTC()
	m.profiles[tid][p.UserID] = &cp
	return nil
}

func (m *mockTenantStore) GetProfile(ctx context.Context, userID string) (*user.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tid, err := m.partition(ctx)
	if err != nil {
		return nil, err
	}
	if p, ok := m.profiles[tid][userID]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, fmt.Errorf("profile %s: %w", userID, domain.ErrNotFound)
}

// mockAuditStore is an in-memory auditstore.Store.
type mockAuditStore struct {
	mu         gosync.Mutex
	entries    []audit.Entry
	failAppend bool
}

func (m *mockAuditStore) Append(_ context.Context, e *audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAppend {
		return fmt.Errorf("append audit entry: %w", domain.ErrAuditWriteFailed)
	}
	e.ID = int64(len(m.entries) + 1)
	e.Seq = e.ID
	e.CreatedAt = time.Now().UTC()
	m.entries = append(m.entries, *e)
	return nil
}

func (m *mockAuditStore) Query(_ context.Context, f auditstore.Filter) ([]audit.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []audit.Entry
	for i := len(m.entries) - 1; i >= 0; i-- {
		e := m.entries[i]
		if f.Operation != "" && e.Operation != f.Operation {
			continue
		}
		if f.Severity != "" && e.Severity != f.Severity {
			continue
		}
		if f.TenantID != "" && e.TenantID != f.TenantID {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (m *mockAuditStore) Stats(_ context.Context, f auditstore.Filter) (*auditstore.Statistics, error) {
	entries, _ := m.Query(context.Background(), f)
	stats := &auditstore.Statistics{
		Total:       int64(len(entries)),
		BySeverity:  map[string]int64{},
		ByCategory:  map[string]int64{},
		ByOperation: map[string]int64{},
		ByActor:     map[string]int64{},
	}
	for _, e := range entries {
		stats.BySeverity[string(e.Severity)]++
		stats.ByCategory[string(e.Category)]++
		stats.ByOperation[string(e.Operation)]++
		if e.ActorID != "" {
			stats.ByActor[e.ActorID]++
		}
	}
	return stats, nil
}

func (m *mockAuditStore) Cleanup(_ context.Context, retentionDays int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	var kept []audit.Entry
	var purged int64
	for _, e := range m.entries {
		if e.Severity != audit.SeverityCritical && e.CreatedAt.Before(cutoff) {
			purged++
			continue
		}
		kept = append(kept, e)
	}
	m.entries = kept
	return purged, nil
}

func (m *mockAuditStore) lastEntry() *audit.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.entries) == 0 {
		return nil
	}
	e := m.entries[len(m.entries)-1]
	return &e
}

// mockQueue records published messages and registered subscriptions.
type mockQueue struct {
	mu        gosync.Mutex
	published []publishedMsg
	failNext  bool
}

type publishedMsg struct {
	subject string
	data    []byte
}

func (m *mockQueue) Publish(_ context.Context, subject string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext {
		m.failNext = false
		return errors.New("queue unavailable")
	}
	m.published = append(m.published, publishedMsg{subject: subject, data: data})
	return nil
}

func (m *mockQueue) Subscribe(context.Context, string, messagequeue.Handler) (func(), error) {
	return func() {}, nil
}

func (m *mockQueue) Drain() error      { return nil }
func (m *mockQueue) Close() error      { return nil }
func (m *mockQueue) IsConnected() bool { return true }

func (m *mockQueue) publishedTo(prefix string) []publishedMsg {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []publishedMsg
	for _, p := range m.published {
		if strings.HasPrefix(p.subject, prefix) {
			out = append(out, p)
		}
	}
	return out
}

// mockBroadcaster records broadcast events.
type mockBroadcaster struct {
	mu     gosync.Mutex
	events []string
}

func (m *mockBroadcaster) BroadcastEvent(_ context.Context, eventType string, _ any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, eventType)
}
