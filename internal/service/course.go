package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/opencampus/tenantcore/internal/domain/audit"
	"github.com/opencampus/tenantcore/internal/domain/course"
	"github.com/opencampus/tenantcore/internal/port/database"
)

// catalogSyncer fans a canonical course change out to tenant partitions.
// The sync service implements it.
type catalogSyncer interface {
	SyncCourseAcrossTenants(ctx context.Context, courseID string) error
}

// CourseService manages the global course catalog and its tenant offerings.
// Canonical fields flow global-to-tenant through the sync engine; tenant
// customizations decouple an offering permanently.
type CourseService struct {
	store       database.Store
	tenantStore database.TenantStore
	recorder    *AuditRecorder
	syncer      catalogSyncer
}

// NewCourseService creates a new CourseService. syncer may be nil.
func NewCourseService(store database.Store, tenantStore database.TenantStore, recorder *AuditRecorder, syncer catalogSyncer) *CourseService {
	return &CourseService{store: store, tenantStore: tenantStore, recorder: recorder, syncer: syncer}
}

// Create adds a canonical catalog entry.
func (s *CourseService) Create(ctx context.Context, req course.CreateRequest) (*course.GlobalCourse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	c := &course.GlobalCourse{
		ID:            uuid.NewString(),
		Code:          req.Code,
		Title:         req.Title,
		Description:   req.Description,
		CreditHours:   req.CreditHours,
		Prerequisites: req.Prerequisites,
		Active:        true,
	}

	entry := s.recorder.Build(ctx, audit.Change{
		Entity:    audit.EntityGlobalCourse,
		RecordID:  c.ID,
		Operation: audit.OpCreate,
		NewValues: snapshotCourse(c),
	})
	if err := s.store.CreateCourse(ctx, c, entry); err != nil {
		return nil, err
	}
	s.recorder.Observe(ctx, entry)
	return c, nil
}

// Get returns a catalog entry by ID.
func (s *CourseService) Get(ctx context.Context, id string) (*course.GlobalCourse, error) {
	return s.store.GetCourse(ctx, id)
}

// List returns the whole catalog.
func (s *CourseService) List(ctx context.Context) ([]course.GlobalCourse, error) {
	return s.store.ListCourses(ctx)
}

// Update applies canonical changes and fans them out to tenant offerings.
// The fan-out is owned by the sync log; a dispatch failure here is logged and
// retried there.
func (s *CourseService) Update(ctx context.Context, id string, req course.UpdateRequest) (*course.GlobalCourse, error) {
	c, err := s.store.GetCourse(ctx, id)
	if err != nil {
		return nil, err
	}

	before := snapshotCourse(c)
	if req.Title != "" {
		c.Title = req.Title
	}
	if req.Description != "" {
		c.Description = req.Description
	}
	if req.CreditHours != nil {
		c.CreditHours = *req.CreditHours
	}
	if req.Prerequisites != nil {
		c.Prerequisites = req.Prerequisites
	}
	if req.Active != nil {
		c.Active = *req.Active
	}

	entry := s.recorder.Build(ctx, audit.Change{
		Entity:    audit.EntityGlobalCourse,
		RecordID:  c.ID,
		Operation: audit.OpUpdate,
		OldValues: before,
		NewValues: snapshotCourse(c),
	})
	if err := s.store.UpdateCourse(ctx, c, entry); err != nil {
		return nil, err
	}
	s.recorder.Observe(ctx, entry)

	if s.syncer != nil {
		if err := s.syncer.SyncCourseAcrossTenants(ctx, c.ID); err != nil {
			slog.Error("course catalog fan-out failed", "course", c.ID, "error", err)
		}
	}
	return c, nil
}

// AdoptOffering projects a catalog entry into the current tenant, applying any
// overrides. Overriding a canonical field marks the offering custom, which
// permanently decouples it from catalog syncs.
func (s *CourseService) AdoptOffering(ctx context.Context, req course.OfferingRequest) (*course.Offering, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	gc, err := s.store.GetCourse(ctx, req.GlobalCourseID)
	if err != nil {
		return nil, err
	}

	o := &course.Offering{
		GlobalCourseID: gc.ID,
		Title:          gc.Title,
		Description:    gc.Description,
		CreditHours:    gc.CreditHours,
		Prerequisites:  append([]string(nil), gc.Prerequisites...),
		IsCustom:       req.IsCustom,
		InstructorID:   req.InstructorID,
		PriceCents:     req.PriceCents,
	}
	if req.Title != "" {
		o.Title = req.Title
		o.IsCustom = true
	}
	if req.Description != "" {
		o.Description = req.Description
		o.IsCustom = true
	}
	if req.CreditHours != nil {
		o.CreditHours = *req.CreditHours
		o.IsCustom = true
	}

	entry := s.recorder.Build(ctx, audit.Change{
		Entity:      audit.EntityCourseOffering,
		Operation:   audit.OpCreate,
		NewValues:   snapshotOffering(o),
		Description: fmt.Sprintf("adopted catalog course %s", gc.Code),
	})
	if err := s.tenantStore.UpsertOffering(ctx, o, entry); err != nil {
		return nil, err
	}
	s.recorder.Observe(ctx, entry)
	return o, nil
}

// GetOffering returns one offering in the current tenant.
func (s *CourseService) GetOffering(ctx context.Context, id string) (*course.Offering, error) {
	return s.tenantStore.GetOffering(ctx, id)
}

// ListOfferings returns all offerings in the current tenant.
func (s *CourseService) ListOfferings(ctx context.Context) ([]course.Offering, error) {
	return s.tenantStore.ListOfferings(ctx)
}

// DropOffering removes an offering from the current tenant. The catalog entry
// is untouched.
func (s *CourseService) DropOffering(ctx context.Context, id string) error {
	o, err := s.tenantStore.GetOffering(ctx, id)
	if err != nil {
		return err
	}
	entry := s.recorder.Build(ctx, audit.Change{
		Entity:    audit.EntityCourseOffering,
		RecordID:  id,
		Operation: audit.OpDelete,
		OldValues: snapshotOffering(o),
	})
	if err := s.tenantStore.DeleteOffering(ctx, id, entry); err != nil {
		return err
	}
	s.recorder.Observe(ctx, entry)
	return nil
}

func snapshotCourse(c *course.GlobalCourse) map[string]any {
	return map[string]any{
		"code":         c.Code,
		"title":        c.Title,
		"description":  c.Description,
		"credit_hours": c.CreditHours,
		"active":       c.Active,
	}
}

func snapshotOffering(o *course.Offering) map[string]any {
	return map[string]any{
		"global_course_id": o.GlobalCourseID,
		"title":            o.Title,
		"credit_hours":     o.CreditHours,
		"is_custom":        o.IsCustom,
		"instructor_id":    o.InstructorID,
		"price_cents":      o.PriceCents,
	}
}
