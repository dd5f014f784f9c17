// Package course defines the global course catalog entry and its tenant-local
// projection, the representative pair for the global/tenant sync pattern.
package course

import (
	"fmt"
	"time"

	"github.com/opencampus/tenantcore/internal/domain"
)

// GlobalCourse is the canonical catalog entry, maintained centrally and
// projected into tenant partitions. Its UUID is stable across partitions.
type GlobalCourse struct {
	ID            string    `json:"id"`
	Code          string    `json:"code"`
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	CreditHours   int       `json:"credit_hours"`
	Prerequisites []string  `json:"prerequisites,omitempty"`
	Active        bool      `json:"active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Offering is a tenant-scoped projection of a GlobalCourse. Canonical fields
// (title, description, credit hours, prerequisites) track the global record
// while IsCustom is false; enrollment count, instructor, and pricing are
// tenant-local and never synced.
type Offering struct {
	ID              string    `json:"id"`
	GlobalCourseID  string    `json:"global_course_id"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	CreditHours     int       `json:"credit_hours"`
	Prerequisites   []string  `json:"prerequisites,omitempty"`
	IsCustom        bool      `json:"is_custom"`
	EnrollmentCount int       `json:"enrollment_count"`
	InstructorID    string    `json:"instructor_id,omitempty"`
	PriceCents      int64     `json:"price_cents"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// ApplyCanonical overwrites the offering's canonical fields from the global
// course and reports whether anything changed. An IsCustom offering is
// permanently decoupled and is never touched.
func (o *Offering) ApplyCanonical(gc *GlobalCourse) bool {
	if o.IsCustom {
		return false
	}
	changed := false
	if o.Title != gc.Title {
		o.Title = gc.Title
		changed = true
	}
	if o.Description != gc.Description {
		o.Description = gc.Description
		changed = true
	}
	if o.CreditHours != gc.CreditHours {
		o.CreditHours = gc.CreditHours
		changed = true
	}
	if !equalStrings(o.Prerequisites, gc.Prerequisites) {
		o.Prerequisites = append([]string(nil), gc.Prerequisites...)
		changed = true
	}
	return changed
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// CreateRequest holds the fields for a new global course.
type CreateRequest struct {
	Code          string   `json:"code"`
	Title         string   `json:"title"`
	Description   string   `json:"description,omitempty"`
	CreditHours   int      `json:"credit_hours"`
	Prerequisites []string `json:"prerequisites,omitempty"`
}

// Validate checks that the CreateRequest has all required fields.
func (r *CreateRequest) Validate() error {
	if r.Code == "" {
		return fmt.Errorf("course code is required: %w", domain.ErrValidation)
	}
	if r.Title == "" {
		return fmt.Errorf("course title is required: %w", domain.ErrValidation)
	}
	if r.CreditHours < 0 {
		return fmt.Errorf("credit_hours must be non-negative: %w", domain.ErrValidation)
	}
	return nil
}

// UpdateRequest holds the fields that can be updated on a global course.
type UpdateRequest struct {
	Title         string   `json:"title,omitempty"`
	Description   string   `json:"description,omitempty"`
	CreditHours   *int     `json:"credit_hours,omitempty"`
	Prerequisites []string `json:"prerequisites,omitempty"`
	Active        *bool    `json:"active,omitempty"`
}

// OfferingRequest holds the fields for creating or customizing a tenant
// offering. When IsCustom is set, only the overridden fields diverge from the
// canonical record and future syncs skip the offering entirely.
type OfferingRequest struct {
	GlobalCourseID string `json:"global_course_id"`
	Title          string `json:"title,omitempty"`
	Description    string `json:"description,omitempty"`
	CreditHours    *int   `json:"credit_hours,omitempty"`
	IsCustom       bool   `json:"is_custom"`
	InstructorID   string `json:"instructor_id,omitempty"`
	PriceCents     int64  `json:"price_cents,omitempty"`
}

// Validate checks that the OfferingRequest has all required fields.
func (r *OfferingRequest) Validate() error {
	if r.GlobalCourseID == "" {
		return fmt.Errorf("global_course_id is required: %w", domain.ErrValidation)
	}
	return nil
}
