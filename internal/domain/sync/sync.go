// Package sync defines the synchronization unit of work and its guarded state
// machine for propagating records between the global catalog and tenant
// partitions.
package sync

import (
	"fmt"
	"time"

	"github.com/opencampus/tenantcore/internal/domain"
)

// Type identifies what kind of data a sync unit reconciles.
type Type string

const (
	TypeCourseCatalog Type = "course_catalog"
	TypeUserDirectory Type = "user_directory"
)

// validTypes enumerates all valid sync types.
var validTypes = map[Type]bool{
	TypeCourseCatalog: true,
	TypeUserDirectory: true,
}

// Direction describes which way records flow.
type Direction string

const (
	DirectionGlobalToTenant Direction = "global_to_tenant"
	DirectionTenantToGlobal Direction = "tenant_to_global"
	DirectionBidirectional  Direction = "bidirectional"
	DirectionCrossTenant    Direction = "cross_tenant"
)

// validDirections enumerates all valid sync directions.
var validDirections = map[Direction]bool{
	DirectionGlobalToTenant: true,
	DirectionTenantToGlobal: true,
	DirectionBidirectional:  true,
	DirectionCrossTenant:    true,
}

// Status represents the state of one sync unit.
// StatusPartial is derived for batches only and never stored on a unit.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusRetrying   Status = "retrying"
	StatusPartial    Status = "partial"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether the status admits no further transitions
// (other than retry from failed).
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled ||
		s == StatusFailed
}

// DefaultMaxRetries is the retry budget applied when a unit is created
// without an explicit one.
const DefaultMaxRetries = 3

// Stats aggregates per-record outcomes of one sync run.
type Stats struct {
	Processed int `json:"processed"`
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Failed    int `json:"failed"`
}

// Detail is one appended conflict or validation error. The lists are
// append-only and feed later manual reconciliation; they never abort the sync
// by themselves.
type Detail struct {
	RecordID string    `json:"record_id,omitempty"`
	Field    string    `json:"field,omitempty"`
	Message  string    `json:"message"`
	At       time.Time `json:"at"`
}

// Unit tracks one synchronization unit of work.
type Unit struct {
	ID               string     `json:"id"`
	Type             Type       `json:"type"`
	Operation        string     `json:"operation"`
	SourceTable      string     `json:"source_table"`
	TargetTable      string     `json:"target_table"`
	TenantID         string     `json:"tenant_id,omitempty"` // target tenant for global_to_tenant
	Direction        Direction  `json:"direction"`
	Status           Status     `json:"status"`
	Priority         int        `json:"priority"`
	BatchID          string     `json:"batch_id,omitempty"`
	RetryCount       int        `json:"retry_count"`
	MaxRetries       int        `json:"max_retries"`
	Stats            Stats      `json:"stats"`
	Conflicts        []Detail   `json:"conflicts,omitempty"`
	ValidationErrors []Detail   `json:"validation_errors,omitempty"`
	ErrorMessage     string     `json:"error_message,omitempty"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	FailedAt         *time.Time `json:"failed_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// CreateRequest holds the fields for creating a sync unit.
type CreateRequest struct {
	Type        Type      `json:"type"`
	Operation   string    `json:"operation"`
	SourceTable string    `json:"source_table"`
	TargetTable string    `json:"target_table"`
	TenantID    string    `json:"tenant_id,omitempty"`
	Direction   Direction `json:"direction"`
	Priority    int       `json:"priority,omitempty"`
	BatchID     string    `json:"batch_id,omitempty"`
	MaxRetries  int       `json:"max_retries,omitempty"` // 0 means DefaultMaxRetries
}

// Validate checks that the CreateRequest has all required fields.
func (r *CreateRequest) Validate() error {
	if !validTypes[r.Type] {
		return fmt.Errorf("invalid sync type %q: %w", r.Type, domain.ErrValidation)
	}
	if r.SourceTable == "" || r.TargetTable == "" {
		return fmt.Errorf("source_table and target_table are required: %w", domain.ErrValidation)
	}
	if r.Direction == "" {
		r.Direction = DirectionGlobalToTenant
	}
	if !validDirections[r.Direction] {
		return fmt.Errorf("invalid direction %q: %w", r.Direction, domain.ErrValidation)
	}
	if r.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be non-negative: %w", domain.ErrValidation)
	}
	return nil
}

// Start moves the unit into in_progress. Only pending and retrying units
// can start.
func (u *Unit) Start() error {
	if u.Status != StatusPending && u.Status != StatusRetrying {
		return fmt.Errorf("sync unit %s cannot start from %s: %w", u.ID, u.Status, domain.ErrValidation)
	}
	now := time.Now().UTC()
	u.Status = StatusInProgress
	u.StartedAt = &now
	return nil
}

// Complete marks the unit completed with final stats.
func (u *Unit) Complete(stats Stats) error {
	if u.Status != StatusInProgress {
		return fmt.Errorf("sync unit %s cannot complete from %s: %w", u.ID, u.Status, domain.ErrValidation)
	}
	now := time.Now().UTC()
	u.Status = StatusCompleted
	u.Stats = stats
	u.CompletedAt = &now
	return nil
}

// Fail marks the unit failed with an operator-facing message and whatever
// stats had accumulated before the failure.
func (u *Unit) Fail(message string, stats Stats) error {
	if u.Status != StatusInProgress && u.Status != StatusPending {
		return fmt.Errorf("sync unit %s cannot fail from %s: %w", u.ID, u.Status, domain.ErrValidation)
	}
	now := time.Now().UTC()
	u.Status = StatusFailed
	u.ErrorMessage = message
	u.Stats = stats
	u.FailedAt = &now
	return nil
}

// CanRetry reports whether the unit has retry budget left.
func (u *Unit) CanRetry() bool {
	return u.Status == StatusFailed && u.RetryCount < u.MaxRetries
}

// Retry consumes one retry and moves the unit to retrying. It returns
// ErrRetryExhausted, leaving state unchanged, when the budget is spent or the
// unit was cancelled. The invariant retry_count <= max_retries holds at all
// times.
func (u *Unit) Retry() error {
	if u.Status == StatusCancelled {
		return fmt.Errorf("sync unit %s is cancelled: %w", u.ID, domain.ErrRetryExhausted)
	}
	if u.Status != StatusFailed {
		return fmt.Errorf("sync unit %s cannot retry from %s: %w", u.ID, u.Status, domain.ErrValidation)
	}
	if u.RetryCount >= u.MaxRetries {
		return fmt.Errorf("sync unit %s: %d of %d retries used: %w", u.ID, u.RetryCount, u.MaxRetries, domain.ErrRetryExhausted)
	}
	u.RetryCount++
	u.Status = StatusRetrying
	u.ErrorMessage = ""
	return nil
}

// Cancel terminates a pending or in_progress unit. Cancellation of a running
// unit is cooperative: the worker observes it between record-level steps.
func (u *Unit) Cancel(reason string) error {
	if u.Status != StatusPending && u.Status != StatusInProgress && u.Status != StatusRetrying {
		return fmt.Errorf("sync unit %s cannot cancel from %s: %w", u.ID, u.Status, domain.ErrValidation)
	}
	u.Status = StatusCancelled
	u.ErrorMessage = reason
	return nil
}

// AddConflict appends a conflict for later manual reconciliation.
func (u *Unit) AddConflict(recordID, field, message string) {
	u.Conflicts = append(u.Conflicts, Detail{RecordID: recordID, Field: field, Message: message, At: time.Now().UTC()})
}

// AddValidationError appends a validation error for later manual reconciliation.
func (u *Unit) AddValidationError(recordID, field, message string) {
	u.ValidationErrors = append(u.ValidationErrors, Detail{RecordID: recordID, Field: field, Message: message, At: time.Now().UTC()})
}

// BatchStatus aggregates a batch's member statuses per the derivation rule:
// running members dominate; with none running, all-completed is completed,
// all-failed-or-cancelled is failed, and a mix is partial. Progress is
// completed/total.
type BatchStatus struct {
	BatchID   string  `json:"batch_id"`
	Status    Status  `json:"status"`
	Total     int     `json:"total"`
	Completed int     `json:"completed"`
	Failed    int     `json:"failed"`
	Cancelled int     `json:"cancelled"`
	Pending   int     `json:"pending"`
	Running   int     `json:"running"`
	Progress  float64 `json:"progress"`
}

// DeriveBatchStatus computes the aggregate status of a batch's member units.
// The aggregate is always derived, never stored.
func DeriveBatchStatus(batchID string, units []Unit) BatchStatus {
	bs := BatchStatus{BatchID: batchID, Total: len(units)}
	for i := range units {
		switch units[i].Status {
		case StatusCompleted:
			bs.Completed++
		case StatusFailed:
			bs.Failed++
		case StatusCancelled:
			bs.Cancelled++
		case StatusPending:
			bs.Pending++
		case StatusInProgress, StatusRetrying:
			bs.Running++
		}
	}
	switch {
	case bs.Total == 0:
		bs.Status = StatusPending
	case bs.Pending == bs.Total:
		bs.Status = StatusPending
	case bs.Running > 0 || bs.Pending > 0:
		bs.Status = StatusInProgress
	case bs.Completed == bs.Total:
		bs.Status = StatusCompleted
	case bs.Completed == 0:
		bs.Status = StatusFailed
	default:
		bs.Status = StatusPartial
	}
	if bs.Total > 0 {
		bs.Progress = float64(bs.Completed) / float64(bs.Total)
	}
	return bs
}
