// Package auditstore defines the port for the append-only audit trail.
//
// The interface is deliberately narrow: entries can be appended, read, and
// purged by the retention policy — nothing else. There is no update or delete
// of individual entries, so immutability is enforced by the storage-access
// layer's surface, not by convention.
package auditstore

import (
	"context"
	"time"

	"github.com/opencampus/tenantcore/internal/domain/audit"
)

// Filter narrows Query and Stats.
type Filter struct {
	TenantID  string          `json:"tenant_id,omitempty"`
	ActorID   string          `json:"actor_id,omitempty"`
	Entity    audit.Entity    `json:"entity,omitempty"`
	Operation audit.Operation `json:"operation,omitempty"`
	Category  audit.Category  `json:"category,omitempty"`
	Severity  audit.Severity  `json:"severity,omitempty"`
	After     *time.Time      `json:"after,omitempty"`
	Before    *time.Time      `json:"before,omitempty"`
	Limit     int             `json:"limit,omitempty"`
	Offset    int             `json:"offset,omitempty"`
}

// Statistics aggregates entry counts for reporting.
type Statistics struct {
	Total       int64            `json:"total"`
	BySeverity  map[string]int64 `json:"by_severity"`
	ByCategory  map[string]int64 `json:"by_category"`
	ByOperation map[string]int64 `json:"by_operation"`
	ByActor     map[string]int64 `json:"by_actor"`
}

// Store is the port interface for the audit trail.
type Store interface {
	// Append persists one entry. It never modifies existing rows.
	Append(ctx context.Context, e *audit.Entry) error

	// Query returns entries matching the filter, newest first.
	Query(ctx context.Context, f Filter) ([]audit.Entry, error)

	// Stats returns aggregate counts for entries matching the filter.
	Stats(ctx context.Context, f Filter) (*Statistics, error)

	// Cleanup deletes entries older than the retention window.
	// Critical-severity entries are always preserved.
	Cleanup(ctx context.Context, retentionDays int) (int64, error)
}
