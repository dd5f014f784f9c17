// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates a concurrent modification conflict (optimistic locking).
var ErrConflict = errors.New("conflict: resource was modified by another request")

// ErrValidation indicates the request payload failed domain validation.
var ErrValidation = errors.New("validation failed")

// ErrTenantContextMissing indicates a tenant-scoped operation was attempted
// with no resolved tenant. The operation must abort before any partition access.
var ErrTenantContextMissing = errors.New("tenant context missing")

// ErrTenantIsolationViolation indicates an operation attempted to cross
// partition boundaries without the explicit all-tenants mode.
var ErrTenantIsolationViolation = errors.New("tenant isolation violation")

// ErrRetryExhausted indicates a sync unit's retry budget is spent.
var ErrRetryExhausted = errors.New("retry budget exhausted")

// ErrAuditWriteFailed indicates the audit write failed. It propagates as a hard
// failure of the enclosing business operation so no tracked mutation goes unaudited.
var ErrAuditWriteFailed = errors.New("audit write failed")

// ErrAuditImmutable indicates an attempted update or delete of an audit entry.
var ErrAuditImmutable = errors.New("audit entries are immutable")
