// Package audit defines the immutable audit trail entry and the pure
// classification, masking, and diff logic applied before an entry is persisted.
package audit

import (
	"reflect"
	"sort"
	"time"
)

// Operation identifies the kind of state change or event being recorded.
type Operation string

const (
	OpCreate           Operation = "create"
	OpUpdate           Operation = "update"
	OpDelete           Operation = "delete"
	OpLogin            Operation = "login"
	OpLoginFailed      Operation = "login_failed"
	OpLogout           Operation = "logout"
	OpExport           Operation = "export"
	OpRoleChange       Operation = "role_change"
	OpPermissionChange Operation = "permission_change"
	OpSecurityEvent    Operation = "security_event"
	OpSync             Operation = "sync"
	OpIsolationBreach  Operation = "isolation_breach"
	OpPrivilegedAccess Operation = "privileged_access"
)

// Severity ranks audit entries. Critical entries are exempt from retention
// purges and are retained indefinitely.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Category groups entries for reporting.
type Category string

const (
	CategoryAuthentication Category = "authentication"
	CategoryAuthorization  Category = "authorization"
	CategoryAcademic       Category = "academic"
	CategoryAdministration Category = "administration"
	CategorySecurity       Category = "security"
	CategoryDataManagement Category = "data_management"
	CategorySystem         Category = "system"
)

// Entity is the closed set of trackable entity kinds. Keeping this a fixed
// enum (rather than open-ended runtime type names) keeps the per-entity
// sensitive-field lists exhaustive and statically checkable.
type Entity string

const (
	EntityTenant         Entity = "tenant"
	EntityGlobalUser     Entity = "global_user"
	EntityMembership     Entity = "membership"
	EntityGlobalCourse   Entity = "global_course"
	EntityCourseOffering Entity = "course_offering"
	EntityEnrollment     Entity = "enrollment"
	EntityGrade          Entity = "grade"
	EntitySystemSetting  Entity = "system_setting"
	EntitySession        Entity = "session"
	EntitySyncUnit       Entity = "sync_unit"
)

// entityCategories maps each trackable entity kind to its reporting category.
var entityCategories = map[Entity]Category{
	EntityTenant:         CategoryAdministration,
	EntityGlobalUser:     CategoryAdministration,
	EntityMembership:     CategoryAuthorization,
	EntityGlobalCourse:   CategoryAcademic,
	EntityCourseOffering: CategoryAcademic,
	EntityEnrollment:     CategoryAcademic,
	EntityGrade:          CategoryAcademic,
	EntitySystemSetting:  CategorySystem,
	EntitySession:        CategoryAuthentication,
	EntitySyncUnit:       CategoryDataManagement,
}

// CategoryOf returns the reporting category for an entity kind.
// Login-shaped operations are authentication regardless of entity.
func CategoryOf(op Operation, entity Entity) Category {
	switch op {
	case OpLogin, OpLoginFailed, OpLogout:
		return CategoryAuthentication
	case OpSecurityEvent, OpIsolationBreach, OpPrivilegedAccess:
		return CategorySecurity
	case OpExport:
		return CategoryDataManagement
	}
	if c, ok := entityCategories[entity]; ok {
		return c
	}
	return CategorySystem
}

// Classify assigns a severity from (operation, entity) alone. It is a pure
// function so retention and alerting behavior can be tested in isolation.
//
// Deletes, security events, and role/permission changes are critical; failed
// logins, exports, and other membership mutations are high; security,
// administration, and grade entities are medium; everything else is low.
func Classify(op Operation, entity Entity) Severity {
	switch op {
	case OpDelete, OpSecurityEvent, OpRoleChange, OpPermissionChange, OpIsolationBreach:
		return SeverityCritical
	case OpLoginFailed, OpExport, OpPrivilegedAccess:
		return SeverityHigh
	}
	if entity == EntityMembership {
		return SeverityHigh
	}
	switch entityCategories[entity] {
	case CategorySecurity, CategoryAdministration:
		return SeverityMedium
	}
	if entity == EntityGrade {
		return SeverityMedium
	}
	return SeverityLow
}

// Entry is one immutable audit record. Once persisted it is never updated or
// deleted; the storage layer enforces this, not just convention.
type Entry struct {
	ID            int64          `json:"id"`
	Seq           int64          `json:"seq"` // storage-assigned, commit-ordered within a tenant
	ActorID       string         `json:"actor_id,omitempty"`  // empty for system actions
	TenantID      string         `json:"tenant_id,omitempty"` // empty for global-scope events
	Entity        Entity         `json:"entity"`
	RecordID      string         `json:"record_id,omitempty"`
	Operation     Operation      `json:"operation"`
	OldValues     map[string]any `json:"old_values,omitempty"`
	NewValues     map[string]any `json:"new_values,omitempty"`
	ChangedFields []string       `json:"changed_fields,omitempty"`
	Severity      Severity       `json:"severity"`
	Category      Category       `json:"category"`
	Description   string         `json:"description,omitempty"`
	IPAddress     string         `json:"ip_address,omitempty"`
	UserAgent     string         `json:"user_agent,omitempty"`
	SessionID     string         `json:"session_id,omitempty"`
	RequestID     string         `json:"request_id,omitempty"`
	CreatedAt     time.Time      `json:"created_at"` // server-assigned
}

// Change is the input to the recorder: one mutation or event on a tracked
// entity, before diffing, masking, and classification.
type Change struct {
	ActorID     string
	Entity      Entity
	RecordID    string
	Operation   Operation
	OldValues   map[string]any
	NewValues   map[string]any
	Description string
	IPAddress   string
	UserAgent   string
	SessionID   string
}

// ChangedFields computes the set of field names whose values differ between
// old and new, sorted for stable storage. Fields present on only one side
// count as changed.
func ChangedFields(oldValues, newValues map[string]any) []string {
	changed := make(map[string]bool)
	for k, ov := range oldValues {
		nv, ok := newValues[k]
		if !ok || !equalValue(ov, nv) {
			changed[k] = true
		}
	}
	for k := range newValues {
		if _, ok := oldValues[k]; !ok {
			changed[k] = true
		}
	}
	out := make([]string, 0, len(changed))
	for k := range changed {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// equalValue compares audit values. Snapshots come from JSON decoding or
// struct captures, so values may be maps and slices, not just scalars;
// direct == comparison would panic on those.
func equalValue(a, b any) bool {
	if a == nil || b == nil {
		return a == b
	}
	return reflect.DeepEqual(a, b)
}
