package membership

// Permission is one member of the closed permission set. Permissions are a
// fixed vocabulary; per-tenant configuration happens only through membership
// grants and revocations, never by inventing new names at runtime.
type Permission string

const (
	PermManageSystemSettings Permission = "manage_system_settings"
	PermManageTenants        Permission = "manage_tenants"
	PermManageUsers          Permission = "manage_users"
	PermManageCourses        Permission = "manage_courses"
	PermGradeAssignments     Permission = "grade_assignments"
	PermViewCourses          Permission = "view_courses"
	PermEnrollCourses        Permission = "enroll_courses"
	PermViewAuditLogs        Permission = "view_audit_logs"
	PermExportData           Permission = "export_data"
	PermRunSync              Permission = "run_sync"
	PermPostJobs             Permission = "post_jobs"
)

// allPermissions fixes the iteration order of resolved permission sets.
var allPermissions = []Permission{
	PermManageSystemSettings,
	PermManageTenants,
	PermManageUsers,
	PermManageCourses,
	PermGradeAssignments,
	PermViewCourses,
	PermEnrollCourses,
	PermViewAuditLogs,
	PermExportData,
	PermRunSync,
	PermPostJobs,
}

// Valid reports whether p is a known permission.
func (p Permission) Valid() bool {
	for _, known := range allPermissions {
		if p == known {
			return true
		}
	}
	return false
}

// defaultPermissions is the static per-role default table. Callers layer
// per-membership grants and revocations on top; the table itself is not
// tenant-configurable.
var defaultPermissions = map[Role][]Permission{
	RoleSuperAdmin: allPermissions,
	RoleAdmin: {
		PermManageUsers,
		PermManageCourses,
		PermGradeAssignments,
		PermViewCourses,
		PermViewAuditLogs,
		PermExportData,
		PermRunSync,
	},
	RoleInstructor: {
		PermGradeAssignments,
		PermViewCourses,
	},
	RoleStudent: {
		PermViewCourses,
		PermEnrollCourses,
	},
	RoleGuest: {
		PermViewCourses,
	},
}

// DefaultPermissions returns a copy of the default permission set for a role.
func DefaultPermissions(r Role) []Permission {
	defaults := defaultPermissions[r]
	out := make([]Permission, len(defaults))
	copy(out, defaults)
	return out
}
