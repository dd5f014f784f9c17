package http

import (
	"github.com/go-chi/chi/v5"

	"github.com/opencampus/tenantcore/internal/domain/membership"
	"github.com/opencampus/tenantcore/internal/middleware"
)

// MountRoutes registers all API routes on the given chi router.
//
// Route groups fall into three tiers: public (login, health), global
// administration (super admin only, cross-tenant), and tenant-scoped
// (X-Tenant header resolved, role/permission gated per route).
func MountRoutes(r chi.Router, h *Handlers, res middleware.AccessResolver, tenants *middleware.TenantResolver) {
	r.Get("/healthz", h.Health)

	r.Route("/api/v1", func(r chi.Router) {
		// Auth (public)
		r.Post("/auth/login", h.Login)

		// Authenticated self-service
		r.Get("/auth/me", h.CurrentUser)

		// Live event feed (audit criticals, sync status)
		r.With(middleware.RequireSuperAdmin(res)).Get("/events", h.Feed.HandleWS)

		// Global administration (cross-tenant, super admin only)
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireSuperAdmin(res))

			// Tenants
			r.Post("/tenants", h.CreateTenant)
			r.Get("/tenants", h.ListTenants)
			r.Get("/tenants/{id}", h.GetTenant)
			r.Put("/tenants/{id}", h.UpdateTenant)

			// Global user directory
			r.Post("/users", h.CreateUser)
			r.Get("/users", h.ListUsers)
			r.Get("/users/{id}", h.GetUser)
			r.Put("/users/{id}", h.UpdateUser)
			r.Post("/users/{id}/password", h.ChangeUserPassword)
			r.Delete("/users/{id}", h.DeleteUser)

			// Global course catalog
			r.Post("/courses", h.CreateCourse)
			r.Get("/courses", h.ListCourses)
			r.Get("/courses/{id}", h.GetCourse)
			r.Put("/courses/{id}", h.UpdateCourse)

			// Sync units and batches
			r.Post("/sync/units", h.CreateSyncUnit)
			r.Get("/sync/units", h.ListSyncUnits)
			r.Get("/sync/units/{id}", h.GetSyncUnit)
			r.Post("/sync/units/{id}/retry", h.RetrySyncUnit)
			r.Post("/sync/units/{id}/cancel", h.CancelSyncUnit)
			r.Post("/sync/batches", h.CreateSyncBatch)
			r.Get("/sync/batches/{id}", h.GetSyncBatch)

			// Audit trail (cross-tenant)
			r.Get("/audit", h.QueryAudit)
			r.Get("/audit/stats", h.AuditStats)
			r.Get("/audit/export", h.ExportAudit)
		})

		// Tenant-scoped (X-Tenant header required)
		r.Group(func(r chi.Router) {
			r.Use(tenants.Require)

			r.Get("/tenant", h.CurrentTenant)

			// Memberships (tenant admins)
			r.Route("/members", func(r chi.Router) {
				r.Use(middleware.RequireRole(res, membership.RoleAdmin))
				r.Post("/", h.AddMember)
				r.Get("/", h.ListMembers)
				r.Get("/{userID}", h.GetMember)
				r.Put("/{userID}/role", h.ChangeMemberRole)
				r.Put("/{userID}/status", h.ChangeMemberStatus)
				r.Post("/{userID}/permissions/grant", h.GrantPermission)
				r.Post("/{userID}/permissions/revoke", h.RevokePermission)
			})

			// Course offerings projected into the tenant partition
			r.With(middleware.RequirePermission(res, membership.PermViewCourses)).
				Get("/offerings", h.ListOfferings)
			r.With(middleware.RequirePermission(res, membership.PermViewCourses)).
				Get("/offerings/{id}", h.GetOffering)
			r.With(middleware.RequirePermission(res, membership.PermManageCourses)).
				Post("/offerings", h.AdoptOffering)
			r.With(middleware.RequirePermission(res, membership.PermManageCourses)).
				Delete("/offerings/{id}", h.DropOffering)

			// Tenant-scoped audit view
			r.With(middleware.RequirePermission(res, membership.PermViewAuditLogs)).
				Get("/audit", h.QueryTenantAudit)
		})
	})
}
