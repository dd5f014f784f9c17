// Package http provides the HTTP handlers, middleware, and route wiring for
// the tenantcore ops API.
package http

import (
	"context"
	"net/http"

	"github.com/opencampus/tenantcore/internal/adapter/ws"
	"github.com/opencampus/tenantcore/internal/port/messagequeue"
	"github.com/opencampus/tenantcore/internal/service"
)

// Pinger reports storage liveness. The pgx pool implements it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	Tenants     *service.TenantService
	Users       *service.UserService
	Memberships *service.MembershipService
	Courses     *service.CourseService
	Sync        *service.SyncService
	Audit       *service.AuditRecorder
	Feed        *ws.Hub
	Queue       messagequeue.Queue
	DB          Pinger
}

// Health reports liveness of the service and its dependencies.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	resp := map[string]string{"status": "ok", "database": "ok", "queue": "ok"}

	if h.DB != nil {
		if err := h.DB.Ping(r.Context()); err != nil {
			resp["status"] = "degraded"
			resp["database"] = "unreachable"
			status = http.StatusServiceUnavailable
		}
	}
	if h.Queue != nil && !h.Queue.IsConnected() {
		resp["status"] = "degraded"
		resp["queue"] = "disconnected"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
