package http

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/opencampus/tenantcore/internal/domain/audit"
	"github.com/opencampus/tenantcore/internal/port/auditstore"
	"github.com/opencampus/tenantcore/internal/tenantctx"
)

// auditFilterFromQuery builds an audit filter from query parameters.
func auditFilterFromQuery(r *http.Request) (auditstore.Filter, error) {
	q := r.URL.Query()
	f := auditstore.Filter{
		TenantID:  q.Get("tenant_id"),
		ActorID:   q.Get("actor_id"),
		Entity:    audit.Entity(q.Get("entity")),
		Operation: audit.Operation(q.Get("operation")),
		Category:  audit.Category(q.Get("category")),
		Severity:  audit.Severity(q.Get("severity")),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, fmt.Errorf("invalid query parameter limit")
		}
		f.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, fmt.Errorf("invalid query parameter offset")
		}
		f.Offset = n
	}
	if v := q.Get("after"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, fmt.Errorf("invalid query parameter after")
		}
		f.After = &ts
	}
	if v := q.Get("before"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, fmt.Errorf("invalid query parameter before")
		}
		f.Before = &ts
	}
	return f, nil
}

// QueryAudit returns audit trail entries matching the query, newest first.
func (h *Handlers) QueryAudit(w http.ResponseWriter, r *http.Request) {
	f, err := auditFilterFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entries, err := h.Audit.Query(r.Context(), f)
	if err != nil {
		writeDomainError(w, err, "audit entries not found")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// AuditStats returns aggregate entry counts for reporting.
func (h *Handlers) AuditStats(w http.ResponseWriter, r *http.Request) {
	f, err := auditFilterFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	stats, err := h.Audit.Stats(r.Context(), f)
	if err != nil {
		writeDomainError(w, err, "audit entries not found")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// ExportAudit streams matching entries as a CSV download. The export itself
// lands in the trail.
func (h *Handlers) ExportAudit(w http.ResponseWriter, r *http.Request) {
	f, err := auditFilterFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="audit_trail.csv"`)
	if err := h.Audit.ExportCSV(r.Context(), f, w); err != nil {
		// Headers are committed; all we can do is log via the error mapper.
		writeDomainError(w, err, "audit entries not found")
	}
}

// QueryTenantAudit returns audit entries scoped to the current tenant,
// regardless of any tenant_id query parameter.
func (h *Handlers) QueryTenantAudit(w http.ResponseWriter, r *http.Request) {
	t, err := tenantctx.Require(r.Context())
	if err != nil {
		writeDomainError(w, err, "tenant not found")
		return
	}
	f, err := auditFilterFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	f.TenantID = t.ID

	entries, err := h.Audit.Query(r.Context(), f)
	if err != nil {
		writeDomainError(w, err, "audit entries not found")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
