package http

import (
	"net/http"

	"github.com/opencampus/tenantcore/internal/domain/membership"
	"github.com/opencampus/tenantcore/internal/tenantctx"
)

// AddMember binds a global user to the current tenant.
func (h *Handlers) AddMember(w http.ResponseWriter, r *http.Request) {
	t, err := tenantctx.Require(r.Context())
	if err != nil {
		writeDomainError(w, err, "tenant not found")
		return
	}
	req, ok := readJSON[membership.AddRequest](w, r)
	if !ok {
		return
	}
	req.TenantID = t.ID

	m, err := h.Memberships.AddToTenant(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "membership not found")
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// ListMembers returns all memberships of the current tenant.
func (h *Handlers) ListMembers(w http.ResponseWriter, r *http.Request) {
	t, err := tenantctx.Require(r.Context())
	if err != nil {
		writeDomainError(w, err, "tenant not found")
		return
	}
	mems, err := h.Memberships.ListByTenant(r.Context(), t.ID)
	if err != nil {
		writeDomainError(w, err, "memberships not found")
		return
	}
	writeJSON(w, http.StatusOK, mems)
}

// GetMember returns one membership of the current tenant.
func (h *Handlers) GetMember(w http.ResponseWriter, r *http.Request) {
	t, err := tenantctx.Require(r.Context())
	if err != nil {
		writeDomainError(w, err, "tenant not found")
		return
	}
	m, err := h.Memberships.Get(r.Context(), urlParam(r, "userID"), t.ID)
	if err != nil {
		writeDomainError(w, err, "membership not found")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

type roleChangeRequest struct {
	Role membership.Role `json:"role"`
}

// ChangeMemberRole replaces a member's role within the current tenant.
func (h *Handlers) ChangeMemberRole(w http.ResponseWriter, r *http.Request) {
	t, err := tenantctx.Require(r.Context())
	if err != nil {
		writeDomainError(w, err, "tenant not found")
		return
	}
	req, ok := readJSON[roleChangeRequest](w, r)
	if !ok {
		return
	}
	m, err := h.Memberships.ChangeRole(r.Context(), urlParam(r, "userID"), t.ID, req.Role)
	if err != nil {
		writeDomainError(w, err, "membership not found")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

type statusChangeRequest struct {
	Status membership.Status `json:"status"`
}

// ChangeMemberStatus moves a membership through its lifecycle.
func (h *Handlers) ChangeMemberStatus(w http.ResponseWriter, r *http.Request) {
	t, err := tenantctx.Require(r.Context())
	if err != nil {
		writeDomainError(w, err, "tenant not found")
		return
	}
	req, ok := readJSON[statusChangeRequest](w, r)
	if !ok {
		return
	}
	m, err := h.Memberships.TransitionStatus(r.Context(), urlParam(r, "userID"), t.ID, req.Status)
	if err != nil {
		writeDomainError(w, err, "membership not found")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

type permissionRequest struct {
	Permission membership.Permission `json:"permission"`
}

// GrantPermission adds an explicit permission on top of the role defaults.
func (h *Handlers) GrantPermission(w http.ResponseWriter, r *http.Request) {
	h.changePermission(w, r, true)
}

// RevokePermission removes a permission, overriding defaults and grants.
func (h *Handlers) RevokePermission(w http.ResponseWriter, r *http.Request) {
	h.changePermission(w, r, false)
}

func (h *Handlers) changePermission(w http.ResponseWriter, r *http.Request, grant bool) {
	t, err := tenantctx.Require(r.Context())
	if err != nil {
		writeDomainError(w, err, "tenant not found")
		return
	}
	req, ok := readJSON[permissionRequest](w, r)
	if !ok {
		return
	}

	var m *membership.Membership
	if grant {
		m, err = h.Memberships.Grant(r.Context(), urlParam(r, "userID"), t.ID, req.Permission)
	} else {
		m, err = h.Memberships.Revoke(r.Context(), urlParam(r, "userID"), t.ID, req.Permission)
	}
	if err != nil {
		writeDomainError(w, err, "membership not found")
		return
	}
	writeJSON(w, http.StatusOK, m)
}
