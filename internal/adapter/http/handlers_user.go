package http

import (
	"net/http"

	"github.com/opencampus/tenantcore/internal/domain/user"
	"github.com/opencampus/tenantcore/internal/logger"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login verifies credentials against the global directory.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[loginRequest](w, r)
	if !ok {
		return
	}
	u, err := h.Users.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// CreateUser registers a new global user.
func (h *Handlers) CreateUser(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[user.CreateRequest](w, r)
	if !ok {
		return
	}
	u, err := h.Users.Register(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "user not found")
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

// ListUsers returns all live global users.
func (h *Handlers) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Users.List(r.Context())
	if err != nil {
		writeDomainError(w, err, "users not found")
		return
	}
	writeJSON(w, http.StatusOK, users)
}

// GetUser returns one global user by ID.
func (h *Handlers) GetUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.Users.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// UpdateUser updates canonical user fields and fans the change out to the
// user's tenant profiles.
func (h *Handlers) UpdateUser(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[user.UpdateRequest](w, r)
	if !ok {
		return
	}
	u, err := h.Users.Update(r.Context(), urlParam(r, "id"), req)
	if err != nil {
		writeDomainError(w, err, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, u)
}

type changePasswordRequest struct {
	Password string `json:"password"`
}

// ChangeUserPassword replaces a user's password.
func (h *Handlers) ChangeUserPassword(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[changePasswordRequest](w, r)
	if !ok {
		return
	}
	if err := h.Users.SetPassword(r.Context(), urlParam(r, "id"), req.Password); err != nil {
		writeDomainError(w, err, "user not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteUser soft-deletes a global user.
func (h *Handlers) DeleteUser(w http.ResponseWriter, r *http.Request) {
	if err := h.Users.Delete(r.Context(), urlParam(r, "id")); err != nil {
		writeDomainError(w, err, "user not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CurrentUser returns the acting user and their memberships.
func (h *Handlers) CurrentUser(w http.ResponseWriter, r *http.Request) {
	actor := logger.Actor(r.Context())
	if actor == "" {
		writeError(w, http.StatusUnauthorized, "authorization required")
		return
	}
	u, err := h.Users.Get(r.Context(), actor)
	if err != nil {
		writeDomainError(w, err, "user not found")
		return
	}
	mems, err := h.Memberships.ListByUser(r.Context(), actor)
	if err != nil {
		writeDomainError(w, err, "memberships not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": u, "memberships": mems})
}
