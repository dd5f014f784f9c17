package http

import (
	"net/http"

	"github.com/opencampus/tenantcore/internal/domain/course"
)

// CreateCourse adds a course to the global catalog.
func (h *Handlers) CreateCourse(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[course.CreateRequest](w, r)
	if !ok {
		return
	}
	c, err := h.Courses.Create(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "course not found")
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// ListCourses returns the global catalog.
func (h *Handlers) ListCourses(w http.ResponseWriter, r *http.Request) {
	courses, err := h.Courses.List(r.Context())
	if err != nil {
		writeDomainError(w, err, "courses not found")
		return
	}
	writeJSON(w, http.StatusOK, courses)
}

// GetCourse returns one global course.
func (h *Handlers) GetCourse(w http.ResponseWriter, r *http.Request) {
	c, err := h.Courses.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "course not found")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// UpdateCourse updates canonical course fields and fans the change out to
// every active tenant's offerings.
func (h *Handlers) UpdateCourse(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[course.UpdateRequest](w, r)
	if !ok {
		return
	}
	c, err := h.Courses.Update(r.Context(), urlParam(r, "id"), req)
	if err != nil {
		writeDomainError(w, err, "course not found")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// AdoptOffering projects a catalog course into the current tenant's partition.
func (h *Handlers) AdoptOffering(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[course.OfferingRequest](w, r)
	if !ok {
		return
	}
	o, err := h.Courses.AdoptOffering(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "course not found")
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

// ListOfferings returns the current tenant's course offerings.
func (h *Handlers) ListOfferings(w http.ResponseWriter, r *http.Request) {
	offerings, err := h.Courses.ListOfferings(r.Context())
	if err != nil {
		writeDomainError(w, err, "offerings not found")
		return
	}
	writeJSON(w, http.StatusOK, offerings)
}

// GetOffering returns one offering from the current tenant's partition.
func (h *Handlers) GetOffering(w http.ResponseWriter, r *http.Request) {
	o, err := h.Courses.GetOffering(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "offering not found")
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// DropOffering removes an offering from the current tenant's partition.
func (h *Handlers) DropOffering(w http.ResponseWriter, r *http.Request) {
	if err := h.Courses.DropOffering(r.Context(), urlParam(r, "id")); err != nil {
		writeDomainError(w, err, "offering not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
