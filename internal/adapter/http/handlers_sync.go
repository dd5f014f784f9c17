package http

import (
	"net/http"
	"strconv"

	"github.com/opencampus/tenantcore/internal/domain/sync"
	"github.com/opencampus/tenantcore/internal/port/database"
)

// CreateSyncUnit queues a single sync unit.
func (h *Handlers) CreateSyncUnit(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[sync.CreateRequest](w, r)
	if !ok {
		return
	}
	u, err := h.Sync.Create(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "sync unit not found")
		return
	}
	writeJSON(w, http.StatusAccepted, u)
}

// ListSyncUnits returns sync log entries, optionally filtered by type,
// status, or tenant.
func (h *Handlers) ListSyncUnits(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := database.SyncFilter{
		Type:     sync.Type(q.Get("type")),
		Status:   sync.Status(q.Get("status")),
		TenantID: q.Get("tenant_id"),
	}
	if limit := q.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		f.Limit = n
	}

	units, err := h.Sync.List(r.Context(), f)
	if err != nil {
		writeDomainError(w, err, "sync units not found")
		return
	}
	writeJSON(w, http.StatusOK, units)
}

// GetSyncUnit returns one sync unit.
func (h *Handlers) GetSyncUnit(w http.ResponseWriter, r *http.Request) {
	u, err := h.Sync.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "sync unit not found")
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// RetrySyncUnit consumes one retry from a failed unit's budget and
// re-dispatches it.
func (h *Handlers) RetrySyncUnit(w http.ResponseWriter, r *http.Request) {
	u, err := h.Sync.Retry(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "sync unit not found")
		return
	}
	writeJSON(w, http.StatusAccepted, u)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

// CancelSyncUnit requests cancellation; running units yield at the next
// record boundary.
func (h *Handlers) CancelSyncUnit(w http.ResponseWriter, r *http.Request) {
	req, _ := readJSONOptional[cancelRequest](r)
	u, err := h.Sync.Cancel(r.Context(), urlParam(r, "id"), req.Reason)
	if err != nil {
		writeDomainError(w, err, "sync unit not found")
		return
	}
	writeJSON(w, http.StatusAccepted, u)
}

type batchRequest struct {
	Type sync.Type `json:"type"`
}

// CreateSyncBatch queues one reconcile unit per active tenant under a shared
// batch id.
func (h *Handlers) CreateSyncBatch(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[batchRequest](w, r)
	if !ok {
		return
	}
	batchID, units, err := h.Sync.CreateBatch(r.Context(), req.Type)
	if err != nil {
		writeDomainError(w, err, "batch not found")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"batch_id": batchID, "units": units})
}

// GetSyncBatch returns the derived status of a batch.
func (h *Handlers) GetSyncBatch(w http.ResponseWriter, r *http.Request) {
	bs, err := h.Sync.BatchStatus(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "batch not found")
		return
	}
	writeJSON(w, http.StatusOK, bs)
}
