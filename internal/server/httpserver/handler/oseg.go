package handler

import (
	"net/http"

	"github.com/yndnr/segmesh-go/internal/core/domain"
	"github.com/yndnr/segmesh-go/internal/oseg"
)

func (h *Handler) objectID(w http.ResponseWriter, r *http.Request) (domain.ObjectID, bool) {
	id, err := domain.ParseObjectID(r.PathValue("objectID"))
	if err != nil {
		h.badRequest(w, r, err.Error())
		return domain.ObjectID{}, false
	}
	return id, true
}

// handleGetObject handles GET /v1/oseg/{objectID}.
func (h *Handler) handleGetObject(w http.ResponseWriter, r *http.Request) {
	if h.deps.Index == nil {
		h.unavailable(w, r, "oseg")
		return
	}
	id, ok := h.objectID(w, r)
	if !ok {
		return
	}

	res, err := h.deps.Index.Resolve(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	switch res.Status {
	case oseg.StatusFound:
		h.writeJSON(w, r, http.StatusOK, ObjectResponse{
			ObjectID: id.String(),
			Status:   res.Status.String(),
			Owner:    res.Entry.Owner,
			Radius:   res.Entry.Radius,
			Epoch:    res.Entry.Epoch,
		})
	case oseg.StatusUnknown:
		h.writeDomainError(w, r, domain.ErrNotFound.WithDetails("object %s", id))
	default:
		h.writeDomainError(w, r, domain.ErrLookupFailed.WithDetails("object %s", id))
	}
}

// handlePutObject handles PUT /v1/oseg/{objectID}.
func (h *Handler) handlePutObject(w http.ResponseWriter, r *http.Request) {
	if h.deps.Index == nil {
		h.unavailable(w, r, "oseg")
		return
	}
	id, ok := h.objectID(w, r)
	if !ok {
		return
	}

	var req UpsertRequest
	if !h.decode(w, r, &req) {
		return
	}
	if !req.Owner.Valid() {
		h.badRequest(w, r, "owner must be a non-null server id")
		return
	}
	if req.Radius < 0 {
		h.badRequest(w, r, "radius must not be negative")
		return
	}

	entry := domain.OSegEntry{Owner: req.Owner, Radius: req.Radius, Epoch: req.Epoch}
	if !req.Wait {
		h.deps.Index.Upsert(id, entry)
		h.writeJSON(w, r, http.StatusAccepted, map[string]string{"object_id": id.String()})
		return
	}

	select {
	case err := <-h.deps.Index.UpsertTracked(id, entry):
		if err != nil {
			h.writeDomainError(w, r, err)
			return
		}
	case <-r.Context().Done():
		h.writeDomainError(w, r, r.Context().Err())
		return
	}
	h.writeJSON(w, r, http.StatusOK, map[string]string{"object_id": id.String()})
}

// handleStats handles GET /v1/stats.
func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	if h.deps.Index == nil {
		h.unavailable(w, r, "oseg")
		return
	}
	stats, err := h.deps.Index.Stats(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, stats)
}
