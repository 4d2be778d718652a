package handler

import (
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/yndnr/segmesh-go/internal/core/domain"
)

func parseCoord(r *http.Request, name string) (float64, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return 0, fmt.Errorf("missing %s", name)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("invalid %s %q", name, s)
	}
	return v, nil
}

// handleLookup handles GET /v1/cseg/lookup?x=&y=&z=.
func (h *Handler) handleLookup(w http.ResponseWriter, r *http.Request) {
	if h.deps.Replica == nil {
		h.unavailable(w, r, "cseg")
		return
	}

	var p domain.Vector3
	var err error
	if p.X, err = parseCoord(r, "x"); err == nil {
		if p.Y, err = parseCoord(r, "y"); err == nil {
			p.Z, err = parseCoord(r, "z")
		}
	}
	if err != nil {
		h.badRequest(w, r, err.Error())
		return
	}

	// One snapshot answers both leaf and version.
	snap := h.deps.Replica.Tree().Snapshot()
	leaf, err := snap.LeafAt(p)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, LookupResponse{
		ServerID: leaf.Owner,
		Leaf:     leaf.Path,
		Bounds:   leaf.Bounds,
		Version:  snap.Version,
	})
}

// handleLeaves handles GET /v1/cseg/leaves.
func (h *Handler) handleLeaves(w http.ResponseWriter, r *http.Request) {
	if h.deps.Replica == nil {
		h.unavailable(w, r, "cseg")
		return
	}
	snap := h.deps.Replica.Tree().Snapshot()
	h.writeJSON(w, r, http.StatusOK, LeavesResponse{
		Version: snap.Version,
		World:   snap.World(),
		Leaves:  snap.LeafList(),
	})
}

// handleSamples handles POST /v1/cseg/samples. Samples outside the world
// or naming unknown leaves are counted as rejected.
func (h *Handler) handleSamples(w http.ResponseWriter, r *http.Request) {
	if h.deps.Samples == nil {
		h.unavailable(w, r, "cseg")
		return
	}

	var req SamplesRequest
	if !h.decode(w, r, &req) {
		return
	}

	var resp SamplesResponse
	for _, s := range req.Samples {
		if s.Weight <= 0 || math.IsInf(s.Weight, 0) || math.IsNaN(s.Weight) {
			resp.Rejected++
			continue
		}
		var err error
		if s.Path != "" {
			err = h.deps.Samples.RecordLeafSample(s.Path, s.Weight)
		} else {
			err = h.deps.Samples.RecordSample(domain.Vector3{X: s.X, Y: s.Y, Z: s.Z}, s.Weight)
		}
		switch {
		case err == nil:
			resp.Accepted++
		case domain.IsError(err, domain.ErrOutOfBounds.Code), domain.IsError(err, domain.ErrLeafNotFound.Code):
			resp.Rejected++
		default:
			h.writeDomainError(w, r, err)
			return
		}
	}
	h.writeJSON(w, r, http.StatusOK, resp)
}
