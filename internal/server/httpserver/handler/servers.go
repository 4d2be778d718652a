package handler

import (
	"net/http"

	"github.com/yndnr/segmesh-go/internal/servermap"
)

// handleServers handles GET /v1/servers.
func (h *Handler) handleServers(w http.ResponseWriter, r *http.Request) {
	if h.deps.Servers == nil {
		h.unavailable(w, r, "servermap")
		return
	}
	h.writeJSON(w, r, http.StatusOK, servermap.Entries(h.deps.Servers))
}

// handleCluster handles GET /v1/cluster.
func (h *Handler) handleCluster(w http.ResponseWriter, r *http.Request) {
	if h.deps.Cluster == nil {
		h.unavailable(w, r, "cluster")
		return
	}
	h.writeJSON(w, r, http.StatusOK, h.deps.Cluster.Status())
}
