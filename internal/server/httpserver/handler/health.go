package handler

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// readyTimeout bounds the component probes of /readyz.
const readyTimeout = 2 * time.Second

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, r, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// handleReady reports ready once the index strand answers and, when
// replicated, a leader is known.
func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	var failed []string

	if h.deps.Index != nil {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		_, err := h.deps.Index.Stats(ctx)
		cancel()
		if err != nil {
			checks["oseg"] = err.Error()
			failed = append(failed, "oseg: "+err.Error())
		} else {
			checks["oseg"] = "ok"
		}
	}
	if h.deps.Cluster != nil {
		if st := h.deps.Cluster.Status(); st.LeaderID == "" {
			checks["cluster"] = "no leader"
			failed = append(failed, "cluster: no leader")
		} else {
			checks["cluster"] = "ok"
		}
	}

	body := map[string]any{
		"checks": checks,
		"time":   time.Now().UTC().Format(time.RFC3339),
	}
	if len(failed) > 0 {
		body["status"] = "not ready"
		resp := NewErrorResponse(h.requestID(r), CodeUnavailable, "not ready", strings.Join(failed, "; "))
		resp.Data = body
		w.Header().Set("X-Error-Code", CodeUnavailable)
		h.writeEnvelope(w, http.StatusServiceUnavailable, resp)
		return
	}
	body["status"] = "ready"
	h.writeJSON(w, r, http.StatusOK, body)
}
