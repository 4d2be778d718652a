package handler

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/yndnr/segmesh-go/internal/core/domain"
	"github.com/yndnr/segmesh-go/internal/cseg"
)

// handleHandoff handles POST /internal/v1/handoff/{phase}.
func (h *Handler) handleHandoff(w http.ResponseWriter, r *http.Request) {
	if h.deps.Handoff == nil {
		h.unavailable(w, r, "handoff")
		return
	}

	phase := cseg.Phase(r.PathValue("phase"))
	switch phase {
	case cseg.PhaseFreeze, cseg.PhasePrepare, cseg.PhaseRelease, cseg.PhaseAbort:
	default:
		h.writeError(w, r, http.StatusNotFound, CodeBadRequest, "unknown handoff phase", string(phase))
		return
	}

	var req cseg.HandoffRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Phase != phase {
		h.badRequest(w, r, "phase in body does not match path")
		return
	}
	if !req.Deadline.IsZero() && time.Now().After(req.Deadline) {
		h.writeDomainError(w, r, domain.ErrHandoffFailed.WithDetails("operation %s past its deadline", req.Operation))
		return
	}

	ctx := r.Context()
	if !req.Deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, req.Deadline)
		defer cancel()
	}
	if err := h.deps.Handoff.Handoff(ctx, req); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, map[string]string{
		"operation": req.Operation,
		"phase":     string(phase),
	})
}

// HandoffLog records handoff phases for operators. It accepts every phase
// and remembers which operations are frozen, so a release or abort for an
// unknown operation is still acknowledged but logged.
type HandoffLog struct {
	logger *slog.Logger

	mu     sync.Mutex
	frozen map[string]cseg.Transition
}

// NewHandoffLog creates a HandoffLog.
func NewHandoffLog(logger *slog.Logger) *HandoffLog {
	if logger == nil {
		logger = slog.Default()
	}
	return &HandoffLog{
		logger: logger.With("component", "handoff"),
		frozen: make(map[string]cseg.Transition),
	}
}

// Handoff implements HandoffReceiver.
func (l *HandoffLog) Handoff(_ context.Context, req cseg.HandoffRequest) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch req.Phase {
	case cseg.PhaseFreeze:
		l.frozen[req.Operation] = req.Transition
	case cseg.PhaseRelease, cseg.PhaseAbort:
		if _, ok := l.frozen[req.Operation]; !ok {
			l.logger.Warn("handoff phase for unknown operation",
				"operation", req.Operation,
				"phase", req.Phase)
		}
		delete(l.frozen, req.Operation)
	}

	l.logger.Info("handoff phase",
		"operation", req.Operation,
		"phase", req.Phase,
		"transition", req.Transition.String())
	return nil
}

// Frozen lists the operations between freeze and release.
func (l *HandoffLog) Frozen() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.frozen))
	for op := range l.frozen {
		out = append(out, op)
	}
	return out
}
