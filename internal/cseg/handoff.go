package cseg

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/yndnr/segmesh-go/internal/core/domain"
	"github.com/yndnr/segmesh-go/internal/servermap"
	"github.com/yndnr/segmesh-go/internal/telemetry/logger"
)

// DefaultHandoffTimeout bounds one freeze/prepare/publish/release cycle.
const DefaultHandoffTimeout = 5 * time.Second

// Phase is one step of the ownership handoff protocol.
type Phase string

const (
	// PhaseFreeze asks the giving servers to stop admitting objects into
	// the region that changes hands.
	PhaseFreeze Phase = "freeze"
	// PhasePrepare asks the receiving servers to get ready to own it.
	PhasePrepare Phase = "prepare"
	// PhaseRelease tells the giving servers the new owners are live.
	PhaseRelease Phase = "release"
	// PhaseAbort unfreezes the giving servers after a failed handoff.
	PhaseAbort Phase = "abort"
)

// HandoffRequest is sent to every server taking part in a phase.
type HandoffRequest struct {
	Operation  string     `json:"operation"`
	Phase      Phase      `json:"phase"`
	Transition Transition `json:"transition"`
	Deadline   time.Time  `json:"deadline"`
}

// Handoff notifies space servers of a region changing owner.
type Handoff interface {
	Notify(ctx context.Context, req HandoffRequest, servers []domain.ServerID) error
}

// NoopHandoff accepts every phase. Used when a single process hosts all
// regions.
type NoopHandoff struct{}

// Notify implements Handoff.
func (NoopHandoff) Notify(ctx context.Context, _ HandoffRequest, _ []domain.ServerID) error {
	return ctx.Err()
}

// HTTPHandoff POSTs each phase to the internal address of every involved
// server, concurrently.
type HTTPHandoff struct {
	servers servermap.ServerIDMap
	client  *http.Client
	logger  *slog.Logger
}

// NewHTTPHandoff creates a handoff that resolves servers through m.
func NewHTTPHandoff(m servermap.ServerIDMap, client *http.Client, logger *slog.Logger) *HTTPHandoff {
	if client == nil {
		client = &http.Client{Timeout: DefaultHandoffTimeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPHandoff{servers: m, client: client, logger: logger}
}

// HandoffPath is the URL path a space server serves for phase.
func HandoffPath(phase Phase) string {
	return "/internal/v1/handoff/" + string(phase)
}

// Notify implements Handoff.
func (h *HTTPHandoff) Notify(ctx context.Context, req HandoffRequest, servers []domain.ServerID) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode handoff request: %w", err)
	}

	// Resolve every address first so no POST is left running on failure.
	urls := make([]string, len(servers))
	for n, id := range servers {
		addr, ok := h.servers.LookupInternal(id)
		if !ok {
			return domain.ErrHandoffFailed.WithDetails("server %s has no internal address", id)
		}
		urls[n] = "http://" + addr.String() + HandoffPath(req.Phase)
	}

	g, ctx := errgroup.WithContext(ctx)
	for n, id := range servers {
		g.Go(func() error {
			return h.post(ctx, id, urls[n], body)
		})
	}
	return g.Wait()
}

func (h *HTTPHandoff) post(ctx context.Context, id domain.ServerID, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build handoff request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return domain.ErrHandoffFailed.WithDetails("server %s", id).WithCause(err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode/100 != 2 {
		h.logger.DebugContext(ctx, "handoff refused", "server", id, "url", url, "status", resp.StatusCode)
		return domain.ErrHandoffFailed.WithDetails("server %s answered %s", id, resp.Status)
	}
	return nil
}

// runHandoff drives t through freeze, prepare, publish and release. If
// anything before publish fails the giving servers are unfrozen and the
// tree stays as it was.
func runHandoff(ctx context.Context, h Handoff, p Publisher, t Transition, timeout time.Duration, log *slog.Logger) (*Snapshot, error) {
	if t.ID == "" {
		t.ID = ulid.Make().String()
	}
	ctx = logger.WithTransition(ctx, t.ID)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	deadline, _ := ctx.Deadline()
	req := HandoffRequest{Operation: t.ID, Transition: t, Deadline: deadline}
	before, after := t.Before(), t.After()

	abort := func(cause error) error {
		// The operation deadline may already have passed; give the abort
		// its own budget.
		actx, acancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer acancel()
		req.Phase = PhaseAbort
		if err := h.Notify(actx, req, before); err != nil {
			log.WarnContext(actx, "handoff abort failed", "error", err)
		}
		if domain.IsError(cause, domain.ErrHandoffFailed.Code) || domain.IsError(cause, domain.ErrTreeChanged.Code) {
			return cause
		}
		return domain.ErrHandoffFailed.WithDetails("operation %s", t.ID).WithCause(cause)
	}

	req.Phase = PhaseFreeze
	if err := h.Notify(ctx, req, before); err != nil {
		return nil, abort(err)
	}
	req.Phase = PhasePrepare
	if err := h.Notify(ctx, req, after); err != nil {
		return nil, abort(err)
	}

	next, err := p.Publish(ctx, t)
	if err != nil {
		return nil, abort(err)
	}

	req.Phase = PhaseRelease
	if err := h.Notify(ctx, req, before); err != nil {
		// Published; the old owner learns of the change from the tree.
		log.WarnContext(ctx, "handoff release failed", "error", err)
	}
	return next, nil
}
