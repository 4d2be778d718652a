package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/yndnr/segmesh-go/internal/core/domain"
	"github.com/yndnr/segmesh-go/internal/cseg"
	"github.com/yndnr/segmesh-go/internal/oseg"
	"github.com/yndnr/segmesh-go/internal/server/clusterserver"
	"github.com/yndnr/segmesh-go/internal/servermap"
	"github.com/yndnr/segmesh-go/internal/strand"
	"github.com/yndnr/segmesh-go/internal/telemetry/logger"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// ObjectIndex is the part of the OSEG index the API serves.
type ObjectIndex interface {
	Resolve(ctx context.Context, id domain.ObjectID) (oseg.LookupResult, error)
	Upsert(id domain.ObjectID, entry domain.OSegEntry)
	UpsertTracked(id domain.ObjectID, entry domain.OSegEntry) <-chan error
	Stats(ctx context.Context) (oseg.Stats, error)
}

// SampleRecorder accepts population samples.
type SampleRecorder interface {
	RecordSample(p domain.Vector3, weight float64) error
	RecordLeafSample(path string, weight float64) error
}

// ClusterStatus reports replication state.
type ClusterStatus interface {
	Status() clusterserver.Status
}

// HandoffReceiver is told about regions changing owner.
type HandoffReceiver interface {
	Handoff(ctx context.Context, req cseg.HandoffRequest) error
}

// Deps are the components behind the API. Nil components disable their
// routes, which then answer 503.
type Deps struct {
	Index   ObjectIndex
	Replica *cseg.Replica
	Samples SampleRecorder
	Cluster ClusterStatus
	Servers servermap.ServerIDMap
	Handoff HandoffReceiver
	Logger  *slog.Logger
}

// Handler is the main HTTP handler that routes requests to appropriate handlers.
type Handler struct {
	deps   Deps
	logger *slog.Logger
	mux    *http.ServeMux

	streams     chan struct{}
	streamsOnce sync.Once
}

// New creates a Handler over deps.
func New(deps Deps) *Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	h := &Handler{
		deps:    deps,
		logger:  deps.Logger,
		mux:     http.NewServeMux(),
		streams: make(chan struct{}),
	}

	h.registerRoutes()
	return h
}

// CloseStreams ends every open watch stream.
func (h *Handler) CloseStreams() {
	h.streamsOnce.Do(func() { close(h.streams) })
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// Route returns the pattern r would be served by, or "" if none matches.
func (h *Handler) Route(r *http.Request) string {
	_, pattern := h.mux.Handler(r)
	return pattern
}

func (h *Handler) registerRoutes() {
	h.mux.HandleFunc("GET /healthz", h.handleHealth)
	h.mux.HandleFunc("GET /readyz", h.handleReady)

	h.mux.HandleFunc("GET /v1/oseg/{objectID}", h.handleGetObject)
	h.mux.HandleFunc("PUT /v1/oseg/{objectID}", h.handlePutObject)
	h.mux.HandleFunc("GET /v1/stats", h.handleStats)

	h.mux.HandleFunc("GET /v1/cseg/lookup", h.handleLookup)
	h.mux.HandleFunc("GET /v1/cseg/leaves", h.handleLeaves)
	h.mux.HandleFunc("POST /v1/cseg/samples", h.handleSamples)
	h.mux.HandleFunc("GET /v1/cseg/watch", h.handleWatch)

	h.mux.HandleFunc("GET /v1/servers", h.handleServers)
	h.mux.HandleFunc("GET /v1/cluster", h.handleCluster)

	h.mux.HandleFunc("POST "+cseg.HandoffPath("{phase}"), h.handleHandoff)
}

// writeJSON writes a JSON response with standard envelope format.
func (h *Handler) writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	h.writeEnvelope(w, status, NewResponse(h.requestID(r), data))
}

// writeError writes an error response with standard envelope format.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, status int, code, message, details string) {
	w.Header().Set("X-Error-Code", code)
	h.writeEnvelope(w, status, NewErrorResponse(h.requestID(r), code, message, details))
}

func (h *Handler) writeEnvelope(w http.ResponseWriter, status int, resp *Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

// writeDomainError converts err to an HTTP response.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var de *domain.Error
	if errors.As(err, &de) {
		h.writeError(w, r, StatusForCode(de.Code), de.Code, de.Message, de.Details)
		return
	}
	switch {
	case errors.Is(err, strand.ErrStopped):
		h.writeError(w, r, http.StatusServiceUnavailable, domain.ErrClosed.Code, domain.ErrClosed.Message, "")
		return
	case errors.Is(err, context.DeadlineExceeded):
		h.writeError(w, r, http.StatusGatewayTimeout, domain.ErrTimeout.Code, domain.ErrTimeout.Message, err.Error())
		return
	case errors.Is(err, context.Canceled):
		// Client went away; nobody reads the body.
		return
	}

	h.logger.ErrorContext(r.Context(), "internal error", "error", err, "path", r.URL.Path)
	h.writeError(w, r, http.StatusInternalServerError, CodeInternal, "internal server error", "")
}

func (h *Handler) unavailable(w http.ResponseWriter, r *http.Request, component string) {
	h.writeError(w, r, http.StatusServiceUnavailable, CodeUnavailable, component+" is not enabled on this server", "")
}

func (h *Handler) badRequest(w http.ResponseWriter, r *http.Request, details string) {
	h.writeError(w, r, http.StatusBadRequest, CodeBadRequest, "invalid request", details)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		h.badRequest(w, r, err.Error())
		return false
	}
	return true
}

func (h *Handler) requestID(r *http.Request) string {
	return logger.RequestID(r.Context())
}

// Codes for failures that are not domain errors.
const (
	CodeBadRequest  = "SM-API-4000"
	CodeUnavailable = "SM-API-5030"
	CodeInternal    = "SM-API-5000"
	CodeRateLimited = "SM-API-4290"
)

// StatusForCode maps an error code to an HTTP status. The first three
// digits of the numeric suffix are the status.
func StatusForCode(code string) int {
	if len(code) < 4 {
		return http.StatusInternalServerError
	}
	n, err := strconv.Atoi(code[len(code)-4 : len(code)-1])
	if err != nil || n < 400 || n > 599 || http.StatusText(n) == "" {
		return http.StatusInternalServerError
	}
	return n
}
