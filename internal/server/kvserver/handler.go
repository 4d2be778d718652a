package kvserver

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/yndnr/segmesh-go/internal/core/domain"
	"github.com/yndnr/segmesh-go/internal/craq"
	"github.com/yndnr/segmesh-go/internal/storage"
)

// Handler applies requests to an engine.
type Handler struct {
	engine  storage.Engine
	logger  *slog.Logger
	metrics *metrics
}

// NewHandler creates a handler over engine.
func NewHandler(engine storage.Engine, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{engine: engine, logger: logger, metrics: newMetrics()}
}

// Handle executes req and returns the response to send.
func (h *Handler) Handle(ctx context.Context, req craq.Request) craq.Response {
	start := time.Now()
	resp := h.handle(ctx, req)
	h.metrics.observe(req.Cmd, resp.Kind, time.Since(start))
	return resp
}

func (h *Handler) handle(ctx context.Context, req craq.Request) craq.Response {
	switch req.Cmd {
	case craq.CmdGet:
		entry, err := h.engine.Get(ctx, req.Key)
		if errors.Is(err, storage.ErrKeyNotFound) {
			return craq.Response{Kind: craq.ResponseNotFound, Key: req.Key}
		}
		if err != nil {
			return h.fail(req, err)
		}
		return craq.Response{Kind: craq.ResponseValue, Key: req.Key, Value: entry.Marshal()}

	case craq.CmdSet:
		entry, err := domain.UnmarshalEntry(req.Value[:])
		if err != nil {
			return h.fail(req, err)
		}
		stored, err := h.engine.Put(ctx, req.Key, entry)
		if err != nil {
			return h.fail(req, err)
		}
		if !stored {
			h.logger.Debug("stale write refused", "key", req.Key, "epoch", entry.Epoch)
			return craq.Response{Kind: craq.ResponseNotStored, Key: req.Key}
		}
		return craq.Response{Kind: craq.ResponseStored, Key: req.Key}

	default:
		return craq.Response{Kind: craq.ResponseError, Message: "unknown command " + req.Cmd}
	}
}

func (h *Handler) fail(req craq.Request, err error) craq.Response {
	h.logger.Error("request failed", "cmd", req.Cmd, "key", req.Key, "error", err)
	return craq.Response{Kind: craq.ResponseError, Message: errorMessage(err)}
}

// errorMessage renders err for the wire: the code for domain errors,
// otherwise the text. Messages never contain a newline.
func errorMessage(err error) string {
	msg := err.Error()
	if code := domain.ErrorCode(err); code != "" {
		msg = code
	}
	b := []byte(msg)
	for i, c := range b {
		if c == '\n' || c == '\r' {
			b[i] = ' '
		}
	}
	return string(b)
}
