package logger

import (
	"context"
	"log/slog"
)

type ctxKey int

const (
	requestIDKey ctxKey = iota
	transitionKey
)

// WithRequestID returns ctx carrying the id of the API request being
// served.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID returns the request id carried by ctx, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithTransition returns ctx carrying the id of the CSEG tree transition
// being driven.
func WithTransition(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, transitionKey, id)
}

// Transition returns the transition id carried by ctx, or "".
func Transition(ctx context.Context) string {
	id, _ := ctx.Value(transitionKey).(string)
	return id
}

// contextHandler stamps records logged through the *Context methods with
// the ids ctx carries.
type contextHandler struct {
	slog.Handler
}

func (h contextHandler) Handle(ctx context.Context, r slog.Record) error {
	if ctx != nil {
		if id := RequestID(ctx); id != "" {
			r.AddAttrs(slog.String("request_id", id))
		}
		if id := Transition(ctx); id != "" {
			r.AddAttrs(slog.String("transition", id))
		}
	}
	return h.Handler.Handle(ctx, r)
}

func (h contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return contextHandler{h.Handler.WithAttrs(attrs)}
}

func (h contextHandler) WithGroup(name string) slog.Handler {
	return contextHandler{h.Handler.WithGroup(name)}
}

// NewContextHandler wraps h so that request and transition ids in the
// logging context are added to every record.
func NewContextHandler(h slog.Handler) slog.Handler {
	if _, ok := h.(contextHandler); ok {
		return h
	}
	return contextHandler{h}
}
