package httpserver

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/yndnr/segmesh-go/internal/server/httpserver/handler"
	"github.com/yndnr/segmesh-go/internal/telemetry/metric"
)

// RouterConfig holds configuration for the HTTP router.
type RouterConfig struct {
	// Deps are the components behind the API routes.
	Deps handler.Deps

	// Gatherer backs /metrics. Nil omits the endpoint.
	Gatherer prometheus.Gatherer

	// Metrics records request metrics. Nil disables them.
	Metrics *metric.HTTPMetrics

	// RateLimit is the per-client rate of /v1/ routes (requests/second).
	// 0 disables limiting.
	RateLimit int

	// Logger for request logging.
	Logger *slog.Logger
}

// Router is the segmesh-server HTTP handler.
type Router struct {
	handler http.Handler
	api     *handler.Handler
}

// NewRouter creates and configures the HTTP router with all routes and middleware.
func NewRouter(cfg RouterConfig) *Router {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	deps := cfg.Deps
	if deps.Logger == nil {
		deps.Logger = logger
	}
	api := handler.New(deps)

	mux := http.NewServeMux()
	if cfg.Gatherer != nil {
		mux.Handle("GET /metrics", metric.Handler(cfg.Gatherer))
	}
	// Health, handoff and unmatched paths skip the rate limit.
	mux.Handle("/v1/", RateLimit(cfg.RateLimit)(api))
	mux.Handle("/", api)

	route := func(r *http.Request) string {
		h, pattern := mux.Handler(r)
		if pattern == "/" || pattern == "/v1/" {
			return api.Route(r)
		}
		if h == nil {
			return ""
		}
		return pattern
	}

	middlewares := []Middleware{RequestID(), Recover(logger), Observe(logger, cfg.Metrics, route)}

	return &Router{
		handler: Chain(mux, middlewares...),
		api:     api,
	}
}

// ServeHTTP implements http.Handler.
func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rt.handler.ServeHTTP(w, r)
}

// CloseStreams ends open websocket streams. Register it with
// Server.OnShutdown.
func (rt *Router) CloseStreams() {
	rt.api.CloseStreams()
}
