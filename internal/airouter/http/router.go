package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aussiebroadwan/fintab/internal/airouter/service"
	"github.com/aussiebroadwan/fintab/pkg/httpx"
	"github.com/aussiebroadwan/fintab/pkg/otelx"
	"github.com/aussiebroadwan/fintab/pkg/slogx"
)

// ChatPath is the routed chat endpoint.
const ChatPath = "/api/v1/ai-router"

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	buildVersion string
	startTime    time.Time
	logger       *slog.Logger

	Chat *service.Router

	// Gatherer backs /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer

	// Providers reports which upstreams are configured, for /health.
	Providers map[string]bool

	chatLimiter   httpx.Limiter
	publicLimiter httpx.Limiter
}

func NewRouter(buildVersion string, corsOrigins []string, logger *slog.Logger) *Router {
	r := &Router{
		Mux:           http.NewServeMux(),
		buildVersion:  buildVersion,
		startTime:     time.Now(),
		logger:        logger,
		chatLimiter:   httpx.NewLocalLimiter(httpx.ChatLimit),
		publicLimiter: httpx.NewLocalLimiter(httpx.PublicLimit),
	}

	// No request deadline here, provider clients carry their own timeouts
	// and streams outlive any fixed bound.
	r.middlewares = []httpx.Middleware{
		otelx.Middleware("airouter"),
		slogx.HTTPMiddleware(r.logger),
		httpx.CORS(corsOrigins),
	}

	return r
}

func (r *Router) ApplyRoutes() {
	r.Mux.Handle("POST "+ChatPath,
		httpx.Chain(&ChatHandler{Router: r.Chat},
			httpx.RateLimitByIP(r.chatLimiter),
		),
	)

	limit := httpx.RateLimitByIP(r.publicLimiter)
	r.Mux.Handle("GET /health", httpx.Chain(r.health(), limit))
	r.Mux.Handle("GET /health/live", httpx.Chain(r.health(), limit))

	if r.Gatherer != nil {
		r.Mux.Handle("GET /metrics", promhttp.HandlerFor(r.Gatherer, promhttp.HandlerOpts{}))
	}
}

// ServeHTTP implements http.Handler for Router and applies the global middleware chain.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

type HealthResponse struct {
	Status    string          `json:"status"`
	Uptime    string          `json:"uptime"`
	Version   string          `json:"version"`
	Providers map[string]bool `json:"providers"`
}

// health is a liveness answer plus which providers are configured. Upstreams
// are never called from here.
func (r *Router) health() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, HealthResponse{
			Status:    "healthy",
			Uptime:    time.Since(r.startTime).String(),
			Version:   r.buildVersion,
			Providers: r.Providers,
		})
	}
}
