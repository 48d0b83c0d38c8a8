package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aussiebroadwan/fintab/internal/auth/service"
	"github.com/aussiebroadwan/fintab/internal/auth/store"
	"github.com/aussiebroadwan/fintab/pkg/cachex"
	"github.com/aussiebroadwan/fintab/pkg/httpx"
	"github.com/aussiebroadwan/fintab/pkg/otelx"
	"github.com/aussiebroadwan/fintab/pkg/slogx"
)

// Mount points of the auth API. The unversioned one is kept for older clients.
var Prefixes = []string{"/api/v1/auth", "/api/auth"}

type Options struct {
	BuildVersion   string
	CORSOrigins    []string
	RequestTimeout time.Duration

	// AuthLimit bounds the unauthenticated credential endpoints per client IP.
	AuthLimit httpx.RateLimitConfig
}

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	buildVersion string
	startTime    time.Time
	logger       *slog.Logger

	store store.Store
	cache *cachex.Cache

	Sessions *service.SessionService
	MFA      *service.MFAService

	// Gatherer backs /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer

	authLimiter   httpx.Limiter
	userLimiter   httpx.Limiter
	publicLimiter httpx.Limiter
}

func NewRouter(st store.Store, cache *cachex.Cache, logger *slog.Logger, opts Options) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		buildVersion: opts.BuildVersion,
		startTime:    time.Now(),
		logger:       logger,
		store:        st,
		cache:        cache,

		// Credential budgets are shared by every instance through the cache.
		authLimiter:   httpx.NewWindowLimiter(cache, "auth", opts.AuthLimit),
		userLimiter:   httpx.NewWindowLimiter(cache, "user", opts.AuthLimit),
		publicLimiter: httpx.NewLocalLimiter(httpx.PublicLimit),
	}

	r.middlewares = []httpx.Middleware{
		otelx.Middleware("auth"),
		slogx.HTTPMiddleware(r.logger),
		httpx.CORS(opts.CORSOrigins),
		httpx.RequestTimeout(opts.RequestTimeout),
	}

	return r
}

func (r *Router) ApplyRoutes() {
	for _, prefix := range Prefixes {
		r.registerSessions(prefix)
		r.registerMFA(prefix)
	}
	r.registerSystem()
}

// ServeHTTP implements http.Handler for Router and applies the global middleware chain.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

func (r *Router) public(h http.HandlerFunc) http.Handler {
	return httpx.Chain(h, httpx.RateLimitByIP(r.authLimiter))
}

func (r *Router) secured(h http.Handler) http.Handler {
	return httpx.Chain(h,
		httpx.AuthnMiddleware(r.Sessions),
		httpx.RateLimitByPrincipal(r.userLimiter),
	)
}

func (r *Router) registerSessions(prefix string) {
	h := &SessionHandler{Sessions: r.Sessions}

	r.Mux.Handle("POST "+prefix+"/register", r.public(h.HandleRegister))
	r.Mux.Handle("POST "+prefix+"/login", r.public(h.HandleLogin))
	r.Mux.Handle("POST "+prefix+"/refresh", r.public(h.HandleRefresh))
	r.Mux.Handle("POST "+prefix+"/verify-email", r.public(h.HandleVerifyEmail))

	r.Mux.Handle("POST "+prefix+"/logout", r.secured(http.HandlerFunc(h.HandleLogout)))
	r.Mux.Handle("GET "+prefix+"/profile", r.secured(http.HandlerFunc(h.HandleProfile)))
}

func (r *Router) registerMFA(prefix string) {
	r.Mux.Handle("POST "+prefix+"/mfa", r.secured(&MFAHandler{MFA: r.MFA}))
}

func (r *Router) registerSystem() {
	health := &Health{
		Deps: []Dependency{
			{Name: "database", Pinger: r.store, Degraded: StoreDegradedAfter},
			{Name: "cache", Pinger: r.cache, Degraded: CacheDegradedAfter},
		},
		Version:   r.buildVersion,
		StartTime: r.startTime,
	}

	// Monitoring systems poll these, so they get the lenient in-process budget
	limit := httpx.RateLimitByIP(r.publicLimiter)
	r.Mux.Handle("GET /health", httpx.Chain(http.HandlerFunc(health.Ready), limit))
	r.Mux.Handle("GET /health/ready", httpx.Chain(http.HandlerFunc(health.Ready), limit))
	r.Mux.Handle("GET /health/live", httpx.Chain(http.HandlerFunc(health.Live), limit))
	r.Mux.Handle("GET /health/detailed", httpx.Chain(http.HandlerFunc(health.Detailed), limit, httpx.OptionalAuthn(r.Sessions)))

	if r.Gatherer != nil {
		r.Mux.Handle("GET /metrics", promhttp.HandlerFor(r.Gatherer, promhttp.HandlerOpts{}))
	}
}
