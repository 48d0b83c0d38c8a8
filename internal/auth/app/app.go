package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	httpapi "github.com/aussiebroadwan/fintab/internal/auth/http"
	"github.com/aussiebroadwan/fintab/internal/auth/service"
	"github.com/aussiebroadwan/fintab/internal/auth/store"
	"github.com/aussiebroadwan/fintab/internal/auth/store/drivers/postgres"
	"github.com/aussiebroadwan/fintab/internal/auth/store/drivers/sqlite"
	"github.com/aussiebroadwan/fintab/pkg/cachex"
	"github.com/aussiebroadwan/fintab/pkg/httpx"
	"github.com/aussiebroadwan/fintab/pkg/jwtx"
	"github.com/aussiebroadwan/fintab/pkg/otelx"
	"github.com/aussiebroadwan/fintab/pkg/slogx"
)

const (
	// BuildVersion should be set at build time via ldflags. Later problem
	BuildVersion = "v0.1.0"
)

// connectTimeout bounds the startup store and cache connections.
const connectTimeout = 10 * time.Second

// Application encapsulates the auth service application with all its dependencies
type Application struct {
	cfg    Config
	logger *slog.Logger

	// Core dependencies
	db            store.Store
	cache         *cachex.Cache
	codec         *jwtx.Codec
	registry      *prometheus.Registry
	traceShutdown otelx.ShutdownFunc

	// Services
	sessionService      *service.SessionService
	mfaService          *service.MFAService
	housekeepingService *service.HousekeepingService

	// HTTP server
	server *http.Server
	router *httpapi.Router
}

// New creates a new Application instance with all dependencies initialized.
// A store or cache that cannot be reached is fatal.
func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "auth-service",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	shutdown, err := otelx.Init(ctx, "auth-service", BuildVersion, cfg.OTLPEndpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	app.traceShutdown = shutdown

	if err := app.initDatabase(ctx); err != nil {
		return nil, err
	}
	if err := app.initCache(ctx); err != nil {
		_ = app.db.Close()
		return nil, err
	}

	codec, err := jwtx.NewCodec(jwtx.CodecConfig{
		AccessSecret:  cfg.AccessSecret,
		RefreshSecret: cfg.RefreshSecret,
		Issuer:        cfg.Issuer,
		Audience:      cfg.Audience,
		AccessTTL:     cfg.AccessTTL,
		RefreshTTL:    cfg.RefreshTTL,
	})
	if err != nil {
		app.closeStores()
		return nil, fmt.Errorf("failed to initialize token codec: %w", err)
	}
	app.codec = codec

	app.initServices()
	app.initHTTP()

	return app, nil
}

// Run starts the application and blocks until shutdown is requested
func (app *Application) Run() error {
	// Start housekeeping service
	app.housekeepingService.Start()

	app.logger.Info("auth service starting", "port", app.cfg.Port, "version", BuildVersion)

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	// Setup signal handling for graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Block until we receive a shutdown signal or server error
	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)

		// Perform graceful shutdown
		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown gracefully shuts down the application
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down auth service...")

	// Give outstanding requests a deadline for completion
	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	// Shutdown the HTTP server
	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	// Stop the housekeeping service
	app.housekeepingService.Stop()

	if err := app.traceShutdown(ctx); err != nil {
		app.logger.Error("error flushing traces", "error", err)
	}

	if err := app.closeStores(); err != nil {
		return err
	}

	app.logger.Info("auth service stopped")
	return nil
}

func (app *Application) closeStores() error {
	var errs []error
	if app.cache != nil {
		if err := app.cache.Close(); err != nil {
			app.logger.Error("error closing cache", "error", err)
			errs = append(errs, err)
		}
	}
	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// initDatabase opens the store selected by DatabaseURL and applies migrations
func (app *Application) initDatabase(ctx context.Context) error {
	var (
		db  store.Store
		err error
	)
	if app.cfg.IsPostgres() {
		db, err = postgres.NewStore(ctx, app.cfg.DatabaseURL)
	} else {
		db, err = sqlite.NewStore(app.cfg.DatabaseURL)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := db.Ping(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to reach database: %w", err)
	}

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}
	app.db = db

	app.logger.Info("database migrations applied successfully", "postgres", app.cfg.IsPostgres())
	return nil
}

func (app *Application) initCache(ctx context.Context) error {
	cache, err := cachex.Connect(ctx, app.cfg.RedisURL, app.cfg.CachePrefix)
	if err != nil {
		return fmt.Errorf("failed to connect to cache: %w", err)
	}
	app.cache = cache
	return nil
}

// initServices initializes all business logic services
func (app *Application) initServices() {
	app.registry = prometheus.NewRegistry()
	app.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	app.mfaService = &service.MFAService{
		Store:        app.db,
		Issuer:       app.cfg.MFAIssuer,
		SecretLength: app.cfg.MFASecretLength,
	}

	app.sessionService = &service.SessionService{
		Store:        app.db,
		Codec:        app.codec,
		Blacklist:    &service.Blacklist{Cache: app.cache},
		MFA:          app.mfaService,
		Sender:       service.LogSender{},
		Metrics:      service.NewMetrics(app.registry),
		PasswordCost: app.cfg.BcryptCost,
	}

	app.housekeepingService = service.NewHousekeepingService(
		app.db,
		app.cache,
		app.logger,
		app.cfg.HousekeepingInterval,
	)
}

// initHTTP initializes the HTTP router and server
func (app *Application) initHTTP() {
	router := httpapi.NewRouter(app.db, app.cache, app.logger, httpapi.Options{
		BuildVersion:   BuildVersion,
		CORSOrigins:    app.cfg.CORSOrigins,
		RequestTimeout: app.cfg.RequestTimeout,
		AuthLimit: httpx.RateLimitConfig{
			RequestsPerWindow: app.cfg.RateLimitMax,
			Window:            app.cfg.RateLimitWindow,
		},
	})

	// Wire services to router
	router.Sessions = app.sessionService
	router.MFA = app.mfaService
	router.Gatherer = app.registry
	router.ApplyRoutes()

	app.router = router

	// Initialize HTTP server
	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}
