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

	airhttp "github.com/aussiebroadwan/fintab/internal/airouter/http"
	"github.com/aussiebroadwan/fintab/internal/airouter/provider"
	"github.com/aussiebroadwan/fintab/internal/airouter/service"
	"github.com/aussiebroadwan/fintab/pkg/otelx"
	"github.com/aussiebroadwan/fintab/pkg/slogx"
)

const BuildVersion = "v0.1.0"

// Application wires the provider clients behind the chat router.
type Application struct {
	cfg    Config
	logger *slog.Logger

	registry      *prometheus.Registry
	traceShutdown otelx.ShutdownFunc
	router        *service.Router

	server *http.Server
}

func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "ai-router",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	shutdown, err := otelx.Init(ctx, "ai-router", BuildVersion, cfg.OTLPEndpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	app.traceShutdown = shutdown

	if err := app.initServices(); err != nil {
		_ = app.traceShutdown(ctx)
		return nil, err
	}
	app.initHTTP()

	return app, nil
}

// initServices builds the provider clients and the routing policy over them
func (app *Application) initServices() error {
	app.registry = prometheus.NewRegistry()
	app.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	sig, err := service.CompileSignature(app.cfg.FallbackPattern)
	if err != nil {
		return fmt.Errorf("failed to compile fallback pattern: %w", err)
	}

	app.router = &service.Router{
		Primary: &provider.BatchClient{
			Kind:      provider.KindOpenAI,
			Config:    app.cfg.Primary(),
			MaxTokens: app.cfg.PrimaryMaxTokens,
		},
		Signature: sig,
		Window:    app.cfg.ContextWindow,
		Metrics:   service.NewMetrics(app.registry),
	}

	// Assigned only when configured so the interface stays nil otherwise
	if app.cfg.HasSecondary() {
		app.router.Secondary = &provider.StreamClient{
			Kind:   provider.KindPerplexity,
			Config: app.cfg.Secondary(),
		}
	} else {
		app.logger.Warn("PERPLEXITY_API_KEY not set, real-time fallback disabled")
	}

	return nil
}

func (app *Application) initHTTP() {
	router := airhttp.NewRouter(BuildVersion, app.cfg.CORSOrigins, app.logger)
	router.Chat = app.router
	router.Gatherer = app.registry
	router.Providers = map[string]bool{
		provider.KindOpenAI.String():     true,
		provider.KindPerplexity.String(): app.cfg.HasSecondary(),
	}
	router.ApplyRoutes()

	// No WriteTimeout, relayed streams may run up to SecondaryTimeout
	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}

// Run starts the application and blocks until shutdown is requested
func (app *Application) Run() error {
	app.logger.Info("ai router starting", "port", app.cfg.Port, "version", BuildVersion,
		"fallback", app.cfg.HasSecondary())

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)
		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

func (app *Application) Shutdown() error {
	app.logger.Info("shutting down ai router...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	if err := app.traceShutdown(ctx); err != nil {
		app.logger.Error("error flushing traces", "error", err)
	}

	app.logger.Info("ai router stopped")
	return nil
}
