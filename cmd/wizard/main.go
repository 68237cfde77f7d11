// Package main is the entry point for the pipeline wizard server.
// It wires all dependencies together and starts the HTTP server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/pitabwire/wizard/internal/catalog"
	"github.com/pitabwire/wizard/internal/config"
	"github.com/pitabwire/wizard/internal/observability"
	"github.com/pitabwire/wizard/internal/permission"
	"github.com/pitabwire/wizard/internal/session"
	"github.com/pitabwire/wizard/internal/transport"
	"github.com/pitabwire/wizard/internal/wizard"
	"github.com/pitabwire/wizard/model"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Step 1: Parse CLI flags.
	configPath := flag.String("config", "config.yaml", "path to configuration file (optional)")
	flag.Parse()

	// Step 2: Load configuration.
	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	// Step 3: Initialize telemetry (logger, tracer, metrics).
	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "pipeline-wizard", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.InitMetrics(promReg)

	// Step 4: Load, validate and index the template catalog.
	registry, err := catalog.Build(cfg.Catalog.Directories)
	if err != nil {
		logCatalogError(logger, err)
		return 1
	}
	metrics.SetTemplatesLoaded(registry.Len())

	// Step 5: Initialize the permission guard.
	guard, err := buildGuard(cfg.Permissions)
	if err != nil {
		logger.Error("permission policy initialization failed", zap.Error(err))
		return 1
	}

	// Step 6: Build the session store and wizard service.
	store := session.NewMemoryStore()
	service := wizard.NewService(wizard.Deps{
		Store:   store,
		Catalog: registry,
		Config:  cfg.Conversation,
		Logger:  logger,
		Metrics: metrics,
	})

	// Step 7: Build HTTP router.
	wsHandler := transport.NewWebSocketHandler(cfg.WebSocket, service, logger, metrics)
	router := transport.NewRouter(transport.Dependencies{
		Config:      cfg,
		Logger:      logger,
		Catalog:     registry,
		Permissions: guard,
		WebSocket:   wsHandler,
		Readiness: observability.ReadinessChecks{
			TemplatesLoaded: func() bool { return registry.Len() > 0 },
			SessionStore:    store,
		},
		Metrics:        metrics,
		MetricsHandler: observability.HandlerFor(promReg),
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Step 8: Start background tasks.
	bgCtx, bgCancel := context.WithCancel(ctx)
	defer bgCancel()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go runReloader(bgCtx, hup, registry, guard, cfg, metrics, logger)

	// Step 9: Bind and start HTTP server.
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			fmt.Fprintf(os.Stderr, "❌ Port %d is already in use.\n", cfg.Server.Port)
			fmt.Fprintf(os.Stderr, "   Run: lsof -ti:%d | xargs kill -9\n", cfg.Server.Port)
			logger.Error("port already in use",
				zap.Int("port", cfg.Server.Port),
				zap.String("hint", fmt.Sprintf("lsof -ti:%d | xargs kill -9", cfg.Server.Port)),
			)
			return 1
		}
		logger.Error("listen failed", zap.String("addr", srv.Addr), zap.Error(err))
		return 1
	}

	logger.Info("server started",
		zap.String("addr", srv.Addr),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.Int("templates", registry.Len()),
		zap.String("catalog_checksum", registry.Checksum()),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	// Graceful shutdown sequence.
	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Stop accepting new connections and drain in-flight requests.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// Hijacked WebSocket connections are not covered by Shutdown.
	wsHandler.Close()
	service.Close(shutdownCtx)

	// Cancel background tasks.
	bgCancel()

	// Flush telemetry.
	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return 0
}

// buildGuard creates the guard from the policy file, or over the built-in
// roles when none is configured.
func buildGuard(cfg config.PermissionsConfig) (*permission.Guard, error) {
	if cfg.PolicyFile == "" {
		return permission.NewGuard(), nil
	}
	guard, err := permission.NewGuardFromFile(cfg.PolicyFile)
	if err != nil {
		return nil, fmt.Errorf("policy %s: %w", cfg.PolicyFile, err)
	}
	return guard, nil
}

func logCatalogError(logger *zap.Logger, err error) {
	if ee, ok := err.(*model.ErrorEnvelope); ok {
		for _, d := range ee.Details {
			logger.Error("template validation error",
				zap.String("field", d.Field),
				zap.String("code", d.Code),
				zap.String("error", d.Message),
			)
		}
		logger.Error("template catalog validation failed", zap.Int("errors", len(ee.Details)))
		return
	}
	logger.Error("template catalog failed to load", zap.Error(err))
}

// runReloader re-reads the catalog directories and the policy file on
// SIGHUP. A failed reload keeps the previous data.
func runReloader(ctx context.Context, hup <-chan os.Signal, registry *catalog.Registry, guard *permission.Guard, cfg *config.Config, metrics *observability.Metrics, logger *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := registry.Reload(cfg.Catalog.Directories); err != nil {
				logCatalogError(logger, err)
			} else {
				metrics.SetTemplatesLoaded(registry.Len())
				logger.Info("template catalog reloaded",
					zap.Int("templates", registry.Len()),
					zap.String("catalog_checksum", registry.Checksum()),
				)
			}
			if cfg.Permissions.PolicyFile != "" {
				if err := guard.Sync(); err != nil {
					logger.Error("permission policy reload failed", zap.Error(err))
				} else {
					logger.Info("permission policy reloaded", zap.Strings("roles", guard.Roles()))
				}
			}
		}
	}
}
