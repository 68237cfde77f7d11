package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pitabwire/wizard/internal/config"
	"github.com/pitabwire/wizard/internal/observability"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config      *config.Config
	Logger      *zap.Logger
	Catalog     TemplateCatalog
	Permissions PermissionChecker
	// WebSocket serves the event channel. Nil leaves the path unrouted.
	WebSocket http.Handler
	Readiness observability.ReadinessChecks
	// Metrics and MetricsHandler are optional.
	Metrics        *observability.Metrics
	MetricsHandler http.Handler
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. The WebSocket route skips the request timeout and
// request logging; connections log their own lifecycle.
func NewRouter(deps Dependencies) chi.Router {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := deps.Config

	r := chi.NewRouter()

	// Global middleware: applied to all routes including health.
	r.Use(Recovery(logger))
	if cfg.Observability.Tracing.Enabled {
		r.Use(observability.TracingMiddleware)
	}
	if deps.Metrics != nil {
		r.Use(deps.Metrics.MetricsMiddleware)
	}
	r.Use(CORS(cfg.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)

	r.Get("/api/health", observability.HandleHealth())
	r.Get("/api/ready", observability.HandleReady(deps.Readiness))
	if cfg.Observability.Metrics.Enabled && deps.MetricsHandler != nil {
		r.Get(cfg.Observability.Metrics.Path, deps.MetricsHandler.ServeHTTP)
	}
	if deps.WebSocket != nil {
		r.Get(cfg.WebSocket.Path, deps.WebSocket.ServeHTTP)
	}

	r.Group(func(r chi.Router) {
		r.Use(HandlerTimeout(cfg.Server.HandlerTimeout))
		r.Use(RequestLogging(logger))

		r.Get("/api/templates", handleListTemplates(deps.Catalog))
		r.Get("/api/templates/{templateId}", handleGetTemplate(deps.Catalog))
		r.Post("/api/permissions/evaluate", handleEvaluatePermission(deps.Permissions, deps.Metrics))
		r.Get("/api/permissions/access", handleCheckAccess(deps.Permissions, deps.Metrics))
	})

	return r
}
