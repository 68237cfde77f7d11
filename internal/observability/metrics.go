package observability

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Histogram bucket definitions.
var (
	httpDurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	turnDurationBuckets = []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1}
)

// Metrics holds all Prometheus metric instruments for the wizard.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// WebSocket metrics
	WSConnectionsTotal  prometheus.Counter
	WSConnectionsActive prometheus.Gauge
	WSEventsTotal       *prometheus.CounterVec

	// Conversation metrics
	TurnsTotal              *prometheus.CounterVec
	TurnDuration            *prometheus.HistogramVec
	TemplateSelectionsTotal *prometheus.CounterVec
	StageCompletionsTotal   *prometheus.CounterVec
	WorkflowActivations     *prometheus.CounterVec
	ResetsTotal             *prometheus.CounterVec
	StaleTurnsTotal         prometheus.Counter
	SessionsActive          prometheus.Gauge

	// Permission metrics
	PermissionDecisionsTotal *prometheus.CounterVec

	// System metrics
	TemplatesLoaded prometheus.Gauge
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wizard_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wizard_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),

		// WebSocket
		WSConnectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wizard_ws_connections_total",
			Help: "Total number of accepted WebSocket connections.",
		}),
		WSConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wizard_ws_connections_active",
			Help: "Number of open WebSocket connections.",
		}),
		WSEventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wizard_ws_events_total",
			Help: "Total number of WebSocket events by direction and type.",
		}, []string{"direction", "event"}),

		// Conversation
		TurnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wizard_turns_total",
			Help: "Total number of conversation turns by state before the turn.",
		}, []string{"state"}),
		TurnDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wizard_turn_duration_seconds",
			Help:    "Engine processing time per turn, excluding typing delay.",
			Buckets: turnDurationBuckets,
		}, []string{"state"}),
		TemplateSelectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wizard_template_selections_total",
			Help: "Total number of template selections.",
		}, []string{"template_id"}),
		StageCompletionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wizard_stage_completions_total",
			Help: "Total number of pipeline stages fully answered.",
		}, []string{"template_id", "stage"}),
		WorkflowActivations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wizard_workflow_activations_total",
			Help: "Total number of workflows activated from review.",
		}, []string{"template_id"}),
		ResetsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wizard_resets_total",
			Help: "Total number of session resets by trigger.",
		}, []string{"trigger"}),
		StaleTurnsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wizard_stale_turns_total",
			Help: "Total number of turn results dropped because the session was replaced.",
		}),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wizard_sessions_active",
			Help: "Number of live sessions.",
		}),

		// Permissions
		PermissionDecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wizard_permission_decisions_total",
			Help: "Total number of permission checks by operation and outcome.",
		}, []string{"operation", "outcome", "code"}),

		// System
		TemplatesLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wizard_templates_loaded",
			Help: "Number of templates in the catalog.",
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.WSConnectionsTotal,
		m.WSConnectionsActive,
		m.WSEventsTotal,
		m.TurnsTotal,
		m.TurnDuration,
		m.TemplateSelectionsTotal,
		m.StageCompletionsTotal,
		m.WorkflowActivations,
		m.ResetsTotal,
		m.StaleTurnsTotal,
		m.SessionsActive,
		m.PermissionDecisionsTotal,
		m.TemplatesLoaded,
	)

	return m
}

// --- Recording helpers ---

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
}

// RecordConnectionOpened records an accepted WebSocket connection.
func (m *Metrics) RecordConnectionOpened() {
	m.WSConnectionsTotal.Inc()
	m.WSConnectionsActive.Inc()
}

// RecordConnectionClosed records a closed WebSocket connection.
func (m *Metrics) RecordConnectionClosed() {
	m.WSConnectionsActive.Dec()
}

// RecordEvent records one WebSocket event. direction is "in" or "out".
func (m *Metrics) RecordEvent(direction, event string) {
	m.WSEventsTotal.WithLabelValues(direction, event).Inc()
}

// RecordTurn records one engine turn.
func (m *Metrics) RecordTurn(state string, duration time.Duration) {
	m.TurnsTotal.WithLabelValues(state).Inc()
	m.TurnDuration.WithLabelValues(state).Observe(duration.Seconds())
}

// RecordTemplateSelected records a template selection.
func (m *Metrics) RecordTemplateSelected(templateID string) {
	m.TemplateSelectionsTotal.WithLabelValues(templateID).Inc()
}

// RecordStageCompleted records a stage whose last field was answered.
func (m *Metrics) RecordStageCompleted(templateID, stage string) {
	m.StageCompletionsTotal.WithLabelValues(templateID, stage).Inc()
}

// RecordActivation records a workflow activation.
func (m *Metrics) RecordActivation(templateID string) {
	m.WorkflowActivations.WithLabelValues(templateID).Inc()
}

// RecordReset records a session reset.
func (m *Metrics) RecordReset(trigger string) {
	m.ResetsTotal.WithLabelValues(trigger).Inc()
}

// RecordStaleTurn records a dropped stale turn result.
func (m *Metrics) RecordStaleTurn() {
	m.StaleTurnsTotal.Inc()
}

// SetSessionsActive sets the number of live sessions.
func (m *Metrics) SetSessionsActive(n int) {
	m.SessionsActive.Set(float64(n))
}

// RecordPermissionDecision records the outcome of a permission check.
func (m *Metrics) RecordPermissionDecision(operation string, allowed bool, code string) {
	outcome := "denied"
	if allowed {
		outcome = "allowed"
	}
	m.PermissionDecisionsTotal.WithLabelValues(operation, outcome, code).Inc()
}

// SetTemplatesLoaded sets the number of loaded templates.
func (m *Metrics) SetTemplatesLoaded(count int) {
	m.TemplatesLoaded.Set(float64(count))
}

// --- HTTP Middleware ---

// MetricsMiddleware returns HTTP middleware that records request metrics using
// chi's route pattern (not the actual URL path) to avoid label cardinality
// explosion.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		m.RecordHTTPRequest(r.Method, routePattern(r), sw.status, time.Since(start))
	})
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// HandlerFor returns the /metrics handler for a specific registry.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// routePattern extracts chi's route pattern from the request context.
// Falls back to the raw URL path if no pattern is found.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.Join(rctx.RoutePatterns, "")
	pattern = strings.TrimSuffix(pattern, "/*")
	if pattern == "" {
		return r.URL.Path
	}
	return pattern
}

// metricsResponseWriter wraps http.ResponseWriter to capture status.
type metricsResponseWriter struct {
	http.ResponseWriter
	status  int
	written bool
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *metricsResponseWriter) Write(b []byte) (int, error) {
	w.written = true
	return w.ResponseWriter.Write(b)
}

// Hijack lets the WebSocket upgrader take over the connection.
func (w *metricsResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return hijack(w.ResponseWriter, &w.status)
}

// hijack delegates to the wrapped writer. A hijacked connection is reported
// as 101 Switching Protocols.
func hijack(w http.ResponseWriter, status *int) (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("observability: %T does not support hijacking", w)
	}
	conn, rw, err := h.Hijack()
	if err == nil {
		*status = http.StatusSwitchingProtocols
	}
	return conn, rw, err
}
