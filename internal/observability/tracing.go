package observability

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/pitabwire/wizard/internal/config"
)

const tracerName = "github.com/pitabwire/wizard"

// Exporters understood by InitTracing. ExporterNone keeps trace ids for log
// correlation without shipping spans anywhere.
const (
	ExporterOTLP   = "otlp"
	ExporterStdout = "stdout"
	ExporterNone   = "none"
)

const defaultSamplingRate = 0.1

// Attribute keys used on wizard spans.
var (
	AttrSessionID  = attribute.Key("wizard.session_id")
	AttrTemplateID = attribute.Key("wizard.template_id")
	AttrStateFrom  = attribute.Key("wizard.state_from")
	AttrStateTo    = attribute.Key("wizard.state_to")
	AttrStage      = attribute.Key("wizard.stage")
	AttrFieldKey   = attribute.Key("wizard.field_key")
	AttrEvent      = attribute.Key("wizard.event")
	AttrStale      = attribute.Key("wizard.stale")
	AttrUpgraded   = attribute.Key("wizard.websocket")
)

// InitTracing installs the global TracerProvider and W3C propagators. The
// returned function flushes and stops the provider.
func InitTracing(ctx context.Context, cfg config.TracingConfig, serviceName, serviceVersion string) (func(context.Context) error, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(serviceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("tracing: create resource: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(newSampler(cfg)),
	}
	switch cfg.Exporter {
	case ExporterNone:
	case ExporterStdout:
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("tracing: stdout exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exp))
	case ExporterOTLP, "":
		var grpcOpts []otlptracegrpc.Option
		if cfg.Endpoint != "" {
			grpcOpts = append(grpcOpts, otlptracegrpc.WithEndpoint(cfg.Endpoint))
		}
		exp, err := otlptracegrpc.New(ctx, grpcOpts...)
		if err != nil {
			return nil, fmt.Errorf("tracing: otlp exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exp))
	default:
		return nil, fmt.Errorf("tracing: unsupported exporter %q (supported: otlp, stdout, none)", cfg.Exporter)
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return tp.Shutdown, nil
}

// newSampler honours the caller's sampling decision and samples new traces
// at the configured ratio, clamped to (0, 1].
func newSampler(cfg config.TracingConfig) sdktrace.Sampler {
	rate := cfg.SamplingRate
	switch {
	case rate <= 0:
		rate = defaultSamplingRate
	case rate >= 1:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
}

// Tracer returns the wizard tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts an internal span on the wizard tracer.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpanWithError records err on span, if any, and ends it.
func EndSpanWithError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// AddEvent records a named event on the span in ctx. It is a no-op when ctx
// carries no recording span.
func AddEvent(ctx context.Context, event string) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.AddEvent(event, trace.WithAttributes(AttrEvent.String(event)))
}

// TraceIDFromContext returns the hex trace id of the span in ctx, or "".
func TraceIDFromContext(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

// TracingMiddleware starts a server span per request, continuing any
// inbound traceparent. Spans are named by chi route pattern once routing is
// done. A WebSocket upgrade ends the span at the handshake; the connection
// itself is not one long request.
func TracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		propagator := otel.GetTextMapPropagator()
		ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

		ctx, span := Tracer().Start(ctx, r.Method+" "+r.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				semconv.HTTPRequestMethodKey.String(r.Method),
				semconv.URLPath(r.URL.Path),
			),
		)
		propagator.Inject(ctx, propagation.HeaderCarrier(w.Header()))

		tw := &tracingStatusWriter{ResponseWriter: w, status: http.StatusOK, span: span}
		r = r.WithContext(ctx)
		defer func() {
			if !tw.upgraded {
				tw.finish(r)
			}
		}()
		next.ServeHTTP(tw, r)
	})
}

// tracingStatusWriter captures the status for the request span.
type tracingStatusWriter struct {
	http.ResponseWriter
	span     trace.Span
	status   int
	written  bool
	upgraded bool
}

func (w *tracingStatusWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *tracingStatusWriter) Write(b []byte) (int, error) {
	w.written = true
	return w.ResponseWriter.Write(b)
}

// Hijack hands the connection to the WebSocket upgrader and closes the
// handshake span.
func (w *tracingStatusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	conn, rw, err := hijack(w.ResponseWriter, &w.status)
	if err != nil {
		return nil, nil, err
	}
	w.upgraded = true
	w.span.SetAttributes(AttrUpgraded.Bool(true), semconv.HTTPResponseStatusCode(w.status))
	w.span.End()
	return conn, rw, nil
}

func (w *tracingStatusWriter) finish(r *http.Request) {
	w.span.SetName(r.Method + " " + routePattern(r))
	w.span.SetAttributes(semconv.HTTPResponseStatusCode(w.status))
	if w.status >= 500 {
		w.span.SetStatus(codes.Error, http.StatusText(w.status))
	}
	w.span.End()
}
