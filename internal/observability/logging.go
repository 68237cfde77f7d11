package observability

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pitabwire/wizard/internal/config"
	"github.com/pitabwire/wizard/model"
)

type loggerKey struct{}

// NewLogger builds the process logger. Unknown levels fall back to info.
//
// Level conventions:
//   - error: startup failures, unhandled panics, 5xx responses
//   - warn:  client errors (4xx), malformed frames, stale turns dropped
//   - info:  connect/disconnect, template selection, activation, resets
//   - debug: individual turns and collected values (redacted)
func NewLogger(cfg config.ObservabilityConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}

	enc := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	encoding := "json"
	if cfg.LogFormat == "console" {
		encoding = "console"
		enc.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	return zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Encoding:         encoding,
		EncoderConfig:    enc,
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}.Build(zap.Fields(zap.String("service", "pipeline-wizard")))
}

// WithLogger stores a logger in the context.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// LoggerFrom returns the context logger, or fallback.
func LoggerFrom(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok && l != nil {
		return l
	}
	return fallback
}

// ConnectionLogger scopes a logger to the WebSocket connection in ctx.
// Without a ConnectionContext it returns the context logger unchanged.
func ConnectionLogger(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	logger := LoggerFrom(ctx, fallback)
	cc := model.ConnectionContextFrom(ctx)
	if cc == nil {
		return logger
	}

	fields := []zap.Field{
		zap.String("connection_id", cc.ConnectionID),
		zap.String("remote_addr", cc.RemoteAddr),
	}
	optional := []struct{ key, value string }{
		{"user_agent", cc.UserAgent},
		{"correlation_id", cc.CorrelationID},
		{"trace_id", cc.TraceID},
	}
	for _, o := range optional {
		if o.value != "" {
			fields = append(fields, zap.String(o.key, o.value))
		}
	}
	return logger.With(fields...)
}

// Redacted replaces sensitive values in log output.
const Redacted = "[REDACTED]"

// sensitiveFragments flag a key as secret wherever they appear in it, so
// "bot_token" and "DB_Password" are caught without listing them.
var sensitiveFragments = []string{"password", "secret", "token", "api_key", "apikey", "authorization", "credential"}

func sensitiveKey(key string, extra map[string]bool) bool {
	if extra[key] {
		return true
	}
	lower := strings.ToLower(key)
	for _, f := range sensitiveFragments {
		if strings.Contains(lower, f) {
			return true
		}
	}
	return false
}

// RedactValues returns a copy of collected field values for debug logging
// with secrets masked. extraKeys names further keys to mask; callers pass
// the keys of password-kind fields. Nested maps are redacted recursively.
func RedactValues(values map[string]any, extraKeys []string) map[string]any {
	if values == nil {
		return nil
	}
	extra := make(map[string]bool, len(extraKeys))
	for _, k := range extraKeys {
		extra[k] = true
	}
	return redact(values, extra)
}

func redact(values map[string]any, extra map[string]bool) map[string]any {
	out := make(map[string]any, len(values))
	for k, v := range values {
		if sensitiveKey(k, extra) {
			out[k] = Redacted
			continue
		}
		if nested, ok := v.(map[string]any); ok {
			v = redact(nested, extra)
		}
		out[k] = v
	}
	return out
}
