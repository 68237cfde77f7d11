package model

import (
	"context"
	"errors"
	"fmt"
)

// ConnectionContext carries identity and tracing information for one client
// connection. The session id equals the connection id. It is immutable after
// construction and safe for concurrent reads.
type ConnectionContext struct {
	ConnectionID  string
	RemoteAddr    string
	UserAgent     string
	CorrelationID string
	TraceID       string
}

// Validate checks that mandatory fields are present.
func (cc *ConnectionContext) Validate() error {
	var errs []error
	if cc.ConnectionID == "" {
		errs = append(errs, fmt.Errorf("ConnectionID is required"))
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

type contextKey struct{}

// WithConnectionContext attaches a ConnectionContext to ctx.
func WithConnectionContext(ctx context.Context, cc *ConnectionContext) context.Context {
	return context.WithValue(ctx, contextKey{}, cc)
}

// ConnectionContextFrom extracts the ConnectionContext from ctx, or returns nil
// if not present.
func ConnectionContextFrom(ctx context.Context) *ConnectionContext {
	cc, _ := ctx.Value(contextKey{}).(*ConnectionContext)
	return cc
}
