// Package tracing provides the engine's span abstraction: a no-op default
// and an OpenTelemetry-backed implementation installed when OTLP export is
// configured. Grounded on the mediation platform's bidders.Span/Tracer
// bridge (internal/bidders/tracing.go), generalized from a per-adapter bid
// request tracer into one the Auction Engine wraps around its PING fan-out
// and POST cascade.
package tracing

import "context"

// Span represents an in-flight tracing span. Implementations must be
// lightweight and safe to call from the PING fan-out's hot path.
type Span interface {
	End()
	SetAttr(key, val string)
}

// Tracer starts spans, optionally attaching them to the returned context.
type Tracer interface {
	StartSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, Span)
}

type noopSpan struct{}

func (noopSpan) End()                    {}
func (noopSpan) SetAttr(key, val string) {}

type noopTracer struct{}

func (noopTracer) StartSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, Span) {
	return ctx, noopSpan{}
}

var globalTracer Tracer = noopTracer{}

// SetTracer installs a custom tracer. Passing nil keeps the existing one.
func SetTracer(t Tracer) {
	if t != nil {
		globalTracer = t
	}
}

// StartSpan starts a span using the globally installed tracer.
func StartSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, Span) {
	return globalTracer.StartSpan(ctx, name, attrs)
}
