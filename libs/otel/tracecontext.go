package otelx

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// Carried is the W3C trace context in the form it is persisted next to an
// outbox row, so the relay can continue the trace that wrote it.
type Carried struct {
	Traceparent string
	Tracestate  string
}

func CaptureTraceContext(ctx context.Context) Carried {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	return Carried{Traceparent: carrier["traceparent"], Tracestate: carrier["tracestate"]}
}

func ContextWithTraceContext(ctx context.Context, c Carried) context.Context {
	if c.Traceparent == "" && c.Tracestate == "" {
		return ctx
	}
	carrier := propagation.MapCarrier{
		"traceparent": c.Traceparent,
		"tracestate":  c.Tracestate,
	}
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}
