package outbox

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// storedTrace is the W3C trace context kept on an outbox row so the relay can
// continue the trace of the request that enqueued it.
type storedTrace struct {
	parent string
	state  string
}

func captureTrace(ctx context.Context) storedTrace {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	return storedTrace{parent: carrier["traceparent"], state: carrier["tracestate"]}
}

func (t storedTrace) restore(ctx context.Context) context.Context {
	if t.parent == "" {
		return ctx
	}
	carrier := propagation.MapCarrier{"traceparent": t.parent}
	if t.state != "" {
		carrier["tracestate"] = t.state
	}
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}
