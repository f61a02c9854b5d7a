// Package shared holds the small helpers every relay package needs: the
// per-delivery context and secret redaction.
package shared

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// NoTrace is logged when a record is written outside any delivery.
const NoTrace = "-"

// Delivery identifies one inbound webhook request.
type Delivery struct {
	TraceID string
	Source  string // "telegram" or "clickup"
}

type deliveryKey struct{}

func WithDelivery(ctx context.Context, d Delivery) context.Context {
	return context.WithValue(ctx, deliveryKey{}, d)
}

// DeliveryFrom returns the delivery ctx belongs to. Outside a delivery the
// trace id is NoTrace.
func DeliveryFrom(ctx context.Context) Delivery {
	d, _ := ctx.Value(deliveryKey{}).(Delivery)
	if d.TraceID == "" {
		d.TraceID = NoTrace
	}
	return d
}

// NewTraceID reuses the span's trace id when tracing is live so logs and
// traces line up, and falls back to a random uuid.
func NewTraceID(sc trace.SpanContext) string {
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return uuid.NewString()
}

// Logger tags l with the delivery carried by ctx.
func Logger(ctx context.Context, l *slog.Logger) *slog.Logger {
	d := DeliveryFrom(ctx)
	if d.Source == "" {
		return l.With("trace_id", d.TraceID)
	}
	return l.With("trace_id", d.TraceID, "source", d.Source)
}
