package relay

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/basket/clickgram/internal/bus"
	"github.com/basket/clickgram/internal/otel"
	"github.com/basket/clickgram/internal/shared"
)

// Router turns one webhook body into actions.
type Router interface {
	Source() string
	Route(ctx context.Context, body []byte) (updateType string, err error)
}

type HandlerOptions struct {
	Logger  *slog.Logger
	Bus     *bus.Bus // may be nil
	Tracer  trace.Tracer
	Metrics *otel.Metrics
	// MaxBody caps the request body; 0 means 10 MiB.
	MaxBody int64
}

// Handler serves a router over HTTP. The router runs to completion and the
// answer is always 200 "ok": failures are logged and published, never
// returned to the sender, so the remote side does not redeliver.
func Handler(router Router, opts HandlerOptions) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.NoopTracer()
	}
	maxBody := opts.MaxBody
	if maxBody <= 0 {
		maxBody = 10 << 20
	}
	source := router.Source()

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := otel.StartServerSpan(r.Context(), tracer, "webhook."+source,
			otel.AttrSource.String(source),
		)
		traceID := shared.NewTraceID(span.SpanContext())
		span.SetAttributes(otel.AttrTraceID.String(traceID))
		ctx = shared.WithDelivery(ctx, shared.Delivery{TraceID: traceID, Source: source})
		start := time.Now()
		log := shared.Logger(ctx, logger).With("component", "relay")

		updateType, err := route(ctx, router, r.Body, maxBody)
		span.SetAttributes(otel.AttrUpdateType.String(updateType))
		opts.Metrics.RecordWebhook(ctx, source, updateType, time.Since(start), err)
		otel.EndSpan(span, err)

		event := bus.WebhookEvent{Source: source, Type: updateType, TraceID: traceID, Err: err}
		if err != nil {
			log.Error("webhook handling failed", "type", updateType, "error", err)
			publish(opts.Bus, bus.TopicWebhookFailed, event)
		} else {
			log.Debug("webhook handled", "type", updateType, "elapsed", time.Since(start))
			publish(opts.Bus, bus.TopicWebhookHandled, event)
		}

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "ok")
	})
}

func route(ctx context.Context, router Router, body io.Reader, maxBody int64) (string, error) {
	raw, err := io.ReadAll(io.LimitReader(body, maxBody))
	if err != nil {
		return "", err
	}
	return router.Route(ctx, raw)
}

func publish(b *bus.Bus, topic string, ev bus.WebhookEvent) {
	if b == nil {
		return
	}
	b.Publish(topic, ev)
}
