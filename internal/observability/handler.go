package observability

import (
	"context"
	"io"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ObservabilityHandler writes JSON logs enriched with the service name and
// the active trace and span ids, and counts entries per level.
type ObservabilityHandler struct {
	inner       slog.Handler
	serviceName string
	logCounter  metric.Int64Counter
}

type HandlerOptions struct {
	Level       slog.Leveler
	Writer      io.Writer
	ReplaceAttr func(groups []string, a slog.Attr) slog.Attr
}

func NewObservabilityHandler(meter metric.Meter, serviceName string, opts HandlerOptions) (*ObservabilityHandler, error) {
	if opts.Writer == nil {
		opts.Writer = os.Stdout
	}
	if opts.Level == nil {
		opts.Level = slog.LevelInfo
	}

	logCounter, err := meter.Int64Counter(
		"logs_total",
		metric.WithDescription("Total number of log entries"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	inner := slog.NewJSONHandler(opts.Writer, &slog.HandlerOptions{
		Level:       opts.Level,
		ReplaceAttr: opts.ReplaceAttr,
	}).WithAttrs([]slog.Attr{slog.String("service", serviceName)})

	return &ObservabilityHandler{
		inner:       inner,
		serviceName: serviceName,
		logCounter:  logCounter,
	}, nil
}

func (h *ObservabilityHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *ObservabilityHandler) Handle(ctx context.Context, r slog.Record) error {
	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		r = r.Clone()
		r.AddAttrs(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}

	h.logCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("level", r.Level.String()),
		attribute.String("service", h.serviceName),
	))

	return h.inner.Handle(ctx, r)
}

func (h *ObservabilityHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ObservabilityHandler{
		inner:       h.inner.WithAttrs(attrs),
		serviceName: h.serviceName,
		logCounter:  h.logCounter,
	}
}

func (h *ObservabilityHandler) WithGroup(name string) slog.Handler {
	return &ObservabilityHandler{
		inner:       h.inner.WithGroup(name),
		serviceName: h.serviceName,
		logCounter:  h.logCounter,
	}
}
