package observability

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/owulveryck/a2ahub/internal/config"
)

type Config struct {
	ServiceName    string
	ServiceVersion string
	JaegerEndpoint string
	Environment    string
	LogLevel       string
	// LogWriter defaults to os.Stdout.
	LogWriter io.Writer
}

type Observability struct {
	Config   Config
	Tracer   trace.Tracer
	Meter    metric.Meter
	Logger   *slog.Logger
	Handler  *ObservabilityHandler
	shutdown func(context.Context) error
}

func NewObservability(config Config) (*Observability, error) {
	ctx := context.Background()

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			semconv.DeploymentEnvironment(config.Environment),
		),
	)
	if err != nil {
		return nil, err
	}

	traceExporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(config.JaegerEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	tracer := otel.Tracer(config.ServiceName)

	promExporter, err := prometheus.New()
	if err != nil {
		return nil, err
	}
	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(promExporter),
	)
	otel.SetMeterProvider(meterProvider)
	meter := otel.Meter(config.ServiceName)

	handler, err := NewObservabilityHandler(meter, config.ServiceName, HandlerOptions{
		Level:  ParseLevel(config.LogLevel),
		Writer: config.LogWriter,
	})
	if err != nil {
		return nil, err
	}

	return &Observability{
		Config:  config,
		Tracer:  tracer,
		Meter:   meter,
		Logger:  slog.New(handler),
		Handler: handler,
		shutdown: func(ctx context.Context) error {
			if err := tracerProvider.Shutdown(ctx); err != nil {
				return err
			}
			return meterProvider.Shutdown(ctx)
		},
	}, nil
}

func (o *Observability) Shutdown(ctx context.Context) error {
	return o.shutdown(ctx)
}

func DefaultConfig(serviceName string) Config {
	return Config{
		ServiceName:    serviceName,
		ServiceVersion: "1.0.0",
		JaegerEndpoint: "127.0.0.1:4317",
		Environment:    "development",
		LogLevel:       "info",
	}
}

// ParseLevel maps debug/info/warn/error to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Telemetry bundles what a component needs to log, trace and count.
type Telemetry struct {
	Logger         *slog.Logger
	TraceManager   *TraceManager
	MetricsManager *MetricsManager
}

func NewTelemetry(obs *Observability) (*Telemetry, error) {
	metricsManager, err := NewMetricsManager(obs.Meter)
	if err != nil {
		return nil, err
	}
	return &Telemetry{
		Logger:         obs.Logger,
		TraceManager:   newTraceManager(obs.Tracer),
		MetricsManager: metricsManager,
	}, nil
}

// NopTelemetry discards logs, spans and measurements. Set
// A2AHUB_TEST_LOGS=1 to see the logs on stderr.
func NopTelemetry(serviceName string) *Telemetry {
	var w io.Writer = io.Discard
	if os.Getenv("A2AHUB_TEST_LOGS") != "" {
		w = os.Stderr
	}
	metricsManager, err := NewMetricsManager(metricnoop.NewMeterProvider().Meter(serviceName))
	if err != nil {
		panic(err)
	}
	return &Telemetry{
		Logger: slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug})).
			With("service", serviceName),
		TraceManager:   newTraceManager(tracenoop.NewTracerProvider().Tracer(serviceName)),
		MetricsManager: metricsManager,
	}
}

// Setup initializes observability for serviceName from the application
// configuration and returns the pipeline with its telemetry.
func Setup(serviceName string, app *config.AppConfig) (*Observability, *Telemetry, error) {
	obsConfig := DefaultConfig(serviceName)
	obsConfig.ServiceVersion = app.ServiceVersion
	obsConfig.JaegerEndpoint = app.JaegerEndpoint
	obsConfig.Environment = app.Environment
	obsConfig.LogLevel = app.LogLevel

	obs, err := NewObservability(obsConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize observability: %w", err)
	}
	tel, err := NewTelemetry(obs)
	if err != nil {
		obs.Shutdown(context.Background())
		return nil, nil, fmt.Errorf("failed to initialize metrics manager: %w", err)
	}
	return obs, tel, nil
}
