package observability

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type MetricsManager struct {
	meter metric.Meter

	// Event metrics
	eventsProcessedTotal    metric.Int64Counter
	eventProcessingDuration metric.Float64Histogram
	eventErrorsTotal        metric.Int64Counter
	eventsPublishedTotal    metric.Int64Counter

	// A2A broker metrics
	messagesRoutedTotal    metric.Int64Counter
	connectedAgents        metric.Int64UpDownCounter
	brokerSendDuration     metric.Float64Histogram
	brokerConnectionErrors metric.Int64Counter

	// A2A request metrics
	requestsTotal   metric.Int64Counter
	requestDuration metric.Float64Histogram
	pendingRequests metric.Int64UpDownCounter

	// Workflow metrics
	workflowsTotal   metric.Int64Counter
	workflowDuration metric.Float64Histogram
	stepDuration     metric.Float64Histogram

	// System metrics, sampled by UpdateSystemMetrics and read by gauge callbacks
	goroutines  atomic.Int64
	allocBytes  atomic.Int64
	sysBytes    atomic.Int64
	systemGauge metric.Registration
}

func NewMetricsManager(meter metric.Meter) (*MetricsManager, error) {
	mm := &MetricsManager{meter: meter}

	var err error

	mm.eventsProcessedTotal, err = meter.Int64Counter(
		"events_processed_total",
		metric.WithDescription("Total number of events processed"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	mm.eventProcessingDuration, err = meter.Float64Histogram(
		"event_processing_duration_seconds",
		metric.WithDescription("Event processing duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	mm.eventErrorsTotal, err = meter.Int64Counter(
		"event_errors_total",
		metric.WithDescription("Total number of event processing errors"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	mm.eventsPublishedTotal, err = meter.Int64Counter(
		"events_published_total",
		metric.WithDescription("Total number of events published"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	mm.messagesRoutedTotal, err = meter.Int64Counter(
		"a2a_messages_routed_total",
		metric.WithDescription("Total number of messages routed by the broker"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	mm.connectedAgents, err = meter.Int64UpDownCounter(
		"a2a_connected_agents",
		metric.WithDescription("Number of agents currently registered with the broker"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	mm.brokerSendDuration, err = meter.Float64Histogram(
		"a2a_broker_send_duration_seconds",
		metric.WithDescription("Time spent forwarding one message to one agent"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	mm.brokerConnectionErrors, err = meter.Int64Counter(
		"a2a_broker_connection_errors_total",
		metric.WithDescription("Total number of broker connection errors"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	mm.requestsTotal, err = meter.Int64Counter(
		"a2a_requests_total",
		metric.WithDescription("Total number of A2A requests sent, by outcome"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	mm.requestDuration, err = meter.Float64Histogram(
		"a2a_request_duration_seconds",
		metric.WithDescription("Round trip time of A2A requests"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	mm.pendingRequests, err = meter.Int64UpDownCounter(
		"a2a_pending_requests",
		metric.WithDescription("Number of requests awaiting a response"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	mm.workflowsTotal, err = meter.Int64Counter(
		"workflow_executions_total",
		metric.WithDescription("Total number of workflow executions, by final status"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	mm.workflowDuration, err = meter.Float64Histogram(
		"workflow_execution_duration_seconds",
		metric.WithDescription("Workflow execution duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	mm.stepDuration, err = meter.Float64Histogram(
		"workflow_step_duration_seconds",
		metric.WithDescription("Workflow step duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	goroutines, err := meter.Int64ObservableGauge(
		"a2ahub_goroutines",
		metric.WithDescription("Number of goroutines that currently exist"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}
	allocBytes, err := meter.Int64ObservableGauge(
		"a2ahub_memory_alloc_bytes",
		metric.WithDescription("Number of bytes allocated and still in use"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}
	sysBytes, err := meter.Int64ObservableGauge(
		"a2ahub_memory_sys_bytes",
		metric.WithDescription("Bytes of memory obtained from the OS"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}
	mm.systemGauge, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(goroutines, mm.goroutines.Load())
		o.ObserveInt64(allocBytes, mm.allocBytes.Load())
		o.ObserveInt64(sysBytes, mm.sysBytes.Load())
		return nil
	}, goroutines, allocBytes, sysBytes)
	if err != nil {
		return nil, err
	}

	return mm, nil
}

// Event metrics methods
func (mm *MetricsManager) IncrementEventsProcessed(ctx context.Context, eventType, source string, success bool) {
	mm.eventsProcessedTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", eventType),
		attribute.String("source", source),
		attribute.Bool("success", success),
	))
}

func (mm *MetricsManager) RecordEventProcessingDuration(ctx context.Context, eventType, source string, duration time.Duration) {
	mm.eventProcessingDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("event_type", eventType),
		attribute.String("source", source),
	))
}

func (mm *MetricsManager) IncrementEventErrors(ctx context.Context, eventType, source, errorType string) {
	mm.eventErrorsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", eventType),
		attribute.String("source", source),
		attribute.String("error", errorType),
	))
}

func (mm *MetricsManager) IncrementEventsPublished(ctx context.Context, eventType, destination string) {
	mm.eventsPublishedTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", eventType),
		attribute.String("destination", destination),
	))
}

// Broker metrics methods

// IncrementMessagesRouted counts a routing decision; mode is direct,
// broadcast or dropped.
func (mm *MetricsManager) IncrementMessagesRouted(ctx context.Context, messageType, mode string) {
	mm.messagesRoutedTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("message_type", messageType),
		attribute.String("mode", mode),
	))
}

func (mm *MetricsManager) AddConnectedAgents(ctx context.Context, delta int64) {
	mm.connectedAgents.Add(ctx, delta)
}

func (mm *MetricsManager) RecordBrokerSendDuration(ctx context.Context, target string, duration time.Duration) {
	mm.brokerSendDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("target", target),
	))
}

func (mm *MetricsManager) IncrementBrokerConnectionErrors(ctx context.Context) {
	mm.brokerConnectionErrors.Add(ctx, 1)
}

// Request metrics methods

// RecordRequest counts a finished request; outcome is response, error,
// timeout, send_error or cancelled.
func (mm *MetricsManager) RecordRequest(ctx context.Context, target, outcome string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("target", target),
		attribute.String("outcome", outcome),
	)
	mm.requestsTotal.Add(ctx, 1, attrs)
	mm.requestDuration.Record(ctx, duration.Seconds(), attrs)
}

func (mm *MetricsManager) AddPendingRequests(ctx context.Context, delta int64) {
	mm.pendingRequests.Add(ctx, delta)
}

// Workflow metrics methods
func (mm *MetricsManager) RecordWorkflow(ctx context.Context, name, status string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("workflow", name),
		attribute.String("status", status),
	)
	mm.workflowsTotal.Add(ctx, 1, attrs)
	mm.workflowDuration.Record(ctx, duration.Seconds(), attrs)
}

func (mm *MetricsManager) RecordWorkflowStep(ctx context.Context, agent, action string, success bool, duration time.Duration) {
	mm.stepDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("agent", agent),
		attribute.String("action", action),
		attribute.Bool("success", success),
	))
}

// UpdateSystemMetrics samples runtime statistics for the system gauges.
func (mm *MetricsManager) UpdateSystemMetrics(ctx context.Context) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	mm.goroutines.Store(int64(runtime.NumGoroutine()))
	mm.allocBytes.Store(int64(m.Alloc))
	mm.sysBytes.Store(int64(m.Sys))
}

// Helper method to start timing an operation
func (mm *MetricsManager) StartTimer() func(ctx context.Context, eventType, source string) {
	start := time.Now()
	return func(ctx context.Context, eventType, source string) {
		mm.RecordEventProcessingDuration(ctx, eventType, source, time.Since(start))
	}
}
