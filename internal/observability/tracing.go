package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type TraceManager struct {
	tracer trace.Tracer
}

func NewTraceManager(serviceName string) *TraceManager {
	return newTraceManager(otel.Tracer(serviceName))
}

func newTraceManager(tracer trace.Tracer) *TraceManager {
	return &TraceManager{tracer: tracer}
}

func (tm *TraceManager) StartSpan(ctx context.Context, operationName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tm.tracer.Start(ctx, operationName, trace.WithAttributes(attrs...))
}

// StartMessageSpan starts a span describing one A2A message operation
// (send, handle, route).
func (tm *TraceManager) StartMessageSpan(ctx context.Context, operationName, messageID, messageType, source, target string) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{
		attribute.String("a2a.message.id", messageID),
		attribute.String("a2a.message.type", messageType),
		attribute.String("a2a.routing.from_agent", source),
		attribute.String("messaging.system", "a2ahub"),
		attribute.String("messaging.protocol", "a2a"),
	}
	if target != "" {
		attrs = append(attrs, attribute.String("a2a.routing.to_agent", target))
	}
	return tm.tracer.Start(ctx, operationName, trace.WithAttributes(attrs...))
}

// StartRouteSpan starts a span for one broker routing decision.
func (tm *TraceManager) StartRouteSpan(ctx context.Context, messageID, messageType string, recipientCount int) (context.Context, trace.Span) {
	return tm.tracer.Start(ctx, "a2a_route_message", trace.WithAttributes(
		attribute.String("a2a.message.id", messageID),
		attribute.String("a2a.message.type", messageType),
		attribute.Int("a2a.route.recipient_count", recipientCount),
		attribute.String("messaging.operation", "route"),
	))
}

func (tm *TraceManager) StartWorkflowSpan(ctx context.Context, workflowID, workflowName string, stepCount int) (context.Context, trace.Span) {
	return tm.tracer.Start(ctx, "workflow_execute", trace.WithAttributes(
		attribute.String("workflow.id", workflowID),
		attribute.String("workflow.name", workflowName),
		attribute.Int("workflow.step_count", stepCount),
	))
}

func (tm *TraceManager) StartStepSpan(ctx context.Context, workflowID, stepName, agent, action string) (context.Context, trace.Span) {
	return tm.tracer.Start(ctx, "workflow_step", trace.WithAttributes(
		attribute.String("workflow.id", workflowID),
		attribute.String("workflow.step.name", stepName),
		attribute.String("workflow.step.agent", agent),
		attribute.String("workflow.step.action", action),
	))
}

func (tm *TraceManager) RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

func (tm *TraceManager) SetSpanSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// AddPayloadAttributes records scalar payload fields on a span.
func (tm *TraceManager) AddPayloadAttributes(span trace.Span, prefix string, payload map[string]any) {
	for key, value := range payload {
		switch v := value.(type) {
		case string:
			span.SetAttributes(attribute.String(prefix+key, v))
		case float64:
			span.SetAttributes(attribute.Float64(prefix+key, v))
		case int:
			span.SetAttributes(attribute.Int(prefix+key, v))
		case bool:
			span.SetAttributes(attribute.Bool(prefix+key, v))
		case map[string]any, []any:
			// nested values are not flattened
		default:
			span.SetAttributes(attribute.String(prefix+key, fmt.Sprintf("%v", v)))
		}
	}
}

// AddSpanEvent adds a timestamped event to a span for tracking processing steps
func (tm *TraceManager) AddSpanEvent(span trace.Span, eventName string, attributes ...attribute.KeyValue) {
	span.AddEvent(eventName, trace.WithAttributes(attributes...))
}

// AddComponentAttribute adds a component identifier to a span
func (tm *TraceManager) AddComponentAttribute(span trace.Span, component string) {
	span.SetAttributes(attribute.String("a2ahub.component", component))
}
