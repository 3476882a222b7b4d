// Package observability provides tracing, metrics, structured logging and
// health checks for the broker and the agents.
//
// # Overview
//
//   - Distributed tracing through OpenTelemetry with an OTLP gRPC exporter
//   - Metrics through the OpenTelemetry SDK, exported in Prometheus format
//   - Structured JSON logging with log/slog, enriched with trace and span ids
//   - Health, readiness and metrics endpoints
//
// # Quick Start
//
//	config := observability.DefaultConfig("pricing-optimizer-agent")
//	obs, err := observability.NewObservability(config)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer obs.Shutdown(context.Background())
//
//	tel, err := observability.NewTelemetry(obs)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Telemetry bundles the Logger, TraceManager and MetricsManager that
// components take as a single constructor argument. Tests use
// NopTelemetry, which discards everything unless A2AHUB_TEST_LOGS is set.
//
// # Tracing
//
// TraceManager starts spans named after the A2A operation they cover:
//
//	ctx, span := tm.StartMessageSpan(ctx, "a2a_send_message", msg.ID, string(msg.Type), msg.SourceAgent, msg.TargetAgent)
//	defer span.End()
//	if err != nil {
//	    tm.RecordError(span, err)
//	} else {
//	    tm.SetSpanSuccess(span)
//	}
//
// StartRouteSpan covers one broker routing decision, StartWorkflowSpan and
// StartStepSpan cover workflow runs. Payload values are attached with
// AddPayloadAttributes; only scalar values are recorded.
//
// # Metrics
//
// MetricsManager owns every instrument. The main series are:
//
//	a2a_messages_routed_total{message_type,mode}
//	a2a_connected_agents
//	a2a_requests_total{target,outcome}
//	a2a_request_duration_seconds
//	a2a_pending_requests
//	workflow_executions_total{workflow,status}
//	workflow_step_duration_seconds{agent,action,success}
//
// plus generic event counters
// (events_processed_total, event_errors_total, ...) and process gauges
// refreshed by UpdateSystemMetrics.
//
// # Logging
//
// ObservabilityHandler writes JSON through slog.JSONHandler, adds the
// service name to every record and the trace_id and span_id of the span in
// the context, and counts records per level.
//
//	logger.InfoContext(ctx, "Agent registered", "agent_id", id, "capabilities", caps)
//
// Always pass the context so the record can be correlated with its trace.
//
// # Health Checks
//
//	hs := observability.NewHealthServer("8083", "broker", "1.0.0")
//	hs.AddChecker("self", observability.NewBasicHealthChecker("self", func(ctx context.Context) error {
//	    return nil
//	}))
//	hs.HandleFunc("/agents", broker.AgentsHandler)
//	go hs.Start(ctx)
//
// /health returns 503 when any checker fails, /ready mirrors it, and
// /metrics serves the Prometheus registry.
package observability
