// Package config loads the configuration shared by the broker and the agents
// from environment variables, with defaults that let every service run
// locally without any setup.
//
// # Quick Start
//
//	cfg := config.Load()
//	if cfg.UseGRPC() {
//	    dial = transport.GRPCDialer(cfg.BrokerGRPCAddr)
//	} else {
//	    dial = transport.WebSocketDialer(cfg.BrokerURL)
//	}
//
// # Configuration Fields
//
// **Broker endpoints** (as seen by agents):
//   - A2A_BROKER_URL: WebSocket URL of the broker (default: "ws://localhost:8082")
//   - A2A_BROKER_GRPC_ADDR: gRPC address of the broker (default: "localhost:50051")
//   - A2A_TRANSPORT: "websocket" or "grpc" (default: "websocket")
//
// **Broker listeners**:
//   - A2A_WS_PORT: WebSocket listener port (default: "8082")
//   - A2A_GRPC_PORT: gRPC listener address (default: ":50051")
//   - BROKER_HEALTH_PORT: health, metrics and /agents (default: "8083")
//   - AGENT_HEALTH_PORT: agent health endpoint (default: "8080")
//
// **Protocol timing** (Go durations such as "45s", or plain seconds):
//   - A2A_REQUEST_TIMEOUT: wait for a correlated reply (default: 30s)
//   - A2A_HEARTBEAT_INTERVAL: heartbeat period (default: 30s)
//   - A2A_SEND_TIMEOUT: broker per-recipient write deadline (default: 5s)
//
// **Storage and model**:
//   - A2A_STORE_PATH: SQLite file for caches and workflow records; empty keeps them in memory
//   - GCP_PROJECT, GCP_LOCATION, VERTEX_AI_MODEL: Vertex AI settings
//   - PRICING_CACHE_TTL: pricing result cache lifetime (default: 15m)
//
// **Orchestrator**:
//   - ORCHESTRATOR_HTTP_PORT: HTTP API port (default: "8084")
//   - ORCHESTRATOR_SCHEDULES: "<cron>|<template>|<user>" entries separated by ";"
//   - A2A_PUBLISH_WORKFLOW_EVENTS: broadcast workflow_start/step/end notifications
//
// **Observability and service metadata**:
//   - JAEGER_ENDPOINT: OTLP gRPC endpoint (default: "127.0.0.1:4317")
//   - SERVICE_NAME, SERVICE_VERSION, ENVIRONMENT
//   - LOG_LEVEL: DEBUG, INFO, WARN, ERROR (default: "INFO")
//
// Invalid numeric or duration values fall back to the default.
//
// AppConfig is a snapshot taken at Load time and is safe to read from
// multiple goroutines. Do not modify it after loading.
package config
