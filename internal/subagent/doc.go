// Package subagent provides a high-level library for building A2A agents
// with minimal boilerplate code.
//
// # Overview
//
// The SubAgent library encapsulates common agent functionality including:
//   - broker connection over WebSocket or gRPC
//   - registration with the skill names as capabilities
//   - request routing by action to skill handlers
//   - automatic tracing and structured logging per request
//   - a health server reporting the broker connection
//   - graceful shutdown on SIGINT/SIGTERM
//
// # Quick Start
//
//	cfg := subagent.FromAppConfig(config.Load(), "echo-agent", "Echo Agent", "Repeats text")
//
//	agent, err := subagent.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	agent.MustAddSkill("echo", "Echoes the text field", echoHandler)
//
//	if err := agent.Run(context.Background()); err != nil {
//	    log.Fatal(err)
//	}
//
// # Handler Functions
//
// A skill answers requests whose payload "action" equals the skill name:
//
//	func echoHandler(ctx context.Context, payload a2a.Payload) (a2a.Payload, error) {
//	    text := payload.String("text")
//	    if text == "" {
//	        return nil, errors.New("no input provided")
//	    }
//	    return a2a.Payload{"text": "Echo: " + text}, nil
//	}
//
// The returned payload is sent back as the response. A returned error is
// sent back as an error reply whose payload is {"error": err.Error()}.
// agenthub.MessageFromContext gives access to the full envelope.
//
// # Configuration
//
// Required fields are AgentID, Name and Description. Transport selects
// "websocket" (BrokerURL) or "grpc" (BrokerGRPCAddr). HealthPort defaults
// to "8080", request timeout and heartbeat interval to 30s.
//
// # Errors
//
//   - ErrMissingAgentID, ErrMissingName, ErrMissingDescription,
//     ErrUnsupportedTransport: returned by New
//   - ErrNoSkills, ErrAgentAlreadyRunning: returned by Run
//   - ErrDuplicateSkill: returned by AddSkill
//   - ErrAgentNotStarted: SendMessage before Run
//
// Run returns nil when its context is cancelled and transport.ErrClosed
// when the broker connection is lost.
//
// # Sending Requests
//
// A SubAgent satisfies agenthub.RequestSender once running, so it can drive
// a workflow engine. Supply the telemetry with WithTelemetry when other
// components need it before Run.
package subagent
