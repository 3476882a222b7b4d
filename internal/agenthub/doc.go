// Package agenthub implements the A2A broker, the per-agent protocol engine
// and the workflow engine that sequences remote agent calls.
//
// # Overview
//
// Agents never talk to each other directly. Each one holds a single
// persistent connection (see package transport) to a Broker, which routes
// every frame it receives:
//   - a register notification addressed to "broker" adds the agent to the
//     registry, replacing any earlier registration with the same id
//   - heartbeats are logged and dropped
//   - a message with a known target goes to that agent only
//   - a message without a target, or with an unknown one, goes to every
//     other registered agent
//
// A failed delivery on a closed connection evicts the recipient. Routing
// errors are never returned to the sender.
//
// # Architecture
//
//	┌──────────────────────┐      ┌──────────────────────┐
//	│  WorkflowEngine      │      │  ProtocolEngine      │
//	│  ordered steps       │      │  handlers by action  │
//	├──────────────────────┤      ├──────────────────────┤
//	│  ProtocolEngine      │      │  transport.Conn      │
//	│  pending requests    │      └──────────┬───────────┘
//	├──────────────────────┤                 │
//	│  transport.Conn      │                 │
//	└──────────┬───────────┘                 │
//	           │        ┌─────────────┐      │
//	           └───────►│   Broker    │◄─────┘
//	                    │   registry  │
//	                    └─────────────┘
//
// # Protocol Engine
//
// A ProtocolEngine registers its agent on Start, then runs an inbound loop
// and a heartbeat loop until the connection ends.
//
//	engine := agenthub.NewProtocolEngine(agenthub.EngineConfig{
//	    AgentID:      "pricing-optimizer-agent",
//	    Capabilities: []string{"pricing_optimization"},
//	    Dialer:       transport.WebSocketDialer(cfg.BrokerURL),
//	}, tel)
//	engine.RegisterHandler("optimize_pricing", func(ctx context.Context, p a2a.Payload) (a2a.Payload, error) {
//	    return a2a.Payload{"discount": 0.1}, nil
//	})
//	if err := engine.Run(ctx); err != nil {
//	    ...
//	}
//
// SendMessage on a Request blocks until the correlated Response or Error
// arrives or RequestTimeout elapses. A timeout is not an error: the call
// returns (nil, nil). A request whose action has no handler on the remote
// side is never answered and therefore always times out.
//
// # Workflows
//
// WorkflowEngine runs steps in declaration order through any RequestSender,
// usually a ProtocolEngine. A step whose depends_on names a step without a
// result fails without being sent, so callers must order steps themselves.
// The first failed step ends the run with status failed. Cancel marks an
// execution cancelled; the step in flight completes and no other step
// starts.
//
//	wf := agenthub.NewWorkflowEngine(engine, tel,
//	    agenthub.WithExecutionStore(agenthub.NewKVExecutionStore(kv, 0)),
//	    agenthub.WithEventPublisher(agenthub.NewNotificationPublisher(engine)),
//	)
//	exec, err := wf.ExecuteWorkflow(ctx, def)
//
// # Serving
//
// AgentHubServer exposes one Broker on a gRPC listener and a WebSocket
// listener at the same time, with /health, /ready, /metrics and /agents on
// the health port. StartBroker wires all of it from config.AppConfig.
package agenthub
