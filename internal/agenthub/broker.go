package agenthub

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/owulveryck/a2ahub/internal/a2a"
	"github.com/owulveryck/a2ahub/internal/observability"
	"github.com/owulveryck/a2ahub/internal/transport"
)

const DefaultSendTimeout = 5 * time.Second

// Broker registers agents and routes A2A messages between their
// connections. Routing failures are logged and never returned.
type Broker struct {
	registry    *AgentRegistry
	logger      *slog.Logger
	traces      *observability.TraceManager
	metrics     *observability.MetricsManager
	sendTimeout time.Duration
}

func NewBroker(tel *observability.Telemetry, sendTimeout time.Duration) *Broker {
	if sendTimeout <= 0 {
		sendTimeout = DefaultSendTimeout
	}
	return &Broker{
		registry:    NewAgentRegistry(),
		logger:      tel.Logger.With("component", "broker"),
		traces:      tel.TraceManager,
		metrics:     tel.MetricsManager,
		sendTimeout: sendTimeout,
	}
}

// ServeConn reads frames from conn until it closes. It implements
// transport.ConnHandler.
func (b *Broker) ServeConn(ctx context.Context, conn transport.Conn) error {
	defer b.HandleDisconnect(ctx, conn)

	for {
		msg, err := conn.Receive(ctx)
		if err != nil {
			var decodeErr *transport.DecodeError
			if errors.As(err, &decodeErr) {
				b.logger.WarnContext(ctx, "Dropping invalid frame", "error", err)
				b.metrics.IncrementEventErrors(ctx, "frame", "broker", "decode_error")
				continue
			}
			b.logger.DebugContext(ctx, "Connection closed", "error", err)
			return nil
		}
		b.HandleMessage(ctx, conn, msg)
	}
}

// HandleMessage applies one inbound frame: registrations addressed to the
// broker update the registry, everything else is routed.
func (b *Broker) HandleMessage(ctx context.Context, conn transport.Conn, msg *a2a.Message) {
	if msg.Payload.Action() == a2a.ActionRegister && msg.TargetAgent == a2a.BrokerID {
		agentID := msg.Payload.String("agent_id")
		if agentID == "" {
			b.logger.WarnContext(ctx, "Registration without agent_id", "message_id", msg.ID, "source_agent", msg.SourceAgent)
			b.metrics.IncrementEventErrors(ctx, string(msg.Type), msg.SourceAgent, "invalid_registration")
			return
		}
		endpoints, _ := msg.Payload["endpoints"].(map[string]any)
		b.RegisterAgent(ctx, conn, agentID, stringSlice(msg.Payload["capabilities"]), endpoints)
		return
	}
	b.Route(ctx, msg)
}

// RegisterAgent binds agentID to conn, replacing any earlier registration.
func (b *Broker) RegisterAgent(ctx context.Context, conn transport.Conn, agentID string, capabilities []string, endpoints map[string]any) {
	replaced := b.registry.Insert(&AgentRegistration{
		AgentID:      agentID,
		Capabilities: capabilities,
		Endpoints:    endpoints,
		ConnectedAt:  time.Now(),
		conn:         conn,
	})

	if replaced == nil {
		b.metrics.AddConnectedAgents(ctx, 1)
	} else if replaced != conn {
		b.logger.InfoContext(ctx, "Agent re-registered on a new connection", "agent_id", agentID)
	}

	b.logger.InfoContext(ctx, "Agent registered",
		"agent_id", agentID,
		"capabilities", capabilities,
		"connected_agents", b.registry.Len(),
	)
}

// Route forwards msg to its target, or to every other agent when it has
// none. Heartbeats stop here. An unknown target falls back to broadcast.
func (b *Broker) Route(ctx context.Context, msg *a2a.Message) {
	if msg.Type == a2a.Heartbeat {
		b.logger.DebugContext(ctx, "Heartbeat received", "source_agent", msg.SourceAgent)
		b.metrics.IncrementMessagesRouted(ctx, string(msg.Type), "heartbeat")
		return
	}

	// deliveries must not be cut short by the sender's connection ending
	ctx = context.WithoutCancel(ctx)

	if !msg.IsBroadcast() {
		if conn, ok := b.registry.Lookup(msg.TargetAgent); ok {
			ctx, span := b.traces.StartRouteSpan(ctx, msg.ID, string(msg.Type), 1)
			defer span.End()
			b.traces.AddComponentAttribute(span, "broker")

			if b.deliver(ctx, msg.TargetAgent, conn, msg) {
				b.metrics.IncrementMessagesRouted(ctx, string(msg.Type), "direct")
				b.traces.SetSpanSuccess(span)
			} else {
				b.metrics.IncrementMessagesRouted(ctx, string(msg.Type), "dropped")
			}
			return
		}
		b.logger.DebugContext(ctx, "Unknown target, broadcasting",
			"message_id", msg.ID,
			"target_agent", msg.TargetAgent,
		)
	}

	recipients := b.registry.recipients(msg.SourceAgent)
	ctx, span := b.traces.StartRouteSpan(ctx, msg.ID, string(msg.Type), len(recipients))
	defer span.End()
	b.traces.AddComponentAttribute(span, "broker")

	delivered := 0
	for _, r := range recipients {
		if b.deliver(ctx, r.agentID, r.conn, msg) {
			delivered++
		}
	}
	b.metrics.IncrementMessagesRouted(ctx, string(msg.Type), "broadcast")
	b.logger.DebugContext(ctx, "Message broadcast",
		"message_id", msg.ID,
		"source_agent", msg.SourceAgent,
		"recipients", len(recipients),
		"delivered", delivered,
	)
	b.traces.SetSpanSuccess(span)
}

// deliver sends msg to one agent. A closed connection evicts the agent.
func (b *Broker) deliver(ctx context.Context, agentID string, conn transport.Conn, msg *a2a.Message) bool {
	sendCtx, cancel := context.WithTimeout(ctx, b.sendTimeout)
	defer cancel()

	start := time.Now()
	err := send(sendCtx, conn, msg)
	b.metrics.RecordBrokerSendDuration(ctx, agentID, time.Since(start))
	if err == nil {
		return true
	}

	b.metrics.IncrementBrokerConnectionErrors(ctx)
	if errors.Is(err, transport.ErrClosed) {
		if b.registry.Evict(agentID, conn) {
			b.metrics.AddConnectedAgents(ctx, -1)
			b.logger.WarnContext(ctx, "Agent connection closed, evicted",
				"agent_id", agentID,
				"message_id", msg.ID,
			)
		}
		return false
	}

	b.logger.WarnContext(ctx, "Failed to deliver message",
		"agent_id", agentID,
		"message_id", msg.ID,
		"error", err,
	)
	return false
}

// send writes the frame msg was received as when the connection accepts raw
// frames, so the target gets the message byte for byte.
func send(ctx context.Context, conn transport.Conn, msg *a2a.Message) error {
	if fs, ok := conn.(transport.FrameSender); ok && msg.Frame() != nil {
		return fs.SendFrame(ctx, msg.Frame())
	}
	return conn.Send(ctx, msg)
}

// HandleDisconnect removes whichever registration holds conn. Calling it
// more than once is harmless.
func (b *Broker) HandleDisconnect(ctx context.Context, conn transport.Conn) {
	for _, agentID := range b.registry.EvictConn(conn) {
		b.metrics.AddConnectedAgents(ctx, -1)
		b.logger.InfoContext(ctx, "Agent disconnected", "agent_id", agentID)
	}
}

// Agents returns the current registrations.
func (b *Broker) Agents() []AgentInfo {
	return b.registry.Snapshot()
}

// AgentsHandler serves the registry as JSON.
func (b *Broker) AgentsHandler(w http.ResponseWriter, r *http.Request) {
	agents := b.Agents()
	ids := make([]string, 0, len(agents))
	capabilities := make(map[string][]string, len(agents))
	for _, a := range agents {
		ids = append(ids, a.AgentID)
		capabilities[a.AgentID] = a.Capabilities
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"agents":       ids,
		"capabilities": capabilities,
		"details":      agents,
	})
}

// WebSocketHandler upgrades the request and serves it as an agent
// connection.
func (b *Broker) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := transport.UpgradeWebSocket(w, r)
	if err != nil {
		b.logger.WarnContext(r.Context(), "WebSocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}
	defer conn.Close()

	b.logger.DebugContext(r.Context(), "WebSocket connection accepted", "remote_addr", r.RemoteAddr)
	b.ServeConn(r.Context(), conn)
}

func stringSlice(v any) []string {
	switch vals := v.(type) {
	case []string:
		return vals
	case []any:
		out := make([]string, 0, len(vals))
		for _, item := range vals {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// PipeDialer returns a dialer whose connections are in-process pipes served
// by b until ctx is done.
func (b *Broker) PipeDialer(ctx context.Context) transport.Dialer {
	return func(context.Context) (transport.Conn, error) {
		agentSide, brokerSide := transport.Pipe()
		go func() {
			defer brokerSide.Close()
			b.ServeConn(ctx, brokerSide)
		}()
		return agentSide, nil
	}
}
