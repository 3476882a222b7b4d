package agenthub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/owulveryck/a2ahub/internal/a2a"
	"github.com/owulveryck/a2ahub/internal/observability"
	"github.com/owulveryck/a2ahub/internal/transport"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultRequestTimeout    = 30 * time.Second
	DefaultHeartbeatInterval = 30 * time.Second
)

var (
	ErrNotConnected   = errors.New("protocol engine is not connected")
	ErrAlreadyStarted = errors.New("protocol engine already started")
)

// Handler processes the payload of an inbound message addressed to this
// agent. For requests, the returned payload becomes the response body and a
// returned error becomes an error reply carrying {"error": err.Error()}.
type Handler func(ctx context.Context, payload a2a.Payload) (a2a.Payload, error)

type messageKey struct{}

// MessageFromContext returns the inbound message a Handler is serving.
func MessageFromContext(ctx context.Context) (*a2a.Message, bool) {
	msg, ok := ctx.Value(messageKey{}).(*a2a.Message)
	return msg, ok
}

// EngineConfig configures a ProtocolEngine.
type EngineConfig struct {
	AgentID      string
	Capabilities []string
	Endpoints    map[string]any
	Dialer       transport.Dialer

	RequestTimeout    time.Duration
	HeartbeatInterval time.Duration
}

// ProtocolEngine is one agent's connection to the broker: it registers the
// agent, correlates requests with replies, dispatches inbound messages to
// handlers and sends heartbeats.
type ProtocolEngine struct {
	config  EngineConfig
	logger  *slog.Logger
	traces  *observability.TraceManager
	metrics *observability.MetricsManager

	pending *pendingRequests

	handlersMu sync.RWMutex
	handlers   map[string]Handler

	mu      sync.Mutex
	conn    transport.Conn
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
	wg      sync.WaitGroup
}

func NewProtocolEngine(config EngineConfig, tel *observability.Telemetry) *ProtocolEngine {
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = DefaultRequestTimeout
	}
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = DefaultHeartbeatInterval
	}
	return &ProtocolEngine{
		config:   config,
		logger:   tel.Logger.With("agent_id", config.AgentID),
		traces:   tel.TraceManager,
		metrics:  tel.MetricsManager,
		pending:  newPendingRequests(),
		handlers: make(map[string]Handler),
		done:     make(chan struct{}),
	}
}

func (e *ProtocolEngine) AgentID() string {
	return e.config.AgentID
}

// RegisterHandler binds action to h, replacing any earlier handler.
func (e *ProtocolEngine) RegisterHandler(action string, h Handler) {
	e.handlersMu.Lock()
	defer e.handlersMu.Unlock()
	if _, exists := e.handlers[action]; exists {
		e.logger.Debug("Replacing handler", "action", action)
	}
	e.handlers[action] = h
}

func (e *ProtocolEngine) handler(action string) (Handler, bool) {
	e.handlersMu.RLock()
	defer e.handlersMu.RUnlock()
	h, ok := e.handlers[action]
	return h, ok
}

// Start dials the broker, registers the agent and launches the inbound and
// heartbeat loops. The loops run until ctx is cancelled, Stop is called or
// the connection is lost; Done reports when that happens.
// A failed Start may be retried.
func (e *ProtocolEngine) Start(ctx context.Context) (err error) {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return ErrAlreadyStarted
	}
	e.started = true
	e.mu.Unlock()
	defer func() {
		if err != nil {
			e.mu.Lock()
			e.started = false
			e.mu.Unlock()
		}
	}()

	if e.config.Dialer == nil {
		return fmt.Errorf("agent %s: no dialer configured", e.config.AgentID)
	}
	conn, err := e.config.Dialer(ctx)
	if err != nil {
		e.metrics.IncrementBrokerConnectionErrors(ctx)
		return fmt.Errorf("agent %s: connect to broker: %w", e.config.AgentID, err)
	}

	capabilities := e.config.Capabilities
	if capabilities == nil {
		capabilities = []string{}
	}
	endpoints := e.config.Endpoints
	if endpoints == nil {
		endpoints = map[string]any{}
	}
	register := a2a.NewMessage(a2a.Notification, e.config.AgentID, a2a.BrokerID, a2a.Payload{
		"action":       a2a.ActionRegister,
		"agent_id":     e.config.AgentID,
		"capabilities": capabilities,
		"endpoints":    endpoints,
	})
	if err := conn.Send(ctx, register); err != nil {
		conn.Close()
		return fmt.Errorf("agent %s: register with broker: %w", e.config.AgentID, err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.conn = conn
	e.cancel = cancel
	e.mu.Unlock()

	e.wg.Add(2)
	go e.inboundLoop(loopCtx, conn)
	go e.heartbeatLoop(loopCtx, conn)

	e.logger.InfoContext(ctx, "Agent registered with broker",
		"capabilities", capabilities,
		"request_timeout", e.config.RequestTimeout,
		"heartbeat_interval", e.config.HeartbeatInterval,
	)
	return nil
}

// Run starts the engine and blocks until the connection ends.
func (e *ProtocolEngine) Run(ctx context.Context) error {
	if err := e.Start(ctx); err != nil {
		return err
	}
	select {
	case <-e.done:
	case <-ctx.Done():
	}
	e.Stop()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return transport.ErrClosed
}

// Stop closes the connection and waits for the loops to exit.
func (e *ProtocolEngine) Stop() {
	e.mu.Lock()
	conn, cancel := e.conn, e.cancel
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}
	e.wg.Wait()
}

// Done is closed once the inbound loop has exited.
func (e *ProtocolEngine) Done() <-chan struct{} {
	return e.done
}

// Connected reports whether the inbound loop is still running.
func (e *ProtocolEngine) Connected() bool {
	e.mu.Lock()
	started := e.conn != nil
	e.mu.Unlock()
	if !started {
		return false
	}
	select {
	case <-e.done:
		return false
	default:
		return true
	}
}

func (e *ProtocolEngine) currentConn() (transport.Conn, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn == nil {
		return nil, ErrNotConnected
	}
	select {
	case <-e.done:
		return nil, ErrNotConnected
	default:
	}
	return e.conn, nil
}

// SendMessage transmits msg. For requests it then waits for the correlated
// response or error and returns it; when none arrives within the request
// timeout it returns (nil, nil). Other message types return (nil, nil) once
// written.
func (e *ProtocolEngine) SendMessage(ctx context.Context, msg *a2a.Message) (*a2a.Message, error) {
	conn, err := e.currentConn()
	if err != nil {
		return nil, err
	}
	if msg.SourceAgent == "" {
		msg.SourceAgent = e.config.AgentID
	}

	ctx, span := e.traces.StartMessageSpan(ctx, "a2a_send_message", msg.ID, string(msg.Type), msg.SourceAgent, msg.TargetAgent)
	defer span.End()

	if msg.Type != a2a.Request {
		if err := conn.Send(ctx, msg); err != nil {
			e.traces.RecordError(span, err)
			return nil, fmt.Errorf("send %s %s: %w", msg.Type, msg.ID, err)
		}
		e.metrics.IncrementEventsPublished(ctx, string(msg.Type), msg.TargetAgent)
		e.traces.SetSpanSuccess(span)
		return nil, nil
	}

	replies, err := e.pending.Insert(msg.ID)
	if err != nil {
		e.traces.RecordError(span, err)
		return nil, err
	}
	e.metrics.AddPendingRequests(ctx, 1)
	defer e.metrics.AddPendingRequests(ctx, -1)

	start := time.Now()
	if err := conn.Send(ctx, msg); err != nil {
		e.pending.Remove(msg.ID)
		e.metrics.RecordRequest(ctx, msg.TargetAgent, "send_error", time.Since(start))
		e.traces.RecordError(span, err)
		return nil, fmt.Errorf("send request %s: %w", msg.ID, err)
	}

	timer := time.NewTimer(e.config.RequestTimeout)
	defer timer.Stop()

	select {
	case reply := <-replies:
		return e.finishRequest(ctx, span, msg, reply, start), nil

	case <-timer.C:
		if !e.pending.Remove(msg.ID) {
			// resolved while the timer fired
			return e.finishRequest(ctx, span, msg, <-replies, start), nil
		}
		e.metrics.RecordRequest(ctx, msg.TargetAgent, "timeout", time.Since(start))
		e.traces.AddSpanEvent(span, "timeout")
		e.logger.WarnContext(ctx, "Request timed out",
			"message_id", msg.ID,
			"target_agent", msg.TargetAgent,
			"action", msg.Payload.Action(),
			"timeout", e.config.RequestTimeout,
		)
		return nil, nil

	case <-ctx.Done():
		if !e.pending.Remove(msg.ID) {
			return e.finishRequest(ctx, span, msg, <-replies, start), nil
		}
		e.metrics.RecordRequest(ctx, msg.TargetAgent, "cancelled", time.Since(start))
		e.traces.RecordError(span, ctx.Err())
		return nil, ctx.Err()
	}
}

func (e *ProtocolEngine) finishRequest(ctx context.Context, span trace.Span, req, reply *a2a.Message, start time.Time) *a2a.Message {
	outcome := "response"
	if reply.Type == a2a.Error {
		outcome = "error"
		e.traces.AddSpanEvent(span, "error_reply")
	}
	e.metrics.RecordRequest(ctx, req.TargetAgent, outcome, time.Since(start))
	e.traces.SetSpanSuccess(span)
	e.logger.DebugContext(ctx, "Request resolved",
		"message_id", req.ID,
		"target_agent", req.TargetAgent,
		"reply_type", reply.Type,
		"duration", time.Since(start),
	)
	return reply
}

// PendingCount returns the number of requests awaiting a reply.
func (e *ProtocolEngine) PendingCount() int {
	return e.pending.Len()
}

func (e *ProtocolEngine) inboundLoop(ctx context.Context, conn transport.Conn) {
	defer e.wg.Done()
	defer close(e.done)
	defer e.cancel()

	for {
		msg, err := conn.Receive(ctx)
		if err != nil {
			var decodeErr *transport.DecodeError
			if errors.As(err, &decodeErr) {
				e.logger.WarnContext(ctx, "Dropping invalid frame", "error", err)
				e.metrics.IncrementEventErrors(ctx, "frame", e.config.AgentID, "decode_error")
				continue
			}
			if ctx.Err() == nil {
				e.logger.WarnContext(ctx, "Broker connection lost", "error", err)
			}
			return
		}
		e.dispatch(ctx, msg)
	}
}

// dispatch applies the inbound routing rules to one message.
func (e *ProtocolEngine) dispatch(ctx context.Context, msg *a2a.Message) {
	if (msg.Type == a2a.Response || msg.Type == a2a.Error) && msg.CorrelationID != "" {
		if e.pending.Resolve(msg.CorrelationID, msg) {
			return
		}
		e.logger.DebugContext(ctx, "Dropping uncorrelated reply",
			"message_id", msg.ID,
			"correlation_id", msg.CorrelationID,
		)
		return
	}

	if !msg.IsBroadcast() && msg.TargetAgent != e.config.AgentID {
		return
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.HandleIncomingMessage(ctx, msg)
	}()
}

// HandleIncomingMessage runs the handler registered for the message's
// action. Requests are answered with a Response, or with an Error when the
// handler fails. Messages without a handler get no reply.
func (e *ProtocolEngine) HandleIncomingMessage(ctx context.Context, msg *a2a.Message) {
	action := msg.Payload.Action()
	h, ok := e.handler(action)
	if !ok {
		e.logger.DebugContext(ctx, "No handler for action",
			"message_id", msg.ID,
			"message_type", msg.Type,
			"action", action,
			"source_agent", msg.SourceAgent,
		)
		return
	}

	ctx, span := e.traces.StartMessageSpan(ctx, "a2a_handle_message", msg.ID, string(msg.Type), msg.SourceAgent, msg.TargetAgent)
	defer span.End()
	e.traces.AddPayloadAttributes(span, "a2a.payload", msg.Payload)

	timer := e.metrics.StartTimer()
	defer timer(ctx, string(msg.Type), msg.SourceAgent)

	result, err := e.invoke(context.WithValue(ctx, messageKey{}, msg), h, msg)
	e.metrics.IncrementEventsProcessed(ctx, string(msg.Type), msg.SourceAgent, err == nil)

	if err != nil {
		e.traces.RecordError(span, err)
		e.logger.ErrorContext(ctx, "Handler failed",
			"message_id", msg.ID,
			"action", action,
			"source_agent", msg.SourceAgent,
			"error", err,
		)
	} else {
		e.traces.SetSpanSuccess(span)
	}

	if msg.Type != a2a.Request {
		return
	}

	var reply *a2a.Message
	if err != nil {
		reply = a2a.NewReply(msg, a2a.Error, e.config.AgentID, a2a.Payload{"error": err.Error()})
	} else {
		if result == nil {
			result = a2a.Payload{}
		}
		reply = a2a.NewReply(msg, a2a.Response, e.config.AgentID, result)
	}

	conn, connErr := e.currentConn()
	if connErr != nil {
		e.logger.WarnContext(ctx, "Cannot reply, not connected", "message_id", msg.ID)
		return
	}
	if sendErr := conn.Send(ctx, reply); sendErr != nil {
		e.metrics.IncrementEventErrors(ctx, string(reply.Type), e.config.AgentID, "reply_failed")
		e.logger.WarnContext(ctx, "Failed to send reply",
			"message_id", msg.ID,
			"reply_type", reply.Type,
			"error", sendErr,
		)
	}
}

// invoke calls h, turning a panic into an error.
func (e *ProtocolEngine) invoke(ctx context.Context, h Handler, msg *a2a.Message) (result a2a.Payload, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, msg.Payload)
}

func (e *ProtocolEngine) heartbeatLoop(ctx context.Context, conn transport.Conn) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		beat := a2a.NewMessage(a2a.Heartbeat, e.config.AgentID, a2a.BrokerID, a2a.Payload{"status": "healthy"})
		if err := conn.Send(ctx, beat); err != nil {
			if errors.Is(err, transport.ErrClosed) || ctx.Err() != nil {
				return
			}
			e.logger.WarnContext(ctx, "Failed to send heartbeat", "error", err)
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		case <-e.done:
			return
		}
	}
}
