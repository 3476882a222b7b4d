package agenthub

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/owulveryck/a2ahub/internal/a2a"
	"github.com/owulveryck/a2ahub/internal/transport"
)

func TestEngineRequestResponse(t *testing.T) {
	hub := newTestHub(t)
	pricer := hub.startEngine(t, "pricer", time.Second, "pricing_optimization")
	client := hub.startEngine(t, "client", time.Second)

	pricer.RegisterHandler("optimize", func(ctx context.Context, payload a2a.Payload) (a2a.Payload, error) {
		msg, ok := MessageFromContext(ctx)
		if !ok || msg.SourceAgent != "client" {
			return nil, errors.New("missing inbound message in context")
		}
		return a2a.Payload{"product_id": payload.String("product_id"), "price": 9.99}, nil
	})

	req := a2a.NewMessage(a2a.Request, "client", "pricer", a2a.Payload{"action": "optimize", "product_id": "66VCHSJNUP"})
	reply, err := client.SendMessage(context.Background(), req)
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if reply == nil {
		t.Fatal("Expected a response, got none")
	}
	if reply.Type != a2a.Response {
		t.Fatalf("Expected response, got %s: %v", reply.Type, reply.Payload)
	}
	if reply.CorrelationID != req.ID || reply.SourceAgent != "pricer" || reply.TargetAgent != "client" {
		t.Errorf("Unexpected reply envelope: %+v", reply)
	}
	if price, _ := reply.Payload["price"].(float64); price != 9.99 {
		t.Errorf("Expected price 9.99, got %v", reply.Payload["price"])
	}
	if client.PendingCount() != 0 {
		t.Errorf("Expected no pending requests, got %d", client.PendingCount())
	}
}

func TestEngineHandlerFailureBecomesErrorReply(t *testing.T) {
	tests := []struct {
		name    string
		handler Handler
		want    string
	}{
		{
			name: "returned error",
			handler: func(ctx context.Context, payload a2a.Payload) (a2a.Payload, error) {
				return nil, errors.New("product not found")
			},
			want: "product not found",
		},
		{
			name: "panic",
			handler: func(ctx context.Context, payload a2a.Payload) (a2a.Payload, error) {
				panic("boom")
			},
			want: "handler panic: boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub := newTestHub(t)
			worker := hub.startEngine(t, "worker", time.Second)
			client := hub.startEngine(t, "client", time.Second)
			worker.RegisterHandler("work", tt.handler)

			req := a2a.NewMessage(a2a.Request, "client", "worker", a2a.Payload{"action": "work"})
			reply, err := client.SendMessage(context.Background(), req)
			if err != nil {
				t.Fatalf("SendMessage failed: %v", err)
			}
			if reply == nil || reply.Type != a2a.Error {
				t.Fatalf("Expected an error reply, got %+v", reply)
			}
			if reply.CorrelationID != req.ID {
				t.Errorf("Expected correlation %s, got %s", req.ID, reply.CorrelationID)
			}
			if got := reply.Payload.String("error"); got != tt.want {
				t.Errorf("Expected error %q, got %q", tt.want, got)
			}
		})
	}
}

func TestEngineUnhandledActionTimesOut(t *testing.T) {
	hub := newTestHub(t)
	hub.startEngine(t, "pricer", time.Second, "pricing_optimization")
	timeout := 200 * time.Millisecond
	client := hub.startEngine(t, "client", timeout)

	req := a2a.NewMessage(a2a.Request, "client", "pricer", a2a.Payload{"action": "optimize"})
	start := time.Now()
	reply, err := client.SendMessage(context.Background(), req)
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("Expected no error on timeout, got %v", err)
	}
	if reply != nil {
		t.Fatalf("Expected no result, got %+v", reply)
	}
	if elapsed < timeout {
		t.Errorf("Returned after %v, before the %v timeout", elapsed, timeout)
	}
	if client.PendingCount() != 0 {
		t.Errorf("Expected the pending entry to be removed, got %d", client.PendingCount())
	}
}

func TestEngineBroadcastNotification(t *testing.T) {
	hub := newTestHub(t)
	a := hub.startEngine(t, "A", time.Second)
	b := hub.startEngine(t, "B", time.Second)

	var aCalls atomic.Int32
	bReceived := make(chan a2a.Payload, 1)
	a.RegisterHandler("announce", func(ctx context.Context, payload a2a.Payload) (a2a.Payload, error) {
		aCalls.Add(1)
		return nil, nil
	})
	b.RegisterHandler("announce", func(ctx context.Context, payload a2a.Payload) (a2a.Payload, error) {
		bReceived <- payload
		return nil, nil
	})

	msg := a2a.NewMessage(a2a.Notification, "A", "", a2a.Payload{"action": "announce", "text": "hello"})
	reply, err := a.SendMessage(context.Background(), msg)
	if err != nil || reply != nil {
		t.Fatalf("Expected (nil, nil) for a notification, got (%v, %v)", reply, err)
	}

	select {
	case payload := <-bReceived:
		if payload.String("text") != "hello" {
			t.Errorf("Unexpected payload %v", payload)
		}
	case <-time.After(testTimeout):
		t.Fatal("B never received the broadcast")
	}

	time.Sleep(quietPeriod)
	if n := aCalls.Load(); n != 0 {
		t.Errorf("A received its own broadcast %d times", n)
	}
}

func TestEngineRegisterHandlerOverwrites(t *testing.T) {
	hub := newTestHub(t)
	worker := hub.startEngine(t, "worker", time.Second)
	client := hub.startEngine(t, "client", time.Second)

	worker.RegisterHandler("version", func(ctx context.Context, payload a2a.Payload) (a2a.Payload, error) {
		return a2a.Payload{"version": "v1"}, nil
	})
	worker.RegisterHandler("version", func(ctx context.Context, payload a2a.Payload) (a2a.Payload, error) {
		return a2a.Payload{"version": "v2"}, nil
	})

	reply, err := client.SendMessage(context.Background(), a2a.NewMessage(a2a.Request, "client", "worker", a2a.Payload{"action": "version"}))
	if err != nil || reply == nil {
		t.Fatalf("Expected a reply, got (%v, %v)", reply, err)
	}
	if got := reply.Payload.String("version"); got != "v2" {
		t.Errorf("Expected the latest handler to answer, got %q", got)
	}
}

// fakeBroker starts an engine whose connection ends at the returned conn.
func fakeBroker(t *testing.T, requestTimeout time.Duration) (*ProtocolEngine, transport.Conn) {
	t.Helper()
	agentSide, brokerSide := transport.Pipe()
	engine := NewProtocolEngine(EngineConfig{
		AgentID:           "pricer",
		Capabilities:      []string{"pricing_optimization"},
		Endpoints:         map[string]any{"health": "http://localhost:8080/health"},
		Dialer:            func(ctx context.Context) (transport.Conn, error) { return agentSide, nil },
		RequestTimeout:    requestTimeout,
		HeartbeatInterval: time.Hour,
	}, testTelemetry())
	if err := engine.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(engine.Stop)
	return engine, brokerSide
}

func TestEngineRegistersAndSendsHeartbeat(t *testing.T) {
	_, broker := fakeBroker(t, time.Second)

	register := receive(t, broker)
	if register.Type != a2a.Notification || register.TargetAgent != a2a.BrokerID || register.SourceAgent != "pricer" {
		t.Fatalf("Unexpected registration envelope: %+v", register)
	}
	if register.Payload.Action() != a2a.ActionRegister || register.Payload.String("agent_id") != "pricer" {
		t.Errorf("Unexpected registration payload: %v", register.Payload)
	}
	if caps := stringSlice(register.Payload["capabilities"]); len(caps) != 1 || caps[0] != "pricing_optimization" {
		t.Errorf("Unexpected capabilities %v", caps)
	}
	if _, ok := register.Payload["endpoints"].(map[string]any); !ok {
		t.Errorf("Expected endpoints object, got %T", register.Payload["endpoints"])
	}

	beat := receive(t, broker)
	if beat.Type != a2a.Heartbeat || beat.TargetAgent != a2a.BrokerID || beat.Payload.String("status") != "healthy" {
		t.Errorf("Unexpected heartbeat: %+v", beat)
	}
}

func TestEngineHeartbeatInterval(t *testing.T) {
	agentSide, broker := transport.Pipe()
	engine := NewProtocolEngine(EngineConfig{
		AgentID:           "ticker",
		Dialer:            func(ctx context.Context) (transport.Conn, error) { return agentSide, nil },
		HeartbeatInterval: 20 * time.Millisecond,
	}, testTelemetry())
	if err := engine.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer engine.Stop()

	receive(t, broker) // registration
	for i := 0; i < 3; i++ {
		if msg := receive(t, broker); msg.Type != a2a.Heartbeat {
			t.Fatalf("Expected heartbeat %d, got %s", i, msg.Type)
		}
	}
}

func TestEngineCorrelatesExactlyOnce(t *testing.T) {
	engine, broker := fakeBroker(t, time.Second)
	receive(t, broker) // registration
	receive(t, broker) // first heartbeat

	stray := a2a.NewMessage(a2a.Response, "other", "pricer", a2a.Payload{"unexpected": true})
	stray.CorrelationID = "no-such-request"
	if err := broker.Send(context.Background(), stray); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	type result struct {
		reply *a2a.Message
		err   error
	}
	done := make(chan result, 1)
	req := a2a.NewMessage(a2a.Request, "pricer", "catalog", a2a.Payload{"action": "lookup"})
	go func() {
		reply, err := engine.SendMessage(context.Background(), req)
		done <- result{reply, err}
	}()

	got := receive(t, broker)
	if got.ID != req.ID {
		t.Fatalf("Expected request %s on the wire, got %s", req.ID, got.ID)
	}

	first := a2a.NewReply(got, a2a.Response, "catalog", a2a.Payload{"n": 1})
	second := a2a.NewReply(got, a2a.Response, "catalog", a2a.Payload{"n": 2})
	for _, m := range []*a2a.Message{first, second} {
		if err := broker.Send(context.Background(), m); err != nil {
			t.Fatalf("Send failed: %v", err)
		}
	}

	select {
	case r := <-done:
		if r.err != nil {
			t.Fatalf("SendMessage failed: %v", r.err)
		}
		if r.reply == nil || r.reply.ID != first.ID {
			t.Fatalf("Expected the first reply, got %+v", r.reply)
		}
	case <-time.After(testTimeout):
		t.Fatal("SendMessage never returned")
	}

	// neither the stray nor the duplicate reply is dispatched as inbound work
	expectNothing(t, broker)
	if engine.PendingCount() != 0 {
		t.Errorf("Expected no pending requests, got %d", engine.PendingCount())
	}
}

func TestEngineErrorReplyResolvesRequest(t *testing.T) {
	engine, broker := fakeBroker(t, time.Second)
	receive(t, broker)
	receive(t, broker)

	done := make(chan *a2a.Message, 1)
	go func() {
		reply, _ := engine.SendMessage(context.Background(), a2a.NewMessage(a2a.Request, "pricer", "catalog", a2a.Payload{"action": "lookup"}))
		done <- reply
	}()

	req := receive(t, broker)
	if err := broker.Send(context.Background(), a2a.NewReply(req, a2a.Error, "catalog", a2a.Payload{"error": "unavailable"})); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	select {
	case reply := <-done:
		if reply == nil || reply.Type != a2a.Error || reply.Payload.String("error") != "unavailable" {
			t.Fatalf("Expected the error reply, got %+v", reply)
		}
	case <-time.After(testTimeout):
		t.Fatal("SendMessage never returned")
	}
}

func TestEngineIgnoresMessagesForOtherAgents(t *testing.T) {
	engine, broker := fakeBroker(t, time.Second)
	receive(t, broker)
	receive(t, broker)

	var calls atomic.Int32
	engine.RegisterHandler("ping", func(ctx context.Context, payload a2a.Payload) (a2a.Payload, error) {
		calls.Add(1)
		return a2a.Payload{}, nil
	})

	if err := broker.Send(context.Background(), a2a.NewMessage(a2a.Request, "client", "someone-else", a2a.Payload{"action": "ping"})); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	expectNothing(t, broker)

	if err := broker.Send(context.Background(), a2a.NewMessage(a2a.Request, "client", "", a2a.Payload{"action": "ping"})); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if reply := receive(t, broker); reply.Type != a2a.Response || reply.TargetAgent != "client" {
		t.Errorf("Expected a response to the broadcast request, got %+v", reply)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("Expected 1 handler call, got %d", n)
	}
}

func TestEngineNotificationHandlerFailureIsNotReported(t *testing.T) {
	engine, broker := fakeBroker(t, time.Second)
	receive(t, broker)
	receive(t, broker)

	called := make(chan struct{}, 1)
	engine.RegisterHandler("update", func(ctx context.Context, payload a2a.Payload) (a2a.Payload, error) {
		called <- struct{}{}
		return nil, errors.New("cannot update")
	})

	if err := broker.Send(context.Background(), a2a.NewMessage(a2a.Notification, "client", "pricer", a2a.Payload{"action": "update"})); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	select {
	case <-called:
	case <-time.After(testTimeout):
		t.Fatal("Handler never called")
	}
	expectNothing(t, broker)
}

func TestEngineContextCancelledWhileWaiting(t *testing.T) {
	engine, broker := fakeBroker(t, time.Minute)
	receive(t, broker)
	receive(t, broker)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	reply, err := engine.SendMessage(ctx, a2a.NewMessage(a2a.Request, "pricer", "catalog", a2a.Payload{"action": "lookup"}))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected deadline exceeded, got (%v, %v)", reply, err)
	}
	if engine.PendingCount() != 0 {
		t.Errorf("Expected the pending entry to be removed, got %d", engine.PendingCount())
	}
}

func TestEngineConnectionLoss(t *testing.T) {
	engine, broker := fakeBroker(t, time.Second)
	receive(t, broker)

	broker.Close()
	select {
	case <-engine.Done():
	case <-time.After(testTimeout):
		t.Fatal("Inbound loop did not stop after the connection closed")
	}
	if engine.Connected() {
		t.Error("Expected engine to report disconnected")
	}
	_, err := engine.SendMessage(context.Background(), a2a.NewMessage(a2a.Request, "pricer", "catalog", a2a.Payload{"action": "lookup"}))
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected, got %v", err)
	}
}

func TestEngineLifecycleErrors(t *testing.T) {
	engine := NewProtocolEngine(EngineConfig{AgentID: "idle"}, testTelemetry())
	if _, err := engine.SendMessage(context.Background(), a2a.NewMessage(a2a.Notification, "idle", "", nil)); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected before Start, got %v", err)
	}
	if err := engine.Start(context.Background()); err == nil {
		t.Error("Expected Start without a dialer to fail")
	}
	if err := engine.Start(context.Background()); err == nil || errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("Expected the dialer error again after a failed Start, got %v", err)
	}

	dialErr := errors.New("connection refused")
	failing := NewProtocolEngine(EngineConfig{
		AgentID: "unlucky",
		Dialer:  func(ctx context.Context) (transport.Conn, error) { return nil, dialErr },
	}, testTelemetry())
	if err := failing.Start(context.Background()); !errors.Is(err, dialErr) {
		t.Errorf("Expected dial error to be wrapped, got %v", err)
	}
}

func TestEngineStartRetriesAfterDialFailure(t *testing.T) {
	hub := newTestHub(t)
	attempts := 0
	engine := NewProtocolEngine(EngineConfig{
		AgentID:           "retrier",
		HeartbeatInterval: time.Hour,
		Dialer: func(ctx context.Context) (transport.Conn, error) {
			attempts++
			if attempts == 1 {
				return nil, errors.New("broker not ready")
			}
			return hub.connect(), nil
		},
	}, testTelemetry())
	t.Cleanup(engine.Stop)

	if err := engine.Start(context.Background()); err == nil {
		t.Fatal("Expected the first Start to fail")
	}
	if err := engine.Start(context.Background()); err != nil {
		t.Fatalf("Expected the second Start to connect, got %v", err)
	}
	waitFor(t, "retrier registered", func() bool {
		_, ok := hub.broker.registry.Lookup("retrier")
		return ok
	})
	if err := engine.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("Expected ErrAlreadyStarted once connected, got %v", err)
	}
}

func TestEngineRunReturnsOnCancel(t *testing.T) {
	hub := newTestHub(t)
	engine := NewProtocolEngine(EngineConfig{
		AgentID:           "runner",
		Dialer:            hub.dialer(),
		HeartbeatInterval: time.Hour,
	}, testTelemetry())

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() { errs <- engine.Run(ctx) }()

	waitFor(t, "runner registered", func() bool {
		_, ok := hub.broker.registry.Lookup("runner")
		return ok
	})
	cancel()

	select {
	case err := <-errs:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(testTimeout):
		t.Fatal("Run did not return after cancel")
	}
	waitFor(t, "runner removed", func() bool {
		_, ok := hub.broker.registry.Lookup("runner")
		return !ok
	})
}
