package agenthub

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/owulveryck/a2ahub/internal/a2a"
	"github.com/owulveryck/a2ahub/internal/observability"
	"github.com/owulveryck/a2ahub/internal/transport"
)

const (
	testTimeout = 2 * time.Second
	quietPeriod = 150 * time.Millisecond
)

func testTelemetry() *observability.Telemetry {
	return observability.NopTelemetry("agenthub-test")
}

// testHub runs a Broker whose connections are in-process pipes.
type testHub struct {
	broker *Broker
	ctx    context.Context
	wg     sync.WaitGroup
}

func newTestHub(t *testing.T) *testHub {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h := &testHub{broker: NewBroker(testTelemetry(), time.Second), ctx: ctx}
	t.Cleanup(func() {
		cancel()
		h.wg.Wait()
	})
	return h
}

// connect returns the agent side of a new broker connection.
func (h *testHub) connect() transport.Conn {
	agentSide, brokerSide := transport.Pipe()
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer brokerSide.Close()
		h.broker.ServeConn(h.ctx, brokerSide)
	}()
	return agentSide
}

func (h *testHub) dialer() transport.Dialer {
	return func(ctx context.Context) (transport.Conn, error) {
		return h.connect(), nil
	}
}

// register connects a raw agent and waits until the broker knows it.
func (h *testHub) register(t *testing.T, agentID string, capabilities ...string) transport.Conn {
	t.Helper()
	conn := h.connect()
	t.Cleanup(func() { conn.Close() })

	sendRegistration(t, conn, agentID, capabilities...)
	waitFor(t, agentID+" registered", func() bool {
		_, ok := h.broker.registry.Lookup(agentID)
		return ok
	})
	return conn
}

func sendRegistration(t *testing.T, conn transport.Conn, agentID string, capabilities ...string) {
	t.Helper()
	msg := a2a.NewMessage(a2a.Notification, agentID, a2a.BrokerID, a2a.Payload{
		"action":       a2a.ActionRegister,
		"agent_id":     agentID,
		"capabilities": capabilities,
		"endpoints":    map[string]any{},
	})
	if err := conn.Send(context.Background(), msg); err != nil {
		t.Fatalf("Failed to send registration for %s: %v", agentID, err)
	}
}

// startEngine starts a protocol engine against the hub and waits for its
// registration.
func (h *testHub) startEngine(t *testing.T, agentID string, requestTimeout time.Duration, capabilities ...string) *ProtocolEngine {
	t.Helper()
	engine := NewProtocolEngine(EngineConfig{
		AgentID:           agentID,
		Capabilities:      capabilities,
		Dialer:            h.dialer(),
		RequestTimeout:    requestTimeout,
		HeartbeatInterval: time.Hour,
	}, testTelemetry())
	if err := engine.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start engine %s: %v", agentID, err)
	}
	t.Cleanup(engine.Stop)
	waitFor(t, agentID+" registered", func() bool {
		_, ok := h.broker.registry.Lookup(agentID)
		return ok
	})
	return engine
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(testTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func receive(t *testing.T, conn transport.Conn) *a2a.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	msg, err := conn.Receive(ctx)
	if err != nil {
		t.Fatalf("Expected a message, got error: %v", err)
	}
	return msg
}

func expectNothing(t *testing.T, conn transport.Conn) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), quietPeriod)
	defer cancel()
	if msg, err := conn.Receive(ctx); err == nil {
		t.Fatalf("Expected no message, got %s %s from %s", msg.Type, msg.ID, msg.SourceAgent)
	}
}

// deadConn fails every send as a closed transport would.
type deadConn struct{}

func (*deadConn) Send(context.Context, *a2a.Message) error { return transport.ErrClosed }
func (*deadConn) Receive(context.Context) (*a2a.Message, error) {
	return nil, transport.ErrClosed
}
func (*deadConn) Close() error { return nil }

func TestPendingRequests(t *testing.T) {
	p := newPendingRequests()

	ch, err := p.Insert("req-1")
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if _, err := p.Insert("req-1"); !errors.Is(err, ErrDuplicateRequest) {
		t.Fatalf("Expected ErrDuplicateRequest, got %v", err)
	}
	if p.Len() != 1 {
		t.Fatalf("Expected 1 pending entry, got %d", p.Len())
	}

	reply := &a2a.Message{ID: "resp-1", Type: a2a.Response, CorrelationID: "req-1"}
	if !p.Resolve("req-1", reply) {
		t.Fatal("Expected first Resolve to succeed")
	}
	if p.Resolve("req-1", reply) {
		t.Fatal("Expected second Resolve to be a no-op")
	}
	if p.Remove("req-1") {
		t.Fatal("Expected Remove after Resolve to report false")
	}
	if got := <-ch; got.ID != "resp-1" {
		t.Errorf("Expected resp-1, got %s", got.ID)
	}
	if p.Len() != 0 {
		t.Errorf("Expected empty table, got %d", p.Len())
	}

	if _, err := p.Insert("req-2"); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if !p.Remove("req-2") {
		t.Fatal("Expected Remove to succeed")
	}
	if p.Resolve("req-2", reply) {
		t.Fatal("Expected Resolve after Remove to fail")
	}
}

func TestAgentRegistry(t *testing.T) {
	r := NewAgentRegistry()
	first, _ := transport.Pipe()
	second, _ := transport.Pipe()
	other, _ := transport.Pipe()

	if replaced := r.Insert(&AgentRegistration{AgentID: "pricer", Capabilities: []string{"pricing_optimization"}, conn: first}); replaced != nil {
		t.Fatal("Expected no replaced connection on first insert")
	}
	if replaced := r.Insert(&AgentRegistration{AgentID: "pricer", conn: second}); replaced != first {
		t.Fatal("Expected re-registration to return the previous connection")
	}
	r.Insert(&AgentRegistration{AgentID: "shopper", conn: other})

	if conn, ok := r.Lookup("pricer"); !ok || conn != second {
		t.Fatal("Expected last registration to win")
	}
	if r.Evict("pricer", first) {
		t.Fatal("Evict with a stale connection must not remove the entry")
	}
	if evicted := r.EvictConn(first); len(evicted) != 0 {
		t.Fatalf("Expected nothing bound to the stale connection, got %v", evicted)
	}

	recipients := r.recipients("shopper")
	if len(recipients) != 1 || recipients[0].agentID != "pricer" {
		t.Fatalf("Expected only pricer as recipient, got %+v", recipients)
	}

	snapshot := r.Snapshot()
	if len(snapshot) != 2 || snapshot[0].AgentID != "pricer" || snapshot[1].AgentID != "shopper" {
		t.Fatalf("Expected sorted snapshot, got %+v", snapshot)
	}

	if !r.Evict("pricer", second) {
		t.Fatal("Expected Evict with the current connection to succeed")
	}
	if evicted := r.EvictConn(other); len(evicted) != 1 || evicted[0] != "shopper" {
		t.Fatalf("Expected shopper evicted, got %v", evicted)
	}
	if evicted := r.EvictConn(other); len(evicted) != 0 {
		t.Fatal("Expected EvictConn to be idempotent")
	}
	if r.Len() != 0 {
		t.Fatalf("Expected empty registry, got %d", r.Len())
	}
}
