package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/owulveryck/a2ahub/internal/a2a"
	"github.com/owulveryck/a2ahub/internal/agenthub"
	"github.com/owulveryck/a2ahub/internal/observability"
	"github.com/owulveryck/a2ahub/internal/subagent"
)

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeSender answers every step request immediately, with an error reply
// for the actions listed in fail.
type fakeSender struct {
	mu       sync.Mutex
	requests []*a2a.Message
	fail     map[string]bool
}

func (f *fakeSender) AgentID() string { return AgentID }

func (f *fakeSender) SendMessage(ctx context.Context, msg *a2a.Message) (*a2a.Message, error) {
	f.mu.Lock()
	f.requests = append(f.requests, msg)
	f.mu.Unlock()

	action := msg.Payload.Action()
	if f.fail[action] {
		return a2a.NewReply(msg, a2a.Error, msg.TargetAgent, a2a.Payload{"error": action + " unavailable"}), nil
	}
	return a2a.NewReply(msg, a2a.Response, msg.TargetAgent, a2a.Payload{"handled": action}), nil
}

func (f *fakeSender) sent() []*a2a.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*a2a.Message(nil), f.requests...)
}

func newTestOrchestrator(sender agenthub.RequestSender) *Orchestrator {
	tel := observability.NopTelemetry("orchestrator-test")
	o := New(AgentID, agenthub.NewWorkflowEngine(sender, tel), tel)
	o.now = func() time.Time { return fixedNow }
	return o
}

func TestPrepareWorkflow(t *testing.T) {
	template := DefaultTemplates()["customer_support"]
	template.Steps[0].Parameters["priority"] = "high"
	template.Steps[0].Parameters["user_id"] = "template-user"

	params := map[string]any{"inquiry": "where is my order"}
	userCtx := map[string]any{"channel": "chat"}
	def := PrepareWorkflow(template, AgentID, "user-1", params, userCtx, fixedNow)

	if def.Name != template.Name || len(def.Steps) != len(template.Steps) {
		t.Fatalf("Unexpected definition %+v", def)
	}
	first := def.Steps[0].Parameters
	if first["user_id"] != "user-1" || first["priority"] != "high" {
		t.Errorf("Step parameters not merged: %v", first)
	}
	if first["workflow_parameters"].(map[string]any)["inquiry"] != "where is my order" {
		t.Errorf("Missing workflow_parameters: %v", first)
	}
	if first["user_context"].(map[string]any)["channel"] != "chat" {
		t.Errorf("Missing user_context: %v", first)
	}
	if template.Steps[0].Parameters["user_id"] != "template-user" {
		t.Error("PrepareWorkflow modified the template")
	}
	if _, ok := template.Steps[1].Parameters["user_id"]; ok {
		t.Error("PrepareWorkflow modified the template")
	}

	meta := def.Metadata
	if meta["user_id"] != "user-1" || meta["orchestrator"] != AgentID {
		t.Errorf("Unexpected metadata %v", meta)
	}
	if meta["created_at"] != float64(fixedNow.Unix()) {
		t.Errorf("Unexpected created_at %v", meta["created_at"])
	}
}

func TestPrepareWorkflowNilContext(t *testing.T) {
	def := PrepareWorkflow(DefaultTemplates()["smart_checkout"], AgentID, "u", nil, nil, fixedNow)
	for _, s := range def.Steps {
		if _, ok := s.Parameters["user_context"].(map[string]any); !ok {
			t.Errorf("Step %s: user_context should be an empty map", s.Name)
		}
		if _, ok := s.Parameters["workflow_parameters"].(map[string]any); !ok {
			t.Errorf("Step %s: workflow_parameters should be an empty map", s.Name)
		}
	}
	if def.Metadata["context"] != nil {
		t.Errorf("Expected nil context metadata, got %v", def.Metadata["context"])
	}
}

func TestDefaultTemplatesAreValid(t *testing.T) {
	templates := DefaultTemplates()
	for _, id := range []string{"intelligent_shopping", "smart_checkout", "inventory_optimization", "customer_support"} {
		def, ok := templates[id]
		if !ok {
			t.Errorf("Missing template %s", id)
			continue
		}
		if err := def.Validate(); err != nil {
			t.Errorf("Template %s is invalid: %v", id, err)
		}
	}

	infos := ListTemplates(templates)
	if len(infos) != 4 || infos[0].ID != "customer_support" || infos[0].Steps != 4 {
		t.Errorf("Unexpected template listing %+v", infos)
	}
}

func TestExecuteWorkflow(t *testing.T) {
	sender := &fakeSender{}
	o := newTestOrchestrator(sender)

	exec, err := o.ExecuteWorkflow(context.Background(), WorkflowRequest{
		WorkflowType: "intelligent_shopping",
		UserID:       "user-1",
		Parameters:   map[string]any{"query": "running shoes"},
	})
	if err != nil {
		t.Fatalf("ExecuteWorkflow failed: %v", err)
	}
	if exec.Status != agenthub.StatusCompleted || len(exec.Steps) != 5 {
		t.Fatalf("Expected 5 completed steps, got %s with %d", exec.Status, len(exec.Steps))
	}

	requests := sender.sent()
	if len(requests) != 5 {
		t.Fatalf("Expected 5 requests, got %d", len(requests))
	}
	pricing := requests[2]
	if pricing.TargetAgent != PricingAgent || pricing.Payload.Action() != "optimize_product_pricing" {
		t.Errorf("Unexpected third request %+v", pricing)
	}
	params, _ := pricing.Payload["parameters"].(map[string]any)
	if params["user_id"] != "user-1" {
		t.Errorf("Step parameters missing user_id: %v", params)
	}
	if exec.Definition.Metadata["workflow_type"] != "intelligent_shopping" {
		t.Errorf("Missing workflow_type metadata: %v", exec.Definition.Metadata)
	}
}

func TestExecuteWorkflowStepFailure(t *testing.T) {
	o := newTestOrchestrator(&fakeSender{fail: map[string]bool{"analyze_transaction_risk": true}})

	exec, err := o.ExecuteWorkflow(context.Background(), WorkflowRequest{WorkflowType: "smart_checkout", UserID: "u"})
	if err != nil {
		t.Fatalf("A step failure must not be an error: %v", err)
	}
	if exec.Status != agenthub.StatusFailed || len(exec.Steps) != 2 {
		t.Errorf("Expected failure at step 2, got %s after %d steps", exec.Status, len(exec.Steps))
	}
}

func TestExecuteWorkflowRejectsBadRequests(t *testing.T) {
	o := newTestOrchestrator(&fakeSender{})
	tests := []struct {
		name string
		req  WorkflowRequest
		want error
	}{
		{"unknown type", WorkflowRequest{WorkflowType: "teleport", UserID: "u"}, ErrUnknownWorkflowType},
		{"missing type", WorkflowRequest{UserID: "u"}, ErrMissingField},
		{"missing user", WorkflowRequest{WorkflowType: "smart_checkout"}, ErrMissingField},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec, err := o.ExecuteWorkflow(context.Background(), tt.req)
			if !errors.Is(err, tt.want) || exec != nil {
				t.Errorf("ExecuteWorkflow() = %v, %v; want nil, %v", exec, err, tt.want)
			}
		})
	}
}

func TestListWorkflowsFiltersByUser(t *testing.T) {
	o := newTestOrchestrator(&fakeSender{})
	ctx := context.Background()
	for _, user := range []string{"alice", "bob", "alice"} {
		if _, err := o.ExecuteWorkflow(ctx, WorkflowRequest{WorkflowType: "customer_support", UserID: user}); err != nil {
			t.Fatalf("ExecuteWorkflow failed: %v", err)
		}
	}

	all, err := o.ListWorkflows(ctx, "")
	if err != nil || len(all) != 3 {
		t.Fatalf("Expected 3 workflows, got %d (%v)", len(all), err)
	}
	alice, _ := o.ListWorkflows(ctx, "alice")
	if len(alice) != 2 {
		t.Errorf("Expected 2 workflows for alice, got %d", len(alice))
	}
	for _, s := range alice {
		if s.Type != "Intelligent Customer Support Workflow" || s.StepsCompleted != 4 || s.TotalSteps != 4 {
			t.Errorf("Unexpected summary %+v", s)
		}
	}
	if none, _ := o.ListWorkflows(ctx, "carol"); len(none) != 0 {
		t.Errorf("Expected no workflows for carol, got %d", len(none))
	}
}

func TestSkillHandlers(t *testing.T) {
	o := newTestOrchestrator(&fakeSender{})
	ctx := context.Background()

	reply, err := o.handleExecuteWorkflow(ctx, a2a.Payload{
		"action":        "execute_workflow",
		"workflow_type": "inventory_optimization",
		"user_id":       "ops",
		"parameters":    map[string]any{"sku": "OLJCESPC7Z"},
	})
	if err != nil || reply["success"] != true {
		t.Fatalf("execute_workflow failed: %v %v", reply, err)
	}
	if reply["status"] != agenthub.StatusCompleted || reply["steps_completed"] != 4 || reply["total_steps"] != 4 {
		t.Errorf("Unexpected execute reply %v", reply)
	}
	id := reply["workflow_id"].(string)

	reply, _ = o.handleWorkflowStatus(ctx, a2a.Payload{"workflow_id": id})
	if reply["success"] != true || reply["status"] != agenthub.StatusCompleted {
		t.Errorf("Unexpected status reply %v", reply)
	}

	reply, _ = o.handleListWorkflows(ctx, a2a.Payload{"user_id": "ops"})
	if workflows, ok := reply["workflows"].([]WorkflowSummary); !ok || len(workflows) != 1 {
		t.Errorf("Unexpected list reply %v", reply)
	}

	reply, _ = o.handleCancelWorkflow(ctx, a2a.Payload{"workflow_id": id})
	if reply["success"] != true {
		t.Errorf("Unexpected cancel reply %v", reply)
	}
	view, _ := o.WorkflowStatus(ctx, id)
	if view.Status != agenthub.StatusCancelled {
		t.Errorf("Expected cancelled status, got %s", view.Status)
	}
}

func TestSkillHandlersReportFailures(t *testing.T) {
	o := newTestOrchestrator(&fakeSender{})
	ctx := context.Background()

	tests := []struct {
		name    string
		handler subagent.TaskHandler
		payload a2a.Payload
	}{
		{"unknown workflow type", o.handleExecuteWorkflow, a2a.Payload{"workflow_type": "nope", "user_id": "u"}},
		{"missing user", o.handleExecuteWorkflow, a2a.Payload{"workflow_type": "smart_checkout"}},
		{"status of unknown id", o.handleWorkflowStatus, a2a.Payload{"workflow_id": "missing"}},
		{"cancel unknown id", o.handleCancelWorkflow, a2a.Payload{"workflow_id": "missing"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply, err := tt.handler(ctx, tt.payload)
			if err != nil {
				t.Fatalf("Handlers report failures in the payload, got error %v", err)
			}
			if reply["success"] != false || reply["error"] == "" {
				t.Errorf("Expected a failure payload, got %v", reply)
			}
		})
	}
}

func TestOrchestratorOverBroker(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tel := observability.NopTelemetry("orchestrator-test")
	broker := agenthub.NewBroker(tel, time.Second)

	agent, err := subagent.New(&subagent.Config{
		AgentID:           AgentID,
		Name:              "Multi-Agent Orchestrator",
		Description:       "test",
		HealthPort:        "0",
		Capabilities:      Capabilities,
		RequestTimeout:    2 * time.Second,
		HeartbeatInterval: time.Hour,
	}, subagent.WithTelemetry(tel), subagent.WithDialer(broker.PipeDialer(ctx)))
	if err != nil {
		t.Fatalf("subagent.New failed: %v", err)
	}
	orch := New(AgentID, agenthub.NewWorkflowEngine(agent, tel), tel)
	if err := orch.RegisterSkills(agent); err != nil {
		t.Fatalf("RegisterSkills failed: %v", err)
	}
	go agent.Run(ctx)

	// The support workflow agents, all served by one engine per id.
	for agentID, actions := range map[string][]string{
		SupportAgent:       {"analyze_customer_inquiry", "evaluate_escalation_need"},
		KnowledgeAgent:     {"search_solutions"},
		CommunicationAgent: {"generate_personalized_response"},
	} {
		e := agenthub.NewProtocolEngine(agenthub.EngineConfig{
			AgentID:           agentID,
			Capabilities:      actions,
			Dialer:            broker.PipeDialer(ctx),
			HeartbeatInterval: time.Hour,
		}, tel)
		for _, action := range actions {
			e.RegisterHandler(action, func(ctx context.Context, p a2a.Payload) (a2a.Payload, error) {
				params, _ := p["parameters"].(map[string]any)
				return a2a.Payload{"handled_for": params["user_id"]}, nil
			})
		}
		if err := e.Start(ctx); err != nil {
			t.Fatalf("Start %s failed: %v", agentID, err)
		}
		defer e.Stop()
	}

	client := agenthub.NewProtocolEngine(agenthub.EngineConfig{
		AgentID:           "storefront",
		Dialer:            broker.PipeDialer(ctx),
		RequestTimeout:    5 * time.Second,
		HeartbeatInterval: time.Hour,
	}, tel)
	if err := client.Start(ctx); err != nil {
		t.Fatalf("Client start failed: %v", err)
	}
	defer client.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for len(broker.Agents()) < 5 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if n := len(broker.Agents()); n != 5 {
		t.Fatalf("Expected 5 registered agents, got %d", n)
	}

	reply, err := client.SendMessage(ctx, a2a.NewMessage(a2a.Request, "storefront", AgentID, a2a.Payload{
		"action":        "execute_workflow",
		"workflow_type": "customer_support",
		"user_id":       "user-42",
	}))
	if err != nil || reply == nil {
		t.Fatalf("execute_workflow got %v, %v", reply, err)
	}
	if reply.Payload["success"] != true || reply.Payload.String("status") != string(agenthub.StatusCompleted) {
		t.Fatalf("Unexpected reply %v", reply.Payload)
	}

	view, err := orch.WorkflowStatus(ctx, reply.Payload.String("workflow_id"))
	if err != nil {
		t.Fatalf("WorkflowStatus failed: %v", err)
	}
	last := view.Results["determine_escalation"]
	if !last.Success || last.Response["handled_for"] != "user-42" {
		t.Errorf("Unexpected last step %+v", last)
	}
}
