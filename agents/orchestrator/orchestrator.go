package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/owulveryck/a2ahub/internal/a2a"
	"github.com/owulveryck/a2ahub/internal/agenthub"
	"github.com/owulveryck/a2ahub/internal/observability"
	"github.com/owulveryck/a2ahub/internal/subagent"
)

const AgentID = "multi-agent-orchestrator"

var (
	ErrUnknownWorkflowType = errors.New("unknown workflow type")
	ErrMissingField        = errors.New("missing required field")
)

// Capabilities announced by the orchestrator at registration.
var Capabilities = []string{
	"shopping_assistance",
	"customer_journey",
	"pricing_optimization",
	"supply_chain",
	"security_analysis",
}

// WorkflowRequest asks for one run of a template.
type WorkflowRequest struct {
	WorkflowType string         `json:"workflow_type" binding:"required"`
	UserID       string         `json:"user_id" binding:"required"`
	Parameters   map[string]any `json:"parameters"`
	Context      map[string]any `json:"context,omitempty"`
}

// WorkflowSummary is one entry of a workflow listing.
type WorkflowSummary struct {
	ID             string                  `json:"id"`
	Type           string                  `json:"type"`
	Status         agenthub.WorkflowStatus `json:"status"`
	CreatedAt      any                     `json:"created_at"`
	StepsCompleted int                     `json:"steps_completed"`
	TotalSteps     int                     `json:"total_steps"`
}

// WorkflowStatusView is the status document of one execution.
type WorkflowStatusView struct {
	WorkflowID string                         `json:"workflow_id"`
	Status     agenthub.WorkflowStatus        `json:"status"`
	Steps      []agenthub.StepResult          `json:"steps"`
	Results    map[string]agenthub.StepResult `json:"results"`
	Duration   float64                        `json:"duration"`
	Error      string                         `json:"error,omitempty"`
}

// Orchestrator runs the workflow templates on behalf of users, over A2A
// requests, the HTTP API or schedules.
type Orchestrator struct {
	agentID   string
	workflows *agenthub.WorkflowEngine
	templates map[string]agenthub.WorkflowDefinition
	logger    *slog.Logger
	now       func() time.Time
}

func New(agentID string, workflows *agenthub.WorkflowEngine, tel *observability.Telemetry) *Orchestrator {
	return &Orchestrator{
		agentID:   agentID,
		workflows: workflows,
		templates: DefaultTemplates(),
		logger:    tel.Logger.With("component", "orchestrator"),
		now:       time.Now,
	}
}

func (o *Orchestrator) Templates() []TemplateInfo {
	return ListTemplates(o.templates)
}

func (o *Orchestrator) HasTemplate(workflowType string) bool {
	_, ok := o.templates[workflowType]
	return ok
}

// ExecuteWorkflow prepares the requested template and runs it to the end.
// The execution record is returned even when the run itself failed.
func (o *Orchestrator) ExecuteWorkflow(ctx context.Context, req WorkflowRequest) (*agenthub.WorkflowExecution, error) {
	if req.WorkflowType == "" {
		return nil, fmt.Errorf("%w: workflow_type", ErrMissingField)
	}
	if req.UserID == "" {
		return nil, fmt.Errorf("%w: user_id", ErrMissingField)
	}
	template, ok := o.templates[req.WorkflowType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWorkflowType, req.WorkflowType)
	}

	def := PrepareWorkflow(template, o.agentID, req.UserID, req.Parameters, req.Context, o.now())
	def.Metadata["workflow_type"] = req.WorkflowType

	o.logger.InfoContext(ctx, "Executing workflow",
		"workflow_type", req.WorkflowType,
		"user_id", req.UserID,
	)
	exec, err := o.workflows.ExecuteWorkflow(ctx, def)
	if exec != nil {
		o.logger.InfoContext(ctx, "Workflow finished",
			"workflow_id", exec.ID,
			"workflow_type", req.WorkflowType,
			"status", exec.Status,
			"steps_completed", len(exec.Steps),
		)
	}
	return exec, err
}

func (o *Orchestrator) WorkflowStatus(ctx context.Context, id string) (*WorkflowStatusView, error) {
	exec, err := o.workflows.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return statusView(exec, o.now()), nil
}

func statusView(exec *agenthub.WorkflowExecution, now time.Time) *WorkflowStatusView {
	duration := exec.Duration
	if !exec.Status.Terminal() {
		duration = now.Sub(exec.StartTime).Seconds()
	}
	return &WorkflowStatusView{
		WorkflowID: exec.ID,
		Status:     exec.Status,
		Steps:      exec.Steps,
		Results:    exec.Results,
		Duration:   duration,
		Error:      exec.Error,
	}
}

// ListWorkflows returns every known execution, or only those of userID when
// it is not empty.
func (o *Orchestrator) ListWorkflows(ctx context.Context, userID string) ([]WorkflowSummary, error) {
	execs, err := o.workflows.List(ctx)
	if err != nil {
		return nil, err
	}
	summaries := []WorkflowSummary{}
	for _, exec := range execs {
		meta := exec.Definition.Metadata
		if userID != "" && fmt.Sprint(meta["user_id"]) != userID {
			continue
		}
		name := exec.Definition.Name
		if name == "" {
			name = "Unknown"
		}
		summaries = append(summaries, WorkflowSummary{
			ID:             exec.ID,
			Type:           name,
			Status:         exec.Status,
			CreatedAt:      meta["created_at"],
			StepsCompleted: len(exec.Steps),
			TotalSteps:     len(exec.Definition.Steps),
		})
	}
	return summaries, nil
}

func (o *Orchestrator) CancelWorkflow(ctx context.Context, id string) error {
	if err := o.workflows.Cancel(ctx, id); err != nil {
		return err
	}
	o.logger.InfoContext(ctx, "Workflow cancelled", "workflow_id", id)
	return nil
}

// ActiveWorkflows counts the executions that have not reached a terminal
// status.
func (o *Orchestrator) ActiveWorkflows(ctx context.Context) int {
	execs, err := o.workflows.List(ctx)
	if err != nil {
		return 0
	}
	n := 0
	for _, exec := range execs {
		if !exec.Status.Terminal() {
			n++
		}
	}
	return n
}

// RegisterSkills binds the orchestrator A2A actions to agent.
func (o *Orchestrator) RegisterSkills(agent *subagent.SubAgent) error {
	skills := []struct {
		name, description string
		handler           subagent.TaskHandler
	}{
		{"execute_workflow", "Runs a workflow template for a user", o.handleExecuteWorkflow},
		{"get_workflow_status", "Returns the status of a workflow execution", o.handleWorkflowStatus},
		{"list_workflows", "Lists workflow executions, optionally for one user", o.handleListWorkflows},
		{"cancel_workflow", "Cancels a workflow execution", o.handleCancelWorkflow},
	}
	for _, s := range skills {
		if err := agent.AddSkill(s.name, s.description, s.handler); err != nil {
			return err
		}
	}
	return nil
}

func failure(err error) a2a.Payload {
	return a2a.Payload{"success": false, "error": err.Error()}
}

func mapField(p a2a.Payload, key string) map[string]any {
	m, _ := p[key].(map[string]any)
	return m
}

func (o *Orchestrator) handleExecuteWorkflow(ctx context.Context, payload a2a.Payload) (a2a.Payload, error) {
	exec, err := o.ExecuteWorkflow(ctx, WorkflowRequest{
		WorkflowType: payload.String("workflow_type"),
		UserID:       payload.String("user_id"),
		Parameters:   mapField(payload, "parameters"),
		Context:      mapField(payload, "context"),
	})
	if err != nil {
		o.logger.ErrorContext(ctx, "Error executing workflow", "error", err)
		reply := failure(err)
		if exec != nil {
			reply["workflow_id"] = exec.ID
			reply["status"] = exec.Status
		}
		return reply, nil
	}
	return a2a.Payload{
		"success":         true,
		"workflow_id":     exec.ID,
		"status":          exec.Status,
		"steps_completed": len(exec.Steps),
		"total_steps":     len(exec.Definition.Steps),
	}, nil
}

func (o *Orchestrator) handleWorkflowStatus(ctx context.Context, payload a2a.Payload) (a2a.Payload, error) {
	view, err := o.WorkflowStatus(ctx, payload.String("workflow_id"))
	if err != nil {
		return failure(err), nil
	}
	return a2a.Payload{
		"success":     true,
		"workflow_id": view.WorkflowID,
		"status":      view.Status,
		"steps":       view.Steps,
		"results":     view.Results,
		"duration":    view.Duration,
	}, nil
}

func (o *Orchestrator) handleListWorkflows(ctx context.Context, payload a2a.Payload) (a2a.Payload, error) {
	workflows, err := o.ListWorkflows(ctx, payload.String("user_id"))
	if err != nil {
		return failure(err), nil
	}
	return a2a.Payload{"success": true, "workflows": workflows}, nil
}

func (o *Orchestrator) handleCancelWorkflow(ctx context.Context, payload a2a.Payload) (a2a.Payload, error) {
	if err := o.CancelWorkflow(ctx, payload.String("workflow_id")); err != nil {
		return failure(err), nil
	}
	return a2a.Payload{"success": true, "message": "Workflow cancelled"}, nil
}
