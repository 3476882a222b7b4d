package agenthub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/owulveryck/a2ahub/internal/a2a"
	"github.com/owulveryck/a2ahub/internal/observability"
)

var (
	ErrWorkflowNotFound  = errors.New("workflow not found")
	ErrInvalidWorkflow   = errors.New("invalid workflow definition")
	ErrUnsatisfiedDepend = errors.New("unsatisfied dependency")
)

type WorkflowStatus string

const (
	StatusPending   WorkflowStatus = "pending"
	StatusRunning   WorkflowStatus = "running"
	StatusCompleted WorkflowStatus = "completed"
	StatusFailed    WorkflowStatus = "failed"
	StatusError     WorkflowStatus = "error"
	StatusCancelled WorkflowStatus = "cancelled"
)

// Terminal reports whether no further transition is expected.
func (s WorkflowStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusError, StatusCancelled:
		return true
	}
	return false
}

// StepDefinition is one remote invocation in a workflow.
type StepDefinition struct {
	Name       string         `json:"name"`
	Agent      string         `json:"agent"`
	Action     string         `json:"action"`
	Parameters map[string]any `json:"parameters,omitempty"`
	DependsOn  []string       `json:"depends_on,omitempty"`
}

type WorkflowDefinition struct {
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Steps       []StepDefinition `json:"steps"`
	Metadata    map[string]any   `json:"metadata,omitempty"`
}

// Validate checks the structural rules a definition must satisfy before it
// runs. Dependency order is not checked here: a step depending on a later
// step fails at run time.
func (d *WorkflowDefinition) Validate() error {
	if len(d.Steps) == 0 {
		return fmt.Errorf("%w: no steps", ErrInvalidWorkflow)
	}
	seen := make(map[string]bool, len(d.Steps))
	for i, step := range d.Steps {
		switch {
		case step.Name == "":
			return fmt.Errorf("%w: step %d has no name", ErrInvalidWorkflow, i)
		case seen[step.Name]:
			return fmt.Errorf("%w: duplicate step name %q", ErrInvalidWorkflow, step.Name)
		case step.Agent == "":
			return fmt.Errorf("%w: step %q has no agent", ErrInvalidWorkflow, step.Name)
		case step.Action == "":
			return fmt.Errorf("%w: step %q has no action", ErrInvalidWorkflow, step.Name)
		}
		seen[step.Name] = true
	}
	return nil
}

// StepResult records one attempted step. Duration is in seconds.
type StepResult struct {
	Name      string      `json:"name"`
	Agent     string      `json:"agent"`
	Action    string      `json:"action"`
	StartTime time.Time   `json:"start_time"`
	EndTime   time.Time   `json:"end_time"`
	Duration  float64     `json:"duration"`
	Success   bool        `json:"success"`
	Response  a2a.Payload `json:"response"`
	Error     string      `json:"error,omitempty"`
}

// WorkflowExecution is the aggregate record of one workflow run.
type WorkflowExecution struct {
	ID         string                `json:"id"`
	Definition WorkflowDefinition    `json:"definition"`
	Status     WorkflowStatus        `json:"status"`
	Steps      []StepResult          `json:"steps"`
	Results    map[string]StepResult `json:"results"`
	StartTime  time.Time             `json:"start_time"`
	EndTime    time.Time             `json:"end_time"`
	Duration   float64               `json:"duration"`
	Error      string                `json:"error,omitempty"`
}

func (w *WorkflowExecution) clone() *WorkflowExecution {
	c := *w
	c.Steps = append([]StepResult(nil), w.Steps...)
	c.Results = maps.Clone(w.Results)
	c.Definition.Steps = append([]StepDefinition(nil), w.Definition.Steps...)
	return &c
}

// RequestSender is the part of the protocol engine the workflow engine
// needs.
type RequestSender interface {
	AgentID() string
	SendMessage(ctx context.Context, msg *a2a.Message) (*a2a.Message, error)
}

// ExecutionStore persists execution records.
type ExecutionStore interface {
	SaveExecution(ctx context.Context, exec *WorkflowExecution) error
	LoadExecution(ctx context.Context, id string) (*WorkflowExecution, error)
	ListExecutions(ctx context.Context) ([]*WorkflowExecution, error)
}

// EventPublisher emits fire-and-forget workflow lifecycle events.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, event map[string]any) error
}

// Workflow lifecycle topics, matching the A2A message types used to carry
// them.
const (
	TopicWorkflowStart = string(a2a.WorkflowStart)
	TopicWorkflowStep  = string(a2a.WorkflowStep)
	TopicWorkflowEnd   = string(a2a.WorkflowEnd)
)

// DefaultExecutionRetention is how many finished executions the engine
// keeps in memory.
const DefaultExecutionRetention = 1000

type WorkflowOption func(*WorkflowEngine)

func WithExecutionStore(s ExecutionStore) WorkflowOption {
	return func(w *WorkflowEngine) { w.store = s }
}

func WithEventPublisher(p EventPublisher) WorkflowOption {
	return func(w *WorkflowEngine) { w.publisher = p }
}

// WithExecutionRetention bounds the finished executions held in memory;
// older ones are only reachable through the execution store. n <= 0 keeps
// everything.
func WithExecutionRetention(n int) WorkflowOption {
	return func(w *WorkflowEngine) { w.retention = n }
}

// WorkflowEngine runs workflow definitions through a RequestSender, one
// step at a time in declaration order.
type WorkflowEngine struct {
	sender    RequestSender
	logger    *slog.Logger
	traces    *observability.TraceManager
	metrics   *observability.MetricsManager
	store     ExecutionStore
	publisher EventPublisher
	retention int

	mu         sync.RWMutex
	executions map[string]*WorkflowExecution
	finished   []string // oldest first
}

func NewWorkflowEngine(sender RequestSender, tel *observability.Telemetry, opts ...WorkflowOption) *WorkflowEngine {
	w := &WorkflowEngine{
		sender:     sender,
		logger:     tel.Logger.With("component", "workflow_engine"),
		traces:     tel.TraceManager,
		metrics:    tel.MetricsManager,
		retention:  DefaultExecutionRetention,
		executions: make(map[string]*WorkflowExecution),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// ExecuteWorkflow runs def to completion and returns its execution record.
// Step failures end the run with status failed and a nil error. Failures of
// the run itself (invalid definition, cancelled context, panic) end it with
// status error and are also returned.
func (w *WorkflowEngine) ExecuteWorkflow(ctx context.Context, def WorkflowDefinition) (result *WorkflowExecution, err error) {
	exec := &WorkflowExecution{
		ID:         a2a.NewID(),
		Definition: def,
		Status:     StatusRunning,
		Steps:      []StepResult{},
		Results:    make(map[string]StepResult),
		StartTime:  time.Now(),
	}
	w.mu.Lock()
	w.executions[exec.ID] = exec
	w.mu.Unlock()

	ctx, span := w.traces.StartWorkflowSpan(ctx, exec.ID, def.Name, len(def.Steps))
	defer span.End()

	w.logger.InfoContext(ctx, "Workflow started",
		"workflow_id", exec.ID,
		"workflow_name", def.Name,
		"steps", len(def.Steps),
	)
	w.publish(ctx, TopicWorkflowStart, map[string]any{
		"workflow_id":   exec.ID,
		"workflow_name": def.Name,
		"total_steps":   len(def.Steps),
	})

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("workflow %s: panic: %v", exec.ID, r)
		}
		if err != nil {
			w.update(exec.ID, func(e *WorkflowExecution) {
				if e.Status != StatusCancelled {
					e.Status = StatusError
				}
				e.Error = err.Error()
			})
			w.traces.RecordError(span, err)
		}
		result = w.finish(ctx, exec.ID)
	}()

	if err := def.Validate(); err != nil {
		return nil, err
	}

	for _, step := range def.Steps {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("workflow %s: %w", exec.ID, err)
		}
		if w.status(exec.ID) == StatusCancelled {
			w.logger.InfoContext(ctx, "Workflow cancelled, skipping remaining steps",
				"workflow_id", exec.ID,
				"next_step", step.Name,
			)
			return nil, nil
		}

		res := w.executeStep(ctx, exec.ID, step)
		w.update(exec.ID, func(e *WorkflowExecution) {
			e.Steps = append(e.Steps, res)
			e.Results[res.Name] = res
		})
		w.publish(ctx, TopicWorkflowStep, map[string]any{
			"workflow_id": exec.ID,
			"step_name":   res.Name,
			"agent":       res.Agent,
			"success":     res.Success,
		})

		if !res.Success {
			w.update(exec.ID, func(e *WorkflowExecution) {
				if e.Status == StatusRunning {
					e.Status = StatusFailed
				}
				e.Error = fmt.Sprintf("step %s failed: %s", res.Name, res.Error)
			})
			return nil, nil
		}
	}

	w.update(exec.ID, func(e *WorkflowExecution) {
		if e.Status == StatusRunning {
			e.Status = StatusCompleted
		}
	})
	w.traces.SetSpanSuccess(span)
	return nil, nil
}

// executeStep sends one step request. It never returns an error: every
// failure becomes an unsuccessful StepResult.
func (w *WorkflowEngine) executeStep(ctx context.Context, workflowID string, step StepDefinition) StepResult {
	res := StepResult{
		Name:      step.Name,
		Agent:     step.Agent,
		Action:    step.Action,
		StartTime: time.Now(),
	}

	ctx, span := w.traces.StartStepSpan(ctx, workflowID, step.Name, step.Agent, step.Action)
	defer span.End()

	defer func() {
		res.EndTime = time.Now()
		d := res.EndTime.Sub(res.StartTime)
		res.Duration = d.Seconds()
		w.metrics.RecordWorkflowStep(ctx, step.Agent, step.Action, res.Success, d)
		if res.Success {
			w.traces.SetSpanSuccess(span)
		} else {
			w.traces.RecordError(span, errors.New(res.Error))
		}
	}()

	if missing := w.missingDependencies(workflowID, step.DependsOn); len(missing) > 0 {
		res.Error = fmt.Sprintf("%v: %v", ErrUnsatisfiedDepend, missing)
		w.logger.WarnContext(ctx, "Step dependencies not satisfied",
			"workflow_id", workflowID,
			"step_name", step.Name,
			"missing", missing,
		)
		return res
	}

	parameters := step.Parameters
	if parameters == nil {
		parameters = map[string]any{}
	}
	req := a2a.NewMessage(a2a.Request, w.sender.AgentID(), step.Agent, a2a.Payload{
		"action":      step.Action,
		"parameters":  parameters,
		"workflow_id": workflowID,
		"step_name":   step.Name,
	})
	req.WorkflowID = workflowID

	reply, err := w.sendStep(ctx, req)
	switch {
	case err != nil:
		res.Error = err.Error()
	case reply == nil:
		res.Error = fmt.Sprintf("no response from %s", step.Agent)
	case reply.Type == a2a.Error:
		res.Response = reply.Payload
		res.Error = reply.Payload.String("error")
		if res.Error == "" {
			res.Error = "agent returned an error"
		}
	default:
		res.Success = true
		res.Response = reply.Payload
	}

	w.logger.InfoContext(ctx, "Workflow step finished",
		"workflow_id", workflowID,
		"step_name", step.Name,
		"agent", step.Agent,
		"action", step.Action,
		"success", res.Success,
		"error", res.Error,
	)
	return res
}

func (w *WorkflowEngine) sendStep(ctx context.Context, req *a2a.Message) (reply *a2a.Message, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("send panic: %v", r)
		}
	}()
	return w.sender.SendMessage(ctx, req)
}

func (w *WorkflowEngine) missingDependencies(workflowID string, deps []string) []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	exec := w.executions[workflowID]
	var missing []string
	for _, dep := range deps {
		if _, ok := exec.Results[dep]; !ok {
			missing = append(missing, dep)
		}
	}
	return missing
}

func (w *WorkflowEngine) update(id string, fn func(*WorkflowExecution)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if exec, ok := w.executions[id]; ok {
		fn(exec)
	}
}

func (w *WorkflowEngine) status(id string) WorkflowStatus {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.executions[id].Status
}

// finish stamps the end time, records metrics and persistence, and returns
// a copy of the final record.
func (w *WorkflowEngine) finish(ctx context.Context, id string) *WorkflowExecution {
	var snapshot *WorkflowExecution
	w.update(id, func(e *WorkflowExecution) {
		e.EndTime = time.Now()
		e.Duration = e.EndTime.Sub(e.StartTime).Seconds()
		snapshot = e.clone()
	})

	w.metrics.RecordWorkflow(ctx, snapshot.Definition.Name, string(snapshot.Status), snapshot.EndTime.Sub(snapshot.StartTime))
	w.save(ctx, snapshot)
	w.retire(id)
	w.publish(ctx, TopicWorkflowEnd, map[string]any{
		"workflow_id":     snapshot.ID,
		"workflow_name":   snapshot.Definition.Name,
		"status":          string(snapshot.Status),
		"steps_completed": len(snapshot.Steps),
		"duration":        snapshot.Duration,
	})
	w.logger.InfoContext(ctx, "Workflow finished",
		"workflow_id", snapshot.ID,
		"workflow_name", snapshot.Definition.Name,
		"status", snapshot.Status,
		"steps_completed", len(snapshot.Steps),
		"duration", snapshot.Duration,
	)
	return snapshot
}

// retire queues a finished execution for eviction and drops the oldest
// ones past the retention bound. Running executions are never evicted.
func (w *WorkflowEngine) retire(id string) {
	if w.retention <= 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.finished = append(w.finished, id)
	for len(w.finished) > w.retention {
		delete(w.executions, w.finished[0])
		w.finished = w.finished[1:]
	}
}

// Cancel marks the execution cancelled. A step already in flight finishes;
// no further steps are started.
func (w *WorkflowEngine) Cancel(ctx context.Context, id string) error {
	var snapshot *WorkflowExecution
	w.update(id, func(e *WorkflowExecution) {
		e.Status = StatusCancelled
		snapshot = e.clone()
	})
	if snapshot == nil {
		stored, err := w.load(ctx, id)
		if err != nil {
			return err
		}
		stored.Status = StatusCancelled
		snapshot = stored
	}

	w.save(ctx, snapshot)
	w.logger.InfoContext(ctx, "Workflow cancelled", "workflow_id", id)
	return nil
}

// Get returns a copy of the execution record for id.
func (w *WorkflowEngine) Get(ctx context.Context, id string) (*WorkflowExecution, error) {
	w.mu.RLock()
	exec, ok := w.executions[id]
	var snapshot *WorkflowExecution
	if ok {
		snapshot = exec.clone()
	}
	w.mu.RUnlock()

	if ok {
		return snapshot, nil
	}
	return w.load(ctx, id)
}

func (w *WorkflowEngine) load(ctx context.Context, id string) (*WorkflowExecution, error) {
	if w.store == nil {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, id)
	}
	return w.store.LoadExecution(ctx, id)
}

// List returns every known execution ordered by start time, including
// persisted ones from earlier runs.
func (w *WorkflowEngine) List(ctx context.Context) ([]*WorkflowExecution, error) {
	byID := make(map[string]*WorkflowExecution)
	if w.store != nil {
		stored, err := w.store.ListExecutions(ctx)
		if err != nil {
			return nil, fmt.Errorf("list workflow executions: %w", err)
		}
		for _, e := range stored {
			byID[e.ID] = e
		}
	}

	w.mu.RLock()
	for id, e := range w.executions {
		byID[id] = e.clone()
	}
	w.mu.RUnlock()

	out := make([]*WorkflowExecution, 0, len(byID))
	for _, e := range byID {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartTime.Before(out[j].StartTime)
	})
	return out, nil
}

func (w *WorkflowEngine) save(ctx context.Context, exec *WorkflowExecution) {
	if w.store == nil {
		return
	}
	if err := w.store.SaveExecution(context.WithoutCancel(ctx), exec); err != nil {
		w.logger.WarnContext(ctx, "Failed to persist workflow execution",
			"workflow_id", exec.ID,
			"error", err,
		)
	}
}

func (w *WorkflowEngine) publish(ctx context.Context, topic string, event map[string]any) {
	if w.publisher == nil {
		return
	}
	if err := w.publisher.Publish(context.WithoutCancel(ctx), topic, event); err != nil {
		w.logger.DebugContext(ctx, "Failed to publish workflow event",
			"topic", topic,
			"error", err,
		)
	}
}
