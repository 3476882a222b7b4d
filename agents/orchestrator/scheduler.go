package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/robfig/cron/v3"
)

// DefaultScheduleUser runs scheduled workflows that name no user.
const DefaultScheduleUser = "scheduler"

var ErrInvalidSchedule = errors.New("invalid schedule")

// Schedule runs WorkflowType for UserID whenever Spec fires.
type Schedule struct {
	Spec         string
	WorkflowType string
	UserID       string
}

// ParseSchedules reads "<cron>|<workflow_type>[|<user_id>]" entries
// separated by ';'. Blank entries are ignored.
func ParseSchedules(s string) ([]Schedule, error) {
	var schedules []Schedule
	for _, entry := range strings.Split(s, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, "|")
		if len(parts) < 2 || len(parts) > 3 {
			return nil, fmt.Errorf("%w: %q", ErrInvalidSchedule, entry)
		}
		sch := Schedule{
			Spec:         strings.TrimSpace(parts[0]),
			WorkflowType: strings.TrimSpace(parts[1]),
			UserID:       DefaultScheduleUser,
		}
		if len(parts) == 3 && strings.TrimSpace(parts[2]) != "" {
			sch.UserID = strings.TrimSpace(parts[2])
		}
		if sch.Spec == "" || sch.WorkflowType == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidSchedule, entry)
		}
		schedules = append(schedules, sch)
	}
	return schedules, nil
}

// Scheduler runs workflow templates on cron schedules.
type Scheduler struct {
	mu      sync.Mutex
	cron    *cron.Cron
	entries map[cron.EntryID]Schedule
	ctx     context.Context
	orch    *Orchestrator
	logger  *slog.Logger
}

func NewScheduler(orch *Orchestrator) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		entries: make(map[cron.EntryID]Schedule),
		ctx:     context.Background(),
		orch:    orch,
		logger:  orch.logger.With("component", "scheduler"),
	}
}

// Add registers sch. The cron spec uses the standard five fields or a
// descriptor such as "@every 1h".
func (s *Scheduler) Add(sch Schedule) (cron.EntryID, error) {
	if !s.orch.HasTemplate(sch.WorkflowType) {
		return 0, fmt.Errorf("%w: %s", ErrUnknownWorkflowType, sch.WorkflowType)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.cron.AddFunc(sch.Spec, func() { s.trigger(sch) })
	if err != nil {
		return 0, fmt.Errorf("%w %q: %v", ErrInvalidSchedule, sch.Spec, err)
	}
	s.entries[id] = sch
	s.logger.Info("Workflow scheduled",
		"schedule", sch.Spec,
		"workflow_type", sch.WorkflowType,
		"user_id", sch.UserID,
	)
	return id, nil
}

func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Start runs the cron loop and blocks until ctx is cancelled. Runs in
// progress are waited for.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.cron.Start()
	s.logger.InfoContext(ctx, "Scheduler started", "jobs", s.Len())

	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.logger.Info("Scheduler stopped")
	return ctx.Err()
}

func (s *Scheduler) trigger(sch Schedule) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "Scheduled workflow fired",
		"schedule", sch.Spec,
		"workflow_type", sch.WorkflowType,
	)
	exec, err := s.orch.ExecuteWorkflow(ctx, WorkflowRequest{
		WorkflowType: sch.WorkflowType,
		UserID:       sch.UserID,
		Parameters: map[string]any{
			"trigger":  "schedule",
			"schedule": sch.Spec,
		},
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "Scheduled workflow failed",
			"workflow_type", sch.WorkflowType,
			"error", err,
		)
		return
	}
	s.logger.InfoContext(ctx, "Scheduled workflow done",
		"workflow_id", exec.ID,
		"status", exec.Status,
	)
}
