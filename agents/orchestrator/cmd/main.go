package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/owulveryck/a2ahub/agents/orchestrator"
	"github.com/owulveryck/a2ahub/internal/agenthub"
	"github.com/owulveryck/a2ahub/internal/config"
	"github.com/owulveryck/a2ahub/internal/observability"
	"github.com/owulveryck/a2ahub/internal/store"
	"github.com/owulveryck/a2ahub/internal/subagent"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg := config.Load()

	obs, tel, err := observability.Setup(orchestrator.AgentID, cfg)
	if err != nil {
		panic(err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := obs.Shutdown(shutdownCtx); err != nil {
			tel.Logger.ErrorContext(shutdownCtx, "Error during shutdown", "error", err)
		}
	}()
	logger := tel.Logger

	kv, err := store.Open(cfg.StorePath)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to open store", "path", cfg.StorePath, "error", err)
		os.Exit(1)
	}
	defer kv.Close()

	agentConfig := subagent.FromAppConfig(cfg, orchestrator.AgentID,
		"Multi-Agent Orchestrator",
		"Coordinates multi-step workflows across the shopping agents",
	)
	agentConfig.Capabilities = orchestrator.Capabilities
	agentConfig.Endpoints = map[string]any{"http": "http://localhost:" + cfg.OrchestratorHTTPPort}

	agent, err := subagent.New(agentConfig, subagent.WithTelemetry(tel))
	if err != nil {
		logger.ErrorContext(ctx, "Invalid agent configuration", "error", err)
		os.Exit(1)
	}

	opts := []agenthub.WorkflowOption{
		agenthub.WithExecutionStore(agenthub.NewKVExecutionStore(kv, cfg.ExecutionTTL)),
		agenthub.WithExecutionRetention(cfg.ExecutionRetention),
	}
	if cfg.PublishWorkflowEvents {
		opts = append(opts, agenthub.WithEventPublisher(agenthub.NewNotificationPublisher(agent)))
	}
	workflows := agenthub.NewWorkflowEngine(agent, tel, opts...)

	orch := orchestrator.New(orchestrator.AgentID, workflows, tel)
	if err := orch.RegisterSkills(agent); err != nil {
		logger.ErrorContext(ctx, "Failed to register skills", "error", err)
		os.Exit(1)
	}

	schedules, err := orchestrator.ParseSchedules(cfg.OrchestratorSchedules)
	if err != nil {
		logger.ErrorContext(ctx, "Invalid ORCHESTRATOR_SCHEDULES", "error", err)
		os.Exit(1)
	}
	scheduler := orchestrator.NewScheduler(orch)
	for _, sch := range schedules {
		if _, err := scheduler.Add(sch); err != nil {
			logger.ErrorContext(ctx, "Invalid schedule", "schedule", sch.Spec, "error", err)
			os.Exit(1)
		}
	}
	go scheduler.Start(ctx)

	api := orchestrator.NewAPIServer(cfg.OrchestratorHTTPPort, orch)
	go func() {
		if err := api.Start(); err != nil {
			logger.ErrorContext(ctx, "Orchestrator API failed", "error", err)
			cancel()
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		api.Shutdown(shutdownCtx)
	}()

	if err := agent.Run(ctx); err != nil {
		logger.ErrorContext(ctx, "Orchestrator stopped", "error", err)
	}
}
