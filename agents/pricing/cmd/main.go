package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/owulveryck/a2ahub/agents/pricing"
	"github.com/owulveryck/a2ahub/internal/config"
	"github.com/owulveryck/a2ahub/internal/llm"
	"github.com/owulveryck/a2ahub/internal/llm/vertexai"
	"github.com/owulveryck/a2ahub/internal/observability"
	"github.com/owulveryck/a2ahub/internal/store"
	"github.com/owulveryck/a2ahub/internal/subagent"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg := config.Load()

	obs, tel, err := observability.Setup(pricing.AgentID, cfg)
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

	var gen llm.TextGenerator
	if cfg.GCPProject != "" {
		client, err := vertexai.NewClient(ctx, &vertexai.Config{
			Project:  cfg.GCPProject,
			Location: cfg.GCPLocation,
			Model:    cfg.VertexAIModel,
		}, logger)
		if err != nil {
			logger.WarnContext(ctx, "Vertex AI unavailable, serving fallback pricing", "error", err)
		} else {
			gen = client
		}
	} else {
		logger.InfoContext(ctx, "GCP_PROJECT not set, serving fallback pricing")
	}

	agentConfig := subagent.FromAppConfig(cfg, pricing.AgentID,
		"Pricing Optimizer",
		"Recommends product and inventory prices",
	)
	agentConfig.Capabilities = pricing.Capabilities

	agent, err := subagent.New(agentConfig, subagent.WithTelemetry(tel))
	if err != nil {
		logger.ErrorContext(ctx, "Invalid agent configuration", "error", err)
		os.Exit(1)
	}

	if err := pricing.New(gen, kv, cfg.PricingCacheTTL, tel).RegisterSkills(agent); err != nil {
		logger.ErrorContext(ctx, "Failed to register skills", "error", err)
		os.Exit(1)
	}

	if err := agent.Run(ctx); err != nil {
		logger.ErrorContext(ctx, "Pricing agent stopped", "error", err)
	}
}
