package main

import (
	"context"
	"fmt"
	"os"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/owulveryck/a2ahub/internal/a2a"
	"github.com/owulveryck/a2ahub/internal/config"
	"github.com/owulveryck/a2ahub/internal/subagent"
)

const (
	echoAgentID = "agent_echo"
)

// echo repeats the "text" field of the request with an "Echo: " prefix.
func echo(ctx context.Context, payload a2a.Payload) (a2a.Payload, error) {
	input := payload.String("text")
	if input == "" {
		return nil, fmt.Errorf("missing text")
	}
	out := "Echo: " + input

	span := trace.SpanFromContext(ctx)
	span.AddEvent("created_echo_response",
		trace.WithAttributes(
			attribute.String("echo_text", out),
			attribute.Int("response_length", len(out)),
		),
	)

	return a2a.Payload{
		"text":     out,
		"input":    input,
		"agent_id": echoAgentID,
	}, nil
}

func main() {
	cfg := config.Load()
	agentConfig := subagent.FromAppConfig(cfg, echoAgentID,
		"Echo Agent",
		"A simple echo agent that repeats back messages for testing purposes",
	)
	agentConfig.HealthPort = "8085"

	agent, err := subagent.New(agentConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	agent.MustAddSkill("echo", "Echoes back any text with an 'Echo: ' prefix", echo)
	agent.GetLogger().Info("Starting echo agent",
		"agent_id", agent.GetConfig().AgentID,
		"transport", agent.GetConfig().Transport,
		"health_port", agent.GetConfig().HealthPort,
	)

	if err := agent.Run(context.Background()); err != nil {
		agent.GetLogger().Error("Echo agent stopped", "error", err)
		os.Exit(1)
	}
}
