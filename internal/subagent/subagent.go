package subagent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/owulveryck/a2ahub/internal/a2a"
	"github.com/owulveryck/a2ahub/internal/agenthub"
	"github.com/owulveryck/a2ahub/internal/observability"
	"github.com/owulveryck/a2ahub/internal/transport"
)

// SubAgent encapsulates the common functionality for building agents
type SubAgent struct {
	config *Config
	dialer transport.Dialer

	obs    *observability.Observability
	tel    *observability.Telemetry
	engine *agenthub.ProtocolEngine
	health *observability.HealthServer

	mu      sync.Mutex
	skills  map[string]*Skill
	order   []string
	running bool
}

// Option customizes a SubAgent beyond its Config.
type Option func(*SubAgent)

// WithTelemetry makes the agent use tel instead of initializing its own
// observability pipeline.
func WithTelemetry(tel *observability.Telemetry) Option {
	return func(s *SubAgent) { s.tel = tel }
}

// WithDialer overrides the dialer derived from the configured transport.
func WithDialer(d transport.Dialer) Option {
	return func(s *SubAgent) { s.dialer = d }
}

// New creates a new SubAgent with the given configuration
func New(config *Config, opts ...Option) (*SubAgent, error) {
	// Apply defaults and validate
	config = config.WithDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	s := &SubAgent{
		config: config,
		skills: make(map[string]*Skill),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.dialer == nil {
		s.dialer = config.Dialer()
	}
	return s, nil
}

// AddSkill registers a new skill with the agent. The skill name is the
// request action it answers and is announced as a capability.
func (s *SubAgent) AddSkill(name, description string, handler TaskHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrAgentAlreadyRunning
	}
	if _, exists := s.skills[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateSkill, name)
	}

	s.skills[name] = &Skill{
		Name:        name,
		Description: description,
		Handler:     handler,
	}
	s.order = append(s.order, name)

	return nil
}

// MustAddSkill is like AddSkill but panics on error (for cleaner initialization code)
func (s *SubAgent) MustAddSkill(name, description string, handler TaskHandler) {
	if err := s.AddSkill(name, description, handler); err != nil {
		panic(err)
	}
}

// Skills returns the registered skills in registration order.
func (s *SubAgent) Skills() []Skill {
	s.mu.Lock()
	defer s.mu.Unlock()
	skills := make([]Skill, 0, len(s.order))
	for _, name := range s.order {
		skills = append(skills, *s.skills[name])
	}
	return skills
}

// Capabilities returns the configured capabilities followed by the skill
// names, without duplicates.
func (s *SubAgent) Capabilities() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]bool)
	var caps []string
	for _, c := range append(append([]string{}, s.config.Capabilities...), s.order...) {
		if !seen[c] {
			seen[c] = true
			caps = append(caps, c)
		}
	}
	return caps
}

// Run starts the agent and blocks until the context is cancelled or the
// broker connection is lost.
// It handles the full lifecycle: setup, registration, heartbeats, and graceful shutdown
func (s *SubAgent) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAgentAlreadyRunning
	}
	if len(s.skills) == 0 {
		s.mu.Unlock()
		return ErrNoSkills
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	// Setup signal handling for graceful shutdown
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := s.initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize agent: %w", err)
	}
	defer s.shutdown()

	logger := s.GetLogger()
	go func() {
		if err := s.health.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorContext(ctx, "Health server failed", "error", err)
		}
	}()

	if err := s.engine.Start(ctx); err != nil {
		return err
	}
	defer s.engine.Stop()

	logger.InfoContext(ctx, "Agent started successfully",
		"agent_id", s.config.AgentID,
		"name", s.config.Name,
		"skills", len(s.order),
		"transport", s.config.Transport,
	)

	select {
	case <-ctx.Done():
		logger.InfoContext(context.Background(), "Agent shutting down gracefully",
			"agent_id", s.config.AgentID,
		)
		return nil
	case <-s.engine.Done():
		logger.ErrorContext(ctx, "Lost connection to broker",
			"agent_id", s.config.AgentID,
		)
		return transport.ErrClosed
	}
}

// initialize sets up telemetry, the protocol engine with one handler per
// skill, and the health server.
func (s *SubAgent) initialize(ctx context.Context) error {
	if s.tel == nil {
		obsConfig := observability.DefaultConfig(s.config.AgentID)
		obsConfig.ServiceVersion = s.config.Version
		if s.config.JaegerEndpoint != "" {
			obsConfig.JaegerEndpoint = s.config.JaegerEndpoint
		}
		if s.config.Environment != "" {
			obsConfig.Environment = s.config.Environment
		}
		if s.config.LogLevel != "" {
			obsConfig.LogLevel = s.config.LogLevel
		}
		obs, err := observability.NewObservability(obsConfig)
		if err != nil {
			return fmt.Errorf("failed to initialize observability: %w", err)
		}
		tel, err := observability.NewTelemetry(obs)
		if err != nil {
			obs.Shutdown(ctx)
			return fmt.Errorf("failed to initialize metrics manager: %w", err)
		}
		s.obs = obs
		s.tel = tel
	}

	engine := agenthub.NewProtocolEngine(agenthub.EngineConfig{
		AgentID:           s.config.AgentID,
		Capabilities:      s.Capabilities(),
		Endpoints:         s.config.Endpoints,
		Dialer:            s.dialer,
		RequestTimeout:    s.config.RequestTimeout,
		HeartbeatInterval: s.config.HeartbeatInterval,
	}, s.tel)

	for _, skill := range s.Skills() {
		engine.RegisterHandler(skill.Name, s.wrapHandlerWithObservability(skill.Name, skill.Handler))
		s.tel.Logger.DebugContext(ctx, "Registered task handler",
			"skill", skill.Name,
		)
	}

	health := observability.NewHealthServer(s.config.HealthPort, s.config.AgentID, s.config.Version)
	health.AddChecker("broker_connection", observability.NewBasicHealthChecker("broker_connection", func(ctx context.Context) error {
		if !engine.Connected() {
			return agenthub.ErrNotConnected
		}
		return nil
	}))

	s.mu.Lock()
	s.engine = engine
	s.health = health
	s.mu.Unlock()
	return nil
}

func (s *SubAgent) shutdown() {
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := s.health.Shutdown(shutdownCtx); err != nil {
		s.tel.Logger.ErrorContext(shutdownCtx, "Error shutting down health server", "error", err)
	}
	if s.obs != nil {
		if err := s.obs.Shutdown(shutdownCtx); err != nil {
			s.tel.Logger.ErrorContext(shutdownCtx, "Error during shutdown", "error", err)
		}
	}
}

// wrapHandlerWithObservability wraps a task handler with automatic tracing and logging
func (s *SubAgent) wrapHandlerWithObservability(skillName string, handler TaskHandler) agenthub.Handler {
	return func(ctx context.Context, payload a2a.Payload) (a2a.Payload, error) {
		taskCtx, taskSpan := s.tel.TraceManager.StartSpan(ctx, fmt.Sprintf("agent.%s.handle_task", s.config.AgentID))
		defer taskSpan.End()

		s.tel.TraceManager.AddComponentAttribute(taskSpan, s.config.AgentID)

		attrs := []any{"skill", skillName}
		if msg, ok := agenthub.MessageFromContext(ctx); ok {
			attrs = append(attrs, "message_id", msg.ID, "source_agent", msg.SourceAgent)
			if msg.WorkflowID != "" {
				attrs = append(attrs, "workflow_id", msg.WorkflowID)
			}
		}
		s.tel.Logger.InfoContext(taskCtx, "Processing task", attrs...)

		start := time.Now()
		result, err := handler(taskCtx, payload)
		if err != nil {
			s.tel.TraceManager.RecordError(taskSpan, err)
			s.tel.Logger.ErrorContext(taskCtx, "Task failed",
				append(attrs, "error", err, "duration", time.Since(start))...,
			)
			return nil, err
		}

		s.tel.TraceManager.SetSpanSuccess(taskSpan)
		s.tel.Logger.InfoContext(taskCtx, "Task completed successfully",
			append(attrs, "duration", time.Since(start))...,
		)
		return result, nil
	}
}

// AgentID returns the configured agent id.
func (s *SubAgent) AgentID() string {
	return s.config.AgentID
}

// SendMessage sends msg through the running engine. It lets a SubAgent act
// as the request sender of a workflow engine.
func (s *SubAgent) SendMessage(ctx context.Context, msg *a2a.Message) (*a2a.Message, error) {
	engine := s.GetEngine()
	if engine == nil {
		return nil, ErrAgentNotStarted
	}
	return engine.SendMessage(ctx, msg)
}

// GetLogger returns the agent's logger for custom logging needs
func (s *SubAgent) GetLogger() *slog.Logger {
	if s.tel == nil {
		return slog.Default()
	}
	return s.tel.Logger
}

// GetTelemetry returns the agent telemetry, nil before Run unless provided
// with WithTelemetry.
func (s *SubAgent) GetTelemetry() *observability.Telemetry {
	return s.tel
}

// GetEngine returns the underlying protocol engine, nil before Run.
func (s *SubAgent) GetEngine() *agenthub.ProtocolEngine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine
}

// GetConfig returns the agent configuration with defaults applied.
func (s *SubAgent) GetConfig() *Config {
	return s.config
}
