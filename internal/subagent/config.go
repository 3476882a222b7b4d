package subagent

import (
	"fmt"
	"time"

	"github.com/owulveryck/a2ahub/internal/agenthub"
	"github.com/owulveryck/a2ahub/internal/config"
	"github.com/owulveryck/a2ahub/internal/transport"
)

// Config holds the configuration for a SubAgent
type Config struct {
	// AgentID is the unique identifier for this agent
	AgentID string

	// Name is the human-readable name of the agent
	Name string

	// Description is a brief description of what the agent does
	Description string

	// Version is the agent version (optional, defaults to "1.0.0")
	Version string

	// HealthPort is the port for the health check server (optional, defaults to "8080")
	HealthPort string

	// Transport is "websocket" (default) or "grpc"
	Transport string

	// BrokerURL is the WebSocket URL of the broker
	BrokerURL string

	// BrokerGRPCAddr is the host:port of the broker gRPC listener
	BrokerGRPCAddr string

	// Capabilities are announced at registration in addition to the skill names
	Capabilities []string

	// Endpoints are announced at registration as-is
	Endpoints map[string]any

	RequestTimeout    time.Duration
	HeartbeatInterval time.Duration

	JaegerEndpoint string
	Environment    string
	LogLevel       string
}

// FromAppConfig builds an agent configuration from the environment-derived
// application configuration.
func FromAppConfig(app *config.AppConfig, agentID, name, description string) *Config {
	return &Config{
		AgentID:           agentID,
		Name:              name,
		Description:       description,
		Version:           app.ServiceVersion,
		HealthPort:        app.AgentHealthPort,
		Transport:         app.Transport,
		BrokerURL:         app.BrokerURL,
		BrokerGRPCAddr:    app.BrokerGRPCAddr,
		RequestTimeout:    app.RequestTimeout,
		HeartbeatInterval: app.HeartbeatInterval,
		JaegerEndpoint:    app.JaegerEndpoint,
		Environment:       app.Environment,
		LogLevel:          app.LogLevel,
	}
}

// WithDefaults returns a new Config with default values applied for optional fields
func (c *Config) WithDefaults() *Config {
	cfg := *c

	if cfg.Version == "" {
		cfg.Version = "1.0.0"
	}

	if cfg.HealthPort == "" {
		cfg.HealthPort = "8080"
	}

	if cfg.Transport == "" {
		cfg.Transport = config.TransportWebSocket
	}

	if cfg.BrokerURL == "" {
		cfg.BrokerURL = "ws://localhost:8082"
	}

	if cfg.BrokerGRPCAddr == "" {
		cfg.BrokerGRPCAddr = "localhost:50051"
	}

	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = agenthub.DefaultRequestTimeout
	}

	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = agenthub.DefaultHeartbeatInterval
	}

	return &cfg
}

// Validate checks if the required configuration fields are set
func (c *Config) Validate() error {
	if c.AgentID == "" {
		return ErrMissingAgentID
	}

	if c.Name == "" {
		return ErrMissingName
	}

	if c.Description == "" {
		return ErrMissingDescription
	}

	switch c.Transport {
	case "", config.TransportWebSocket, config.TransportGRPC:
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedTransport, c.Transport)
	}

	return nil
}

// Dialer returns the broker dialer matching the configured transport.
func (c *Config) Dialer() transport.Dialer {
	if c.Transport == config.TransportGRPC {
		return transport.GRPCDialer(c.BrokerGRPCAddr)
	}
	return transport.WebSocketDialer(c.BrokerURL)
}
