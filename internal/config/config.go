package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	TransportWebSocket = "websocket"
	TransportGRPC      = "grpc"
)

// AppConfig holds all application configuration
type AppConfig struct {
	// Broker endpoints, as seen by agents
	BrokerURL      string
	BrokerGRPCAddr string
	Transport      string

	// Broker listeners
	GRPCPort      string
	WebSocketPort string

	// Health Check Ports
	BrokerHealthPort string
	AgentHealthPort  string

	// Protocol timing
	RequestTimeout    time.Duration
	HeartbeatInterval time.Duration
	SendTimeout       time.Duration

	// Storage: empty means in-memory
	StorePath string

	// Generative model
	GCPProject    string
	GCPLocation   string
	VertexAIModel string

	// Orchestrator
	OrchestratorHTTPPort  string
	OrchestratorSchedules string
	PublishWorkflowEvents bool
	ExecutionRetention    int
	ExecutionTTL          time.Duration

	// Pricing agent
	PricingCacheTTL time.Duration

	// Observability Configuration
	JaegerEndpoint string

	// Service Configuration
	ServiceName    string
	ServiceVersion string
	Environment    string
	LogLevel       string
}

// Load loads configuration from environment variables with defaults
func Load() *AppConfig {
	return &AppConfig{
		BrokerURL:      getEnv("A2A_BROKER_URL", "ws://localhost:8082"),
		BrokerGRPCAddr: getEnv("A2A_BROKER_GRPC_ADDR", "localhost:50051"),
		Transport:      strings.ToLower(getEnv("A2A_TRANSPORT", TransportWebSocket)),

		GRPCPort:      getEnv("A2A_GRPC_PORT", ":50051"),
		WebSocketPort: getEnv("A2A_WS_PORT", "8082"),

		BrokerHealthPort: getEnv("BROKER_HEALTH_PORT", "8083"),
		AgentHealthPort:  getEnv("AGENT_HEALTH_PORT", "8080"),

		RequestTimeout:    getEnvAsDuration("A2A_REQUEST_TIMEOUT", 30*time.Second),
		HeartbeatInterval: getEnvAsDuration("A2A_HEARTBEAT_INTERVAL", 30*time.Second),
		SendTimeout:       getEnvAsDuration("A2A_SEND_TIMEOUT", 5*time.Second),

		StorePath: getEnv("A2A_STORE_PATH", ""),

		GCPProject:    getEnv("GCP_PROJECT", ""),
		GCPLocation:   getEnv("GCP_LOCATION", "us-central1"),
		VertexAIModel: getEnv("VERTEX_AI_MODEL", "gemini-2.0-flash"),

		OrchestratorHTTPPort:  getEnv("ORCHESTRATOR_HTTP_PORT", "8084"),
		OrchestratorSchedules: getEnv("ORCHESTRATOR_SCHEDULES", ""),
		PublishWorkflowEvents: getEnvAsBool("A2A_PUBLISH_WORKFLOW_EVENTS", false),
		ExecutionRetention:    getEnvAsInt("A2A_EXECUTION_RETENTION", 1000),
		ExecutionTTL:          getEnvAsDuration("A2A_EXECUTION_TTL", 0),

		PricingCacheTTL: getEnvAsDuration("PRICING_CACHE_TTL", 15*time.Minute),

		JaegerEndpoint: getEnv("JAEGER_ENDPOINT", "127.0.0.1:4317"),

		ServiceName:    getEnv("SERVICE_NAME", "a2ahub"),
		ServiceVersion: getEnv("SERVICE_VERSION", "1.0.0"),
		Environment:    getEnv("ENVIRONMENT", "development"),
		LogLevel:       getEnv("LOG_LEVEL", "INFO"),
	}
}

// UseGRPC reports whether agents should reach the broker over gRPC.
func (c *AppConfig) UseGRPC() bool {
	return c.Transport == TransportGRPC
}

// GetHealthPort returns the health port for a given service type
func (c *AppConfig) GetHealthPort(serviceType string) string {
	switch serviceType {
	case "broker":
		return c.BrokerHealthPort
	default:
		return c.AgentHealthPort
	}
}

// getEnv gets an environment variable with a default fallback
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as integer with a default fallback
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsBool gets an environment variable as boolean with a default fallback
func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go durations ("45s") or plain seconds ("45").
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs := getEnvAsInt(key, -1); secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
