package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"A2A_REQUEST_TIMEOUT", "A2A_HEARTBEAT_INTERVAL", "A2A_TRANSPORT", "A2A_BROKER_URL"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	if cfg.RequestTimeout != 30*time.Second {
		t.Errorf("Expected 30s request timeout, got %v", cfg.RequestTimeout)
	}
	if cfg.HeartbeatInterval != 30*time.Second {
		t.Errorf("Expected 30s heartbeat interval, got %v", cfg.HeartbeatInterval)
	}
	if cfg.Transport != TransportWebSocket {
		t.Errorf("Expected websocket transport, got %q", cfg.Transport)
	}
	if cfg.BrokerURL != "ws://localhost:8082" {
		t.Errorf("Unexpected broker URL %q", cfg.BrokerURL)
	}
	if cfg.UseGRPC() {
		t.Error("Expected UseGRPC to be false by default")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("A2A_REQUEST_TIMEOUT", "45")
	t.Setenv("A2A_HEARTBEAT_INTERVAL", "1m")
	t.Setenv("A2A_SEND_TIMEOUT", "garbage")
	t.Setenv("A2A_TRANSPORT", "GRPC")
	t.Setenv("A2A_PUBLISH_WORKFLOW_EVENTS", "true")
	t.Setenv("A2A_EXECUTION_RETENTION", "50")
	t.Setenv("A2A_EXECUTION_TTL", "24h")

	cfg := Load()
	if cfg.RequestTimeout != 45*time.Second {
		t.Errorf("Expected 45s, got %v", cfg.RequestTimeout)
	}
	if cfg.HeartbeatInterval != time.Minute {
		t.Errorf("Expected 1m, got %v", cfg.HeartbeatInterval)
	}
	if cfg.SendTimeout != 5*time.Second {
		t.Errorf("Expected default send timeout for invalid value, got %v", cfg.SendTimeout)
	}
	if !cfg.UseGRPC() {
		t.Error("Expected UseGRPC with A2A_TRANSPORT=GRPC")
	}
	if !cfg.PublishWorkflowEvents {
		t.Error("Expected PublishWorkflowEvents to be true")
	}
	if cfg.ExecutionRetention != 50 || cfg.ExecutionTTL != 24*time.Hour {
		t.Errorf("Unexpected execution retention %d / ttl %v", cfg.ExecutionRetention, cfg.ExecutionTTL)
	}
}

func TestGetHealthPort(t *testing.T) {
	cfg := &AppConfig{BrokerHealthPort: "8083", AgentHealthPort: "8080"}
	if got := cfg.GetHealthPort("broker"); got != "8083" {
		t.Errorf("Expected broker port 8083, got %s", got)
	}
	if got := cfg.GetHealthPort("pricing_optimizer"); got != "8080" {
		t.Errorf("Expected agent port 8080, got %s", got)
	}
}
