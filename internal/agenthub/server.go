package agenthub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"

	"github.com/owulveryck/a2ahub/internal/config"
	"github.com/owulveryck/a2ahub/internal/observability"
	"github.com/owulveryck/a2ahub/internal/transport"
)

// ServerConfig holds the broker listener configuration.
type ServerConfig struct {
	// GRPCAddr is the gRPC listen address (e.g. ":50051"). Empty disables gRPC.
	GRPCAddr string
	// WebSocketAddr is the WebSocket listen address (e.g. ":8082"). Empty disables WebSocket.
	WebSocketAddr string
	// HealthPort serves /health, /ready, /metrics and /agents.
	HealthPort string

	SendTimeout     time.Duration
	MetricsInterval time.Duration
	ComponentName   string
}

// NewServerConfig derives the broker listeners from the application config.
func NewServerConfig(cfg *config.AppConfig) *ServerConfig {
	return &ServerConfig{
		GRPCAddr:        listenAddr(cfg.GRPCPort),
		WebSocketAddr:   listenAddr(cfg.WebSocketPort),
		HealthPort:      cfg.GetHealthPort("broker"),
		SendTimeout:     cfg.SendTimeout,
		MetricsInterval: DefaultMetricsInterval,
		ComponentName:   "broker",
	}
}

// listenAddr accepts a bare port ("50051") or a full address (":50051",
// "0.0.0.0:50051").
func listenAddr(port string) string {
	if port == "" || strings.Contains(port, ":") {
		return port
	}
	return ":" + port
}

// AgentHubServer hosts a Broker on gRPC and WebSocket listeners, with the
// management endpoints on the health server.
type AgentHubServer struct {
	Broker          *Broker
	GRPCServer      *grpc.Server
	GRPCListener    net.Listener
	WebSocketServer *http.Server
	WSListener      net.Listener
	HealthServer    *observability.HealthServer
	Observability   *observability.Observability
	Telemetry       *observability.Telemetry
	Logger          *slog.Logger
	Config          *ServerConfig

	ticker *MetricsTicker
}

// NewAgentHubServer creates the broker server with full observability.
func NewAgentHubServer(cfg *ServerConfig, appConfig *config.AppConfig) (*AgentHubServer, error) {
	obs, tel, err := observability.Setup(appConfig.ServiceName+"-"+cfg.ComponentName, appConfig)
	if err != nil {
		return nil, err
	}

	s, err := newAgentHubServer(cfg, tel, appConfig.ServiceVersion)
	if err != nil {
		obs.Shutdown(context.Background())
		return nil, err
	}
	s.Observability = obs
	return s, nil
}

func newAgentHubServer(cfg *ServerConfig, tel *observability.Telemetry, version string) (*AgentHubServer, error) {
	broker := NewBroker(tel, cfg.SendTimeout)

	healthServer := observability.NewHealthServer(cfg.HealthPort, cfg.ComponentName, version)
	healthServer.AddChecker("self", observability.NewBasicHealthChecker("self", func(ctx context.Context) error {
		return nil
	}))
	healthServer.HandleFunc("/agents", broker.AgentsHandler)

	s := &AgentHubServer{
		Broker:       broker,
		HealthServer: healthServer,
		Telemetry:    tel,
		Logger:       tel.Logger,
		Config:       cfg,
	}

	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return nil, fmt.Errorf("failed to listen on %s: %w", cfg.GRPCAddr, err)
		}
		s.GRPCListener = lis
		s.GRPCServer = grpc.NewServer(
			grpc.StatsHandler(otelgrpc.NewServerHandler()),
		)
		transport.RegisterGRPCBroker(s.GRPCServer, broker)
	}

	if cfg.WebSocketAddr != "" {
		lis, err := net.Listen("tcp", cfg.WebSocketAddr)
		if err != nil {
			if s.GRPCListener != nil {
				s.GRPCListener.Close()
			}
			return nil, fmt.Errorf("failed to listen on %s: %w", cfg.WebSocketAddr, err)
		}
		s.WSListener = lis
		mux := http.NewServeMux()
		mux.HandleFunc("/", broker.WebSocketHandler)
		s.WebSocketServer = &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	if s.GRPCServer == nil && s.WebSocketServer == nil {
		return nil, errors.New("no broker listener configured")
	}
	return s, nil
}

// Start runs every listener and blocks until one of them stops.
func (s *AgentHubServer) Start(ctx context.Context) error {
	go func() {
		s.Logger.Info("Starting health server", slog.String("port", s.Config.HealthPort))
		if err := s.HealthServer.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.Logger.Error("Health server failed", slog.Any("error", err))
		}
	}()

	s.ticker = NewMetricsTicker(ctx, s.Telemetry.MetricsManager, s.Config.MetricsInterval)
	s.ticker.Start()

	errs := make(chan error, 2)
	if s.WebSocketServer != nil {
		go func() {
			err := s.WebSocketServer.Serve(s.WSListener)
			if errors.Is(err, http.ErrServerClosed) {
				err = nil
			}
			errs <- err
		}()
	}
	if s.GRPCServer != nil {
		go func() {
			errs <- s.GRPCServer.Serve(s.GRPCListener)
		}()
	}

	attrs := []any{
		slog.String("health_endpoint", fmt.Sprintf("http://localhost:%s/health", s.Config.HealthPort)),
		slog.String("agents_endpoint", fmt.Sprintf("http://localhost:%s/agents", s.Config.HealthPort)),
		slog.String("component", s.Config.ComponentName),
	}
	if s.GRPCListener != nil {
		attrs = append(attrs, slog.String("grpc_address", s.GRPCListener.Addr().String()))
	}
	if s.WSListener != nil {
		attrs = append(attrs, slog.String("websocket_address", s.WSListener.Addr().String()))
	}
	s.Logger.Info("A2A broker listening", attrs...)

	return <-errs
}

// Shutdown stops the listeners, then the observability pipeline.
func (s *AgentHubServer) Shutdown(ctx context.Context) error {
	s.Logger.InfoContext(ctx, "Shutting down A2A broker")

	if s.ticker != nil {
		s.ticker.Stop()
	}
	if s.WebSocketServer != nil {
		// hijacked websocket connections are not closed by Shutdown
		if err := s.WebSocketServer.Shutdown(ctx); err != nil {
			s.Logger.ErrorContext(ctx, "Error shutting down websocket server", slog.Any("error", err))
		}
	}
	if s.GRPCServer != nil {
		s.GRPCServer.Stop()
	}
	if err := s.HealthServer.Shutdown(ctx); err != nil {
		s.Logger.ErrorContext(ctx, "Error shutting down health server", slog.Any("error", err))
	}

	if s.Observability == nil {
		return nil
	}
	if err := s.Observability.Shutdown(ctx); err != nil {
		s.Logger.ErrorContext(ctx, "Observability shutdown failed - likely OTLP trace export issue",
			slog.Any("error", err),
			slog.String("service", s.Config.ComponentName),
			slog.String("otlp_endpoint", s.Observability.Config.JaegerEndpoint),
		)
		return err
	}
	return nil
}

// StartBroker runs a broker configured from the environment until ctx is
// cancelled.
func StartBroker(ctx context.Context, appConfig *config.AppConfig) error {
	server, err := NewAgentHubServer(NewServerConfig(appConfig), appConfig)
	if err != nil {
		return fmt.Errorf("failed to create A2A broker server: %w", err)
	}

	go func() {
		<-ctx.Done()
		server.Logger.Info("Received shutdown signal")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	return server.Start(ctx)
}
