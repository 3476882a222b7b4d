package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusUnknown   HealthStatus = "unknown"
)

type HealthCheck struct {
	Name        string       `json:"name"`
	Status      HealthStatus `json:"status"`
	Message     string       `json:"message,omitempty"`
	LastChecked time.Time    `json:"last_checked"`
	Duration    string       `json:"duration"`
}

type HealthResponse struct {
	Status  HealthStatus  `json:"status"`
	Service string        `json:"service"`
	Checks  []HealthCheck `json:"checks"`
	Version string        `json:"version"`
	Uptime  string        `json:"uptime"`
}

type HealthChecker interface {
	Check(ctx context.Context) HealthCheck
}

// HealthServer serves /health, /ready and /metrics, plus any routes added
// with HandleFunc before Start.
type HealthServer struct {
	port        string
	serviceName string
	version     string
	startTime   time.Time

	mu       sync.RWMutex
	checkers map[string]HealthChecker
	mux      *http.ServeMux
	server   *http.Server
	closed   bool
}

func NewHealthServer(port, serviceName, version string) *HealthServer {
	hs := &HealthServer{
		port:        port,
		serviceName: serviceName,
		version:     version,
		startTime:   time.Now(),
		checkers:    make(map[string]HealthChecker),
		mux:         http.NewServeMux(),
	}
	hs.mux.HandleFunc("/health", hs.healthHandler)
	hs.mux.HandleFunc("/ready", hs.readyHandler)
	hs.mux.Handle("/metrics", promhttp.Handler())
	return hs
}

func (hs *HealthServer) AddChecker(name string, checker HealthChecker) {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	hs.checkers[name] = checker
}

// HandleFunc registers an additional route on the health listener.
func (hs *HealthServer) HandleFunc(pattern string, handler http.HandlerFunc) {
	hs.mux.HandleFunc(pattern, handler)
}

// Handler exposes the routes without starting a listener.
func (hs *HealthServer) Handler() http.Handler {
	return hs.mux
}

func (hs *HealthServer) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              ":" + hs.port,
		Handler:           hs.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	hs.mu.Lock()
	if hs.closed {
		hs.mu.Unlock()
		return http.ErrServerClosed
	}
	hs.server = server
	hs.mu.Unlock()
	return server.ListenAndServe()
}

func (hs *HealthServer) Shutdown(ctx context.Context) error {
	hs.mu.Lock()
	hs.closed = true
	server := hs.server
	hs.mu.Unlock()
	if server != nil {
		return server.Shutdown(ctx)
	}
	return nil
}

func (hs *HealthServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	hs.mu.RLock()
	names := make([]string, 0, len(hs.checkers))
	for name := range hs.checkers {
		names = append(names, name)
	}
	sort.Strings(names)
	checkers := make([]HealthChecker, 0, len(names))
	for _, name := range names {
		checkers = append(checkers, hs.checkers[name])
	}
	hs.mu.RUnlock()

	response := HealthResponse{
		Status:  HealthStatusHealthy,
		Service: hs.serviceName,
		Version: hs.version,
		Uptime:  time.Since(hs.startTime).String(),
		Checks:  make([]HealthCheck, 0, len(checkers)),
	}

	for _, checker := range checkers {
		check := checker.Check(ctx)
		response.Checks = append(response.Checks, check)
		if check.Status != HealthStatusHealthy {
			response.Status = HealthStatusUnhealthy
		}
	}

	statusCode := http.StatusOK
	if response.Status != HealthStatusHealthy {
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(response)
}

func (hs *HealthServer) readyHandler(w http.ResponseWriter, r *http.Request) {
	hs.healthHandler(w, r)
}

// BasicHealthChecker reports healthy whenever checkFn returns nil.
type BasicHealthChecker struct {
	name    string
	checkFn func(ctx context.Context) error
}

func NewBasicHealthChecker(name string, checkFn func(ctx context.Context) error) *BasicHealthChecker {
	return &BasicHealthChecker{
		name:    name,
		checkFn: checkFn,
	}
}

func (bhc *BasicHealthChecker) Check(ctx context.Context) HealthCheck {
	start := time.Now()

	check := HealthCheck{
		Name:        bhc.name,
		LastChecked: start,
	}

	if err := bhc.checkFn(ctx); err != nil {
		check.Status = HealthStatusUnhealthy
		check.Message = err.Error()
	} else {
		check.Status = HealthStatusHealthy
	}

	check.Duration = time.Since(start).String()
	return check
}
