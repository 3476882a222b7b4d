package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/owulveryck/a2ahub/internal/agenthub"
)

// WorkflowResponse is returned by POST /workflows/execute.
type WorkflowResponse struct {
	WorkflowID     string                         `json:"workflow_id"`
	Status         agenthub.WorkflowStatus        `json:"status"`
	Results        map[string]agenthub.StepResult `json:"results"`
	Duration       float64                        `json:"duration"`
	StepsCompleted int                            `json:"steps_completed"`
	TotalSteps     int                            `json:"total_steps"`
	Error          string                         `json:"error,omitempty"`
}

func sendError(c *gin.Context, statusCode int, detail string) {
	c.JSON(statusCode, gin.H{"detail": detail})
}

// requestLogger logs each request through slog instead of gin's writer.
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.InfoContext(c.Request.Context(), "HTTP request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

// NewRouter builds the Gin router exposing o.
func NewRouter(o *Orchestrator) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(o.logger))

	r.POST("/workflows/execute", o.handleHTTPExecute)
	r.GET("/workflows", o.handleHTTPList)
	r.GET("/workflows/:id", o.handleHTTPStatus)
	r.DELETE("/workflows/:id", o.handleHTTPCancel)
	r.GET("/workflow-templates", o.handleHTTPTemplates)
	r.GET("/health", o.handleHTTPHealth)

	return r
}

func (o *Orchestrator) handleHTTPExecute(c *gin.Context) {
	var req WorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "Invalid request: "+err.Error())
		return
	}

	// the run completes even if the client goes away
	ctx := context.WithoutCancel(c.Request.Context())
	exec, err := o.ExecuteWorkflow(ctx, req)
	if err != nil {
		o.logger.ErrorContext(ctx, "Error executing workflow", "error", err)
		switch {
		case errors.Is(err, ErrUnknownWorkflowType), errors.Is(err, ErrMissingField):
			sendError(c, http.StatusBadRequest, err.Error())
		default:
			sendError(c, http.StatusInternalServerError, err.Error())
		}
		return
	}

	c.JSON(http.StatusOK, WorkflowResponse{
		WorkflowID:     exec.ID,
		Status:         exec.Status,
		Results:        exec.Results,
		Duration:       exec.Duration,
		StepsCompleted: len(exec.Steps),
		TotalSteps:     len(exec.Definition.Steps),
		Error:          exec.Error,
	})
}

func (o *Orchestrator) handleHTTPStatus(c *gin.Context) {
	view, err := o.WorkflowStatus(c.Request.Context(), c.Param("id"))
	if errors.Is(err, agenthub.ErrWorkflowNotFound) {
		sendError(c, http.StatusNotFound, "Workflow not found")
		return
	}
	if err != nil {
		sendError(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, view)
}

func (o *Orchestrator) handleHTTPList(c *gin.Context) {
	workflows, err := o.ListWorkflows(c.Request.Context(), c.Query("user_id"))
	if err != nil {
		sendError(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"workflows": workflows})
}

func (o *Orchestrator) handleHTTPCancel(c *gin.Context) {
	err := o.CancelWorkflow(c.Request.Context(), c.Param("id"))
	if errors.Is(err, agenthub.ErrWorkflowNotFound) {
		sendError(c, http.StatusNotFound, "Workflow not found")
		return
	}
	if err != nil {
		sendError(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Workflow cancelled"})
}

func (o *Orchestrator) handleHTTPTemplates(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"templates": o.Templates()})
}

func (o *Orchestrator) handleHTTPHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":             "healthy",
		"service":            o.agentID,
		"active_workflows":   o.ActiveWorkflows(c.Request.Context()),
		"workflow_templates": len(o.templates),
	})
}

// APIServer serves the router on a TCP port.
type APIServer struct {
	server *http.Server
	logger *slog.Logger
}

func NewAPIServer(port string, o *Orchestrator) *APIServer {
	return &APIServer{
		server: &http.Server{
			Addr:              ":" + port,
			Handler:           NewRouter(o),
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: o.logger,
	}
}

// Start blocks until the server is shut down.
func (s *APIServer) Start() error {
	s.logger.Info("Starting orchestrator API", "address", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *APIServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
