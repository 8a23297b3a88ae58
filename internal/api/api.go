// Package api implements the HTTP transport surface over gin-gonic/gin,
// a plain router setup rather than a generated Goa DSL transport, since
// this system's small fixed route set does not need one.
package api

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/goa-ai-labs/scenario-orchestrator/internal/ctxval"
	"github.com/goa-ai-labs/scenario-orchestrator/internal/repository"
	"github.com/goa-ai-labs/scenario-orchestrator/internal/scenario"
	"github.com/goa-ai-labs/scenario-orchestrator/internal/scheduler"
)

// Pinger reports whether a backing dependency is reachable (mirrors
// goa.design/clue/health.Pinger, already satisfied by
// repository.MongoStore, scheduler.MongoTaskStore, storageplugin.Provider,
// and ragplugin.MongoBackend).
type Pinger interface {
	Name() string
	Ping(ctx context.Context) error
}

// Server wires the Scenario Executor and Scheduler behind the HTTP routes.
type Server struct {
	executor     *scenario.Executor
	scheduler    *scheduler.Scheduler
	agents       repository.AgentRepository
	pingers      []Pinger
	engine       *gin.Engine
	lifecycleCtx context.Context
}

// Options configures a Server.
type Options struct {
	Executor  *scenario.Executor
	Scheduler *scheduler.Scheduler
	Agents    repository.AgentRepository
	// Pingers are health-checked by GET /healthz.
	Pingers []Pinger
	// LifecycleCtx is the context POST /scheduler/start runs the tick loop
	// under. It must outlive any single HTTP request — a request's own
	// context is canceled as soon as the handler returns, which would stop
	// the scheduler moments after starting it. Defaults to
	// context.Background() if unset.
	LifecycleCtx context.Context
}

// New builds a Server and registers its routes.
func New(opts Options) *Server {
	lifecycleCtx := opts.LifecycleCtx
	if lifecycleCtx == nil {
		lifecycleCtx = context.Background()
	}
	s := &Server{
		executor:     opts.Executor,
		scheduler:    opts.Scheduler,
		agents:       opts.Agents,
		pingers:      opts.Pingers,
		engine:       gin.Default(),
		lifecycleCtx: lifecycleCtx,
	}
	s.registerRoutes()
	return s
}

// Handler exposes the underlying http.Handler for use with http.Server or
// httptest.
func (s *Server) Handler() http.Handler { return s.engine }

// Run starts the HTTP server on addr. Blocks until the listener fails.
func (s *Server) Run(addr string) error {
	return s.engine.Run(addr)
}

func (s *Server) registerRoutes() {
	s.engine.POST("/agent-actions/:agentID/execute", s.handleExecute)
	s.engine.POST("/scenarios/:id/resume", s.handleResume)

	s.engine.POST("/scheduler/tasks", s.handleCreateTask)
	s.engine.GET("/scheduler/tasks", s.handleListTasks)
	s.engine.GET("/scheduler/tasks/:id", s.handleGetTask)
	s.engine.PATCH("/scheduler/tasks/:id", s.handleUpdateTask)
	s.engine.DELETE("/scheduler/tasks/:id", s.handleDeleteTask)

	s.engine.POST("/scheduler/start", s.handleSchedulerStart)
	s.engine.POST("/scheduler/stop", s.handleSchedulerStop)
	s.engine.GET("/scheduler/status", s.handleSchedulerStatus)

	s.engine.GET("/healthz", s.handleHealthz)
}

func (s *Server) handleHealthz(c *gin.Context) {
	status := map[string]string{}
	healthy := true
	for _, p := range s.pingers {
		if err := p.Ping(c.Request.Context()); err != nil {
			status[p.Name()] = err.Error()
			healthy = false
			continue
		}
		status[p.Name()] = "ok"
	}
	code := http.StatusOK
	if !healthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"status": status})
}

// resultEnvelope is the wire shape of a scenario execution result.
type resultEnvelope struct {
	Success    bool       `json:"success"`
	Status     string     `json:"status"`
	Message    string     `json:"message,omitempty"`
	Error      string     `json:"error,omitempty"`
	InstanceID string     `json:"instance_id,omitempty"`
	Context    ctxval.Map `json:"context,omitempty"`
}

func toEnvelope(r scenario.Result) resultEnvelope {
	return resultEnvelope{
		Success:    r.Success,
		Status:     r.Status,
		Message:    r.Message,
		Error:      r.Error,
		InstanceID: r.InstanceID,
		Context:    r.Context,
	}
}

// executeRequest is the body of POST /agent-actions/:agentID/execute.
type executeRequest struct {
	ScenarioID string     `json:"scenario_id"`
	Context    ctxval.Map `json:"context"`
}

func (s *Server) handleExecute(c *gin.Context) {
	agentID := c.Param("agentID")
	var req executeRequest
	if err := c.ShouldBindJSON(&req); err != nil && err != io.EOF {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	scenarioID := req.ScenarioID
	if scenarioID == "" {
		agent, err := s.agents.GetByID(c.Request.Context(), agentID)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "agent not found"})
			return
		}
		scenarioID = agent.ScenarioID
	}

	result, err := s.executor.RunByID(c.Request.Context(), scenarioID, req.Context, agentID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, toEnvelope(result))
}

// resumeRequest is the body of POST /scenarios/:id/resume. The ":id" path
// segment is the scenario id for routing symmetry with
// handleExecute; the instance id that actually correlates the paused
// execution travels in the body, since a single scenario can have many
// concurrently paused instances.
type resumeRequest struct {
	InstanceID string `json:"instance_id" binding:"required"`
	Input      any    `json:"input"`
}

func (s *Server) handleResume(c *gin.Context) {
	var req resumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	result, err := s.executor.Resume(c.Request.Context(), req.InstanceID, req.Input)
	if err != nil {
		switch err {
		case scenario.ErrNotPaused:
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case scenario.ErrDuplicateResume:
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, toEnvelope(result))
}
