package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/goa-ai-labs/scenario-orchestrator/internal/scheduler"
)

// taskEnvelope is the JSON shape of a scheduled task over the wire.
type taskEnvelope struct {
	ID            string         `json:"id,omitempty"`
	UserID        string         `json:"user_id"`
	Enabled       *bool          `json:"enabled,omitempty"`
	TriggerType   string         `json:"trigger_type"`
	TriggerConfig map[string]any `json:"trigger_config"`
	ActionType    string         `json:"action_type"`
	ActionConfig  map[string]any `json:"action_config"`
}

// toTask converts a request envelope into a scheduler.Task, defaulting
// Enabled to true when the field is absent from the request body: the
// *bool lets us distinguish "absent" from "explicitly false".
func (e taskEnvelope) toTask() scheduler.Task {
	enabled := true
	if e.Enabled != nil {
		enabled = *e.Enabled
	}
	return scheduler.Task{
		ID:            e.ID,
		UserID:        e.UserID,
		Enabled:       enabled,
		TriggerType:   e.TriggerType,
		TriggerConfig: e.TriggerConfig,
		ActionType:    e.ActionType,
		ActionConfig:  e.ActionConfig,
	}
}

func toTaskEnvelope(t scheduler.Task) taskEnvelope {
	enabled := t.Enabled
	return taskEnvelope{
		ID:            t.ID,
		UserID:        t.UserID,
		Enabled:       &enabled,
		TriggerType:   t.TriggerType,
		TriggerConfig: t.TriggerConfig,
		ActionType:    t.ActionType,
		ActionConfig:  t.ActionConfig,
	}
}

func (s *Server) handleCreateTask(c *gin.Context) {
	var req taskEnvelope
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	created, err := s.scheduler.AddTask(c.Request.Context(), req.toTask())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, toTaskEnvelope(created))
}

func (s *Server) handleListTasks(c *gin.Context) {
	userID := c.Query("user_id")
	var (
		tasks []scheduler.Task
		err   error
	)
	if userID != "" {
		tasks, err = s.scheduler.GetTasksByUser(c.Request.Context(), userID)
	} else {
		tasks, err = s.scheduler.GetAllTasks(c.Request.Context())
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := make([]taskEnvelope, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, toTaskEnvelope(t))
	}
	c.JSON(http.StatusOK, gin.H{"tasks": out})
}

func (s *Server) handleGetTask(c *gin.Context) {
	task, err := s.scheduler.GetTask(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, toTaskEnvelope(task))
}

func (s *Server) handleUpdateTask(c *gin.Context) {
	var req taskEnvelope
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	updates := req.toTask()
	if req.Enabled == nil {
		// Scheduler.UpdateTask assigns Enabled unconditionally (unlike
		// TriggerConfig/ActionConfig, which merge), so an absent field in
		// the request body must be resolved against the current value
		// here rather than left zero.
		existing, err := s.scheduler.GetTask(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		updates.Enabled = existing.Enabled
	}
	updated, err := s.scheduler.UpdateTask(c.Request.Context(), c.Param("id"), updates)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, toTaskEnvelope(updated))
}

func (s *Server) handleDeleteTask(c *gin.Context) {
	if err := s.scheduler.RemoveTask(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleSchedulerStart(c *gin.Context) {
	// Deliberately not c.Request.Context(): that context is canceled when
	// this handler returns, which would stop the tick loop moments after
	// starting it.
	if err := s.scheduler.Start(s.lifecycleCtx); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": s.scheduler.Status()})
}

func (s *Server) handleSchedulerStop(c *gin.Context) {
	s.scheduler.Stop()
	c.JSON(http.StatusOK, gin.H{"status": s.scheduler.Status()})
}

func (s *Server) handleSchedulerStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": s.scheduler.Status()})
}
