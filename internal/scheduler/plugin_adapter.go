package scheduler

import (
	"context"

	"github.com/goa-ai-labs/scenario-orchestrator/internal/plugin"
)

// PluginAdapter exposes a Scheduler as the plugin.Scheduling capability
// consumed by the schedule_scenario_run step handler.
type PluginAdapter struct {
	Scheduler *Scheduler
}

var _ plugin.Scheduling = PluginAdapter{}

// AddTask satisfies plugin.Scheduling by delegating to Scheduler.AddTask,
// defaulting Enabled to true (the caller never has a reason to schedule a
// schedule_scenario_run task as pre-disabled).
func (a PluginAdapter) AddTask(ctx context.Context, cfg plugin.TaskConfig) (string, error) {
	t := Task{
		UserID:        cfg.UserID,
		Enabled:       true,
		TriggerType:   cfg.TriggerType,
		TriggerConfig: cfg.TriggerConfig,
		ActionType:    cfg.ActionType,
		ActionConfig:  cfg.ActionConfig,
	}
	created, err := a.Scheduler.AddTask(ctx, t)
	if err != nil {
		return "", err
	}
	return created.ID, nil
}
