// Package scheduler implements the durable task scheduler: it persists
// scheduled task records, evaluates trigger predicates on a periodic
// tick, and dispatches due actions — including re-entering the scenario
// executor via the run_agent action.
package scheduler

import (
	"errors"
	"fmt"
	"time"
)

// Trigger types.
const (
	TriggerOnce     = "once"
	TriggerDaily    = "daily"
	TriggerWeekly   = "weekly"
	TriggerMonthly  = "monthly"
	TriggerInterval = "interval"
)

// Action types.
const (
	ActionRunAgent         = "run_agent"
	ActionSendNotification = "send_notification"
	ActionAPICall          = "api_call"
)

var validTriggerTypes = map[string]bool{
	TriggerOnce: true, TriggerDaily: true, TriggerWeekly: true,
	TriggerMonthly: true, TriggerInterval: true,
}

var validActionTypes = map[string]bool{
	ActionRunAgent: true, ActionSendNotification: true, ActionAPICall: true,
}

// Task is a scheduled task. TriggerConfig/ActionConfig carry the
// type-specific payload as a loosely-typed map, mirroring how the
// documents travel over JSON/BSON.
type Task struct {
	ID            string
	UserID        string
	Enabled       bool
	CreatedAt     time.Time
	TriggerType   string
	TriggerConfig map[string]any
	ActionType    string
	ActionConfig  map[string]any

	// LastExecution is kept in memory only; it is never persisted and is
	// zero until the task's first dispatch.
	LastExecution time.Time
}

// Clone returns a deep-enough copy of t suitable for returning to callers
// without risking aliasing of the scheduler's internal task table.
func (t Task) Clone() Task {
	out := t
	out.TriggerConfig = cloneMap(t.TriggerConfig)
	out.ActionConfig = cloneMap(t.ActionConfig)
	return out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// ValidationError is raised synchronously by AddTask/UpdateTask on a
// malformed task configuration.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "scheduler: validation: " + e.Reason }

func validationErrorf(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// ErrTaskNotFound is returned by GetTask/UpdateTask when no task with the
// given id exists. RemoveTask of an unknown id is not an error.
var ErrTaskNotFound = errors.New("scheduler: task not found")

// Validate checks required fields, datetime parsability, positive
// interval_minutes, and known action/trigger types.
func Validate(t Task) error {
	if t.UserID == "" {
		return validationErrorf("missing required field: user_id")
	}
	if t.TriggerType == "" {
		return validationErrorf("missing required field: trigger_type")
	}
	if t.TriggerConfig == nil {
		return validationErrorf("missing required field: trigger_config")
	}
	if t.ActionType == "" {
		return validationErrorf("missing required field: action_type")
	}
	if t.ActionConfig == nil {
		return validationErrorf("missing required field: action_config")
	}
	if !validTriggerTypes[t.TriggerType] {
		return validationErrorf("unknown trigger_type %q", t.TriggerType)
	}
	if !validActionTypes[t.ActionType] {
		return validationErrorf("unknown action_type %q", t.ActionType)
	}

	switch t.TriggerType {
	case TriggerOnce:
		dtRaw, ok := t.TriggerConfig["datetime"]
		if !ok {
			return validationErrorf("once trigger requires trigger_config.datetime")
		}
		dt, _ := dtRaw.(string)
		if dt != "now" && dt != "" {
			if _, err := parseDatetime(dt); err != nil {
				return validationErrorf("invalid trigger_config.datetime: %v", err)
			}
		} else if dt == "" {
			return validationErrorf("once trigger requires trigger_config.datetime")
		}
	case TriggerInterval:
		raw, ok := t.TriggerConfig["interval_minutes"]
		if !ok {
			return validationErrorf("interval trigger requires trigger_config.interval_minutes")
		}
		minutes, ok := asFloat(raw)
		if !ok || minutes <= 0 {
			return validationErrorf("interval_minutes must be a positive number, got %v", raw)
		}
		if start, ok := t.TriggerConfig["start_time"]; ok {
			if s, _ := start.(string); s != "" && s != "now" {
				if _, err := parseDatetime(s); err != nil {
					return validationErrorf("invalid trigger_config.start_time: %v", err)
				}
			}
		}
	}

	return nil
}
