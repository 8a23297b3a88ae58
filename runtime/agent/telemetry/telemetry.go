// Package telemetry provides the structured logging and metrics facade
// used throughout the scenario executor and task scheduler.
package telemetry

import (
	"context"
	"time"
)

// Logger captures structured logging used throughout the runtime.
// Implementations typically delegate to Clue but the interface is
// intentionally small so tests can provide lightweight stubs.
type Logger interface {
	Debug(ctx context.Context, msg string, keyvals ...any)
	Info(ctx context.Context, msg string, keyvals ...any)
	Warn(ctx context.Context, msg string, keyvals ...any)
	Error(ctx context.Context, msg string, keyvals ...any)
}

// Metrics exposes counter and histogram helpers for runtime instrumentation.
type Metrics interface {
	IncCounter(name string, value float64, tags ...string)
	RecordTimer(name string, duration time.Duration, tags ...string)
	RecordGauge(name string, value float64, tags ...string)
}

// Fields carries the identifiers the executor and scheduler attach to most
// log lines: which scenario instance, which scenario definition, and
// which scheduled task a line concerns. A zero-value field is omitted from
// the resulting keyvals rather than logged as an empty string.
type Fields struct {
	InstanceID string
	ScenarioID string
	TaskID     string
}

// KeyVals flattens f into the keyvals slice Logger's variadic methods
// expect, appending extra after the populated identifier fields.
func (f Fields) KeyVals(extra ...any) []any {
	kv := make([]any, 0, 6+len(extra))
	if f.InstanceID != "" {
		kv = append(kv, "instance_id", f.InstanceID)
	}
	if f.ScenarioID != "" {
		kv = append(kv, "scenario_id", f.ScenarioID)
	}
	if f.TaskID != "" {
		kv = append(kv, "task_id", f.TaskID)
	}
	return append(kv, extra...)
}
