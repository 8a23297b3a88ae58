package eventstream

import "time"

// EventType identifies the kind of lifecycle event published to a stream.
type EventType string

const (
	// EventScenarioStarted is emitted when the Scenario Executor begins
	// running an instance.
	EventScenarioStarted EventType = "scenario_started"
	// EventScenarioCompleted is emitted when an instance finishes
	// successfully.
	EventScenarioCompleted EventType = "scenario_completed"
	// EventScenarioPaused is emitted when an instance suspends waiting for
	// an external event (e.g. an input/callback_query step).
	EventScenarioPaused EventType = "scenario_paused"
	// EventScenarioResumed is emitted when a paused instance is resumed.
	EventScenarioResumed EventType = "scenario_resumed"
	// EventScenarioFailed is emitted when an instance aborts with an error.
	EventScenarioFailed EventType = "scenario_failed"
	// EventTaskDispatched is emitted after a Scheduled Task's dispatch
	// succeeds.
	EventTaskDispatched EventType = "task_dispatched"
	// EventTaskFailed is emitted after a scheduled task's dispatch exhausts
	// its persistence retries.
	EventTaskFailed EventType = "task_failed"
)

// Event is a single lifecycle event emitted by the Scenario Executor or the
// Scheduler for observers.
type Event struct {
	// Type identifies the event kind.
	Type EventType
	// InstanceID links the event to a scenario execution instance, if any.
	InstanceID string
	// TaskID links the event to a scheduled task, if any.
	TaskID string
	// UserID scopes the event to the originating user/agent owner.
	UserID string
	// Timestamp records when the event occurred (UTC). Set by the
	// Publisher if zero.
	Timestamp time.Time
	// Payload carries event-specific data (e.g., the scenario Result, or a
	// dispatch error message).
	Payload any
}

// streamID derives the Pulse stream name for an event. Events are
// partitioned per user so a single observer can subscribe to just the
// activity it owns.
func streamID(e Event) string {
	if e.UserID == "" {
		return "events/global"
	}
	return "events/" + e.UserID
}
