// Package plugin defines the capability interfaces consumed by scenario
// step handlers. These contracts live in a leaf package with no dependency
// on the executor or on any concrete implementation, so handlers, the
// executor, and individual plugin implementations can all import it
// without creating a cycle.
package plugin

import "context"

// InlineKeyboardButton is one button in a messaging inline keyboard.
type InlineKeyboardButton struct {
	Text         string
	CallbackData string
}

// SendResult is returned by a successful Messaging.Send/Edit call.
type SendResult struct {
	MessageID string
}

// Messaging is the capability interface for chat messaging I/O, backing
// the telegram_send_message/telegram_edit_message/input.callback_query
// step handlers.
type Messaging interface {
	// Send posts text to chatID, with an optional 2-D grid of inline
	// keyboard buttons, and returns the provider-assigned message id.
	Send(ctx context.Context, chatID, text string, keyboard [][]InlineKeyboardButton) (SendResult, error)
	// Edit replaces the text/keyboard of an existing message.
	Edit(ctx context.Context, chatID, messageID, text string, keyboard [][]InlineKeyboardButton) error
}

// LLMMessage is one role-tagged message in an LLM request.
type LLMMessage struct {
	Role    string // "system" | "user" | "assistant"
	Content string
}

// LLMRequest carries the parameters of an llm_query step.
type LLMRequest struct {
	Model       string
	Messages    []LLMMessage
	Temperature float64
	MaxTokens   int
}

// LLMResponse is the full provider response, written verbatim under the
// step's output_var.
type LLMResponse struct {
	Status string
	Text   string
	Raw    map[string]any
	Model  string
	Usage  map[string]int
}

// LLM is the capability interface backing the llm_query step handler.
type LLM interface {
	Query(ctx context.Context, req LLMRequest) (LLMResponse, error)
}

// RAGDocument is one retrieved document.
type RAGDocument struct {
	ID      string
	Content string
	Score   float64
	Meta    map[string]any
}

// RAG is the capability interface backing the rag_search step handler.
type RAG interface {
	Search(ctx context.Context, query string, topK int, collection string) ([]RAGDocument, error)
}

// StorageResult is the operation-specific result of a Storage call,
// written under the step's output_var.
type StorageResult struct {
	InsertedID    string
	Document      map[string]any
	Found         bool
	ModifiedCount int64
	DeletedCount  int64
}

// Storage is the capability interface backing the mongo_insert_one /
// mongo_find_one / mongo_update_one / mongo_delete_one step handlers.
type Storage interface {
	InsertOne(ctx context.Context, collection string, document map[string]any) (StorageResult, error)
	FindOne(ctx context.Context, collection string, filter map[string]any) (StorageResult, error)
	UpdateOne(ctx context.Context, collection string, filter, update map[string]any) (StorageResult, error)
	DeleteOne(ctx context.Context, collection string, filter map[string]any) (StorageResult, error)
}

// TaskConfig is the payload accepted by Scheduling.AddTask; it mirrors the
// scheduled task data model fields a plugin caller controls.
type TaskConfig struct {
	UserID        string
	TriggerType   string
	TriggerConfig map[string]any
	ActionType    string
	ActionConfig  map[string]any
}

// Scheduling is the capability interface backing the
// schedule_scenario_run step handler.
type Scheduling interface {
	AddTask(ctx context.Context, cfg TaskConfig) (taskID string, err error)
}
