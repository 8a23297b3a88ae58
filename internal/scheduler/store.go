package scheduler

import "context"

// TaskStore is the persistence contract for scheduled task records, so
// tasks survive a process restart. A concrete implementation backs it
// with Mongo (see mongo_store.go); tests use an in-memory fake.
type TaskStore interface {
	// LoadAll returns every task in the store, enabled or not — the
	// Scheduler filters to enabled tasks itself at Start.
	LoadAll(ctx context.Context) ([]Task, error)
	Insert(ctx context.Context, t Task) error
	Update(ctx context.Context, t Task) error
	Delete(ctx context.Context, id string) error
	// RecordError persists a persistence failure that exhausted its retry
	// budget, for later inspection.
	RecordError(ctx context.Context, taskID, reason string)
}
