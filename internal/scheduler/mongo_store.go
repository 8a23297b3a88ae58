package scheduler

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"goa.design/clue/health"

	"github.com/goa-ai-labs/scenario-orchestrator/runtime/agent/telemetry"
)

const (
	defaultTasksCollection  = "scheduled_tasks"
	defaultErrorsCollection = "scheduler_errors"
	defaultStoreOpTimeout   = 5 * time.Second
)

// MongoStoreOptions configures MongoTaskStore.
type MongoStoreOptions struct {
	Client           *mongodriver.Client
	Database         string
	TasksCollection  string
	ErrorsCollection string
	Timeout          time.Duration
	Logger           telemetry.Logger
}

// MongoTaskStore implements TaskStore against Mongo, mirroring
// repository.MongoStore's thin client-wrapping pattern.
type MongoTaskStore struct {
	tasks   *mongodriver.Collection
	errors  *mongodriver.Collection
	mongo   *mongodriver.Client
	timeout time.Duration
	logger  telemetry.Logger
}

var _ TaskStore = (*MongoTaskStore)(nil)
var _ health.Pinger = (*MongoTaskStore)(nil)

// NewMongoTaskStore validates opts and constructs a MongoTaskStore.
func NewMongoTaskStore(opts MongoStoreOptions) (*MongoTaskStore, error) {
	if opts.Client == nil {
		return nil, errors.New("scheduler: mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("scheduler: database name is required")
	}
	tasksColl := opts.TasksCollection
	if tasksColl == "" {
		tasksColl = defaultTasksCollection
	}
	errorsColl := opts.ErrorsCollection
	if errorsColl == "" {
		errorsColl = defaultErrorsCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultStoreOpTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	db := opts.Client.Database(opts.Database)
	s := &MongoTaskStore{
		tasks:   db.Collection(tasksColl),
		errors:  db.Collection(errorsColl),
		mongo:   opts.Client,
		timeout: timeout,
		logger:  logger,
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Name identifies this client for health reporting.
func (s *MongoTaskStore) Name() string { return "scheduler-task-store-mongo" }

// Ping verifies connectivity to the Mongo deployment.
func (s *MongoTaskStore) Ping(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return s.mongo.Ping(ctx, readpref.Primary())
}

func (s *MongoTaskStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *MongoTaskStore) ensureIndexes(ctx context.Context) error {
	_, err := s.tasks.Indexes().CreateOne(ctx, mongodriver.IndexModel{
		Keys:    bson.D{{Key: "id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return err
	}
	_, err = s.tasks.Indexes().CreateOne(ctx, mongodriver.IndexModel{
		Keys: bson.D{{Key: "user_id", Value: 1}},
	})
	return err
}

type taskDocument struct {
	ID            string         `bson:"id"`
	UserID        string         `bson:"user_id"`
	Enabled       bool           `bson:"enabled"`
	CreatedAt     time.Time      `bson:"created_at"`
	TriggerType   string         `bson:"trigger_type"`
	TriggerConfig map[string]any `bson:"trigger_config"`
	ActionType    string         `bson:"action_type"`
	ActionConfig  map[string]any `bson:"action_config"`
}

func toDocument(t Task) taskDocument {
	return taskDocument{
		ID:            t.ID,
		UserID:        t.UserID,
		Enabled:       t.Enabled,
		CreatedAt:     t.CreatedAt.UTC(),
		TriggerType:   t.TriggerType,
		TriggerConfig: t.TriggerConfig,
		ActionType:    t.ActionType,
		ActionConfig:  t.ActionConfig,
	}
}

func (d taskDocument) toTask() Task {
	return Task{
		ID:            d.ID,
		UserID:        d.UserID,
		Enabled:       d.Enabled,
		CreatedAt:     d.CreatedAt,
		TriggerType:   d.TriggerType,
		TriggerConfig: d.TriggerConfig,
		ActionType:    d.ActionType,
		ActionConfig:  d.ActionConfig,
	}
}

// LoadAll returns every persisted task, enabled or not — callers filter
// to Enabled.
func (s *MongoTaskStore) LoadAll(ctx context.Context) ([]Task, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	cur, err := s.tasks.Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []Task
	for cur.Next(ctx) {
		var doc taskDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.toTask())
	}
	return out, cur.Err()
}

// Insert persists a new task document.
func (s *MongoTaskStore) Insert(ctx context.Context, t Task) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err := s.tasks.InsertOne(ctx, toDocument(t))
	return err
}

// Update replaces a task document's mutable fields by id.
func (s *MongoTaskStore) Update(ctx context.Context, t Task) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err := s.tasks.UpdateOne(ctx, bson.M{"id": t.ID}, bson.M{"$set": toDocument(t)})
	return err
}

// Delete removes a task document by id.
func (s *MongoTaskStore) Delete(ctx context.Context, id string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err := s.tasks.DeleteOne(ctx, bson.M{"id": id})
	return err
}

// RecordError writes a best-effort audit document after a task's
// persistence retries are exhausted. Failures to write the audit
// document itself are logged, not retried further.
func (s *MongoTaskStore) RecordError(ctx context.Context, taskID, reason string) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err := s.errors.InsertOne(ctx, bson.M{
		"task_id":     taskID,
		"reason":      reason,
		"occurred_at": time.Now().UTC(),
	})
	if err != nil {
		fields := telemetry.Fields{TaskID: taskID}
		s.logger.Error(ctx, "scheduler: failed to record scheduler_errors document", fields.KeyVals("error", err)...)
	}
}
