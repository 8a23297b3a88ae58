package repository

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"goa.design/clue/health"

	"github.com/goa-ai-labs/scenario-orchestrator/internal/ctxval"
)

const (
	defaultScenariosCollection = "scenarios"
	defaultAgentsCollection    = "agents"
	defaultOpTimeout           = 5 * time.Second
)

// MongoOptions configures the Mongo-backed repositories.
type MongoOptions struct {
	Client              *mongodriver.Client
	Database            string
	ScenariosCollection string
	AgentsCollection    string
	Timeout             time.Duration
}

// MongoStore implements both ScenarioRepository and AgentRepository
// against a single Mongo database: one client, two narrow interfaces.
type MongoStore struct {
	scenarios *mongodriver.Collection
	agents    *mongodriver.Collection
	mongo     *mongodriver.Client
	timeout   time.Duration
}

var _ ScenarioRepository = (*MongoStore)(nil)
var _ health.Pinger = (*MongoStore)(nil)

// NewMongoStore validates opts and constructs a MongoStore.
func NewMongoStore(opts MongoOptions) (*MongoStore, error) {
	if opts.Client == nil {
		return nil, errors.New("repository: mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("repository: database name is required")
	}
	scenariosColl := opts.ScenariosCollection
	if scenariosColl == "" {
		scenariosColl = defaultScenariosCollection
	}
	agentsColl := opts.AgentsCollection
	if agentsColl == "" {
		agentsColl = defaultAgentsCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	db := opts.Client.Database(opts.Database)
	s := &MongoStore{
		scenarios: db.Collection(scenariosColl),
		agents:    db.Collection(agentsColl),
		mongo:     opts.Client,
		timeout:   timeout,
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Name identifies this client for health reporting.
func (s *MongoStore) Name() string { return "scenario-repository-mongo" }

// Ping verifies connectivity to the Mongo deployment.
func (s *MongoStore) Ping(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return s.mongo.Ping(ctx, readpref.Primary())
}

func (s *MongoStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.scenarios.Indexes().CreateOne(ctx, mongodriver.IndexModel{
		Keys:    bson.D{{Key: "scenario_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return err
	}
	_, err = s.agents.Indexes().CreateOne(ctx, mongodriver.IndexModel{
		Keys:    bson.D{{Key: "agent_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}

type stepDocument struct {
	ID       string           `bson:"id"`
	Type     string           `bson:"type"`
	Params   map[string]any   `bson:"params,omitempty"`
	NextStep any              `bson:"next_step,omitempty"`
	Branches []branchDocument `bson:"branches,omitempty"`
}

type branchDocument struct {
	Condition string `bson:"condition"`
	NextStep  any    `bson:"next_step"`
}

type scenarioDocument struct {
	ScenarioID      string         `bson:"scenario_id"`
	Name            string         `bson:"name"`
	Version         string         `bson:"version,omitempty"`
	Description     string         `bson:"description,omitempty"`
	InitialContext  map[string]any `bson:"initial_context,omitempty"`
	Steps           []stepDocument `bson:"steps"`
	RequiredPlugins []string       `bson:"required_plugins,omitempty"`
}

func (doc scenarioDocument) toScenario() *Scenario {
	steps := make([]Step, len(doc.Steps))
	for i, sd := range doc.Steps {
		branches := make([]Branch, len(sd.Branches))
		for j, bd := range sd.Branches {
			branches[j] = Branch{Condition: bd.Condition, NextStep: bd.NextStep}
		}
		steps[i] = Step{
			ID:       sd.ID,
			Type:     sd.Type,
			Params:   ctxval.Map(sd.Params),
			NextStep: sd.NextStep,
			Branches: branches,
		}
	}
	return &Scenario{
		ScenarioID:      doc.ScenarioID,
		Name:            doc.Name,
		Version:         doc.Version,
		Description:     doc.Description,
		InitialContext:  ctxval.Map(doc.InitialContext),
		Steps:           steps,
		RequiredPlugins: doc.RequiredPlugins,
	}
}

// GetByID loads a Scenario document by its business key.
func (s *MongoStore) GetByID(ctx context.Context, id string) (*Scenario, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var doc scenarioDocument
	err := s.scenarios.FindOne(ctx, bson.M{"scenario_id": id}).Decode(&doc)
	if errors.Is(err, mongodriver.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc.toScenario(), nil
}

type agentDocument struct {
	AgentID        string         `bson:"agent_id"`
	ScenarioID     string         `bson:"scenario_id,omitempty"`
	Plugins        []string       `bson:"plugins,omitempty"`
	Settings       map[string]any `bson:"settings,omitempty"`
	InitialContext map[string]any `bson:"initial_context,omitempty"`
}

// AgentByID loads an Agent document by id. Named distinctly from
// Scenario's GetByID (both are exposed via the MongoStore, which
// implements both repository interfaces) is avoided by Go's method-set
// based interface satisfaction: a single GetByID cannot serve two
// differently-typed contracts, so the AgentRepository half is exposed
// through a thin typed wrapper below.
func (s *MongoStore) AgentByID(ctx context.Context, id string) (*Agent, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var doc agentDocument
	err := s.agents.FindOne(ctx, bson.M{"agent_id": id}).Decode(&doc)
	if errors.Is(err, mongodriver.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &Agent{
		ID:             doc.AgentID,
		ScenarioID:     doc.ScenarioID,
		Plugins:        doc.Plugins,
		Settings:       ctxval.Map(doc.Settings),
		InitialContext: ctxval.Map(doc.InitialContext),
	}, nil
}

// AgentRepositoryAdapter exposes MongoStore's AgentByID as an
// AgentRepository (GetByID), since MongoStore also implements
// ScenarioRepository.GetByID with an incompatible signature name clash
// were it not distinctly named.
type AgentRepositoryAdapter struct{ Store *MongoStore }

// GetByID satisfies AgentRepository by delegating to Store.AgentByID.
func (a AgentRepositoryAdapter) GetByID(ctx context.Context, id string) (*Agent, error) {
	return a.Store.AgentByID(ctx, id)
}

var _ AgentRepository = AgentRepositoryAdapter{}
