// Package storageplugin implements plugin.Storage over Mongo, backing the
// mongo_insert_one/mongo_find_one/mongo_update_one/mongo_delete_one step
// handlers. It uses the same thin client-wrapping pattern as
// internal/repository.MongoStore and internal/scheduler.MongoTaskStore:
// scenario authors pass arbitrary collection names and documents, so this
// plugin does no schema validation beyond what Mongo itself enforces.
package storageplugin

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"goa.design/clue/health"

	"github.com/goa-ai-labs/scenario-orchestrator/internal/plugin"
)

const defaultOpTimeout = 5 * time.Second

// Options configures Provider.
type Options struct {
	Client   *mongodriver.Client
	Database string
	Timeout  time.Duration
}

// Provider implements plugin.Storage over a Mongo database.
type Provider struct {
	db      *mongodriver.Database
	mongo   *mongodriver.Client
	timeout time.Duration
}

var _ plugin.Storage = (*Provider)(nil)
var _ health.Pinger = (*Provider)(nil)

// NewProvider validates opts and constructs a Provider.
func NewProvider(opts Options) (*Provider, error) {
	if opts.Client == nil {
		return nil, errors.New("storageplugin: mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("storageplugin: database name is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	return &Provider{db: opts.Client.Database(opts.Database), mongo: opts.Client, timeout: timeout}, nil
}

// Name identifies this client for health reporting.
func (p *Provider) Name() string { return "storage-plugin-mongo" }

// Ping verifies connectivity to the Mongo deployment.
func (p *Provider) Ping(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return p.mongo.Ping(ctx, readpref.Primary())
}

func (p *Provider) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, p.timeout)
}

// InsertOne inserts document into collection and returns its assigned id.
func (p *Provider) InsertOne(ctx context.Context, collection string, document map[string]any) (plugin.StorageResult, error) {
	if collection == "" {
		return plugin.StorageResult{}, errors.New("storageplugin: collection is required")
	}
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	res, err := p.db.Collection(collection).InsertOne(ctx, bson.M(document))
	if err != nil {
		return plugin.StorageResult{}, err
	}
	id, _ := res.InsertedID.(string)
	if id == "" {
		if oid, ok := res.InsertedID.(interface{ Hex() string }); ok {
			id = oid.Hex()
		}
	}
	return plugin.StorageResult{InsertedID: id}, nil
}

// FindOne returns the first document in collection matching filter.
func (p *Provider) FindOne(ctx context.Context, collection string, filter map[string]any) (plugin.StorageResult, error) {
	if collection == "" {
		return plugin.StorageResult{}, errors.New("storageplugin: collection is required")
	}
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	var doc bson.M
	err := p.db.Collection(collection).FindOne(ctx, bson.M(filter)).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return plugin.StorageResult{Found: false}, nil
		}
		return plugin.StorageResult{}, err
	}
	return plugin.StorageResult{Found: true, Document: map[string]any(doc)}, nil
}

// UpdateOne applies update (as a Mongo $set document) to the first document
// in collection matching filter.
func (p *Provider) UpdateOne(ctx context.Context, collection string, filter, update map[string]any) (plugin.StorageResult, error) {
	if collection == "" {
		return plugin.StorageResult{}, errors.New("storageplugin: collection is required")
	}
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	res, err := p.db.Collection(collection).UpdateOne(ctx, bson.M(filter), bson.M{"$set": bson.M(update)})
	if err != nil {
		return plugin.StorageResult{}, err
	}
	return plugin.StorageResult{ModifiedCount: res.ModifiedCount}, nil
}

// DeleteOne removes the first document in collection matching filter.
func (p *Provider) DeleteOne(ctx context.Context, collection string, filter map[string]any) (plugin.StorageResult, error) {
	if collection == "" {
		return plugin.StorageResult{}, errors.New("storageplugin: collection is required")
	}
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	res, err := p.db.Collection(collection).DeleteOne(ctx, bson.M(filter))
	if err != nil {
		return plugin.StorageResult{}, err
	}
	return plugin.StorageResult{DeletedCount: res.DeletedCount}, nil
}
