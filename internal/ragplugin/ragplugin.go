// Package ragplugin implements plugin.RAG as an in-process, vector-less
// keyword search over documents stored in Mongo, using the same thin
// client-wrapping pattern as internal/repository.MongoStore and
// internal/scheduler.MongoTaskStore. There is no vector index or embedding
// model wired into this system, so ranking here is a plain term-overlap
// score; Backend is an interface so a future embedding-backed search can
// be substituted without touching the rag_search step handler.
package ragplugin

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"goa.design/clue/health"

	"github.com/goa-ai-labs/scenario-orchestrator/internal/plugin"
)

const defaultOpTimeout = 5 * time.Second

type (
	// Backend retrieves candidate documents for a query within a
	// collection. Implementations may do plain scans (MongoBackend) or a
	// smarter index lookup; Provider ranks whatever Backend returns.
	Backend interface {
		Documents(ctx context.Context, collection string) ([]plugin.RAGDocument, error)
	}

	// Provider implements plugin.RAG by scoring Backend-supplied documents
	// against the query's terms and returning the top K.
	Provider struct {
		backend Backend
	}
)

var _ plugin.RAG = (*Provider)(nil)

// NewProvider builds a Provider over the given Backend.
func NewProvider(backend Backend) (*Provider, error) {
	if backend == nil {
		return nil, errors.New("ragplugin: backend is required")
	}
	return &Provider{backend: backend}, nil
}

// Search implements plugin.RAG. It fetches candidate documents from the
// configured collection, scores each by the fraction of query terms it
// contains, and returns the topK highest-scoring documents (score > 0),
// highest first.
func (p *Provider) Search(ctx context.Context, query string, topK int, collection string) ([]plugin.RAGDocument, error) {
	if query == "" {
		return nil, errors.New("ragplugin: query is required")
	}
	if topK <= 0 {
		topK = 5
	}
	docs, err := p.backend.Documents(ctx, collection)
	if err != nil {
		return nil, err
	}

	terms := tokenize(query)
	if len(terms) == 0 {
		return nil, nil
	}
	scored := make([]plugin.RAGDocument, 0, len(docs))
	for _, d := range docs {
		score := scoreTerms(terms, tokenize(d.Content))
		if score <= 0 {
			continue
		}
		d.Score = score
		scored = append(scored, d)
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
	return fields
}

func scoreTerms(queryTerms, docTerms []string) float64 {
	if len(queryTerms) == 0 || len(docTerms) == 0 {
		return 0
	}
	present := make(map[string]bool, len(docTerms))
	for _, t := range docTerms {
		present[t] = true
	}
	matches := 0
	for _, t := range queryTerms {
		if present[t] {
			matches++
		}
	}
	return float64(matches) / float64(len(queryTerms))
}

// MongoBackendOptions configures MongoBackend.
type MongoBackendOptions struct {
	Client   *mongodriver.Client
	Database string
	Timeout  time.Duration
}

// MongoBackend implements Backend by scanning a Mongo collection. Every
// document in the collection is a candidate; the collection is expected to
// stay small enough for an in-process keyword scorer, since no vector
// index is available to this system.
type MongoBackend struct {
	db      *mongodriver.Database
	mongo   *mongodriver.Client
	timeout time.Duration
}

var _ Backend = (*MongoBackend)(nil)
var _ health.Pinger = (*MongoBackend)(nil)

// NewMongoBackend validates opts and constructs a MongoBackend.
func NewMongoBackend(opts MongoBackendOptions) (*MongoBackend, error) {
	if opts.Client == nil {
		return nil, errors.New("ragplugin: mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("ragplugin: database name is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	return &MongoBackend{
		db:      opts.Client.Database(opts.Database),
		mongo:   opts.Client,
		timeout: timeout,
	}, nil
}

// Name identifies this client for health reporting.
func (b *MongoBackend) Name() string { return "rag-backend-mongo" }

// Ping verifies connectivity to the Mongo deployment.
func (b *MongoBackend) Ping(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return b.mongo.Ping(ctx, readpref.Primary())
}

type ragDocument struct {
	ID      string         `bson:"id"`
	Content string         `bson:"content"`
	Meta    map[string]any `bson:"meta"`
}

// Documents returns every document stored in the named collection.
func (b *MongoBackend) Documents(ctx context.Context, collection string) ([]plugin.RAGDocument, error) {
	if collection == "" {
		return nil, errors.New("ragplugin: collection is required")
	}
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	cur, err := b.db.Collection(collection).Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []plugin.RAGDocument
	for cur.Next(ctx) {
		var doc ragDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, plugin.RAGDocument{ID: doc.ID, Content: doc.Content, Meta: doc.Meta})
	}
	return out, cur.Err()
}
