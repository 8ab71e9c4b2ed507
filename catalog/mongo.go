package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"goa.design/clue/health"
)

// entryDocument is Entry's BSON representation in the catalog collection,
// adapted from features/runlog/mongo/clients/mongo/client.go's
// eventDocument.
type entryDocument struct {
	ID           bson.ObjectID `bson:"_id,omitempty"`
	Provider     string        `bson:"provider"`
	Model        string        `bson:"model"`
	InputSchema  []byte        `bson:"input_schema,omitempty"`
	OutputSchema []byte        `bson:"output_schema,omitempty"`
	RateKey      string        `bson:"rate_key,omitempty"`
}

const (
	defaultCollection = "reelforge_provider_catalog"
	defaultTimeout    = 5 * time.Second
)

// MongoOptions configures a Mongo-backed catalog Source.
type MongoOptions struct {
	Client     *mongodriver.Client
	Database   string
	Collection string
	Timeout    time.Duration
}

// Mongo is a durable Source backed by MongoDB, for deployments that share
// one provider catalog across many movies/hosts rather than bundling it
// per blueprint. It also satisfies health.Pinger, following the teacher's
// registry/store/mongo convention of exposing liveness for ops dashboards.
type Mongo struct {
	client  *mongodriver.Client
	coll    *mongodriver.Collection
	timeout time.Duration
}

var (
	_ Source       = (*Mongo)(nil)
	_ health.Pinger = (*Mongo)(nil)
)

// NewMongo returns a Mongo-backed Source.
func NewMongo(opts MongoOptions) (*Mongo, error) {
	if opts.Client == nil {
		return nil, errors.New("catalog: mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("catalog: database name is required")
	}
	collection := opts.Collection
	if collection == "" {
		collection = defaultCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	coll := opts.Client.Database(opts.Database).Collection(collection)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	idx := mongodriver.IndexModel{
		Keys:    bson.D{{Key: "provider", Value: 1}, {Key: "model", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	if _, err := coll.Indexes().CreateOne(ctx, idx); err != nil {
		return nil, fmt.Errorf("catalog: ensure index: %w", err)
	}

	return &Mongo{client: opts.Client, coll: coll, timeout: timeout}, nil
}

// Name identifies this Pinger for health-check registration.
func (m *Mongo) Name() string { return "catalog-mongo" }

// Ping satisfies health.Pinger.
func (m *Mongo) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, readpref.Primary())
}

// Get implements Source.
func (m *Mongo) Get(ctx context.Context, provider, model string) (*Entry, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	var doc entryDocument
	err := m.coll.FindOne(ctx, bson.D{{Key: "provider", Value: provider}, {Key: "model", Value: model}}).Decode(&doc)
	if errors.Is(err, mongodriver.ErrNoDocuments) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("catalog: find %s/%s: %w", provider, model, err)
	}
	return &Entry{
		Provider:     doc.Provider,
		Model:        doc.Model,
		InputSchema:  doc.InputSchema,
		OutputSchema: doc.OutputSchema,
		RateKey:      doc.RateKey,
	}, true, nil
}

// Put upserts one catalog entry, for an out-of-scope admin tool that seeds
// the shared catalog.
func (m *Mongo) Put(ctx context.Context, e *Entry) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	filter := bson.D{{Key: "provider", Value: e.Provider}, {Key: "model", Value: e.Model}}
	update := bson.D{{Key: "$set", Value: entryDocument{
		Provider: e.Provider, Model: e.Model,
		InputSchema: e.InputSchema, OutputSchema: e.OutputSchema, RateKey: e.RateKey,
	}}}
	_, err := m.coll.UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("catalog: upsert %s/%s: %w", e.Provider, e.Model, err)
	}
	return nil
}
