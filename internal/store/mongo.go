package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/texttochange/vusion-backend-sub000/internal/models"
)

// Default Mongo client settings.
const (
	// DefaultConnectTimeout bounds the initial connection attempt.
	DefaultConnectTimeout = 10 * time.Second
	// DefaultMaxPoolSize is the per-client connection pool cap.
	DefaultMaxPoolSize = 25
)

// Opts holds configuration for the Mongo store.
type Opts struct {
	// URI is the MongoDB connection string.
	URI string
}

// Option configures Opts.
type Option func(*Opts)

// WithMongoURI sets the MongoDB connection string.
func WithMongoURI(uri string) Option {
	return func(o *Opts) { o.URI = uri }
}

// Connect opens a Mongo client based on provided options.
func Connect(ctx context.Context, opts ...Option) (*mongo.Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.URI == "" {
		slog.Error("store.Connect: MongoDB URI not set")
		return nil, fmt.Errorf("mongodb URI not set")
	}
	ctx, cancel := context.WithTimeout(ctx, DefaultConnectTimeout)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().
		ApplyURI(cfg.URI).
		SetMaxPoolSize(DefaultMaxPoolSize))
	if err != nil {
		slog.Error("store.Connect: failed to connect", "error", err)
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		slog.Error("store.Connect: ping failed", "error", err)
		return nil, fmt.Errorf("mongodb ping failed: %w", err)
	}
	slog.Debug("store.Connect: connected")
	return client, nil
}

// MongoCollection implements Collection over one mongo collection.
type MongoCollection struct {
	coll *mongo.Collection
}

// NewMongoCollection wraps a mongo collection.
func NewMongoCollection(coll *mongo.Collection) *MongoCollection {
	return &MongoCollection{coll: coll}
}

// Save inserts the document, or replaces it when it carries an _id.
func (c *MongoCollection) Save(ctx context.Context, doc models.Raw) (string, error) {
	if id, ok := doc["_id"].(primitive.ObjectID); ok && !id.IsZero() {
		_, err := c.coll.ReplaceOne(ctx, bson.M{"_id": id}, bson.M(doc), options.Replace().SetUpsert(true))
		if err != nil {
			return "", fmt.Errorf("failed to replace document in %s: %w", c.coll.Name(), err)
		}
		return id.Hex(), nil
	}
	res, err := c.coll.InsertOne(ctx, bson.M(doc))
	if err != nil {
		return "", fmt.Errorf("failed to insert document into %s: %w", c.coll.Name(), err)
	}
	id, _ := res.InsertedID.(primitive.ObjectID)
	return id.Hex(), nil
}

// Find returns every document matching the query.
func (c *MongoCollection) Find(ctx context.Context, query bson.M) ([]models.Raw, error) {
	cursor, err := c.coll.Find(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", c.coll.Name(), err)
	}
	defer cursor.Close(ctx)
	var docs []models.Raw
	for cursor.Next(ctx) {
		var m bson.M
		if err := cursor.Decode(&m); err != nil {
			return nil, fmt.Errorf("failed to decode document from %s: %w", c.coll.Name(), err)
		}
		docs = append(docs, models.Raw(m))
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error on %s: %w", c.coll.Name(), err)
	}
	return docs, nil
}

// FindOne returns one matching document or ErrNotFound.
func (c *MongoCollection) FindOne(ctx context.Context, query bson.M) (models.Raw, error) {
	var m bson.M
	err := c.coll.FindOne(ctx, query).Decode(&m)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", c.coll.Name(), err)
	}
	return models.Raw(m), nil
}

// Count returns the number of matching documents.
func (c *MongoCollection) Count(ctx context.Context, query bson.M) (int64, error) {
	n, err := c.coll.CountDocuments(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", c.coll.Name(), err)
	}
	return n, nil
}

// Remove deletes every matching document.
func (c *MongoCollection) Remove(ctx context.Context, query bson.M) (int64, error) {
	res, err := c.coll.DeleteMany(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to delete from %s: %w", c.coll.Name(), err)
	}
	return res.DeletedCount, nil
}

// Drop removes the whole collection.
func (c *MongoCollection) Drop(ctx context.Context) error {
	if err := c.coll.Drop(ctx); err != nil {
		return fmt.Errorf("failed to drop %s: %w", c.coll.Name(), err)
	}
	return nil
}

// NewMongoTenantStore binds a TenantStore to one tenant database.
func NewMongoTenantStore(client *mongo.Client, database string) *TenantStore {
	db := client.Database(database)
	coll := func(name string) Collection {
		return NewMongoCollection(db.Collection(name))
	}
	return &TenantStore{
		Participants:     coll(CollectionParticipants),
		Dialogues:        coll(CollectionDialogues),
		Requests:         coll(CollectionRequests),
		Schedules:        coll(CollectionSchedules),
		History:          coll(CollectionHistory),
		ProgramSettings:  coll(CollectionProgramSettings),
		UnattachedMsgs:   coll(CollectionUnattachedMsgs),
		Templates:        coll(CollectionTemplates),
		ContentVariables: coll(CollectionContentVariables),
		CreditLogs:       coll(CollectionCreditLogs),
	}
}

// NewMongoConfigCollection returns the worker-config collection of the
// master database consumed by the supervisor.
func NewMongoConfigCollection(client *mongo.Client, database string) Collection {
	return NewMongoCollection(client.Database(database).Collection(CollectionWorkerConfigs))
}
