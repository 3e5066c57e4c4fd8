package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	errorskg "github.com/sweetpotato0/veriflow/errors"
	"github.com/sweetpotato0/veriflow/runlog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore implements runlog.Store using MongoDB
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
}

var _ runlog.Store = (*MongoStore)(nil)

// MongoConfig holds MongoDB connection configuration
type MongoConfig struct {
	URI        string `yaml:"uri"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
}

// DefaultMongoConfig returns default MongoDB configuration
func DefaultMongoConfig() *MongoConfig {
	return &MongoConfig{
		URI:        "mongodb://localhost:27017",
		Database:   "veriflow",
		Collection: "runs",
	}
}

// mongoRecord is the internal representation for MongoDB
type mongoRecord struct {
	ID              string    `bson:"_id"`
	SessionID       string    `bson:"session_id"`
	Question        string    `bson:"question"`
	FinalQuery      string    `bson:"final_query"`
	Status          string    `bson:"status"`
	Failure         string    `bson:"failure,omitempty"`
	Verified        bool      `bson:"verified"`
	Answer          string    `bson:"answer"`
	Rationale       string    `bson:"rationale,omitempty"`
	Iterations      int       `bson:"iterations"`
	EvidenceSources []string  `bson:"evidence_sources"`
	StartedAt       time.Time `bson:"started_at"`
	DurationMS      int64     `bson:"duration_ms"`
}

func toMongo(rec *runlog.Record) mongoRecord {
	return mongoRecord{
		ID:              rec.ID,
		SessionID:       rec.SessionID,
		Question:        rec.Question,
		FinalQuery:      rec.FinalQuery,
		Status:          rec.Status,
		Failure:         rec.Failure,
		Verified:        rec.Verified,
		Answer:          rec.Answer,
		Rationale:       rec.Rationale,
		Iterations:      rec.Iterations,
		EvidenceSources: rec.EvidenceSources,
		StartedAt:       rec.StartedAt,
		DurationMS:      rec.DurationMS,
	}
}

func (m mongoRecord) record() *runlog.Record {
	sources := m.EvidenceSources
	if sources == nil {
		sources = []string{}
	}
	return &runlog.Record{
		ID:              m.ID,
		SessionID:       m.SessionID,
		Question:        m.Question,
		FinalQuery:      m.FinalQuery,
		Status:          m.Status,
		Failure:         m.Failure,
		Verified:        m.Verified,
		Answer:          m.Answer,
		Rationale:       m.Rationale,
		Iterations:      m.Iterations,
		EvidenceSources: sources,
		StartedAt:       m.StartedAt,
		DurationMS:      m.DurationMS,
	}
}

// NewMongoStore creates a new MongoDB-based run store
func NewMongoStore(ctx context.Context, config *MongoConfig) (*MongoStore, error) {
	if config == nil {
		config = DefaultMongoConfig()
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(config.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	store := &MongoStore{
		client:     client,
		collection: client.Database(config.Database).Collection(config.Collection),
	}
	if err := store.createIndexes(connectCtx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to create indexes: %w", err)
	}
	return store, nil
}

func (s *MongoStore) createIndexes(ctx context.Context) error {
	_, err := s.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "started_at", Value: -1}}},
		{Keys: bson.D{{Key: "session_id", Value: 1}}},
	})
	return err
}

// Save upserts rec.
func (s *MongoStore) Save(ctx context.Context, rec *runlog.Record) error {
	if rec == nil {
		return fmt.Errorf("record cannot be nil: %w", errorskg.ErrInvalidInput)
	}
	runlog.Prepare(rec)

	opts := options.Replace().SetUpsert(true)
	if _, err := s.collection.ReplaceOne(ctx, bson.M{"_id": rec.ID}, toMongo(rec), opts); err != nil {
		return fmt.Errorf("failed to save run to MongoDB: %w", err)
	}
	return nil
}

// Get returns the record with id.
func (s *MongoStore) Get(ctx context.Context, id string) (*runlog.Record, error) {
	var doc mongoRecord
	if err := s.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("run %s: %w", id, errorskg.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return doc.record(), nil
}

// List returns up to limit records, newest first.
func (s *MongoStore) List(ctx context.Context, limit int) ([]*runlog.Record, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "started_at", Value: -1}}).
		SetLimit(int64(runlog.Limit(limit)))
	cursor, err := s.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []mongoRecord
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode runs: %w", err)
	}
	records := make([]*runlog.Record, len(docs))
	for i, doc := range docs {
		records[i] = doc.record()
	}
	return records, nil
}

// Clear removes every run.
func (s *MongoStore) Clear(ctx context.Context) error {
	if _, err := s.collection.DeleteMany(ctx, bson.M{}); err != nil {
		return fmt.Errorf("failed to clear runs: %w", err)
	}
	return nil
}

// Ping checks if MongoDB connection is alive
func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close closes the MongoDB connection
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
