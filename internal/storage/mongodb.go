package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/hfi/pii-vault/pkg/token"
)

const (
	defaultMongoDatabase   = "pii_vault"
	defaultMongoCollection = "pii_mappings"
)

type mongoRecordDocument struct {
	Token           string    `bson:"_id"`
	NormalizedValue string    `bson:"normalized_value"`
	OriginalValue   string    `bson:"original_value"`
	Type            string    `bson:"type"`
	CreatedAt       time.Time `bson:"created_at"`
	LastUsedAt      time.Time `bson:"last_used_at"`
	UsageCount      int64     `bson:"usage_count"`
}

func (d *mongoRecordDocument) record() (*Record, error) {
	typ, ok := token.ParseType(d.Type)
	if !ok {
		return nil, fmt.Errorf("record %s has invalid type %q", d.Token, d.Type)
	}
	return &Record{
		NormalizedValue: d.NormalizedValue,
		OriginalValue:   d.OriginalValue,
		Token:           d.Token,
		Type:            typ,
		CreatedAt:       d.CreatedAt,
		LastUsedAt:      d.LastUsedAt,
		UsageCount:      d.UsageCount,
	}, nil
}

// MongoBackend stores records in a MongoDB collection. The token is the
// document id; normalized_value carries a unique index.
type MongoBackend struct {
	connState
	client     *mongo.Client
	collection *mongo.Collection

	indexOnce sync.Mutex
	indexed   bool
}

// NewMongoBackend creates a MongoDB backend. The driver connects lazily, so
// an unreachable server surfaces on Ping rather than here.
func NewMongoBackend(cfg MongoDBConfig) (*MongoBackend, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("MongoDB URL is required")
	}

	dbName := cfg.Database
	if dbName == "" {
		dbName = defaultMongoDatabase
	}
	collName := cfg.Collection
	if collName == "" {
		collName = defaultMongoCollection
	}

	clientOpts := options.Client().
		ApplyURI(cfg.URL).
		SetServerSelectionTimeout(5 * time.Second)

	client, err := mongo.Connect(clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	return &MongoBackend{
		client:     client,
		collection: client.Database(dbName).Collection(collName),
	}, nil
}

func (m *MongoBackend) ensureIndexes(ctx context.Context) error {
	m.indexOnce.Lock()
	defer m.indexOnce.Unlock()

	if m.indexed {
		return nil
	}

	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "normalized_value", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "type", Value: 1}}},
	}
	if _, err := m.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("create pii_mappings indexes: %w", err)
	}

	m.indexed = true
	return nil
}

func (m *MongoBackend) findOne(ctx context.Context, filter bson.M) (*Record, error) {
	var doc mongoRecordDocument
	err := m.collection.FindOne(ctx, filter).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, m.observe(ErrNotFound)
		}
		return nil, m.observe(fmt.Errorf("query record: %w", err))
	}
	m.observe(nil)
	return doc.record()
}

// FindByNormalizedValue returns the record for a normalized value
func (m *MongoBackend) FindByNormalizedValue(ctx context.Context, value string) (*Record, error) {
	return m.findOne(ctx, bson.M{"normalized_value": value})
}

// FindByToken returns the record for a token body
func (m *MongoBackend) FindByToken(ctx context.Context, tok string) (*Record, error) {
	return m.findOne(ctx, bson.M{"_id": tok})
}

// Insert stores a new record
func (m *MongoBackend) Insert(ctx context.Context, rec *Record) (*Record, error) {
	stored := newRecordFrom(rec, time.Now().UTC())

	doc := mongoRecordDocument{
		Token:           stored.Token,
		NormalizedValue: stored.NormalizedValue,
		OriginalValue:   stored.OriginalValue,
		Type:            string(stored.Type),
		CreatedAt:       stored.CreatedAt,
		LastUsedAt:      stored.LastUsedAt,
	}
	if _, err := m.collection.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, m.observe(ErrDuplicate)
		}
		return nil, m.observe(fmt.Errorf("insert record: %w", err))
	}

	m.observe(nil)
	return stored, nil
}

// IncrementUsage bumps the usage statistics of a token
func (m *MongoBackend) IncrementUsage(ctx context.Context, tok string) error {
	update := bson.M{
		"$inc": bson.M{"usage_count": 1},
		"$set": bson.M{"last_used_at": time.Now().UTC()},
	}
	res, err := m.collection.UpdateOne(ctx, bson.M{"_id": tok}, update)
	if err != nil {
		return m.observe(fmt.Errorf("increment usage: %w", err))
	}
	if res.MatchedCount == 0 {
		return m.observe(ErrNotFound)
	}
	return m.observe(nil)
}

// ListAll returns every stored record
func (m *MongoBackend) ListAll(ctx context.Context) ([]*Record, error) {
	cursor, err := m.collection.Find(ctx, bson.D{})
	if err != nil {
		return nil, m.observe(fmt.Errorf("list records: %w", err))
	}
	defer cursor.Close(ctx)

	var records []*Record
	for cursor.Next(ctx) {
		var doc mongoRecordDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode record document: %w", err)
		}
		rec, err := doc.record()
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := cursor.Err(); err != nil {
		return nil, m.observe(fmt.Errorf("iterate records cursor: %w", err))
	}

	m.observe(nil)
	return records, nil
}

// Count returns the number of stored records
func (m *MongoBackend) Count(ctx context.Context) (int64, error) {
	n, err := m.collection.CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, m.observe(fmt.Errorf("count records: %w", err))
	}
	m.observe(nil)
	return n, nil
}

// Ping checks the MongoDB connection and creates indexes on first success
func (m *MongoBackend) Ping(ctx context.Context) error {
	if err := m.client.Ping(ctx, nil); err != nil {
		return m.observe(fmt.Errorf("failed to ping MongoDB: %w", err))
	}
	return m.observe(m.ensureIndexes(ctx))
}

// Type returns the storage type name
func (m *MongoBackend) Type() string {
	return TypeMongoDB
}

// Close disconnects the client
func (m *MongoBackend) Close() error {
	m.connected.Store(false)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}
