// Package storage provides the persistent backends for PII mapping records.
//
// Every backend enforces uniqueness on both the normalized value and the
// token, and reports a violation as ErrDuplicate so callers can treat it as a
// lost race rather than a failure.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hfi/pii-vault/pkg/token"
)

// Storage types
const (
	TypeNone       = "none"
	TypeMemory     = "memory"
	TypeRedis      = "redis"
	TypeMongoDB    = "mongodb"
	TypePostgreSQL = "postgresql"
	TypeSQLite     = "sqlite"
	TypeBolt       = "bolt"
)

// Types lists every accepted storage type
var Types = []string{TypeNone, TypeMemory, TypeRedis, TypeMongoDB, TypePostgreSQL, TypeSQLite, TypeBolt}

var (
	// ErrNotFound is returned when no record matches a lookup
	ErrNotFound = errors.New("mapping record not found")
	// ErrDuplicate is returned when an insert collides with an existing
	// normalized value or token
	ErrDuplicate = errors.New("mapping record already exists")
	// ErrClosed is returned by backends used after Close
	ErrClosed = errors.New("storage backend closed")
)

// Record is a persisted mapping between a PII value and its token
type Record struct {
	NormalizedValue string
	// OriginalValue is the first-seen surface form, restored on deanonymization
	OriginalValue string
	// Token is the hex token body without the type prefix
	Token      string
	Type       token.Type
	CreatedAt  time.Time
	LastUsedAt time.Time
	UsageCount int64
}

// Backend is a persistent mapping record store
type Backend interface {
	// FindByNormalizedValue returns the record for a normalized value or ErrNotFound
	FindByNormalizedValue(ctx context.Context, value string) (*Record, error)

	// FindByToken returns the record for a token body or ErrNotFound
	FindByToken(ctx context.Context, tok string) (*Record, error)

	// Insert stores a new record. A uniqueness violation returns ErrDuplicate.
	Insert(ctx context.Context, rec *Record) (*Record, error)

	// IncrementUsage bumps the usage count and last-used time of a token
	IncrementUsage(ctx context.Context, tok string) error

	// ListAll returns every stored record
	ListAll(ctx context.Context) ([]*Record, error)

	// Count returns the number of stored records
	Count(ctx context.Context) (int64, error)

	// Ping checks connectivity and prepares the schema on first success
	Ping(ctx context.Context) error

	// IsConnected reports the connectivity observed by the last operation
	IsConnected() bool

	// Type returns the storage type name
	Type() string

	// Close releases any resources
	Close() error
}

// Config selects and configures a backend
type Config struct {
	Type       string
	Redis      RedisConfig
	MongoDB    MongoDBConfig
	PostgreSQL PostgreSQLConfig
	SQLite     SQLiteConfig
	Bolt       BoltConfig
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	// URL takes precedence over Address/Password/DB when set
	URL      string
	Address  string
	Password string //#nosec G117 -- connection credential from config
	DB       int
	Prefix   string
}

// MongoDBConfig holds MongoDB connection settings
type MongoDBConfig struct {
	URL        string
	Database   string
	Collection string
}

// PostgreSQLConfig holds PostgreSQL connection settings
type PostgreSQLConfig struct {
	URL      string
	MaxConns int
}

// SQLiteConfig holds SQLite settings
type SQLiteConfig struct {
	Path string
}

// BoltConfig holds bbolt settings
type BoltConfig struct {
	Path string
}

// New creates the backend selected by cfg.Type. TypeNone yields a nil
// backend, which callers treat as memory-only mode.
//
// Network backends are created without requiring the server to be up, so a
// process can start degraded and reconnect later through Ping.
func New(ctx context.Context, cfg Config) (Backend, error) {
	switch cfg.Type {
	case TypeNone, "":
		return nil, nil
	case TypeMemory:
		return NewMemoryBackend(), nil
	case TypeRedis:
		return NewRedisBackend(cfg.Redis)
	case TypeMongoDB:
		return NewMongoBackend(cfg.MongoDB)
	case TypePostgreSQL:
		return NewPostgresBackend(ctx, cfg.PostgreSQL)
	case TypeSQLite:
		return NewSQLiteBackend(cfg.SQLite)
	case TypeBolt:
		return NewBoltBackend(cfg.Bolt)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}

// connState tracks the connectivity observed by backend operations
type connState struct {
	connected atomic.Bool
}

// IsConnected reports the connectivity observed by the last operation
func (c *connState) IsConnected() bool {
	return c.connected.Load()
}

// observe records the outcome of an operation and returns err unchanged.
// Not-found and duplicate results prove the server answered.
func (c *connState) observe(err error) error {
	switch {
	case err == nil, errors.Is(err, ErrNotFound), errors.Is(err, ErrDuplicate):
		c.connected.Store(true)
	case errors.Is(err, context.Canceled):
	default:
		c.connected.Store(false)
	}
	return err
}

func newRecordFrom(rec *Record, now time.Time) *Record {
	out := *rec
	if out.CreatedAt.IsZero() {
		out.CreatedAt = now
	}
	if out.LastUsedAt.IsZero() {
		out.LastUsedAt = out.CreatedAt
	}
	if out.OriginalValue == "" {
		out.OriginalValue = out.NormalizedValue
	}
	return &out
}
