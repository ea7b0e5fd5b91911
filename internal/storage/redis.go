package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hfi/pii-vault/pkg/token"
)

const defaultRedisPrefix = "pii-vault:"

// insertScript writes the value index, the record hash and the token set
// member atomically, refusing when either unique key already exists.
var insertScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 or redis.call("EXISTS", KEYS[2]) == 1 then
	return 0
end
redis.call("SET", KEYS[1], ARGV[1])
redis.call("HSET", KEYS[2],
	"normalized_value", ARGV[2],
	"original_value", ARGV[3],
	"type", ARGV[4],
	"created_at", ARGV[5],
	"last_used_at", ARGV[5],
	"usage_count", 0)
redis.call("SADD", KEYS[3], ARGV[1])
return 1
`)

// RedisBackend stores records in Redis.
//
// Layout: <prefix>v:<normalized> holds the token, <prefix>t:<token> is a hash
// with the record fields, <prefix>tokens is the set of all tokens.
type RedisBackend struct {
	connState
	client *redis.Client
	prefix string
}

// NewRedisBackend creates a Redis backend. The connection is not verified
// here; call Ping.
func NewRedisBackend(cfg RedisConfig) (*RedisBackend, error) {
	var opts *redis.Options
	if cfg.URL != "" {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
		}
		opts = parsed
	} else {
		if cfg.Address == "" {
			return nil, fmt.Errorf("redis address is required")
		}
		opts = &redis.Options{
			Addr:     cfg.Address,
			Password: cfg.Password,
			DB:       cfg.DB,
		}
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = defaultRedisPrefix
	}

	return &RedisBackend{
		client: redis.NewClient(opts),
		prefix: prefix,
	}, nil
}

func (r *RedisBackend) valueKey(value string) string {
	return r.prefix + "v:" + value
}

func (r *RedisBackend) tokenKey(tok string) string {
	return r.prefix + "t:" + tok
}

func (r *RedisBackend) setKey() string {
	return r.prefix + "tokens"
}

// FindByNormalizedValue returns the record for a normalized value
func (r *RedisBackend) FindByNormalizedValue(ctx context.Context, value string) (*Record, error) {
	tok, err := r.client.Get(ctx, r.valueKey(value)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, r.observe(ErrNotFound)
	}
	if err != nil {
		return nil, r.observe(fmt.Errorf("get value index: %w", err))
	}
	return r.FindByToken(ctx, tok)
}

// FindByToken returns the record for a token body
func (r *RedisBackend) FindByToken(ctx context.Context, tok string) (*Record, error) {
	fields, err := r.client.HGetAll(ctx, r.tokenKey(tok)).Result()
	if err != nil {
		return nil, r.observe(fmt.Errorf("get record: %w", err))
	}
	if len(fields) == 0 {
		return nil, r.observe(ErrNotFound)
	}
	r.observe(nil)
	return recordFromHash(tok, fields)
}

// Insert stores a new record
func (r *RedisBackend) Insert(ctx context.Context, rec *Record) (*Record, error) {
	stored := newRecordFrom(rec, time.Now())

	keys := []string{r.valueKey(stored.NormalizedValue), r.tokenKey(stored.Token), r.setKey()}
	ok, err := insertScript.Run(ctx, r.client, keys,
		stored.Token,
		stored.NormalizedValue,
		stored.OriginalValue,
		string(stored.Type),
		strconv.FormatInt(stored.CreatedAt.UnixNano(), 10),
	).Int()
	if err != nil {
		return nil, r.observe(fmt.Errorf("insert record: %w", err))
	}
	if ok == 0 {
		return nil, r.observe(ErrDuplicate)
	}

	r.observe(nil)
	return stored, nil
}

// IncrementUsage bumps the usage statistics of a token
func (r *RedisBackend) IncrementUsage(ctx context.Context, tok string) error {
	key := r.tokenKey(tok)

	exists, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return r.observe(fmt.Errorf("check record: %w", err))
	}
	if exists == 0 {
		return r.observe(ErrNotFound)
	}

	pipe := r.client.TxPipeline()
	pipe.HIncrBy(ctx, key, "usage_count", 1)
	pipe.HSet(ctx, key, "last_used_at", strconv.FormatInt(time.Now().UnixNano(), 10))
	if _, err := pipe.Exec(ctx); err != nil {
		return r.observe(fmt.Errorf("increment usage: %w", err))
	}
	return r.observe(nil)
}

// ListAll returns every stored record
func (r *RedisBackend) ListAll(ctx context.Context) ([]*Record, error) {
	tokens, err := r.client.SMembers(ctx, r.setKey()).Result()
	if err != nil {
		return nil, r.observe(fmt.Errorf("list tokens: %w", err))
	}

	pipe := r.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(tokens))
	for i, tok := range tokens {
		cmds[i] = pipe.HGetAll(ctx, r.tokenKey(tok))
	}
	if len(cmds) > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, r.observe(fmt.Errorf("load records: %w", err))
		}
	}
	r.observe(nil)

	records := make([]*Record, 0, len(tokens))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		rec, err := recordFromHash(tokens[i], fields)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// Count returns the number of stored records
func (r *RedisBackend) Count(ctx context.Context) (int64, error) {
	n, err := r.client.SCard(ctx, r.setKey()).Result()
	if err != nil {
		return 0, r.observe(fmt.Errorf("count tokens: %w", err))
	}
	r.observe(nil)
	return n, nil
}

// Ping checks the Redis connection
func (r *RedisBackend) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return r.observe(fmt.Errorf("failed to connect to Redis: %w", err))
	}
	return r.observe(nil)
}

// Type returns the storage type name
func (r *RedisBackend) Type() string {
	return TypeRedis
}

// Close closes the Redis connection
func (r *RedisBackend) Close() error {
	r.connected.Store(false)
	return r.client.Close()
}

func recordFromHash(tok string, fields map[string]string) (*Record, error) {
	typ, ok := token.ParseType(fields["type"])
	if !ok {
		return nil, fmt.Errorf("record %s has invalid type %q", tok, fields["type"])
	}

	rec := &Record{
		NormalizedValue: fields["normalized_value"],
		OriginalValue:   fields["original_value"],
		Token:           tok,
		Type:            typ,
	}

	if v, err := strconv.ParseInt(fields["created_at"], 10, 64); err == nil {
		rec.CreatedAt = time.Unix(0, v)
	}
	if v, err := strconv.ParseInt(fields["last_used_at"], 10, 64); err == nil {
		rec.LastUsedAt = time.Unix(0, v)
	}
	if v, err := strconv.ParseInt(fields["usage_count"], 10, 64); err == nil {
		rec.UsageCount = v
	}
	if rec.OriginalValue == "" {
		rec.OriginalValue = rec.NormalizedValue
	}

	return rec, nil
}
