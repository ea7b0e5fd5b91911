package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/hfi/pii-vault/pkg/token"
)

const defaultBoltPath = ".cache/pii-vault.bolt"

var (
	boltRecordsBucket = []byte("pii_records") // token -> JSON record
	boltValuesBucket  = []byte("pii_values")  // normalized value -> token
)

type boltRecord struct {
	NormalizedValue string     `json:"normalized_value"`
	OriginalValue   string     `json:"original_value"`
	Type            token.Type `json:"type"`
	CreatedAt       time.Time  `json:"created_at"`
	LastUsedAt      time.Time  `json:"last_used_at"`
	UsageCount      int64      `json:"usage_count"`
}

// BoltBackend stores records in an embedded bbolt database. Both unique keys
// are written in the same transaction.
type BoltBackend struct {
	connState
	db *bolt.DB
}

// NewBoltBackend opens (or creates) the bbolt database and its buckets
func NewBoltBackend(cfg BoltConfig) (*BoltBackend, error) {
	path := cfg.Path
	if path == "" {
		path = defaultBoltPath
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bbolt database %q: %w", path, err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(boltRecordsBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(boltValuesBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create bbolt buckets: %w", err)
	}

	b := &BoltBackend{db: db}
	b.connected.Store(true)
	return b, nil
}

func decodeBoltRecord(tok string, data []byte) (*Record, error) {
	var br boltRecord
	if err := json.Unmarshal(data, &br); err != nil {
		return nil, fmt.Errorf("decode record %s: %w", tok, err)
	}
	return &Record{
		NormalizedValue: br.NormalizedValue,
		OriginalValue:   br.OriginalValue,
		Token:           tok,
		Type:            br.Type,
		CreatedAt:       br.CreatedAt,
		LastUsedAt:      br.LastUsedAt,
		UsageCount:      br.UsageCount,
	}, nil
}

func encodeBoltRecord(rec *Record) ([]byte, error) {
	return json.Marshal(boltRecord{
		NormalizedValue: rec.NormalizedValue,
		OriginalValue:   rec.OriginalValue,
		Type:            rec.Type,
		CreatedAt:       rec.CreatedAt,
		LastUsedAt:      rec.LastUsedAt,
		UsageCount:      rec.UsageCount,
	})
}

// FindByNormalizedValue returns the record for a normalized value
func (b *BoltBackend) FindByNormalizedValue(_ context.Context, value string) (*Record, error) {
	var rec *Record
	err := b.db.View(func(tx *bolt.Tx) error {
		tok := tx.Bucket(boltValuesBucket).Get([]byte(value))
		if tok == nil {
			return ErrNotFound
		}
		data := tx.Bucket(boltRecordsBucket).Get(tok)
		if data == nil {
			return ErrNotFound
		}
		var err error
		rec, err = decodeBoltRecord(string(tok), data)
		return err
	})
	if err != nil {
		return nil, b.observe(err)
	}
	b.observe(nil)
	return rec, nil
}

// FindByToken returns the record for a token body
func (b *BoltBackend) FindByToken(_ context.Context, tok string) (*Record, error) {
	var rec *Record
	err := b.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(boltRecordsBucket).Get([]byte(tok))
		if data == nil {
			return ErrNotFound
		}
		var err error
		rec, err = decodeBoltRecord(tok, data)
		return err
	})
	if err != nil {
		return nil, b.observe(err)
	}
	b.observe(nil)
	return rec, nil
}

// Insert stores a new record
func (b *BoltBackend) Insert(_ context.Context, rec *Record) (*Record, error) {
	stored := newRecordFrom(rec, time.Now().UTC())

	data, err := encodeBoltRecord(stored)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}

	err = b.db.Update(func(tx *bolt.Tx) error {
		values := tx.Bucket(boltValuesBucket)
		records := tx.Bucket(boltRecordsBucket)

		if values.Get([]byte(stored.NormalizedValue)) != nil || records.Get([]byte(stored.Token)) != nil {
			return ErrDuplicate
		}
		if err := records.Put([]byte(stored.Token), data); err != nil {
			return err
		}
		return values.Put([]byte(stored.NormalizedValue), []byte(stored.Token))
	})
	if err != nil {
		if errors.Is(err, ErrDuplicate) {
			return nil, b.observe(ErrDuplicate)
		}
		return nil, b.observe(fmt.Errorf("insert record: %w", err))
	}

	b.observe(nil)
	return stored, nil
}

// IncrementUsage bumps the usage statistics of a token
func (b *BoltBackend) IncrementUsage(_ context.Context, tok string) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		records := tx.Bucket(boltRecordsBucket)
		data := records.Get([]byte(tok))
		if data == nil {
			return ErrNotFound
		}
		rec, err := decodeBoltRecord(tok, data)
		if err != nil {
			return err
		}
		rec.UsageCount++
		rec.LastUsedAt = time.Now().UTC()
		updated, err := encodeBoltRecord(rec)
		if err != nil {
			return err
		}
		return records.Put([]byte(tok), updated)
	})
	return b.observe(err)
}

// ListAll returns every stored record
func (b *BoltBackend) ListAll(_ context.Context) ([]*Record, error) {
	var records []*Record
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(boltRecordsBucket).ForEach(func(k, v []byte) error {
			rec, err := decodeBoltRecord(string(k), v)
			if err != nil {
				return err
			}
			records = append(records, rec)
			return nil
		})
	})
	if err != nil {
		return nil, b.observe(fmt.Errorf("list records: %w", err))
	}
	b.observe(nil)
	return records, nil
}

// Count returns the number of stored records
func (b *BoltBackend) Count(_ context.Context) (int64, error) {
	var n int64
	err := b.db.View(func(tx *bolt.Tx) error {
		n = int64(tx.Bucket(boltRecordsBucket).Stats().KeyN)
		return nil
	})
	if err != nil {
		return 0, b.observe(fmt.Errorf("count records: %w", err))
	}
	b.observe(nil)
	return n, nil
}

// Ping verifies the database is still open
func (b *BoltBackend) Ping(_ context.Context) error {
	return b.observe(b.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(boltRecordsBucket) == nil {
			return fmt.Errorf("bucket %q not found", boltRecordsBucket)
		}
		return nil
	}))
}

// Type returns the storage type name
func (b *BoltBackend) Type() string {
	return TypeBolt
}

// Close closes the database file
func (b *BoltBackend) Close() error {
	b.connected.Store(false)
	return b.db.Close()
}
