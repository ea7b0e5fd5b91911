package storage

import (
	"context"
	"sync"
	"time"
)

// MemoryBackend is an in-process Backend. It keeps records for the process
// lifetime only and is mostly useful for tests and single-run CLI use.
type MemoryBackend struct {
	connState
	mu         sync.RWMutex
	records    map[string]*Record // keyed by token
	valueIndex map[string]string  // normalized value -> token
	closed     bool
}

// NewMemoryBackend creates an empty in-memory backend
func NewMemoryBackend() *MemoryBackend {
	m := &MemoryBackend{
		records:    make(map[string]*Record),
		valueIndex: make(map[string]string),
	}
	m.connected.Store(true)
	return m
}

// FindByNormalizedValue returns the record for a normalized value
func (m *MemoryBackend) FindByNormalizedValue(_ context.Context, value string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tok, ok := m.valueIndex[value]
	if !ok {
		return nil, ErrNotFound
	}
	rec := *m.records[tok]
	return &rec, nil
}

// FindByToken returns the record for a token body
func (m *MemoryBackend) FindByToken(_ context.Context, tok string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[tok]
	if !ok {
		return nil, ErrNotFound
	}
	out := *rec
	return &out, nil
}

// Insert stores a new record
func (m *MemoryBackend) Insert(_ context.Context, rec *Record) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.valueIndex[rec.NormalizedValue]; ok {
		return nil, ErrDuplicate
	}
	if _, ok := m.records[rec.Token]; ok {
		return nil, ErrDuplicate
	}

	stored := newRecordFrom(rec, time.Now())
	m.records[stored.Token] = stored
	m.valueIndex[stored.NormalizedValue] = stored.Token

	out := *stored
	return &out, nil
}

// IncrementUsage bumps the usage statistics of a token
func (m *MemoryBackend) IncrementUsage(_ context.Context, tok string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[tok]
	if !ok {
		return ErrNotFound
	}
	rec.UsageCount++
	rec.LastUsedAt = time.Now()
	return nil
}

// ListAll returns copies of every record
func (m *MemoryBackend) ListAll(_ context.Context) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Record, 0, len(m.records))
	for _, rec := range m.records {
		cp := *rec
		out = append(out, &cp)
	}
	return out, nil
}

// Count returns the number of records
func (m *MemoryBackend) Count(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.records)), nil
}

// Ping always succeeds unless the backend was closed
func (m *MemoryBackend) Ping(_ context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

// Type returns the storage type name
func (m *MemoryBackend) Type() string {
	return TypeMemory
}

// Close marks the backend as closed
func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.connected.Store(false)
	return nil
}
