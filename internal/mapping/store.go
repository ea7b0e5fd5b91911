// Package mapping owns the value <-> token mappings. It keeps both directions
// in memory and writes through to an optional persistent backend.
//
// Storage failures never reach callers: the store degrades to memory-only
// operation and recovers when the backend comes back (see Monitor).
package mapping

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hfi/pii-vault/internal/audit"
	"github.com/hfi/pii-vault/internal/metrics"
	"github.com/hfi/pii-vault/internal/storage"
	"github.com/hfi/pii-vault/pkg/token"
)

const defaultOpTimeout = 3 * time.Second

var (
	// ErrEmptyValue is returned for values that normalize to the empty string
	ErrEmptyValue = errors.New("empty PII value")
	// ErrInvalidType is returned for PII types outside the supported set
	ErrInvalidType = errors.New("invalid PII type")
)

// Entry is what a token resolves to
type Entry struct {
	Token      string
	Normalized string
	// Original is the first-seen surface form of the value
	Original string
	Type     token.Type
}

// Stats is a point-in-time view of the store
type Stats struct {
	TokensInMemory          int
	TokensInPersistentStore int64
	BackingStoreConnected   bool
	ByType                  map[token.Type]int
}

// Store is the two-tier mapping store
type Store struct {
	mu      sync.RWMutex
	byValue map[string]string // normalized value -> token body
	byToken map[string]Entry  // token body -> entry
	// mappings created while the backend was unreachable, keyed by
	// normalized value; pushed on the next successful warm-up
	unsynced map[string]Entry

	codec     *token.Codec
	backend   storage.Backend
	opTimeout time.Duration
	logger    zerolog.Logger
	auditor   audit.Auditor

	pending sync.WaitGroup
}

// Option configures a Store
type Option func(*Store)

// WithBackend sets the persistent backend. A nil backend means memory-only.
func WithBackend(b storage.Backend) Option {
	return func(s *Store) {
		s.backend = b
	}
}

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// WithAuditor sets the audit sink for mapping events
func WithAuditor(a audit.Auditor) Option {
	return func(s *Store) {
		if a != nil {
			s.auditor = a
		}
	}
}

// WithOpTimeout bounds each backend call
func WithOpTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.opTimeout = d
		}
	}
}

// NewStore creates a mapping store using codec for token derivation
func NewStore(codec *token.Codec, opts ...Option) *Store {
	s := &Store{
		byValue:   make(map[string]string),
		byToken:   make(map[string]Entry),
		unsynced:  make(map[string]Entry),
		codec:     codec,
		opTimeout: defaultOpTimeout,
		logger:    zerolog.Nop(),
		auditor:   audit.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With().Str("component", "mapping").Logger()
	return s
}

// Codec returns the token codec used by the store
func (s *Store) Codec() *token.Codec {
	return s.codec
}

// IsBackingStoreAvailable reports whether persistent lookups are worth trying
func (s *Store) IsBackingStoreAvailable() bool {
	return s.backend != nil && s.backend.IsConnected()
}

func (s *Store) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opTimeout)
}

// GetOrCreate returns the formatted token for a value, creating and
// persisting a new mapping on first encounter. The value is normalized here,
// so callers pass the surface form as found in the text.
//
// When the value is already mapped under another type, the stored type wins.
func (s *Store) GetOrCreate(ctx context.Context, value string, typ token.Type) (string, error) {
	if !typ.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidType, typ)
	}
	normalized := token.Normalize(value)
	if normalized == "" {
		return "", ErrEmptyValue
	}

	if entry, ok := s.lookupValue(normalized); ok {
		if entry.Type != typ {
			s.logger.Warn().
				Str("requested_type", string(typ)).
				Str("stored_type", string(entry.Type)).
				Str("token", entry.Token).
				Msg("PII type mismatch on cached mapping, keeping stored type")
		}
		return s.codec.Format(entry.Type, entry.Token), nil
	}

	if s.IsBackingStoreAvailable() {
		if rec := s.findByValue(ctx, normalized); rec != nil {
			entry, _ := s.cache(rec)
			return s.codec.Format(entry.Type, entry.Token), nil
		}
	}

	tok := s.codec.Compute(normalized)
	entry, created := s.cache(&storage.Record{
		NormalizedValue: normalized,
		OriginalValue:   value,
		Token:           tok,
		Type:            typ,
	})
	if !created {
		// a concurrent caller won the race and owns persistence
		return s.codec.Format(entry.Type, entry.Token), nil
	}

	metrics.MappingsCreatedTotal.WithLabelValues(string(entry.Type)).Inc()
	s.auditor.LogMappingCreated(string(entry.Type), entry.Token)

	if !s.IsBackingStoreAvailable() || !s.persist(ctx, entry) {
		s.markUnsynced(entry)
	}

	return s.codec.Format(entry.Type, entry.Token), nil
}

// ResolveByToken returns the entry for a token body. Persistent hits bump
// the record's usage statistics in the background.
func (s *Store) ResolveByToken(ctx context.Context, tok string) (Entry, bool) {
	s.mu.RLock()
	entry, ok := s.byToken[tok]
	s.mu.RUnlock()
	if ok {
		return entry, true
	}

	if !s.IsBackingStoreAvailable() {
		return Entry{}, false
	}

	opCtx, cancel := s.opContext(ctx)
	rec, err := s.backend.FindByToken(opCtx, tok)
	cancel()
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.storageError("find_by_token", err)
		}
		return Entry{}, false
	}

	entry, _ = s.cache(rec)
	s.bumpUsage(tok)
	return entry, true
}

// WarmCache loads every persisted mapping into memory, then pushes mappings
// created while the backend was unreachable. Failures are logged and leave
// the store in memory-only mode.
func (s *Store) WarmCache(ctx context.Context) {
	if s.backend == nil {
		s.logger.Info().Msg("no backing store configured, running memory-only")
		metrics.SetBackingStoreUp(false)
		return
	}

	opCtx, cancel := s.opContext(ctx)
	err := s.backend.Ping(opCtx)
	cancel()
	if err != nil {
		s.logger.Warn().Err(err).Str("backend", s.backend.Type()).
			Msg("backing store unavailable, running memory-only")
		metrics.SetBackingStoreUp(false)
		return
	}
	metrics.SetBackingStoreUp(true)

	opCtx, cancel = s.opContext(ctx)
	records, err := s.backend.ListAll(opCtx)
	cancel()
	if err != nil {
		s.storageError("list_all", err)
		return
	}

	for _, rec := range records {
		s.cache(rec)
	}

	s.logger.Info().
		Int("records", len(records)).
		Str("backend", s.backend.Type()).
		Msg("mapping cache warmed")

	s.syncUnsynced(ctx)
}

func (s *Store) markUnsynced(entry Entry) {
	if s.backend == nil {
		return
	}
	s.mu.Lock()
	s.unsynced[entry.Normalized] = entry
	s.mu.Unlock()
}

// syncUnsynced writes memory-only mappings to the backend. It stops at the
// first storage error and leaves the rest for the next reconnect.
func (s *Store) syncUnsynced(ctx context.Context) {
	s.mu.RLock()
	entries := make([]Entry, 0, len(s.unsynced))
	for _, e := range s.unsynced {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	if len(entries) == 0 {
		return
	}

	synced := 0
	for _, e := range entries {
		if !s.persist(ctx, e) {
			break
		}
		s.mu.Lock()
		delete(s.unsynced, e.Normalized)
		s.mu.Unlock()
		synced++
	}

	s.logger.Info().
		Int("synced", synced).
		Int("remaining", len(entries)-synced).
		Msg("memory-only mappings pushed to backing store")
}

// Monitor pings a disconnected backend every interval and warms the cache
// again once it answers. It returns when ctx is done.
func (s *Store) Monitor(ctx context.Context, interval time.Duration) {
	if s.backend == nil || interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.checkBackend(ctx)
		}
	}
}

func (s *Store) checkBackend(ctx context.Context) {
	wasUp := s.backend.IsConnected()

	opCtx, cancel := s.opContext(ctx)
	err := s.backend.Ping(opCtx)
	cancel()

	metrics.SetBackingStoreUp(err == nil)

	switch {
	case err == nil && !wasUp:
		s.logger.Info().Str("backend", s.backend.Type()).Msg("backing store reconnected")
		s.WarmCache(ctx)
	case err != nil && wasUp:
		s.logger.Warn().Err(err).Str("backend", s.backend.Type()).
			Msg("backing store lost, running memory-only")
	}
}

// Stats returns cache and backend counts
func (s *Store) Stats(ctx context.Context) Stats {
	s.mu.RLock()
	st := Stats{
		TokensInMemory: len(s.byToken),
		ByType:         make(map[token.Type]int, len(token.Types)),
	}
	for _, t := range token.Types {
		st.ByType[t] = 0
	}
	for _, e := range s.byToken {
		st.ByType[e.Type]++
	}
	s.mu.RUnlock()

	if s.IsBackingStoreAvailable() {
		opCtx, cancel := s.opContext(ctx)
		n, err := s.backend.Count(opCtx)
		cancel()
		if err != nil {
			s.storageError("count", err)
		} else {
			st.TokensInPersistentStore = n
		}
	}
	st.BackingStoreConnected = s.IsBackingStoreAvailable()

	return st
}

// Close waits for background usage updates and closes the backend
func (s *Store) Close() error {
	s.pending.Wait()
	if s.backend != nil {
		return s.backend.Close()
	}
	return nil
}

func (s *Store) lookupValue(normalized string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tok, ok := s.byValue[normalized]
	if !ok {
		return Entry{}, false
	}
	return s.byToken[tok], true
}

func (s *Store) findByValue(ctx context.Context, normalized string) *storage.Record {
	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	rec, err := s.backend.FindByNormalizedValue(opCtx, normalized)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.storageError("find_by_value", err)
		}
		return nil
	}
	return rec
}

// cache stores rec in both maps and returns the entry now held for its
// value, and whether this call added it. A token already held by a
// different value is a collision: the value still maps to the token, but
// the token keeps resolving to the value that claimed it first.
func (s *Store) cache(rec *storage.Record) (Entry, bool) {
	entry := Entry{
		Token:      rec.Token,
		Normalized: rec.NormalizedValue,
		Original:   rec.OriginalValue,
		Type:       rec.Type,
	}
	if entry.Original == "" {
		entry.Original = entry.Normalized
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if tok, ok := s.byValue[entry.Normalized]; ok {
		return s.byToken[tok], false
	}

	s.byValue[entry.Normalized] = entry.Token
	if existing, ok := s.byToken[entry.Token]; ok && existing.Normalized != entry.Normalized {
		metrics.TokenCollisionsTotal.Inc()
		s.logger.Warn().
			Str("token", entry.Token).
			Str("type", string(entry.Type)).
			Msg("token collision between distinct values, consider a longer token length")
		return entry, true
	}
	s.byToken[entry.Token] = entry
	metrics.CacheSize.Set(float64(len(s.byToken)))

	return entry, true
}

// persist inserts entry and reports false only when the backend failed.
// Duplicates are settled here and count as done.
func (s *Store) persist(ctx context.Context, entry Entry) bool {
	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	_, err := s.backend.Insert(opCtx, &storage.Record{
		NormalizedValue: entry.Normalized,
		OriginalValue:   entry.Original,
		Token:           entry.Token,
		Type:            entry.Type,
	})
	if err == nil {
		return true
	}
	if !errors.Is(err, storage.ErrDuplicate) {
		s.storageError("insert", err)
		return false
	}

	metrics.StorageDuplicatesTotal.Inc()

	rec, err := s.backend.FindByNormalizedValue(opCtx, entry.Normalized)
	switch {
	case err == nil && rec.Token == entry.Token:
		s.logger.Warn().Str("token", entry.Token).
			Msg("mapping already persisted by a concurrent writer")
	case err == nil:
		s.logger.Warn().Str("token", entry.Token).Str("stored_token", rec.Token).
			Msg("value persisted under a different token, keeping in-memory token")
	case errors.Is(err, storage.ErrNotFound):
		metrics.TokenCollisionsTotal.Inc()
		s.logger.Warn().Str("token", entry.Token).Str("type", string(entry.Type)).
			Msg("token already persisted for a different value, mapping kept in memory only")
	default:
		s.storageError("find_by_value", err)
		return false
	}
	return true
}

func (s *Store) bumpUsage(tok string) {
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()

		ctx, cancel := context.WithTimeout(context.Background(), s.opTimeout)
		defer cancel()

		if err := s.backend.IncrementUsage(ctx, tok); err != nil {
			s.logger.Debug().Err(err).Str("token", tok).Msg("usage update failed")
		}
	}()
}

func (s *Store) storageError(op string, err error) {
	metrics.RecordStorageError(op)
	metrics.SetBackingStoreUp(s.IsBackingStoreAvailable())
	s.logger.Warn().Err(err).Str("operation", op).
		Msg("backing store error, continuing with in-memory mappings")
}
