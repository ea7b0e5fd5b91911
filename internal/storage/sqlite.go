package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/hfi/pii-vault/pkg/token"
)

const defaultSQLitePath = ".cache/pii-vault.db"

// SQLiteBackend stores records in a local SQLite database. Timestamps are
// stored as unix nanoseconds.
type SQLiteBackend struct {
	connState
	db *sql.DB
}

// NewSQLiteBackend opens (or creates) the database file and its schema
func NewSQLiteBackend(cfg SQLiteConfig) (*SQLiteBackend, error) {
	path := cfg.Path
	if path == "" {
		path = defaultSQLitePath
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	// one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS pii_mappings (
			token TEXT PRIMARY KEY,
			normalized_value TEXT NOT NULL UNIQUE,
			original_value TEXT NOT NULL,
			type TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			last_used_at INTEGER NOT NULL,
			usage_count INTEGER NOT NULL DEFAULT 0
		)
	`)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create pii_mappings table: %w", err)
	}
	if _, err := db.Exec("CREATE INDEX IF NOT EXISTS idx_pii_mappings_type ON pii_mappings(type)"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create pii_mappings type index: %w", err)
	}

	s := &SQLiteBackend{db: db}
	s.connected.Store(true)
	return s, nil
}

const sqliteRecordColumns = "token, normalized_value, original_value, type, created_at, last_used_at, usage_count"

func (s *SQLiteBackend) findOne(ctx context.Context, query string, arg string) (*Record, error) {
	rec, err := scanSQLiteRecord(s.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.observe(ErrNotFound)
		}
		return nil, s.observe(fmt.Errorf("query record: %w", err))
	}
	s.observe(nil)
	return rec, nil
}

// FindByNormalizedValue returns the record for a normalized value
func (s *SQLiteBackend) FindByNormalizedValue(ctx context.Context, value string) (*Record, error) {
	return s.findOne(ctx, "SELECT "+sqliteRecordColumns+" FROM pii_mappings WHERE normalized_value = ?", value)
}

// FindByToken returns the record for a token body
func (s *SQLiteBackend) FindByToken(ctx context.Context, tok string) (*Record, error) {
	return s.findOne(ctx, "SELECT "+sqliteRecordColumns+" FROM pii_mappings WHERE token = ?", tok)
}

// Insert stores a new record
func (s *SQLiteBackend) Insert(ctx context.Context, rec *Record) (*Record, error) {
	stored := newRecordFrom(rec, time.Now().UTC())

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pii_mappings (token, normalized_value, original_value, type, created_at, last_used_at, usage_count)
		VALUES (?, ?, ?, ?, ?, ?, 0)
	`, stored.Token, stored.NormalizedValue, stored.OriginalValue, string(stored.Type),
		stored.CreatedAt.UnixNano(), stored.LastUsedAt.UnixNano())
	if err != nil {
		if isSQLiteConstraint(err) {
			return nil, s.observe(ErrDuplicate)
		}
		return nil, s.observe(fmt.Errorf("insert record: %w", err))
	}

	s.observe(nil)
	return stored, nil
}

// IncrementUsage bumps the usage statistics of a token
func (s *SQLiteBackend) IncrementUsage(ctx context.Context, tok string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE pii_mappings SET usage_count = usage_count + 1, last_used_at = ? WHERE token = ?",
		time.Now().UTC().UnixNano(), tok)
	if err != nil {
		return s.observe(fmt.Errorf("increment usage: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return s.observe(fmt.Errorf("increment usage: %w", err))
	}
	if n == 0 {
		return s.observe(ErrNotFound)
	}
	return s.observe(nil)
}

// ListAll returns every stored record
func (s *SQLiteBackend) ListAll(ctx context.Context) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+sqliteRecordColumns+" FROM pii_mappings ORDER BY created_at")
	if err != nil {
		return nil, s.observe(fmt.Errorf("list records: %w", err))
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec, err := scanSQLiteRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, s.observe(fmt.Errorf("iterate records: %w", err))
	}

	s.observe(nil)
	return records, nil
}

// Count returns the number of stored records
func (s *SQLiteBackend) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM pii_mappings").Scan(&n); err != nil {
		return 0, s.observe(fmt.Errorf("count records: %w", err))
	}
	s.observe(nil)
	return n, nil
}

// Ping checks the database handle
func (s *SQLiteBackend) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return s.observe(fmt.Errorf("failed to ping SQLite database: %w", err))
	}
	return s.observe(nil)
}

// Type returns the storage type name
func (s *SQLiteBackend) Type() string {
	return TypeSQLite
}

// Close closes the database
func (s *SQLiteBackend) Close() error {
	s.connected.Store(false)
	return s.db.Close()
}

func isSQLiteConstraint(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "PRIMARY KEY")
}

func scanSQLiteRecord(row rowScanner) (*Record, error) {
	var (
		rec                 Record
		typ                 string
		createdAt, lastUsed int64
	)
	if err := row.Scan(&rec.Token, &rec.NormalizedValue, &rec.OriginalValue, &typ,
		&createdAt, &lastUsed, &rec.UsageCount); err != nil {
		return nil, err
	}

	t, ok := token.ParseType(typ)
	if !ok {
		return nil, fmt.Errorf("record %s has invalid type %q", rec.Token, typ)
	}
	rec.Type = t
	rec.CreatedAt = time.Unix(0, createdAt).UTC()
	rec.LastUsedAt = time.Unix(0, lastUsed).UTC()
	return &rec, nil
}
