package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hfi/pii-vault/pkg/token"
)

const pgUniqueViolation = "23505"

const pgRecordColumns = "token, normalized_value, original_value, type, created_at, last_used_at, usage_count"

// PostgresBackend stores records in a PostgreSQL table
type PostgresBackend struct {
	connState
	pool *pgxpool.Pool

	schemaMu sync.Mutex
	migrated bool
}

// NewPostgresBackend creates a PostgreSQL backend. The pool opens
// connections on demand, so an unreachable server surfaces on Ping.
func NewPostgresBackend(ctx context.Context, cfg PostgreSQLConfig) (*PostgresBackend, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("PostgreSQL URL is required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse PostgreSQL URL: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns) //#nosec G115 -- bounded by config validation
	} else {
		poolCfg.MaxConns = 10
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create PostgreSQL connection pool: %w", err)
	}

	return &PostgresBackend{pool: pool}, nil
}

func (p *PostgresBackend) migrate(ctx context.Context) error {
	p.schemaMu.Lock()
	defer p.schemaMu.Unlock()

	if p.migrated {
		return nil
	}

	_, err := p.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS pii_mappings (
			token TEXT PRIMARY KEY,
			normalized_value TEXT NOT NULL UNIQUE,
			original_value TEXT NOT NULL,
			type TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			last_used_at TIMESTAMPTZ NOT NULL,
			usage_count BIGINT NOT NULL DEFAULT 0
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create pii_mappings table: %w", err)
	}
	if _, err := p.pool.Exec(ctx, "CREATE INDEX IF NOT EXISTS idx_pii_mappings_type ON pii_mappings(type)"); err != nil {
		return fmt.Errorf("failed to create pii_mappings type index: %w", err)
	}

	p.migrated = true
	return nil
}

func (p *PostgresBackend) findOne(ctx context.Context, query string, arg string) (*Record, error) {
	rec, err := scanRecord(p.pool.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, p.observe(ErrNotFound)
		}
		return nil, p.observe(fmt.Errorf("query record: %w", err))
	}
	p.observe(nil)
	return rec, nil
}

// FindByNormalizedValue returns the record for a normalized value
func (p *PostgresBackend) FindByNormalizedValue(ctx context.Context, value string) (*Record, error) {
	return p.findOne(ctx, "SELECT "+pgRecordColumns+" FROM pii_mappings WHERE normalized_value = $1", value)
}

// FindByToken returns the record for a token body
func (p *PostgresBackend) FindByToken(ctx context.Context, tok string) (*Record, error) {
	return p.findOne(ctx, "SELECT "+pgRecordColumns+" FROM pii_mappings WHERE token = $1", tok)
}

// Insert stores a new record
func (p *PostgresBackend) Insert(ctx context.Context, rec *Record) (*Record, error) {
	stored := newRecordFrom(rec, time.Now().UTC())

	_, err := p.pool.Exec(ctx, `
		INSERT INTO pii_mappings (token, normalized_value, original_value, type, created_at, last_used_at, usage_count)
		VALUES ($1, $2, $3, $4, $5, $6, 0)
	`, stored.Token, stored.NormalizedValue, stored.OriginalValue, string(stored.Type), stored.CreatedAt, stored.LastUsedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, p.observe(ErrDuplicate)
		}
		return nil, p.observe(fmt.Errorf("insert record: %w", err))
	}

	p.observe(nil)
	return stored, nil
}

// IncrementUsage bumps the usage statistics of a token
func (p *PostgresBackend) IncrementUsage(ctx context.Context, tok string) error {
	tag, err := p.pool.Exec(ctx,
		"UPDATE pii_mappings SET usage_count = usage_count + 1, last_used_at = $2 WHERE token = $1",
		tok, time.Now().UTC())
	if err != nil {
		return p.observe(fmt.Errorf("increment usage: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return p.observe(ErrNotFound)
	}
	return p.observe(nil)
}

// ListAll returns every stored record
func (p *PostgresBackend) ListAll(ctx context.Context) ([]*Record, error) {
	rows, err := p.pool.Query(ctx, "SELECT "+pgRecordColumns+" FROM pii_mappings ORDER BY created_at")
	if err != nil {
		return nil, p.observe(fmt.Errorf("list records: %w", err))
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, p.observe(fmt.Errorf("iterate records: %w", err))
	}

	p.observe(nil)
	return records, nil
}

// Count returns the number of stored records
func (p *PostgresBackend) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := p.pool.QueryRow(ctx, "SELECT COUNT(*) FROM pii_mappings").Scan(&n); err != nil {
		return 0, p.observe(fmt.Errorf("count records: %w", err))
	}
	p.observe(nil)
	return n, nil
}

// Ping checks the PostgreSQL connection and creates the table on first success
func (p *PostgresBackend) Ping(ctx context.Context) error {
	if err := p.pool.Ping(ctx); err != nil {
		return p.observe(fmt.Errorf("failed to ping PostgreSQL: %w", err))
	}
	return p.observe(p.migrate(ctx))
}

// Type returns the storage type name
func (p *PostgresBackend) Type() string {
	return TypePostgreSQL
}

// Close closes the pool
func (p *PostgresBackend) Close() error {
	p.connected.Store(false)
	p.pool.Close()
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// rowScanner is satisfied by pgx.Row, pgx.Rows and *sql.Row/*sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		rec Record
		typ string
	)
	if err := row.Scan(&rec.Token, &rec.NormalizedValue, &rec.OriginalValue, &typ,
		&rec.CreatedAt, &rec.LastUsedAt, &rec.UsageCount); err != nil {
		return nil, err
	}

	t, ok := token.ParseType(typ)
	if !ok {
		return nil, fmt.Errorf("record %s has invalid type %q", rec.Token, typ)
	}
	rec.Type = t
	return &rec, nil
}
