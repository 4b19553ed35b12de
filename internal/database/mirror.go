// Package database provides the optional Postgres mirror for extracted
// records. The CSV record store remains the source of truth; mirroring is
// idempotent so replays after a resume are harmless.
package database

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dshkereda/CollectOfDevices/internal/store"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for mirrored records.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// Mirror writes extracted records into Postgres. It assumes a table schema
// like:
//
//	CREATE TABLE device_records (
//		rn TEXT NOT NULL,
//		partition_key TEXT NOT NULL,
//		page INT NOT NULL,
//		row_hash TEXT NOT NULL,
//		fields JSONB NOT NULL,
//		collected_at TIMESTAMPTZ NOT NULL,
//		PRIMARY KEY (rn, row_hash)
//	);
type Mirror struct {
	pool  execCloser
	table string
	now   func() time.Time
}

// NewMirror creates a Postgres-backed Mirror using the provided config.
func NewMirror(ctx context.Context, cfg Config) (*Mirror, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "device_records"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Mirror{pool: pool, table: table, now: time.Now}, nil
}

// NewMirrorWithPool constructs a Mirror from an existing pool (primarily for
// testing).
func NewMirrorWithPool(pool execCloser, table string) (*Mirror, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "device_records"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Mirror{pool: pool, table: table, now: time.Now}, nil
}

// Close releases the underlying pool resources.
func (m *Mirror) Close() {
	if m == nil || m.pool == nil {
		return
	}
	m.pool.Close()
}

// Store upserts one record. Conflicts on (rn, row_hash) are ignored, which
// makes mirroring the same record after a resume a no-op.
func (m *Mirror) Store(ctx context.Context, target, partitionKey string, rec store.Record) error {
	if m == nil || m.pool == nil {
		return fmt.Errorf("record mirror is not configured")
	}
	page, _ := rec.Page()
	fieldsJSON, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record fields: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (rn, partition_key, page, row_hash, fields, collected_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (rn, row_hash) DO NOTHING`, m.table)

	_, err = m.pool.Exec(ctx, query,
		target,
		partitionKey,
		page,
		RowHash(rec),
		fieldsJSON,
		m.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert mirrored record: %w", err)
	}
	return nil
}

// RowHash digests a record's full field set in a key-order-independent way,
// giving identical rows a stable identity across runs.
func RowHash(rec store.Record) string {
	keys := make([]string, 0, len(rec))
	for k := range rec {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	h := sha256.New()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{0})
		h.Write([]byte(rec[k]))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
