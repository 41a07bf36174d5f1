/*
Package sqlstore is a DurableStore on a single Postgres table.

The table is keyed by the cache key and stores the opaque blob next to an
indexed write timestamp. The index is advisory: reads only ever use the key.
*/
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/krisalay/tiered-cache/types"
)

// Config holds connection settings for Connect.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

type row struct {
	Key  string `db:"key"`
	TS   int64  `db:"ts"`
	TTL  int64  `db:"ttl_ns"`
	Blob []byte `db:"blob"`
}

type Store struct {
	db    *sqlx.DB
	cfg   Config
	owned bool
	table string
	index string
}

var _ types.DurableStore = (*Store)(nil)

// New uses an already opened database. The caller keeps ownership of db.
func New(db *sqlx.DB, namespace string) *Store {
	s := newStore(namespace)
	s.db = db
	return s
}

// Connect defers opening the database to Open. The store closes it on Close.
func Connect(cfg Config, namespace string) *Store {
	s := newStore(namespace)
	s.cfg = cfg
	s.owned = true
	return s
}

func newStore(namespace string) *Store {
	base := tableBase(namespace)
	return &Store{
		table: pq.QuoteIdentifier(base + "_entries"),
		index: pq.QuoteIdentifier(base + "_entries_ts_idx"),
	}
}

// tableBase reduces a namespace to a safe identifier prefix.
func tableBase(namespace string) string {
	if namespace == "" {
		namespace = "default"
	}
	var b strings.Builder
	b.WriteString("cache_")
	for _, r := range strings.ToLower(namespace) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// Open connects (when needed) and creates the table and its index.
func (s *Store) Open(ctx context.Context) error {
	if s.db == nil {
		if s.cfg.DSN == "" {
			return fmt.Errorf("%w: no database DSN configured", types.ErrUnavailable)
		}
		dbx, err := sqlx.Open("postgres", s.cfg.DSN)
		if err != nil {
			return fmt.Errorf("%w: failed to open database: %v", types.ErrUnavailable, err)
		}
		if s.cfg.MaxOpenConns > 0 {
			dbx.SetMaxOpenConns(s.cfg.MaxOpenConns)
		}
		if s.cfg.MaxIdleConns > 0 {
			dbx.SetMaxIdleConns(s.cfg.MaxIdleConns)
		}
		if s.cfg.ConnMaxLifetime > 0 {
			dbx.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)
		}
		if s.cfg.ConnMaxIdleTime > 0 {
			dbx.SetConnMaxIdleTime(s.cfg.ConnMaxIdleTime)
		}
		s.db = dbx
	}

	// Use PingContext with timeout to avoid hanging at startup
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("%w: failed to ping database: %v", types.ErrUnavailable, err)
	}

	for _, stmt := range s.schema() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create cache table: %w", err)
		}
	}
	return nil
}

func (s *Store) schema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS ` + s.table + ` (
	key    TEXT PRIMARY KEY,
	ts     BIGINT NOT NULL,
	ttl_ns BIGINT NOT NULL DEFAULT 0,
	blob   BYTEA NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS ` + s.index + ` ON ` + s.table + ` (ts)`,
	}
}

func (s *Store) Get(ctx context.Context, key string) (types.Record, bool, error) {
	var r row
	err := s.db.GetContext(ctx, &r, `SELECT key, ts, ttl_ns, blob FROM `+s.table+` WHERE key = $1`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Record{}, false, nil
	}
	if err != nil {
		return types.Record{}, false, err
	}
	return types.Record{
		Key:       r.Key,
		Timestamp: time.Unix(0, r.TS),
		TTL:       time.Duration(r.TTL),
		Blob:      r.Blob,
	}, true, nil
}

func (s *Store) Put(ctx context.Context, rec types.Record) error {
	blob := rec.Blob
	if blob == nil {
		blob = []byte{}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO `+s.table+` (key, ts, ttl_ns, blob) VALUES ($1, $2, $3, $4)
ON CONFLICT (key) DO UPDATE SET ts = EXCLUDED.ts, ttl_ns = EXCLUDED.ttl_ns, blob = EXCLUDED.blob`,
		rec.Key, rec.Timestamp.UnixNano(), int64(rec.TTL), blob)
	return err
}

func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM `+s.table+` WHERE key = $1`, key)
	return err
}

func (s *Store) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM `+s.table)
	return err
}

func (s *Store) Close() error {
	if !s.owned || s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Oldest returns up to n keys ordered by write timestamp.
func (s *Store) Oldest(ctx context.Context, n int) ([]string, error) {
	var keys []string
	err := s.db.SelectContext(ctx, &keys, `SELECT key FROM `+s.table+` ORDER BY ts, key LIMIT $1`, n)
	return keys, err
}

// PurgeExpired deletes records whose TTL elapsed before now.
func (s *Store) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM `+s.table+` WHERE ttl_ns > 0 AND ts + ttl_ns < $1`, now.UnixNano())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
