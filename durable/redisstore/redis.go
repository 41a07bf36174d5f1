/*
Package redisstore is a DurableStore backed by Redis.

Every record is a hash at <namespace>:k:<key> with fields ts, ttl and blob.
The sorted set <namespace>:idx:ts scores keys by write timestamp; it is an
advisory index used by Clear and Oldest, never needed to read a record.
Records and the index live under different sub-prefixes, so no cache key can
land on the index.
Records with a TTL carry a native Redis expiry at timestamp+ttl.
*/
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/krisalay/tiered-cache/types"
)

const (
	fieldTimestamp = "ts"
	fieldTTL       = "ttl"
	fieldBlob      = "blob"

	recordSpace = "k"
	indexKey    = "idx:ts"
	scanBatch   = 256
)

// Config mirrors the redis.Options the store needs.
type Config struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type Store struct {
	r      redis.Cmdable
	closer io.Closer
	prefix string
	log    logrus.FieldLogger
}

var _ types.DurableStore = (*Store)(nil)

// New wraps an existing client. The caller keeps ownership of it.
func New(r redis.Cmdable, namespace string, logger logrus.FieldLogger) *Store {
	if namespace == "" {
		namespace = "default"
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Store{
		r:      r,
		prefix: namespace,
		log:    logger.WithFields(logrus.Fields{"store": "redis", "namespace": namespace}),
	}
}

// Dial creates a client from cfg. The store closes it on Close.
func Dial(cfg Config, namespace string, logger logrus.FieldLogger) *Store {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
	s := New(client, namespace, logger)
	s.closer = client
	return s
}

func (s *Store) namespaced(key string) string {
	return s.prefix + ":" + recordSpace + ":" + key
}

func (s *Store) index() string {
	return s.prefix + ":" + indexKey
}

// Open checks the connection.
func (s *Store) Open(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.r.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: failed to connect to Redis: %v", types.ErrUnavailable, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (types.Record, bool, error) {
	fields, err := s.r.HGetAll(ctx, s.namespaced(key)).Result()
	if err != nil {
		return types.Record{}, false, err
	}
	if len(fields) == 0 {
		// Expired natively or never written; keep the index tidy.
		if err := s.r.ZRem(ctx, s.index(), key).Err(); err != nil {
			s.log.WithError(err).Debug("index cleanup failed")
		}
		return types.Record{}, false, nil
	}

	ts, err := strconv.ParseInt(fields[fieldTimestamp], 10, 64)
	if err != nil {
		return types.Record{}, false, fmt.Errorf("record %q: bad timestamp: %w", key, err)
	}
	ttl, err := strconv.ParseInt(fields[fieldTTL], 10, 64)
	if err != nil {
		return types.Record{}, false, fmt.Errorf("record %q: bad ttl: %w", key, err)
	}

	return types.Record{
		Key:       key,
		Timestamp: time.Unix(0, ts),
		TTL:       time.Duration(ttl),
		Blob:      []byte(fields[fieldBlob]),
	}, true, nil
}

func (s *Store) Put(ctx context.Context, rec types.Record) error {
	ns := s.namespaced(rec.Key)

	var expireAt time.Time
	if rec.TTL > 0 {
		expireAt = rec.Timestamp.Add(rec.TTL)
		if !expireAt.After(time.Now()) {
			// Already stale; storing it would only be read back as a miss.
			return s.Delete(ctx, rec.Key)
		}
	}

	_, err := s.r.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, ns)
		p.HSet(ctx, ns,
			fieldTimestamp, rec.Timestamp.UnixNano(),
			fieldTTL, int64(rec.TTL),
			fieldBlob, rec.Blob,
		)
		if !expireAt.IsZero() {
			p.PExpireAt(ctx, ns, expireAt)
		}
		p.ZAdd(ctx, s.index(), &redis.Z{Score: float64(rec.Timestamp.UnixNano()), Member: rec.Key})
		return nil
	})
	return err
}

func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.r.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, s.namespaced(key))
		p.ZRem(ctx, s.index(), key)
		return nil
	})
	return err
}

/*
Clear deletes the namespace: first every key named by the index, then
anything left that matches the prefix (records written by an older index or
lost from it), then the index itself.
*/
func (s *Store) Clear(ctx context.Context) error {
	members, err := s.r.ZRange(ctx, s.index(), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("read index: %w", err)
	}
	for start := 0; start < len(members); start += scanBatch {
		end := min(start+scanBatch, len(members))
		keys := make([]string, 0, end-start)
		for _, m := range members[start:end] {
			keys = append(keys, s.namespaced(m))
		}
		if err := s.r.Del(ctx, keys...).Err(); err != nil {
			return err
		}
	}

	var cursor uint64
	pattern := escapePattern(s.prefix) + ":*"
	for {
		keys, next, err := s.r.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return fmt.Errorf("scan namespace: %w", err)
		}
		if len(keys) > 0 {
			if err := s.r.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return s.r.Del(ctx, s.index()).Err()
}

// Close closes the client when the store created it.
func (s *Store) Close() error {
	if s.closer == nil {
		return nil
	}
	err := s.closer.Close()
	if errors.Is(err, redis.ErrClosed) {
		return nil
	}
	return err
}

// Oldest returns up to n keys with the oldest write timestamps, oldest first.
func (s *Store) Oldest(ctx context.Context, n int64) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	return s.r.ZRange(ctx, s.index(), 0, n-1).Result()
}

func escapePattern(p string) string {
	r := strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)
	return r.Replace(p)
}
