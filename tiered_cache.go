package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/krisalay/tiered-cache/api"
	"github.com/krisalay/tiered-cache/codec"
	"github.com/krisalay/tiered-cache/engine"
	"github.com/krisalay/tiered-cache/eviction"
	"github.com/krisalay/tiered-cache/types"
	"github.com/krisalay/tiered-cache/volatile"
	"github.com/krisalay/tiered-cache/writepolicy"
)

var _ api.Cache[string] = (*TieredCache[string])(nil)

// entryOverhead is the size estimate added to the key length when a value
// cannot be encoded.
const entryOverhead = 64

/*
TieredCache is the main cache implementation.
This struct is the orchestrator that connects:
- the volatile tier (L1)
- the durable tier (L2), through the engine
- eviction
- expiration
- statistics
*/
type TieredCache[V any] struct {
	cfg   Config
	codec codec.Codec[V]
	log   logrus.FieldLogger

	// l1 is the in-process tier. Reads are lock-free.
	l1 *volatile.Store[V]

	// engine contains the "rules" of the cache: TTL, refresh, durable I/O, metrics.
	engine *engine.CacheEngine

	// policy tracks eviction order for keys in l1.
	policy eviction.Policy

	// mu serializes every mutation of l1 and policy.
	mu sync.Mutex

	// init gate
	initMu     sync.Mutex
	ready      atomic.Bool
	closed     atomic.Bool
	memoryOnly atomic.Bool

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64

	// reads coalesces concurrent durable lookups of one key.
	reads singleflight.Group

	// loads coalesces concurrent origin loads of one key.
	loads singleflight.Group
}

/*
New creates a cache over store. A nil store gives a memory-only cache.
A nil codec defaults to JSON.

Nothing touches the store until the first operation (or Initialize).
*/
func New[V any](cfg Config, store types.DurableStore, c codec.Codec[V]) (*TieredCache[V], error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	policy, err := eviction.NewEvictionPolicy(cfg.EvictionPolicy)
	if err != nil {
		return nil, err
	}
	if c == nil {
		c = codec.JSON[V]{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = types.NoopMetrics{}
	}
	log := cfg.Logger.WithField("namespace", cfg.Namespace)

	return &TieredCache[V]{
		cfg:    cfg,
		codec:  c,
		log:    log,
		l1:     volatile.New[V](cfg.Segments),
		engine: engine.NewCacheEngine(cfg.Expiration, cfg.Refresh, store, nil, cfg.Metrics, log),
		policy: policy,
	}, nil
}

/*
Initialize opens the durable tier exactly once.

Concurrent callers wait for the same attempt. If the store cannot be opened
the cache keeps working from memory only; that is logged, never returned.
The only error is ErrClosed.
*/
func (c *TieredCache[V]) Initialize(ctx context.Context) error {
	if c.ready.Load() {
		if c.closed.Load() {
			return ErrClosed
		}
		return nil
	}

	c.initMu.Lock()
	defer c.initMu.Unlock()

	if c.closed.Load() {
		return ErrClosed
	}
	if c.ready.Load() {
		return nil
	}

	if err := c.attachDurable(ctx); err != nil {
		c.log.WithError(err).Warn("durable tier unavailable, continuing in memory-only mode")
		c.engine.Store = nil
		c.memoryOnly.Store(true)
	}

	c.ready.Store(true)
	return nil
}

func (c *TieredCache[V]) attachDurable(ctx context.Context) error {
	store := c.engine.Store
	if store == nil {
		return types.ErrUnavailable
	}
	if err := store.Open(ctx); err != nil {
		return fmt.Errorf("open durable store: %w", err)
	}
	wp, err := writepolicy.New(c.cfg.WriteMode, store, c.cfg.WriteBuffer, c.engine.Report)
	if err != nil {
		_ = store.Close()
		return err
	}
	c.engine.WritePolicy = wp
	return nil
}

// MemoryOnly reports whether the durable tier is detached.
func (c *TieredCache[V]) MemoryOnly() bool {
	return c.memoryOnly.Load()
}

func (c *TieredCache[V]) durable() bool {
	return !c.memoryOnly.Load() && c.engine.Durable()
}

/*
Get retrieves a value from the cache.

The volatile tier is tried first, then the durable tier. A durable hit is
promoted into the volatile tier. Exactly one hit or one miss is counted.
*/
func (c *TieredCache[V]) Get(ctx context.Context, key string) (V, bool) {
	var zero V
	if err := c.Initialize(ctx); err != nil {
		return zero, false
	}

	if ent, ok := c.l1.Get(key); ok {
		if !c.engine.IsExpired(&ent.Header) {
			c.hit(types.TierVolatile, ent)
			c.policy.OnGet(key)
			return ent.Value, true
		}
		c.expireVolatile(ent)
	}

	if c.durable() {
		if ent, ok := c.readDurable(ctx, key); ok {
			c.hit(types.TierDurable, ent)
			return ent.Value, true
		}
	}

	c.misses.Add(1)
	c.engine.Metrics.Miss()
	return zero, false
}

func (c *TieredCache[V]) hit(tier types.Tier, ent *types.CacheEntry[V]) {
	c.hits.Add(1)
	c.engine.Metrics.Hit(tier)
	c.engine.OnRead(&ent.Header)
}

// readDurable looks key up in the durable tier and promotes a live entry.
func (c *TieredCache[V]) readDurable(ctx context.Context, key string) (*types.CacheEntry[V], bool) {
	v, _, _ := c.reads.Do(key, func() (any, error) {
		rec, ok, err := c.engine.Fetch(ctx, key)
		if err != nil || !ok {
			return nil, nil
		}

		ent, err := codec.DecodeEntry(c.codec, rec.Blob)
		if err == nil && ent.Key != key {
			err = fmt.Errorf("%w: stored under %q, envelope says %q", codec.ErrCorrupt, key, ent.Key)
		}
		if err != nil {
			c.log.WithFields(logrus.Fields{"key": key, "error": err}).Warn("dropping unreadable durable entry")
			_ = c.engine.Remove(ctx, key)
			return nil, nil
		}

		if c.engine.IsExpired(&ent.Header) {
			c.engine.Metrics.Expire()
			_ = c.engine.Remove(ctx, key)
			return nil, nil
		}

		return c.promote(ctx, ent), nil
	})

	ent, ok := v.(*types.CacheEntry[V])
	return ent, ok && ent != nil
}

/*
promote copies a durable hit into the volatile tier with its original header,
so TTL keeps counting from the original write. A live volatile entry written
meanwhile wins over the promoted one.
*/
func (c *TieredCache[V]) promote(ctx context.Context, ent *types.CacheEntry[V]) *types.CacheEntry[V] {
	c.mu.Lock()
	if cur, ok := c.l1.Get(ent.Key); ok && !c.engine.IsExpired(&cur.Header) {
		c.mu.Unlock()
		return cur
	}
	c.l1.Put(ent)
	c.policy.OnPut(ent.Key, ent.Timestamp)
	victims := c.evictLocked()
	c.mu.Unlock()

	c.engine.Metrics.Promotion()
	c.propagate(ctx, victims)
	return ent
}

// expireVolatile removes ent from the volatile tier if it is still the stored entry.
func (c *TieredCache[V]) expireVolatile(ent *types.CacheEntry[V]) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cur, ok := c.l1.Get(ent.Key); ok && cur == ent {
		c.l1.Delete(ent.Key)
		c.policy.Remove(ent.Key)
		c.engine.Metrics.Expire()
	}
}

/*
Set stores value under key, replacing any existing entry.

The volatile write always happens. Durable failures (encoding, quota,
unavailable backend) are logged and dropped. Only caller misuse is returned.
*/
func (c *TieredCache[V]) Set(ctx context.Context, key string, value V, opts ...SetOption) error {
	if err := c.Initialize(ctx); err != nil {
		return err
	}
	o := api.Apply(opts)
	if o.TTL < 0 {
		return ErrInvalidTTL
	}

	ent := &types.CacheEntry[V]{
		Header: types.Header{
			Key:       key,
			Timestamp: time.Now(),
			TTL:       o.TTL,
			Metadata:  o.Metadata,
		},
		Value: value,
	}

	blob, err := codec.EncodeEntry(c.codec, ent)
	if err != nil {
		c.log.WithFields(logrus.Fields{"key": key, "error": err}).Warn("value not encodable, keeping it in memory only")
		ent.Size = int64(len(key)) + entryOverhead
	} else {
		ent.Size = int64(len(blob))
	}

	c.mu.Lock()
	c.l1.Put(ent)
	c.policy.OnPut(key, ent.Timestamp)
	victims := c.evictLocked()
	c.mu.Unlock()

	if blob != nil && c.durable() {
		_ = c.engine.Persist(ctx, codec.ToRecord(&ent.Header, blob))
	}
	c.propagate(ctx, victims)
	return nil
}

/*
evictLocked runs one eviction pass if the volatile tier is over budget.
It removes the configured fraction of entries (rounded up, at least one) in
the order chosen by the policy. c.mu must be held.

It returns the evicted keys when they must also leave the durable tier.
*/
func (c *TieredCache[V]) evictLocked() []string {
	if c.cfg.MemoryCeiling <= 0 || c.l1.Bytes() <= c.cfg.MemoryCeiling {
		return nil
	}

	n := eviction.VictimCount(c.l1.Len(), c.cfg.EvictionFraction)
	keys := c.policy.Evict(n)
	removed := c.l1.Delete(keys...)

	var evicted []string
	now := time.Now()
	for _, ent := range removed {
		if c.engine.Expiration.IsExpired(&ent.Header, now) {
			c.engine.Metrics.Expire()
			continue
		}
		c.evictions.Add(1)
		c.engine.Metrics.Eviction()
		evicted = append(evicted, ent.Key)
	}

	c.log.WithFields(logrus.Fields{
		"removed": len(removed),
		"bytes":   c.l1.Bytes(),
		"ceiling": c.cfg.MemoryCeiling,
	}).Debug("evicted from volatile tier")

	if !c.cfg.PropagateEvictions {
		return nil
	}
	return keys
}

func (c *TieredCache[V]) propagate(ctx context.Context, keys []string) {
	if len(keys) == 0 || !c.durable() {
		return
	}
	for _, k := range keys {
		_ = c.engine.Remove(ctx, k)
	}
}

/*
Delete removes key from both tiers. A missing key is not an error.
*/
func (c *TieredCache[V]) Delete(ctx context.Context, key string) error {
	if err := c.Initialize(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	c.l1.Delete(key)
	c.policy.Remove(key)
	c.mu.Unlock()

	if c.durable() {
		_ = c.engine.Remove(ctx, key)
	}
	return nil
}

// Clear empties both tiers and resets statistics.
func (c *TieredCache[V]) Clear(ctx context.Context) error {
	if err := c.Initialize(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	c.l1.Clear()
	c.policy.Reset()
	c.hits.Store(0)
	c.misses.Store(0)
	c.evictions.Store(0)
	c.mu.Unlock()

	if c.durable() {
		_ = c.engine.Purge(ctx)
	}
	return nil
}

/*
Preload sets every item independently. A failing item does not stop the
rest; the collected errors are returned for information.
*/
func (c *TieredCache[V]) Preload(ctx context.Context, items []Item[V]) error {
	var result *multierror.Error
	for _, it := range items {
		err := c.Set(ctx, it.Key, it.Value, WithTTL(it.TTL), WithMetadata(it.Metadata))
		if errors.Is(err, ErrClosed) {
			return err
		}
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("preload %q: %w", it.Key, err))
		}
	}
	return result.ErrorOrNil()
}

/*
GetOrLoad returns the cached value for key, or loads it from the origin,
stores it with opts and returns it. Concurrent loads of one key share a call.
Loader errors are returned as is and nothing is stored.
*/
func (c *TieredCache[V]) GetOrLoad(ctx context.Context, key string, load types.Loader[V], opts ...SetOption) (V, error) {
	if v, ok := c.Get(ctx, key); ok {
		return v, nil
	}
	if c.closed.Load() {
		var zero V
		return zero, ErrClosed
	}

	v, err, _ := c.loads.Do(key, func() (any, error) {
		val, err := load(ctx, key)
		if err != nil {
			return nil, err
		}
		if err := c.Set(ctx, key, val, opts...); err != nil {
			return nil, err
		}
		return val, nil
	})
	val, _ := v.(V)
	return val, err
}

/*
Reload fetches key from the origin and stores it again, keeping the TTL and
metadata of the current volatile entry. It is the usual callback for
refresh.AheadOfExpiry.
*/
func (c *TieredCache[V]) Reload(ctx context.Context, key string, load types.Loader[V]) error {
	var opts []SetOption
	if cur, ok := c.l1.Get(key); ok {
		opts = append(opts, WithTTL(cur.TTL), WithMetadata(cur.Metadata))
	}
	val, err := load(ctx, key)
	if err != nil {
		return fmt.Errorf("reload %q: %w", key, err)
	}
	return c.Set(ctx, key, val, opts...)
}

/*
TTL returns the remaining time-to-live of a key in the volatile tier.

RETURN VALUES (Redis-compatible semantics):
> 0 : duration remaining before expiration
-1  : key exists but has no TTL
-2  : key does not exist or is already expired
*/
func (c *TieredCache[V]) TTL(key string) time.Duration {
	ent, ok := c.l1.Get(key)
	if !ok || c.engine.IsExpired(&ent.Header) {
		return -2
	}
	if ent.TTL == 0 {
		return -1
	}
	return time.Until(ent.ExpireAt())
}

// Flush waits until queued durable writes are applied. A no-op for write-through.
func (c *TieredCache[V]) Flush(ctx context.Context) error {
	if err := c.Initialize(ctx); err != nil {
		return err
	}
	if !c.durable() {
		return nil
	}
	return c.engine.Flush(ctx)
}

/*
Close gracefully shuts down the cache.
Pending write-back operations are drained before the durable store is closed.
Calling Close more than once is safe.
*/
func (c *TieredCache[V]) Close() error {
	c.initMu.Lock()
	defer c.initMu.Unlock()

	if c.closed.Swap(true) {
		return nil
	}
	if !c.ready.Load() {
		c.ready.Store(true)
		return nil
	}
	if !c.durable() {
		return nil
	}

	var result *multierror.Error
	if err := c.engine.WritePolicy.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close write policy: %w", err))
	}
	if err := c.engine.Store.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close durable store: %w", err))
	}
	return result.ErrorOrNil()
}
