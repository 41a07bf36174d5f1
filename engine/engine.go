package engine

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/krisalay/tiered-cache/expiration"
	"github.com/krisalay/tiered-cache/refresh"
	"github.com/krisalay/tiered-cache/types"
	"github.com/krisalay/tiered-cache/writepolicy"
)

/*
CacheEngine is the "brain" of the cache system.
It is responsible for the "behavior" of the cache, NOT storage.
This acts as the policy layer.

It decides:
- When data is expired
- When refresh hooks are triggered
- How writes are propagated to the durable tier
- How durable failures are recorded

It does NOT:
- Store data
- Handle segmenting
- Handle locking
- Decide eviction order

Durable failures are returned so callers can react (treat as a miss), but they
have already been logged and counted by the time they are returned. The cache
never passes them on to its own callers.
*/
type CacheEngine struct {

	// Expiration controls when a cache entry should be considered "too old".
	// If this is nil, the write-time TTL rule applies.
	Expiration expiration.Strategy

	// Refresh is an optional hook that runs when data is read.
	// If nil, no refresh logic is executed.
	Refresh refresh.Hook

	// Store is the durable tier. Nil means memory-only.
	Store types.DurableStore

	// WritePolicy decides how writes reach Store (sync or async).
	WritePolicy writepolicy.WritePolicy

	// Metrics is how we keep track of what the cache is doing.
	Metrics types.Metrics

	Logger logrus.FieldLogger
}

/*
NewCacheEngine creates a CacheEngine.
*/
func NewCacheEngine(
	exp expiration.Strategy,
	refresh refresh.Hook,
	store types.DurableStore,
	writePolicy writepolicy.WritePolicy,
	metrics types.Metrics,
	logger logrus.FieldLogger,
) *CacheEngine {

	// Ensure metrics and logger are always non-nil
	if metrics == nil {
		metrics = types.NoopMetrics{}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if exp == nil {
		exp = expiration.WriteTime{}
	}

	return &CacheEngine{
		Expiration:  exp,
		Refresh:     refresh,
		Store:       store,
		WritePolicy: writePolicy,
		Metrics:     metrics,
		Logger:      logger,
	}
}

// IsExpired applies the expiration strategy at the current wall-clock time.
func (e *CacheEngine) IsExpired(h *types.Header) bool {
	return e.Expiration.IsExpired(h, time.Now())
}

// OnRead is called every time the cache successfully returns a value.
func (e *CacheEngine) OnRead(h *types.Header) {
	// Refresh is optional and best-effort.
	// It should never slow down the read path.
	if e.Refresh != nil {
		e.Refresh.OnRead(h, time.Now())
	}
}

// Durable reports whether a durable tier is attached.
func (e *CacheEngine) Durable() bool {
	return e.Store != nil
}

// Fetch reads key from the durable tier. Changes still queued in the write
// policy win over what the store holds.
func (e *CacheEngine) Fetch(ctx context.Context, key string) (types.Record, bool, error) {
	if e.Store == nil {
		return types.Record{}, false, types.ErrUnavailable
	}
	if ov, ok := e.WritePolicy.(writepolicy.Overlay); ok {
		if rec, found, pending := ov.Lookup(key); pending {
			return rec, found, nil
		}
	}
	rec, ok, err := e.Store.Get(ctx, key)
	if err != nil {
		return types.Record{}, false, e.Absorb("get", key, err)
	}
	return rec, ok, nil
}

// Persist hands rec to the write policy.
func (e *CacheEngine) Persist(ctx context.Context, rec types.Record) error {
	if e.WritePolicy == nil {
		return types.ErrUnavailable
	}
	return e.Absorb("put", rec.Key, e.WritePolicy.Write(ctx, rec))
}

// Remove deletes key from the durable tier through the write policy.
func (e *CacheEngine) Remove(ctx context.Context, key string) error {
	if e.WritePolicy == nil {
		return types.ErrUnavailable
	}
	return e.Absorb("delete", key, e.WritePolicy.Delete(ctx, key))
}

// Purge empties the durable tier through the write policy.
func (e *CacheEngine) Purge(ctx context.Context) error {
	if e.WritePolicy == nil {
		return types.ErrUnavailable
	}
	return e.Absorb("clear", "", e.WritePolicy.Clear(ctx))
}

// Flush waits for pending durable writes.
func (e *CacheEngine) Flush(ctx context.Context) error {
	if e.WritePolicy == nil {
		return nil
	}
	return e.Absorb("flush", "", e.WritePolicy.Flush(ctx))
}

/*
Absorb records a durable failure: one log line and one metric event.
It returns err unchanged (nil stays nil) so call sites can stay one-liners.

Its signature matches writepolicy.ErrorHandler once the result is dropped,
see Report.
*/
func (e *CacheEngine) Absorb(op, key string, err error) error {
	if err == nil {
		return nil
	}
	e.Metrics.DurableError(op)

	fields := logrus.Fields{"tier": types.TierDurable, "op": op, "error": err}
	if key != "" {
		fields["key"] = key
	}
	e.Logger.WithFields(fields).Warn("durable operation failed")
	return err
}

// Report is the write-back worker's error handler.
func (e *CacheEngine) Report(op, key string, err error) {
	_ = e.Absorb(op, key, err)
}
