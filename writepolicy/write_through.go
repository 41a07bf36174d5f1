package writepolicy

import (
	"context"

	"github.com/krisalay/tiered-cache/types"
)

/*
WriteThroughPolicy forwards every change to the durable store immediately.

So the flow is: Cache write → durable write (synchronous). Errors are returned
to the cache, which logs and discards them.
*/
type WriteThroughPolicy struct {
	store types.DurableStore
}

func NewWriteThroughPolicy(store types.DurableStore) *WriteThroughPolicy {
	return &WriteThroughPolicy{store: store}
}

func (w *WriteThroughPolicy) Write(ctx context.Context, rec types.Record) error {
	return w.store.Put(ctx, rec)
}

func (w *WriteThroughPolicy) Delete(ctx context.Context, key string) error {
	return w.store.Delete(ctx, key)
}

func (w *WriteThroughPolicy) Clear(ctx context.Context) error {
	return w.store.Clear(ctx)
}

// Flush has nothing to wait for.
func (w *WriteThroughPolicy) Flush(context.Context) error { return nil }

// Close has no background work to stop.
func (w *WriteThroughPolicy) Close() error { return nil }
