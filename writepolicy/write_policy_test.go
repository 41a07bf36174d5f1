package writepolicy

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krisalay/tiered-cache/durable/memory"
	"github.com/krisalay/tiered-cache/types"
)

// recordingStore logs the order of operations and can block or fail puts.
type recordingStore struct {
	mu      sync.Mutex
	ops     []string
	gate    chan struct{}
	failPut error
}

func (r *recordingStore) log(op string) {
	r.mu.Lock()
	r.ops = append(r.ops, op)
	r.mu.Unlock()
}

func (r *recordingStore) Ops() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ops...)
}

func (r *recordingStore) Open(context.Context) error { return nil }
func (r *recordingStore) Get(context.Context, string) (types.Record, bool, error) {
	return types.Record{}, false, nil
}
func (r *recordingStore) Put(_ context.Context, rec types.Record) error {
	if r.gate != nil {
		<-r.gate
	}
	r.log("put:" + rec.Key)
	return r.failPut
}
func (r *recordingStore) Delete(_ context.Context, key string) error {
	r.log("delete:" + key)
	return nil
}
func (r *recordingStore) Clear(context.Context) error {
	r.log("clear")
	return nil
}
func (r *recordingStore) Close() error { return nil }

func TestNewSelectsPolicy(t *testing.T) {
	store := memory.New()

	p, err := New(WriteThrough, store, 0, nil)
	require.NoError(t, err)
	assert.IsType(t, &WriteThroughPolicy{}, p)

	p, err = New(WriteBack, store, 0, nil)
	require.NoError(t, err)
	assert.IsType(t, &WriteBackPolicy{}, p)
	require.NoError(t, p.Close())

	_, err = New("write-around", store, 0, nil)
	assert.Error(t, err)
}

func TestWriteThroughIsSynchronous(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	require.NoError(t, store.Open(ctx))
	p := NewWriteThroughPolicy(store)

	require.NoError(t, p.Write(ctx, types.Record{Key: "a", Blob: []byte("1")}))
	_, ok, _ := store.Get(ctx, "a")
	assert.True(t, ok)

	require.NoError(t, p.Delete(ctx, "a"))
	_, ok, _ = store.Get(ctx, "a")
	assert.False(t, ok)
}

func TestWriteThroughReturnsStoreError(t *testing.T) {
	store := memory.New() // never opened
	p := NewWriteThroughPolicy(store)
	assert.ErrorIs(t, p.Write(context.Background(), types.Record{Key: "a"}), types.ErrUnavailable)
}

func TestWriteBackKeepsOrder(t *testing.T) {
	ctx := context.Background()
	store := &recordingStore{}
	p := NewWriteBackPolicy(store, 16, nil)
	defer p.Close()

	require.NoError(t, p.Write(ctx, types.Record{Key: "a"}))
	require.NoError(t, p.Delete(ctx, "a"))
	require.NoError(t, p.Write(ctx, types.Record{Key: "b"}))
	require.NoError(t, p.Clear(ctx))
	require.NoError(t, p.Flush(ctx))

	assert.Equal(t, []string{"put:a", "delete:a", "put:b", "clear"}, store.Ops())
}

func TestWriteBackDropsPutsWhenFull(t *testing.T) {
	ctx := context.Background()
	store := &recordingStore{gate: make(chan struct{})}
	p := NewWriteBackPolicy(store, 1, nil)

	// First put is taken by the worker and parks on the gate, second fills the buffer.
	require.NoError(t, p.Write(ctx, types.Record{Key: "a"}))
	require.Eventually(t, func() bool { return len(p.ch) == 0 }, time.Second, time.Millisecond)
	require.NoError(t, p.Write(ctx, types.Record{Key: "b"}))

	assert.ErrorIs(t, p.Write(ctx, types.Record{Key: "c"}), ErrQueueFull)

	close(store.gate)
	require.NoError(t, p.Close())
	assert.Equal(t, []string{"put:a", "put:b"}, store.Ops())
}

func TestWriteBackDeleteWaitsForContext(t *testing.T) {
	store := &recordingStore{gate: make(chan struct{})}
	p := NewWriteBackPolicy(store, 1, nil)

	require.NoError(t, p.Write(context.Background(), types.Record{Key: "a"}))
	require.Eventually(t, func() bool { return len(p.ch) == 0 }, time.Second, time.Millisecond)
	require.NoError(t, p.Write(context.Background(), types.Record{Key: "b"}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Delete(ctx, "a"), context.DeadlineExceeded)

	close(store.gate)
	require.NoError(t, p.Close())
}

func TestWriteBackReportsWorkerErrors(t *testing.T) {
	boom := errors.New("disk full")
	store := &recordingStore{failPut: boom}

	var (
		mu     sync.Mutex
		failed []string
	)
	p := NewWriteBackPolicy(store, 4, func(op, key string, err error) {
		mu.Lock()
		defer mu.Unlock()
		assert.ErrorIs(t, err, boom)
		failed = append(failed, op+":"+key)
	})

	require.NoError(t, p.Write(context.Background(), types.Record{Key: "a"}))
	require.NoError(t, p.Flush(context.Background()))

	mu.Lock()
	assert.Equal(t, []string{"put:a"}, failed)
	mu.Unlock()
	require.NoError(t, p.Close())
}

func TestWriteBackRejectsAfterClose(t *testing.T) {
	p := NewWriteBackPolicy(&recordingStore{}, 4, nil)
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())

	assert.ErrorIs(t, p.Write(context.Background(), types.Record{Key: "a"}), ErrClosed)
	assert.ErrorIs(t, p.Flush(context.Background()), ErrClosed)
}

func TestWriteBackLookupReflectsQueuedChanges(t *testing.T) {
	ctx := context.Background()
	store := &recordingStore{gate: make(chan struct{})}
	p := NewWriteBackPolicy(store, 8, nil)

	// The worker takes this put and parks on the gate; everything after stays queued.
	require.NoError(t, p.Write(ctx, types.Record{Key: "x"}))
	require.Eventually(t, func() bool { return len(p.ch) == 0 }, time.Second, time.Millisecond)

	_, _, pending := p.Lookup("untouched")
	assert.False(t, pending)

	require.NoError(t, p.Write(ctx, types.Record{Key: "a", Blob: []byte("1")}))
	rec, found, pending := p.Lookup("a")
	assert.True(t, pending)
	assert.True(t, found)
	assert.Equal(t, []byte("1"), rec.Blob)

	require.NoError(t, p.Delete(ctx, "a"))
	_, found, pending = p.Lookup("a")
	assert.True(t, pending)
	assert.False(t, found)

	require.NoError(t, p.Write(ctx, types.Record{Key: "b"}))
	require.NoError(t, p.Clear(ctx))
	_, found, pending = p.Lookup("b")
	assert.True(t, pending)
	assert.False(t, found, "a queued clear hides earlier puts")
	_, found, pending = p.Lookup("untouched")
	assert.True(t, pending)
	assert.False(t, found)

	require.NoError(t, p.Write(ctx, types.Record{Key: "c"}))
	_, found, _ = p.Lookup("c")
	assert.True(t, found, "puts after the clear are visible")

	close(store.gate)
	require.NoError(t, p.Flush(ctx))
	for _, k := range []string{"a", "b", "c", "untouched"} {
		_, _, pending = p.Lookup(k)
		assert.False(t, pending, k)
	}
	require.NoError(t, p.Close())
}

func TestWriteBackLookupForgetsRejectedDelete(t *testing.T) {
	store := &recordingStore{gate: make(chan struct{})}
	p := NewWriteBackPolicy(store, 1, nil)

	require.NoError(t, p.Write(context.Background(), types.Record{Key: "a"}))
	require.Eventually(t, func() bool { return len(p.ch) == 0 }, time.Second, time.Millisecond)
	require.NoError(t, p.Write(context.Background(), types.Record{Key: "b"}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, p.Delete(ctx, "z"))

	_, _, pending := p.Lookup("z")
	assert.False(t, pending)

	// The queued put of "b" is still what the store will hold.
	ctx2, cancel2 := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel2()
	require.Error(t, p.Delete(ctx2, "b"))
	_, found, pending := p.Lookup("b")
	assert.True(t, pending)
	assert.True(t, found)

	close(store.gate)
	require.NoError(t, p.Close())
}
