package disk

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krisalay/tiered-cache/types"
)

func newTestStore(t *testing.T, fs afero.Fs, tweak ...func(*Options)) *Store {
	t.Helper()
	opts := Options{Dir: "/cache", Namespace: "test", Fs: fs}
	for _, fn := range tweak {
		fn(&opts)
	}
	s := New(opts)
	require.NoError(t, s.Open(context.Background()))
	return s
}

func record(key string, ts time.Time, blob []byte) types.Record {
	return types.Record{Key: key, Timestamp: ts, Blob: blob}
}

func TestDiskRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, afero.NewMemMapFs())

	now := time.Now()
	require.NoError(t, s.Put(ctx, types.Record{Key: "a", Timestamp: now, TTL: time.Minute, Blob: []byte("payload")}))

	rec, ok, err := s.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a", rec.Key)
	assert.Equal(t, []byte("payload"), rec.Blob)
	assert.Equal(t, time.Minute, rec.TTL)
	assert.True(t, rec.Timestamp.Equal(now))

	_, ok, err = s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Delete(ctx, "a"))
	require.NoError(t, s.Delete(ctx, "a"))
	_, ok, _ = s.Get(ctx, "a")
	assert.False(t, ok)
	assert.Equal(t, int64(0), s.Size())
}

func TestDiskUnavailableWithoutDir(t *testing.T) {
	s := New(Options{Fs: afero.NewMemMapFs()})
	assert.ErrorIs(t, s.Open(context.Background()), types.ErrUnavailable)

	_, _, err := s.Get(context.Background(), "a")
	assert.ErrorIs(t, err, types.ErrUnavailable)
}

func TestDiskReadOnlyFsIsUnavailable(t *testing.T) {
	s := New(Options{Dir: "/cache", Fs: afero.NewReadOnlyFs(afero.NewMemMapFs())})
	assert.ErrorIs(t, s.Open(context.Background()), types.ErrUnavailable)
}

func TestDiskSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()

	s := newTestStore(t, fs)
	require.NoError(t, s.Put(ctx, record("a", time.Now(), []byte("1"))))
	require.NoError(t, s.Close())

	s = newTestStore(t, fs)
	rec, ok, err := s.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("1"), rec.Blob)
}

func TestDiskRebuildsLostIndex(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()

	s := newTestStore(t, fs)
	require.NoError(t, s.Put(ctx, record("a", time.Now(), []byte("1"))))
	require.NoError(t, s.Put(ctx, record("b", time.Now(), []byte("2"))))
	// Simulate a crash: no Close, and a garbage index on disk.
	require.NoError(t, afero.WriteFile(fs, filepath.Join("/cache", "test", indexFile), []byte("junk"), 0o644))

	s = newTestStore(t, fs)
	assert.Equal(t, 2, s.Len())
	_, ok, err := s.Get(ctx, "b")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDiskFindsFilesWrittenAfterLastIndexSave(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	base := time.Now()

	s := newTestStore(t, fs)
	require.NoError(t, s.Put(ctx, record("old", base, []byte("1"))))
	require.NoError(t, s.Put(ctx, record("gone", base, []byte("2"))))
	require.NoError(t, s.Close())

	// Crash without Close: the saved index knows nothing of these changes.
	s = newTestStore(t, fs)
	require.NoError(t, s.Put(ctx, record("new", base.Add(time.Second), []byte("3"))))
	require.NoError(t, s.Put(ctx, record("old", base.Add(2*time.Second), []byte("rewritten"))))
	require.NoError(t, s.Delete(ctx, "gone"))

	s = newTestStore(t, fs)
	assert.Equal(t, 2, s.Len())

	rec, ok, err := s.Get(ctx, "new")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("3"), rec.Blob)

	rec, ok, err = s.Get(ctx, "old")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("rewritten"), rec.Blob)

	_, ok, err = s.Get(ctx, "gone")
	require.NoError(t, err)
	assert.False(t, ok)

	var want int64
	for _, key := range []string{"new", "old"} {
		fi, err := fs.Stat(filepath.Join("/cache", "test", fileName(key)))
		require.NoError(t, err)
		want += fi.Size()
	}
	assert.Equal(t, want, s.Size())
	assert.Equal(t, []string{"new", "old"}, s.Oldest(5))
}

func TestDiskOldest(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, afero.NewMemMapFs())
	base := time.Now()
	require.NoError(t, s.Put(ctx, record("c", base.Add(2*time.Second), []byte("3"))))
	require.NoError(t, s.Put(ctx, record("b", base, []byte("2"))))
	require.NoError(t, s.Put(ctx, record("a", base, []byte("1"))))

	assert.Equal(t, []string{"a", "b"}, s.Oldest(2))
	assert.Equal(t, []string{"a", "b", "c"}, s.Oldest(10))
	assert.Empty(t, s.Oldest(0))
}

func TestDiskCompression(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	s := newTestStore(t, fs, func(o *Options) { o.CompressionLevel = 3 })

	blob := bytes.Repeat([]byte("offline-first "), 1000)
	require.NoError(t, s.Put(ctx, record("big", time.Now(), blob)))
	assert.Less(t, s.Size(), int64(len(blob)))

	rec, ok, err := s.Get(ctx, "big")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, blob, rec.Blob)

	// Still readable once compression is switched off.
	require.NoError(t, s.Close())
	s = newTestStore(t, fs)
	rec, ok, err = s.Get(ctx, "big")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, blob, rec.Blob)
}

func TestDiskCapacityEvictsOldest(t *testing.T) {
	ctx := context.Background()
	sizer := newTestStore(t, afero.NewMemMapFs())
	base := time.Now()
	require.NoError(t, sizer.Put(ctx, record("k-0", base, make([]byte, 100))))
	one := sizer.Size()

	s := newTestStore(t, afero.NewMemMapFs(), func(o *Options) { o.Capacity = 3 * one })
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Put(ctx, record(fmt.Sprintf("k-%d", i), base.Add(time.Duration(i)*time.Second), make([]byte, 100))))
	}

	assert.Equal(t, 3, s.Len())
	for i, want := range []bool{false, false, true, true, true} {
		_, ok, err := s.Get(ctx, fmt.Sprintf("k-%d", i))
		require.NoError(t, err)
		assert.Equal(t, want, ok, "k-%d", i)
	}

	err := s.Put(ctx, record("huge", base, make([]byte, 10*int(one))))
	assert.ErrorIs(t, err, ErrItemTooLarge)
}

func TestDiskClearAndPurge(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, afero.NewMemMapFs())

	old := time.Now().Add(-time.Hour)
	require.NoError(t, s.Put(ctx, types.Record{Key: "stale", Timestamp: old, TTL: time.Minute, Blob: []byte("x")}))
	require.NoError(t, s.Put(ctx, types.Record{Key: "fresh", Timestamp: time.Now(), TTL: time.Hour, Blob: []byte("y")}))
	require.NoError(t, s.Put(ctx, types.Record{Key: "forever", Timestamp: old, Blob: []byte("z")}))

	assert.Equal(t, 1, s.PurgeExpired(time.Now()))
	assert.Equal(t, 2, s.Len())

	require.NoError(t, s.Clear(ctx))
	assert.Equal(t, 0, s.Len())
	assert.Equal(t, int64(0), s.Size())
}

func TestDiskNamespacesAreIsolated(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	a := newTestStore(t, fs, func(o *Options) { o.Namespace = "a" })
	b := newTestStore(t, fs, func(o *Options) { o.Namespace = "b" })

	require.NoError(t, a.Put(ctx, record("k", time.Now(), []byte("1"))))
	require.NoError(t, b.Clear(ctx))

	_, ok, err := a.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
}
