package volatile

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krisalay/tiered-cache/types"
)

func entry(key string, value string, size int64) *types.CacheEntry[string] {
	return &types.CacheEntry[string]{
		Header: types.Header{Key: key, Timestamp: time.Now(), Size: size},
		Value:  value,
	}
}

func TestSegmentCount(t *testing.T) {
	assert.Equal(t, 1, segmentCount(0))
	assert.Equal(t, 1, segmentCount(1))
	assert.Equal(t, 4, segmentCount(3))
	assert.Equal(t, 16, segmentCount(16))
	assert.Equal(t, 32, segmentCount(17))

	for _, k := range []string{"a", "b", "some-long-key"} {
		idx := selectSegment(k, 8)
		assert.GreaterOrEqual(t, idx, 0)
		assert.Less(t, idx, 8)
	}
}

func TestStorePutGetReplace(t *testing.T) {
	s := New[string](4)

	assert.Nil(t, s.Put(entry("k", "v1", 10)))
	got, ok := s.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v1", got.Value)
	assert.Equal(t, 1, s.Len())
	assert.EqualValues(t, 10, s.Bytes())

	prev := s.Put(entry("k", "v2", 25))
	require.NotNil(t, prev)
	assert.Equal(t, "v1", prev.Value)
	assert.Equal(t, 1, s.Len())
	assert.EqualValues(t, 25, s.Bytes())

	_, ok = s.Get("missing")
	assert.False(t, ok)
}

func TestStoreDelete(t *testing.T) {
	s := New[string](2)
	for i := 0; i < 10; i++ {
		s.Put(entry(fmt.Sprintf("k%d", i), "v", 5))
	}

	removed := s.Delete("k1", "k2", "k2", "nope")
	assert.Len(t, removed, 2)
	assert.Equal(t, 8, s.Len())
	assert.EqualValues(t, 40, s.Bytes())

	assert.Nil(t, s.Delete())
	assert.Empty(t, s.Delete("nope"))
}

func TestStoreRangeAndClear(t *testing.T) {
	s := New[string](0)
	for i := 0; i < 20; i++ {
		s.Put(entry(fmt.Sprintf("k%d", i), "v", 1))
	}

	seen := 0
	s.Range(func(*types.CacheEntry[string]) bool {
		seen++
		return true
	})
	assert.Equal(t, 20, seen)

	seen = 0
	s.Range(func(*types.CacheEntry[string]) bool {
		seen++
		return seen < 3
	})
	assert.Equal(t, 3, seen)

	s.Clear()
	assert.Equal(t, 0, s.Len())
	assert.EqualValues(t, 0, s.Bytes())
}

func TestStoreReadsDuringWrites(t *testing.T) {
	s := New[string](4)
	s.Put(entry("stable", "v", 1))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		// single writer, as the cache guarantees
		for i := 0; i < 500; i++ {
			s.Put(entry(fmt.Sprintf("k%d", i), "v", 1))
		}
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				got, ok := s.Get("stable")
				if !ok || got.Value != "v" {
					t.Errorf("stable key lost during concurrent writes")
					return
				}
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 501, s.Len())
}
