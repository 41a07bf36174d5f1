package refresh

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krisalay/tiered-cache/types"
)

func header(ttl, age time.Duration, now time.Time) *types.Header {
	return &types.Header{Key: "k", Timestamp: now.Add(-age), TTL: ttl}
}

func TestDue(t *testing.T) {
	a := NewAheadOfExpiry(func(context.Context, string) error { return nil }, Options{Window: 0.25})
	now := time.Now()

	assert.False(t, a.Due(header(0, time.Hour, now), now), "no ttl")
	assert.False(t, a.Due(header(time.Minute, 10*time.Second, now), now), "fresh")
	assert.True(t, a.Due(header(time.Minute, 50*time.Second, now), now), "inside window")
	assert.False(t, a.Due(header(time.Minute, 2*time.Minute, now), now), "already expired")
}

func TestOnReadRefreshesOncePerKey(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	a := NewAheadOfExpiry(func(context.Context, string) error {
		calls.Add(1)
		<-release
		return nil
	}, Options{Window: 0.5, Rate: 1000, Burst: 1000})

	now := time.Now()
	h := header(time.Minute, 45*time.Second, now)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.OnRead(h, now)
		}()
	}
	wg.Wait()
	close(release)
	a.Wait()

	assert.Equal(t, int32(1), calls.Load())
}

func TestOnReadIsRateLimited(t *testing.T) {
	var calls atomic.Int32
	a := NewAheadOfExpiry(func(context.Context, string) error {
		calls.Add(1)
		return nil
	}, Options{Window: 0.5, Rate: 0.001, Burst: 2})

	now := time.Now()
	for _, key := range []string{"a", "b", "c", "d"} {
		h := header(time.Minute, 45*time.Second, now)
		h.Key = key
		a.OnRead(h, now)
	}
	a.Wait()

	assert.Equal(t, int32(2), calls.Load())
}

func TestOnReadLogsFailures(t *testing.T) {
	logger, hook := test.NewNullLogger()
	a := NewAheadOfExpiry(func(context.Context, string) error {
		return errors.New("origin offline")
	}, Options{Window: 0.5, Logger: logger})

	now := time.Now()
	a.OnRead(header(time.Minute, 45*time.Second, now), now)
	a.Wait()

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.WarnLevel, entry.Level)
	assert.Equal(t, "k", entry.Data["key"])
}
