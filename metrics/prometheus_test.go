package metrics

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cache "github.com/krisalay/tiered-cache"
	"github.com/krisalay/tiered-cache/durable/memory"
	"github.com/krisalay/tiered-cache/types"
)

func TestPrometheusCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	p, err := NewPrometheus(reg, "test")
	require.NoError(t, err)

	p.Hit(types.TierVolatile)
	p.Hit(types.TierVolatile)
	p.Hit(types.TierDurable)
	p.Miss()
	p.DurableError("put")

	assert.Equal(t, 2.0, testutil.ToFloat64(p.hits.WithLabelValues("volatile")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.hits.WithLabelValues("durable")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.misses))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.durableErrors.WithLabelValues("put")))
}

func TestPrometheusDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewPrometheus(reg, "test")
	require.NoError(t, err)

	_, err = NewPrometheus(reg, "test")
	assert.Error(t, err)
}

func TestPrometheusWiredIntoCache(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	p, err := NewPrometheus(reg, "wired")
	require.NoError(t, err)

	cfg := cache.DefaultConfig()
	cfg.Metrics = p
	store := memory.New()
	c, err := cache.New[string](cfg, store, nil)
	require.NoError(t, err)
	require.NoError(t, c.Set(ctx, "a", "1"))
	require.NoError(t, c.Close())

	c, err = cache.New[string](cfg, store, nil)
	require.NoError(t, err)
	defer c.Close()

	c.Get(ctx, "a") // durable hit, promoted
	c.Get(ctx, "a") // volatile hit
	c.Get(ctx, "b")

	assert.Equal(t, 1.0, testutil.ToFloat64(p.hits.WithLabelValues("volatile")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.hits.WithLabelValues("durable")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.promotions))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.misses))
}
