package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	cache "github.com/krisalay/tiered-cache"
	"github.com/krisalay/tiered-cache/codec"
	"github.com/krisalay/tiered-cache/durable/memory"
	"github.com/krisalay/tiered-cache/metrics"
	"github.com/krisalay/tiered-cache/refresh"
	"github.com/krisalay/tiered-cache/writepolicy"
)

// ================= ORIGIN =================

// origin stands in for the remote service the cache protects.
type origin struct {
	latency time.Duration
	calls   atomic.Int64
}

func (o *origin) Load(ctx context.Context, key string) (int, error) {
	o.calls.Add(1)
	select {
	case <-time.After(o.latency):
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	var n int
	_, err := fmt.Sscanf(key, "key-%d", &n)
	return n, err
}

// ================= BENCHMARK =================

func main() {
	var (
		keys       = flag.Int("keys", 100000, "distinct keys")
		goroutines = flag.Int("goroutines", 200, "concurrent readers")
		opsPerG    = flag.Int("ops", 5000, "lookups per goroutine")
		ceiling    = flag.String("ceiling", "8MiB", "memory tier ceiling")
		ttl        = flag.Duration("ttl", 2*time.Second, "entry TTL")
		latency    = flag.Duration("latency", time.Millisecond, "simulated origin latency")
	)
	flag.Parse()

	ctx := context.Background()

	ceilingBytes, err := humanize.ParseBytes(*ceiling)
	if err != nil {
		logrus.WithError(err).Fatal("bad --ceiling")
	}

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	reg := prometheus.NewRegistry()
	m, err := metrics.NewPrometheus(reg, "bench")
	if err != nil {
		logger.WithError(err).Fatal("register metrics")
	}

	src := &origin{latency: *latency}

	var c *cache.TieredCache[int]
	refresher := refresh.NewAheadOfExpiry(func(ctx context.Context, key string) error {
		return c.Reload(ctx, key, src.Load)
	}, refresh.Options{Window: 0.25, Rate: 2000, Burst: 200, Logger: logger, Metrics: m})

	cfg := cache.DefaultConfig()
	cfg.Namespace = "bench"
	cfg.MemoryCeiling = int64(ceilingBytes)
	cfg.WriteMode = writepolicy.WriteBack
	cfg.WriteBuffer = 4096
	cfg.Segments = 256
	cfg.Refresh = refresher
	cfg.Metrics = m
	cfg.Logger = logger

	c, err = cache.New[int](cfg, memory.New(), codec.JSON[int]{})
	if err != nil {
		logger.WithError(err).Fatal("build cache")
	}
	if err := c.Initialize(ctx); err != nil {
		logger.WithError(err).Warn("durable tier unavailable, running memory-only")
	}

	fmt.Println("\n================ CACHE LOAD BENCHMARK =================")
	fmt.Println("CONFIG")
	fmt.Println("---------------------------------")
	fmt.Println("Keys          :", *keys)
	fmt.Println("Goroutines    :", *goroutines)
	fmt.Println("Ops/Goroutine :", *opsPerG)
	fmt.Println("Ceiling       :", humanize.IBytes(ceilingBytes))
	fmt.Println("TTL           :", *ttl)
	fmt.Println("Origin latency:", *latency)
	fmt.Println("---------------------------------")

	// ---------------- Preload ----------------
	fmt.Println("Preloading cache...")
	items := make([]cache.Item[int], 0, *keys/2)
	for i := 0; i < *keys/2; i++ {
		items = append(items, cache.Item[int]{Key: fmt.Sprintf("key-%d", i), Value: i, TTL: *ttl})
	}
	if err := c.Preload(ctx, items); err != nil {
		logger.WithError(err).Warn("preload incomplete")
	}

	// ---------------- Load Test ----------------
	fmt.Println("Running concurrency benchmark...")
	var loadErrs atomic.Int64
	start := time.Now()

	var wg sync.WaitGroup
	wg.Add(*goroutines)
	for g := 0; g < *goroutines; g++ {
		go func(seed int64) {
			defer wg.Done()
			r := rand.New(rand.NewSource(seed))
			for j := 0; j < *opsPerG; j++ {
				key := fmt.Sprintf("key-%d", r.Intn(*keys))
				if _, err := c.GetOrLoad(ctx, key, src.Load, cache.WithTTL(*ttl)); err != nil {
					loadErrs.Add(1)
				}
			}
		}(int64(g))
	}
	wg.Wait()
	duration := time.Since(start)

	refresher.Wait()
	if err := c.Flush(ctx); err != nil {
		logger.WithError(err).Warn("flush")
	}

	totalOps := *goroutines * *opsPerG
	s := c.Stats()

	fmt.Println("\n================ RESULTS =================")
	fmt.Printf("Total Operations : %s\n", humanize.Comma(int64(totalOps)))
	fmt.Printf("Total Time       : %v\n", duration)
	fmt.Printf("Throughput       : %.2f ops/sec\n", float64(totalOps)/duration.Seconds())
	fmt.Printf("Hit Rate         : %.2f%%\n", c.HitRate())
	fmt.Printf("Origin Calls     : %s\n", humanize.Comma(src.calls.Load()))
	fmt.Printf("Load Errors      : %d\n", loadErrs.Load())
	fmt.Printf("Memory Entries   : %s (%s)\n", humanize.Comma(int64(s.TotalEntries)), humanize.IBytes(uint64(s.TotalSizeBytes)))
	fmt.Printf("Evictions        : %s\n", humanize.Comma(int64(s.Evictions)))
	fmt.Println("=========================================")

	printCounters(reg)

	if err := c.Close(); err != nil {
		logger.WithError(err).Error("close")
	}
}

func printCounters(reg *prometheus.Registry) {
	families, err := reg.Gather()
	if err != nil {
		logrus.WithError(err).Warn("gather metrics")
		return
	}
	fmt.Println("\n================ COUNTERS =================")
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			label := ""
			for _, lp := range metric.GetLabel() {
				if lp.GetName() != "cache" {
					label += fmt.Sprintf("{%s=%s}", lp.GetName(), lp.GetValue())
				}
			}
			fmt.Printf("%-45s %v\n", mf.GetName()+label, metric.GetCounter().GetValue())
		}
	}
}
