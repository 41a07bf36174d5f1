package refresh

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/krisalay/tiered-cache/types"
)

// Func asks the origin for a fresh copy of key and stores it.
type Func func(ctx context.Context, key string) error

// Options tune AheadOfExpiry. Zero values pick the defaults below.
type Options struct {
	// Window is the fraction of the TTL that may remain before a read
	// triggers a refresh. Default 0.2.
	Window float64

	// Rate and Burst bound origin traffic caused by refreshes. Default 10/s, burst 10.
	Rate  rate.Limit
	Burst int

	// Timeout bounds each refresh call. Default 10s.
	Timeout time.Duration

	Logger  logrus.FieldLogger
	Metrics types.Metrics
}

/*
AheadOfExpiry refreshes entries that are still valid but close to expiring,
so that a client that goes offline later still holds recent content.

Refreshes run in the background. Concurrent reads of the same key share one
refresh, and the limiter drops refreshes beyond the configured rate.
Entries without a TTL are never refreshed.
*/
type AheadOfExpiry struct {
	fn      Func
	opts    Options
	limiter *rate.Limiter

	inflight sync.Map // key -> struct{}
	wg       sync.WaitGroup
}

var _ Hook = (*AheadOfExpiry)(nil)

func NewAheadOfExpiry(fn Func, opts Options) *AheadOfExpiry {
	if opts.Window <= 0 || opts.Window > 1 {
		opts.Window = 0.2
	}
	if opts.Rate <= 0 {
		opts.Rate = 10
	}
	if opts.Burst <= 0 {
		opts.Burst = 10
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = types.NoopMetrics{}
	}
	return &AheadOfExpiry{
		fn:      fn,
		opts:    opts,
		limiter: rate.NewLimiter(opts.Rate, opts.Burst),
	}
}

// Due reports whether h is inside the refresh window at now.
func (a *AheadOfExpiry) Due(h *types.Header, now time.Time) bool {
	if h.TTL <= 0 {
		return false
	}
	remaining := h.TTL - now.Sub(h.Timestamp)
	return remaining >= 0 && float64(remaining) <= a.opts.Window*float64(h.TTL)
}

func (a *AheadOfExpiry) OnRead(h *types.Header, now time.Time) {
	if !a.Due(h, now) {
		return
	}

	key := h.Key
	if _, busy := a.inflight.LoadOrStore(key, struct{}{}); busy {
		return
	}
	if !a.limiter.Allow() {
		a.inflight.Delete(key)
		return
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.inflight.Delete(key)

		ctx, cancel := context.WithTimeout(context.Background(), a.opts.Timeout)
		defer cancel()

		a.opts.Metrics.Refresh()
		if err := a.fn(ctx, key); err != nil {
			a.opts.Logger.WithFields(logrus.Fields{"key": key, "error": err}).Warn("refresh failed")
		}
	}()
}

// Wait blocks until background refreshes have finished.
func (a *AheadOfExpiry) Wait() {
	a.wg.Wait()
}
