package cache

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/krisalay/tiered-cache/eviction"
	"github.com/krisalay/tiered-cache/expiration"
	"github.com/krisalay/tiered-cache/refresh"
	"github.com/krisalay/tiered-cache/types"
	"github.com/krisalay/tiered-cache/volatile"
	"github.com/krisalay/tiered-cache/writepolicy"
)

// Config holds the tunables of a TieredCache.
type Config struct {
	// Namespace isolates this cache's persisted data. Used for logging here;
	// durable stores receive it from their own constructors.
	Namespace string

	// MemoryCeiling is the volatile tier budget in estimated bytes.
	// Zero disables eviction.
	MemoryCeiling int64

	// EvictionFraction is the share of entries removed per eviction pass.
	EvictionFraction float64

	EvictionPolicy eviction.PolicyType

	// PropagateEvictions also deletes evicted keys from the durable tier.
	// Off by default: the durable tier keeps them for offline reads.
	PropagateEvictions bool

	WriteMode   writepolicy.Mode
	WriteBuffer int

	// Segments is the number of volatile tier segments.
	Segments int

	Expiration expiration.Strategy
	Refresh    refresh.Hook
	Metrics    types.Metrics
	Logger     logrus.FieldLogger
}

// DefaultConfig returns a 64 MiB write-through cache with oldest-write eviction.
func DefaultConfig() Config {
	return Config{
		Namespace:        "default",
		MemoryCeiling:    64 << 20,
		EvictionFraction: eviction.DefaultFraction,
		EvictionPolicy:   eviction.OldestWrite,
		WriteMode:        writepolicy.WriteThrough,
		WriteBuffer:      1024,
		Segments:         volatile.DefaultSegments,
	}
}

func (c Config) validate() error {
	if c.MemoryCeiling < 0 {
		return fmt.Errorf("memory ceiling must not be negative, got %d", c.MemoryCeiling)
	}
	if c.EvictionFraction < 0 || c.EvictionFraction > 1 {
		return fmt.Errorf("eviction fraction must be within [0, 1], got %v", c.EvictionFraction)
	}
	switch c.WriteMode {
	case "", writepolicy.WriteThrough, writepolicy.WriteBack:
	default:
		return fmt.Errorf("unknown write mode %q", c.WriteMode)
	}
	return nil
}
