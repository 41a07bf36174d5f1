package types

// Tier names a storage layer of the cache.
type Tier string

const (
	TierVolatile Tier = "volatile"
	TierDurable  Tier = "durable"
)

/*
Metrics is how the cache reports what it is doing.
Each method is an event in the cache lifecycle; the cache calls them as things
happen. The hit/miss counters behind Stats() are kept by the cache itself, this
is only the outbound observability hook.
*/
type Metrics interface {

	// Hit is called when a lookup is served, with the tier that served it.
	Hit(tier Tier)

	// Miss is called when neither tier has a live entry.
	Miss()

	// Eviction is called once per entry removed for memory pressure.
	Eviction()

	// Expire is called when an entry is removed because its TTL elapsed.
	Expire()

	// Promotion is called when a durable hit is copied into the volatile tier.
	Promotion()

	// DurableError is called when a durable operation failed and was absorbed.
	DurableError(op string)

	// Refresh is called when a refresh hook asked the origin for a new value.
	Refresh()
}

// NoopMetrics ignores every event so the cache never needs nil checks.
type NoopMetrics struct{}

func (NoopMetrics) Hit(Tier)            {}
func (NoopMetrics) Miss()               {}
func (NoopMetrics) Eviction()           {}
func (NoopMetrics) Expire()             {}
func (NoopMetrics) Promotion()          {}
func (NoopMetrics) DurableError(string) {}
func (NoopMetrics) Refresh()            {}
