// Package metrics exports cache events to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/krisalay/tiered-cache/types"
)

// Prometheus implements types.Metrics with counters labelled by namespace.
type Prometheus struct {
	hits          *prometheus.CounterVec
	misses        prometheus.Counter
	evictions     prometheus.Counter
	expirations   prometheus.Counter
	promotions    prometheus.Counter
	durableErrors *prometheus.CounterVec
	refreshes     prometheus.Counter
}

var _ types.Metrics = (*Prometheus)(nil)

// NewPrometheus registers the cache counters with reg. A nil reg uses the
// default registerer.
func NewPrometheus(reg prometheus.Registerer, namespace string) (*Prometheus, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	constLabels := prometheus.Labels{"cache": namespace}

	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "tiercache",
			Name:        name,
			Help:        help,
			ConstLabels: constLabels,
		})
	}

	p := &Prometheus{
		hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "tiercache",
			Name:        "hits_total",
			Help:        "Lookups served, by tier.",
			ConstLabels: constLabels,
		}, []string{"tier"}),
		misses:      counter("misses_total", "Lookups that found no live entry in either tier."),
		evictions:   counter("evictions_total", "Entries removed from the volatile tier for memory pressure."),
		expirations: counter("expirations_total", "Entries removed because their TTL elapsed."),
		promotions:  counter("promotions_total", "Durable hits copied into the volatile tier."),
		durableErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "tiercache",
			Name:        "durable_errors_total",
			Help:        "Durable operations that failed and were absorbed, by operation.",
			ConstLabels: constLabels,
		}, []string{"op"}),
		refreshes: counter("refreshes_total", "Background refreshes started."),
	}

	for _, c := range []prometheus.Collector{
		p.hits, p.misses, p.evictions, p.expirations, p.promotions, p.durableErrors, p.refreshes,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Prometheus) Hit(tier types.Tier)    { p.hits.WithLabelValues(string(tier)).Inc() }
func (p *Prometheus) Miss()                  { p.misses.Inc() }
func (p *Prometheus) Eviction()              { p.evictions.Inc() }
func (p *Prometheus) Expire()                { p.expirations.Inc() }
func (p *Prometheus) Promotion()             { p.promotions.Inc() }
func (p *Prometheus) DurableError(op string) { p.durableErrors.WithLabelValues(op).Inc() }
func (p *Prometheus) Refresh()               { p.refreshes.Inc() }
