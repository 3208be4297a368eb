package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Decision outcomes.
const (
	OutcomeAllowed      = "allowed"
	OutcomeReset        = "reset"
	OutcomeBlockedCache = "blocked_cache"
	OutcomeBlockedStore = "blocked_store"
	OutcomeDegraded     = "degraded"
	OutcomeCoalesced    = "coalesced"
)

var Decisions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "replyguard_cooldown_decisions_total",
	Help: "Number of cooldown evaluations by outcome",
}, []string{"outcome"})

var CacheHits = promauto.NewCounter(prometheus.CounterOpts{
	Name: "replyguard_cooldown_cache_hits_total",
	Help: "Number of evaluations answered from the in-memory cache",
})

var CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
	Name: "replyguard_cooldown_cache_misses_total",
	Help: "Number of evaluations that had to consult the persistent store",
})

var StoreErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "replyguard_cooldown_store_errors_total",
	Help: "Number of failed persistent store calls by operation and kind",
}, []string{"op", "kind"})

var Evictions = promauto.NewCounter(prometheus.CounterOpts{
	Name: "replyguard_cooldown_cache_evictions_total",
	Help: "Number of cache entries removed by sweeps",
})

var CacheSize = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "replyguard_cooldown_cache_entries",
	Help: "Number of entries currently held in the cooldown cache",
})

var Replies = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "replyguard_replies_total",
	Help: "Number of inbound events by source and whether a reply was produced",
}, []string{"source", "replied"})

var DroppedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "replyguard_dropped_events_total",
	Help: "Number of inbound events dropped before dispatch",
}, []string{"source", "reason"})
