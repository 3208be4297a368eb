package cooldown

import (
	"context"
	"log/slog"
	"time"

	"replyguard/internal/metrics"
)

// Evictor bounds cache memory. Rate-limit correctness never depends on when it runs.
type Evictor struct {
	cache    Cache
	interval time.Duration
	maxAge   time.Duration
	clock    Clock
	logger   *slog.Logger
}

func NewEvictor(cache Cache, interval, maxAge time.Duration, clock Clock, logger *slog.Logger) *Evictor {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if maxAge <= 0 {
		maxAge = 10 * time.Minute
	}
	if clock == nil {
		clock = SystemClock
	}
	return &Evictor{cache: cache, interval: interval, maxAge: maxAge, clock: clock, logger: logger}
}

func (e *Evictor) Interval() time.Duration { return e.interval }

func (e *Evictor) MaxAge() time.Duration { return e.maxAge }

// Run sweeps on every tick until ctx is done.
func (e *Evictor) Run(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			e.SweepNow()
		case <-ctx.Done():
			return
		}
	}
}

func (e *Evictor) SweepNow() int {
	removed := e.cache.Sweep(e.clock(), e.maxAge)
	size := e.cache.Len()
	metrics.Evictions.Add(float64(removed))
	metrics.CacheSize.Set(float64(size))
	if e.logger != nil && removed > 0 {
		e.logger.Debug("cooldown cache swept", "removed", removed, "remaining", size)
	}
	return removed
}
