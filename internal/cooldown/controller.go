package cooldown

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"replyguard/internal/metrics"
	"replyguard/internal/model"
	"replyguard/internal/storage"
)

const (
	DefaultWindow       = 5 * time.Minute
	DefaultStoreTimeout = 3 * time.Second

	lastUpdatedLayout = "2006-01-02 15:04:05"
)

// Store is the authoritative tier. GetCooldown returns nil, nil when the user
// has no record yet.
type Store interface {
	GetCooldown(ctx context.Context, userID string) (*model.CooldownRecord, error)
	SetCooldown(ctx context.Context, rec model.CooldownRecord) error
}

// Gate decides whether a reply may be sent to userID now. It never fails:
// store errors come back as a permitted, degraded decision.
type Gate interface {
	Evaluate(ctx context.Context, userID string, forceReset bool) model.Decision
}

type Options struct {
	Window       time.Duration
	StoreTimeout time.Duration
	// Location renders CooldownRecord.LastUpdated.
	Location *time.Location
	// Coalesce funnels concurrent non-reset evaluations of one user through a
	// single store round trip; only the caller that ran it may send.
	Coalesce bool
	Clock    Clock
	Logger   *slog.Logger
}

type Controller struct {
	store  Store
	cache  Cache
	opts   Options
	flight singleflight.Group
}

var _ Gate = (*Controller)(nil)

func NewController(store Store, cache Cache, opts Options) *Controller {
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = DefaultStoreTimeout
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock
	}
	return &Controller{store: store, cache: cache, opts: opts}
}

func (c *Controller) Window() time.Duration {
	return c.opts.Window
}

func (c *Controller) StoreTimeout() time.Duration {
	return c.opts.StoreTimeout
}

func (c *Controller) Coalescing() bool {
	return c.opts.Coalesce
}

func (c *Controller) Cache() Cache {
	return c.cache
}

// Evaluate runs the cache-first, store-second cooldown check for userID.
// forceReset skips both the cache and the window and always writes the store.
// Store calls are bounded by StoreTimeout and are not aborted when ctx is
// cancelled.
func (c *Controller) Evaluate(ctx context.Context, userID string, forceReset bool) model.Decision {
	if ctx == nil {
		ctx = context.Background()
	}
	// every reset writes the store, so resets are never shared
	if !c.opts.Coalesce || forceReset {
		return c.evaluate(ctx, userID, forceReset)
	}
	ran := false
	v, _, _ := c.flight.Do(userID, func() (any, error) {
		ran = true
		return c.evaluate(ctx, userID, false), nil
	})
	d := v.(model.Decision)
	if !ran && d.CanSend && !d.Degraded {
		metrics.Decisions.WithLabelValues(metrics.OutcomeCoalesced).Inc()
		return model.Decision{
			CanSend:  false,
			LastTime: d.LastTime,
			TimeLeft: c.remaining(c.opts.Clock(), d.LastTime),
		}
	}
	return d
}

func (c *Controller) evaluate(ctx context.Context, userID string, forceReset bool) model.Decision {
	now := c.opts.Clock()

	if !forceReset {
		if entry, ok := c.cache.Get(userID); ok {
			if left := c.remaining(now, entry.Timestamp); left > 0 {
				metrics.CacheHits.Inc()
				metrics.Decisions.WithLabelValues(metrics.OutcomeBlockedCache).Inc()
				return model.Decision{CanSend: false, LastTime: entry.Timestamp, TimeLeft: left}
			}
		}
	}
	metrics.CacheMisses.Inc()

	var rec *model.CooldownRecord
	err := c.call(ctx, func(ctx context.Context) error {
		var err error
		rec, err = c.store.GetCooldown(ctx, userID)
		return err
	})
	if err != nil {
		return c.failOpen(userID, "get", err)
	}
	if rec == nil {
		rec = &model.CooldownRecord{UserID: userID}
	}

	if !forceReset && !rec.LastFallbackTime.IsZero() {
		if left := c.remaining(now, rec.LastFallbackTime); left > 0 {
			c.cache.Put(userID, model.CacheEntry{Timestamp: rec.LastFallbackTime, LastUpdated: now})
			metrics.Decisions.WithLabelValues(metrics.OutcomeBlockedStore).Inc()
			return model.Decision{CanSend: false, LastTime: rec.LastFallbackTime, TimeLeft: left}
		}
	}

	next := *rec
	next.UserID = userID
	next.LastFallbackTime = now
	next.LastUpdated = now.In(c.opts.Location).Format(lastUpdatedLayout)
	next.TotalFallbacks++
	if forceReset {
		next.CooldownResetCount++
	}
	err = c.call(ctx, func(ctx context.Context) error {
		return c.store.SetCooldown(ctx, next)
	})
	if err != nil {
		return c.failOpen(userID, "set", err)
	}
	c.cache.Put(userID, model.CacheEntry{Timestamp: now, LastUpdated: now})

	outcome := metrics.OutcomeAllowed
	if forceReset {
		outcome = metrics.OutcomeReset
	}
	metrics.Decisions.WithLabelValues(outcome).Inc()
	if c.opts.Logger != nil {
		c.opts.Logger.Debug("cooldown reply permitted",
			"user_id", userID,
			"force_reset", forceReset,
			"total_fallbacks", next.TotalFallbacks,
			"cooldown_reset_count", next.CooldownResetCount,
		)
	}
	return model.Decision{CanSend: true, LastTime: now}
}

// call bounds fn by StoreTimeout on a context detached from the caller. On
// timeout fn keeps running in the background and its result is discarded.
func (c *Controller) call(ctx context.Context, fn func(context.Context) error) error {
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.StoreTimeout)
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- fn(callCtx)
	}()
	select {
	case err := <-done:
		return storage.Classify(err)
	case <-callCtx.Done():
		return storage.Classify(callCtx.Err())
	}
}

func (c *Controller) failOpen(userID, op string, err error) model.Decision {
	kind := storage.KindOf(err)
	metrics.StoreErrors.WithLabelValues(op, kind).Inc()
	metrics.Decisions.WithLabelValues(metrics.OutcomeDegraded).Inc()
	if c.opts.Logger != nil {
		c.opts.Logger.Warn("cooldown store failed, allowing reply",
			"user_id", userID,
			"op", op,
			"kind", kind,
			"err", err,
		)
	}
	return model.Decision{CanSend: true, Degraded: true}
}

// remaining is how much of the window is left after since, clamped to [0, window].
func (c *Controller) remaining(now, since time.Time) time.Duration {
	if since.IsZero() {
		return 0
	}
	elapsed := now.Sub(since)
	if elapsed < 0 {
		elapsed = 0
	}
	left := c.opts.Window - elapsed
	if left < 0 {
		return 0
	}
	return left
}
