package ingest

import (
	"context"
	"log/slog"
	"time"

	"replyguard/internal/config"
	"replyguard/internal/metrics"
	"replyguard/internal/model"
)

// Handler is the dispatcher as seen by transports.
type Handler interface {
	Handle(ctx context.Context, ev model.InboundEvent) model.Reply
	Intents() config.IntentsConfig
}

func SendNonBlocking(ctx context.Context, out chan<- model.InboundEvent, ev model.InboundEvent, logger *slog.Logger) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	default:
		metrics.DroppedEvents.WithLabelValues(ev.Source, "queue_full").Inc()
		if logger != nil {
			logger.Warn("event channel full, dropping event", "user_id", ev.UserID, "event_id", ev.ID)
		}
		return false
	}
}

func BackoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
