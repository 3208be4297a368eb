package dispatch

import (
	"context"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"replyguard/internal/config"
	"replyguard/internal/cooldown"
	"replyguard/internal/history"
	"replyguard/internal/metrics"
	"replyguard/internal/model"
	"replyguard/internal/schedule"
)

const dedupeWindow = time.Minute

type settings struct {
	schedule schedule.Schedule
	messages config.MessagesConfig
	intents  config.IntentsConfig
}

// Dispatcher turns normalized events into replies. It owns reply text and the
// business-hours choice; the gate only decides whether to speak.
type Dispatcher struct {
	gate     cooldown.Gate
	history  *history.Store
	logger   *slog.Logger
	clock    cooldown.Clock
	dedupe   *DedupeCache
	settings atomic.Pointer[settings]
}

func New(cfg *config.Config, gate cooldown.Gate, hist *history.Store, logger *slog.Logger) (*Dispatcher, error) {
	d := &Dispatcher{
		gate:    gate,
		history: hist,
		logger:  logger,
		clock:   cooldown.SystemClock,
		dedupe:  NewDedupeCache(0),
	}
	if err := d.UpdateConfig(cfg); err != nil {
		return nil, err
	}
	return d, nil
}

// WithClock replaces the dispatcher's time source.
func (d *Dispatcher) WithClock(clock cooldown.Clock) *Dispatcher {
	d.clock = clock
	return d
}

// UpdateConfig swaps messages, intents and schedule. The gate is untouched.
func (d *Dispatcher) UpdateConfig(cfg *config.Config) error {
	sched, err := schedule.FromConfig(cfg.Schedule)
	if err != nil {
		return err
	}
	d.settings.Store(&settings{
		schedule: sched,
		messages: cfg.Messages,
		intents:  cfg.Intents,
	})
	return nil
}

func (d *Dispatcher) Intents() config.IntentsConfig {
	return d.settings.Load().intents
}

func (d *Dispatcher) Handle(ctx context.Context, ev model.InboundEvent) model.Reply {
	now := d.clock()
	reply := model.Reply{UserID: ev.UserID}
	if ev.ID != "" && d.dedupe.Seen(ev.Source+"|"+ev.ID, now, dedupeWindow) {
		metrics.DroppedEvents.WithLabelValues(ev.Source, "duplicate").Inc()
		if d.logger != nil {
			d.logger.Debug("duplicate delivery dropped", "event_id", ev.ID, "source", ev.Source)
		}
		return reply
	}

	s := d.settings.Load()
	switch ev.Action {
	case model.ActionFallback:
		reply.Decision = d.gate.Evaluate(ctx, ev.UserID, false)
		if reply.Decision.CanSend {
			reply.Text = s.fallbackText(now)
		}
	case model.ActionReset:
		reply.Decision = d.gate.Evaluate(ctx, ev.UserID, true)
		if reply.Decision.CanSend {
			reply.Text = s.messages.ResetAck
			if reply.Text == "" {
				reply.Text = s.fallbackText(now)
			}
		}
	default:
		metrics.Replies.WithLabelValues(ev.Source, "false").Inc()
		return reply
	}

	replied := reply.Text != ""
	metrics.Replies.WithLabelValues(ev.Source, strconv.FormatBool(replied)).Inc()
	if d.history != nil {
		d.history.Add(model.DecisionEvent{
			Timestamp:  now,
			EventID:    ev.ID,
			UserID:     ev.UserID,
			Action:     ev.Action,
			Source:     ev.Source,
			CanSend:    reply.Decision.CanSend,
			Degraded:   reply.Decision.Degraded,
			TimeLeftMS: reply.Decision.TimeLeft.Milliseconds(),
			Replied:    replied,
		})
	}
	if d.logger != nil {
		d.logger.Info("event dispatched",
			"user_id", ev.UserID,
			"action", ev.Action,
			"source", ev.Source,
			"can_send", reply.Decision.CanSend,
			"degraded", reply.Decision.Degraded,
			"time_left_ms", reply.Decision.TimeLeft.Milliseconds(),
		)
	}
	return reply
}

func (s *settings) fallbackText(now time.Time) string {
	if s.schedule.IsOpen(now) {
		return s.messages.FallbackOpen
	}
	return s.messages.FallbackClosed
}
