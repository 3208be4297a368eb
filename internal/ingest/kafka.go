package ingest

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"replyguard/internal/config"
	"replyguard/internal/metrics"
	"replyguard/internal/model"
	"replyguard/internal/normalize"
)

const sourceKafka = "kafka"

// Publisher is the subset of *kafka.Writer the bridge needs.
type Publisher interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// OutboundReply is what the bridge publishes to the reply topic.
type OutboundReply struct {
	EventID  string `json:"event_id,omitempty"`
	UserID   string `json:"user_id"`
	Text     string `json:"text"`
	Degraded bool   `json:"degraded,omitempty"`
}

// StartKafka runs the bridge until ctx is done. The returned channel closes
// once queued events have been dispatched.
func StartKafka(ctx context.Context, cfg *config.Manager, handler Handler, logger *slog.Logger) <-chan struct{} {
	done := make(chan struct{})
	current := cfg.Get().Kafka
	if !current.Enabled {
		if logger != nil {
			logger.Info("kafka bridge disabled")
		}
		close(done)
		return done
	}
	if logger != nil {
		logger.Info("kafka bridge enabled", "brokers", current.Brokers, "topic", current.Topic, "group_id", current.GroupID, "reply_topic", current.ReplyTopic)
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  current.Brokers,
		Topic:    current.Topic,
		GroupID:  current.GroupID,
		MinBytes: 1e3,
		MaxBytes: 10e6,
	})
	var publisher Publisher
	var writer *kafka.Writer
	if current.ReplyTopic != "" {
		writer = &kafka.Writer{
			Addr:         kafka.TCP(current.Brokers...),
			Topic:        current.ReplyTopic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
		}
		publisher = writer
	}

	events := make(chan model.InboundEvent, current.ChannelBuffer)
	go func() {
		defer close(events)
		defer reader.Close()
		for {
			m, err := reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if logger != nil {
					logger.Warn("kafka read error", "err", err)
				}
				if !BackoffSleep(ctx, time.Second) {
					return
				}
				continue
			}
			ev, ok := decodeMessage(m.Value, handler.Intents(), time.Now().UTC(), logger)
			if !ok {
				continue
			}
			SendNonBlocking(ctx, events, ev, logger)
		}
	}()
	go func() {
		defer close(done)
		if writer != nil {
			defer writer.Close()
		}
		RunReplies(ctx, events, handler, publisher, logger)
	}()
	return done
}

// RunReplies dispatches queued events and publishes any non-empty reply,
// keyed by user id so one user's replies stay ordered on a partition.
func RunReplies(ctx context.Context, events <-chan model.InboundEvent, handler Handler, publisher Publisher, logger *slog.Logger) {
	for ev := range events {
		reply := handler.Handle(ctx, ev)
		if reply.Text == "" || publisher == nil {
			continue
		}
		payload, err := json.Marshal(OutboundReply{
			EventID:  ev.ID,
			UserID:   reply.UserID,
			Text:     reply.Text,
			Degraded: reply.Decision.Degraded,
		})
		if err != nil {
			continue
		}
		err = publisher.WriteMessages(ctx, kafka.Message{Key: []byte(reply.UserID), Value: payload})
		if err != nil && logger != nil {
			logger.Error("kafka reply publish failed", "user_id", reply.UserID, "err", err)
		}
	}
}

func decodeMessage(value []byte, intents config.IntentsConfig, now time.Time, logger *slog.Logger) (model.InboundEvent, bool) {
	fields, err := ParseJSONBytes(value)
	if err != nil {
		metrics.DroppedEvents.WithLabelValues(sourceKafka, "decode").Inc()
		if logger != nil {
			logger.Warn("kafka decode error", "err", err)
		}
		return model.InboundEvent{}, false
	}
	fields.Source = sourceKafka
	ev, err := normalize.Normalize(*fields, intents, now)
	if err != nil {
		metrics.DroppedEvents.WithLabelValues(sourceKafka, "normalize").Inc()
		if logger != nil {
			logger.Warn("kafka normalize error", "err", err)
		}
		return model.InboundEvent{}, false
	}
	return ev, true
}
