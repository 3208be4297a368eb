package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"replyguard/internal/model"
)

const redisStatusKey = "status/" + statusID

// redisStore keeps each record as a hash under users/<userId>.
type redisStore struct {
	client *redis.Client
}

func NewRedis(dsn string) (Store, error) {
	opt, err := redis.ParseURL(dsn)
	if err != nil {
		return nil, fmt.Errorf("could not configure redis store: %w", err)
	}
	return &redisStore{client: redis.NewClient(opt)}, nil
}

// NewRedisClient wraps an existing client.
func NewRedisClient(client *redis.Client) Store {
	return &redisStore{client: client}
}

func (s *redisStore) Init(ctx context.Context) error {
	// check redis connection
	if _, err := s.client.Ping(ctx).Result(); err != nil {
		return Classify(fmt.Errorf("could not connect to redis store: %w", err))
	}
	return nil
}

func (s *redisStore) Close() error {
	return s.client.Close()
}

func (s *redisStore) GetCooldown(ctx context.Context, userID string) (*model.CooldownRecord, error) {
	key := UserKey(userID)
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, Classify(fmt.Errorf("get %s: %w", key, err))
	}
	if len(vals) == 0 {
		return nil, nil
	}
	rec := &model.CooldownRecord{
		UserID:             userID,
		LastFallbackTime:   fromMillis(parseInt(vals["lastFallbackTime"])),
		LastUpdated:        vals["lastUpdated"],
		CooldownResetCount: parseInt(vals["cooldownResetCount"]),
		TotalFallbacks:     parseInt(vals["totalFallbacks"]),
	}
	return rec, nil
}

func (s *redisStore) SetCooldown(ctx context.Context, rec model.CooldownRecord) error {
	key := UserKey(rec.UserID)
	err := s.client.HSet(ctx, key, map[string]any{
		"userId":             rec.UserID,
		"lastFallbackTime":   rec.LastFallbackTime.UnixMilli(),
		"lastUpdated":        rec.LastUpdated,
		"cooldownResetCount": rec.CooldownResetCount,
		"totalFallbacks":     rec.TotalFallbacks,
	}).Err()
	if err != nil {
		return Classify(fmt.Errorf("set %s: %w", key, err))
	}
	return nil
}

func (s *redisStore) SaveStatus(ctx context.Context, status model.ServiceStatus) error {
	fields := map[string]any{}
	if status.Status != "" {
		fields["status"] = status.Status
	}
	if !status.LastConnection.IsZero() {
		fields["lastConnection"] = status.LastConnection.UnixMilli()
	}
	if !status.LastShutdown.IsZero() {
		fields["lastShutdown"] = status.LastShutdown.UnixMilli()
	}
	if status.ErrorRecord != "" {
		fields["errorRecord"] = status.ErrorRecord
	}
	if len(fields) == 0 {
		return nil
	}
	if err := s.client.HSet(ctx, redisStatusKey, fields).Err(); err != nil {
		return Classify(fmt.Errorf("save status: %w", err))
	}
	return nil
}

func (s *redisStore) GetStatus(ctx context.Context) (*model.ServiceStatus, error) {
	vals, err := s.client.HGetAll(ctx, redisStatusKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, Classify(fmt.Errorf("get status: %w", err))
	}
	if len(vals) == 0 {
		return nil, nil
	}
	return &model.ServiceStatus{
		Status:         vals["status"],
		LastConnection: fromMillis(parseInt(vals["lastConnection"])),
		LastShutdown:   fromMillis(parseInt(vals["lastShutdown"])),
		ErrorRecord:    vals["errorRecord"],
	}, nil
}

func parseInt(s string) int64 {
	v, _ := strconv.ParseInt(s, 10, 64)
	return v
}

func redisPermissionDenied(err error) bool {
	var rerr redis.Error
	if !errors.As(err, &rerr) {
		return false
	}
	msg := rerr.Error()
	return strings.HasPrefix(msg, "NOPERM") || strings.HasPrefix(msg, "NOAUTH") || strings.HasPrefix(msg, "WRONGPASS")
}
