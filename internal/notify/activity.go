package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisActivitySink appends activity records to a redis stream, one entry per
// participant event. A telemetry consumer drains the stream elsewhere.
type RedisActivitySink struct {
	redis  redis.UniversalClient
	stream string
}

func NewRedisActivitySink(rc redis.UniversalClient, stream string) *RedisActivitySink {
	return &RedisActivitySink{redis: rc, stream: stream}
}

func (s *RedisActivitySink) Record(ctx context.Context, eventName, userID string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("activity: marshal %s: %v", eventName, err)
	}

	err = s.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]any{
			"event":   eventName,
			"user_id": userID,
			"payload": b,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("activity: record %s for user %s: %w", eventName, userID, err)
	}
	return nil
}
