package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"licensegate/pkg/contracts/domain"
)

// DefaultStreamMaxLen caps the audit stream; XADD trims approximately.
const DefaultStreamMaxLen = 100_000

// Connect initializes a Redis client from URL or host:port input.
func Connect(redisURL string) (*redis.Client, error) {
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return redis.NewClient(opt), nil
	}
	return redis.NewClient(&redis.Options{Addr: redisURL}), nil
}

// RedisStreamSink publishes events to a Redis stream for downstream consumers
type RedisStreamSink struct {
	client redis.Cmdable
	stream string
	maxLen int64
}

// NewRedisStreamSink creates a sink writing to stream. maxLen <= 0 uses DefaultStreamMaxLen.
func NewRedisStreamSink(client redis.Cmdable, stream string, maxLen int64) *RedisStreamSink {
	if maxLen <= 0 {
		maxLen = DefaultStreamMaxLen
	}
	return &RedisStreamSink{client: client, stream: stream, maxLen: maxLen}
}

// Record implements license.AuditSink
func (s *RedisStreamSink) Record(ctx context.Context, event domain.AuditEvent) error {
	details, err := json.Marshal(event.Details)
	if err != nil {
		return fmt.Errorf("encode audit details: %w", err)
	}

	err = s.client.XAdd(context.WithoutCancel(ctx), &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]any{
			"id":        event.ID,
			"event":     event.Event,
			"status":    string(event.Status),
			"actor":     event.ActorRef,
			"timestamp": strconv.FormatInt(event.Timestamp.UnixMilli(), 10),
			"details":   string(details),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", s.stream, err)
	}
	return nil
}
