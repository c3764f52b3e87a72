package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// StreamQueue is the Redis Streams implementation of Queue. One stream, one
// consumer group; XADD preserves arrival order, XREADGROUP spreads load
// across competing consumers, XAUTOCLAIM implements redelivery.
type StreamQueue struct {
	rdb    *redis.Client
	stream string
	group  string
	logger *zap.Logger
}

func NewStreamQueue(ctx context.Context, rdb *redis.Client, stream, group string, logger *zap.Logger) (*StreamQueue, error) {
	q := &StreamQueue{
		rdb:    rdb,
		stream: stream,
		group:  group,
		logger: logger.With(zap.String("mod", "queue")),
	}

	// MKSTREAM so the first service to boot creates the stream.
	err := rdb.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("create consumer group: %w", err)
	}
	return q, nil
}

func (q *StreamQueue) Enqueue(ctx context.Context, msg Message) error {
	return q.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: map[string]interface{}{
			"project": msg.ProjectID,
			"payload": msg.Payload,
		},
	}).Err()
}

func (q *StreamQueue) Dequeue(ctx context.Context, consumer string, max int, block time.Duration) ([]Delivery, error) {
	res, err := q.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: consumer,
		Streams:  []string{q.stream, ">"},
		Count:    int64(max),
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // block timeout, nothing new
		}
		return nil, err
	}

	var out []Delivery
	for _, stream := range res {
		for _, m := range stream.Messages {
			out = append(out, q.toDelivery(m))
		}
	}
	return out, nil
}

func (q *StreamQueue) Ack(ctx context.Context, d Delivery) error {
	return q.rdb.XAck(ctx, q.stream, q.group, d.ID).Err()
}

func (q *StreamQueue) Reclaim(ctx context.Context, consumer string, minIdle time.Duration, max int) ([]Delivery, error) {
	msgs, _, err := q.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Start:    "0-0",
		Count:    int64(max),
	}).Result()
	if err != nil {
		return nil, err
	}

	var out []Delivery
	for _, m := range msgs {
		out = append(out, q.toDelivery(m))
	}
	if len(out) > 0 {
		q.logger.Warn("reclaimed pending deliveries", zap.Int("count", len(out)))
	}
	return out, nil
}

func (q *StreamQueue) Depth(ctx context.Context) (int64, error) {
	return q.rdb.XLen(ctx, q.stream).Result()
}

func (q *StreamQueue) toDelivery(m redis.XMessage) Delivery {
	d := Delivery{ID: m.ID}
	if v, ok := m.Values["project"].(string); ok {
		d.ProjectID = v
	}
	if v, ok := m.Values["payload"].(string); ok {
		d.Payload = []byte(v)
	}
	return d
}
