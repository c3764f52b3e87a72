// Package queue is the durable buffer between the ingest gate and the
// enrichment processors. Delivery is at-least-once: a consumer that dies
// before acking leaves its deliveries pending, and Reclaim hands them to a
// live consumer after the idle timeout. Consumers must be idempotent.
package queue

import (
	"context"
	"time"
)

// Message is one enqueued event: the project partition key plus the
// marshaled envelope.
type Message struct {
	ProjectID string
	Payload   []byte
}

// Delivery is a dequeued message plus the token needed to ack it.
type Delivery struct {
	ID        string
	ProjectID string
	Payload   []byte
}

// Queue is the producer/consumer contract. Dequeue and Reclaim are safe to
// call from competing consumers sharing one group: each delivery goes to
// exactly one of them until it is acked or reclaimed.
type Queue interface {
	Enqueue(ctx context.Context, msg Message) error
	Dequeue(ctx context.Context, consumer string, max int, block time.Duration) ([]Delivery, error)
	Ack(ctx context.Context, d Delivery) error
	// Reclaim transfers deliveries pending longer than minIdle to consumer.
	Reclaim(ctx context.Context, consumer string, minIdle time.Duration, max int) ([]Delivery, error)
	// Depth is the total stream length, used for the backpressure probe.
	Depth(ctx context.Context) (int64, error)
}
