package queue

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryQueue implements Queue for tests and local runs with the same
// semantics as the stream: FIFO order, pending-until-ack, idle-based reclaim.
type MemoryQueue struct {
	mu      sync.Mutex
	seq     int64
	ready   []Delivery
	pending map[string]pendingEntry
}

type pendingEntry struct {
	d       Delivery
	claimed time.Time
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{pending: make(map[string]pendingEntry)}
}

func (q *MemoryQueue) Enqueue(_ context.Context, msg Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	q.ready = append(q.ready, Delivery{
		ID:        fmt.Sprintf("%d-0", q.seq),
		ProjectID: msg.ProjectID,
		Payload:   msg.Payload,
	})
	return nil
}

func (q *MemoryQueue) Dequeue(_ context.Context, _ string, max int, _ time.Duration) ([]Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if max > len(q.ready) {
		max = len(q.ready)
	}
	out := q.ready[:max]
	q.ready = q.ready[max:]
	now := time.Now()
	for _, d := range out {
		q.pending[d.ID] = pendingEntry{d: d, claimed: now}
	}
	return out, nil
}

func (q *MemoryQueue) Ack(_ context.Context, d Delivery) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.pending, d.ID)
	return nil
}

func (q *MemoryQueue) Reclaim(_ context.Context, _ string, minIdle time.Duration, max int) ([]Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []Delivery
	now := time.Now()
	for id, e := range q.pending {
		if now.Sub(e.claimed) >= minIdle && len(out) < max {
			out = append(out, e.d)
			q.pending[id] = pendingEntry{d: e.d, claimed: now}
		}
	}
	return out, nil
}

func (q *MemoryQueue) Depth(_ context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.ready) + len(q.pending)), nil
}
