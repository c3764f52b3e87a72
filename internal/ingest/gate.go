package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kaadipranav/lynex-sub000/internal/event"
	"github.com/kaadipranav/lynex-sub000/internal/infra"
	"github.com/kaadipranav/lynex-sub000/internal/queue"
	"github.com/kaadipranav/lynex-sub000/internal/storage"
)

// Options tunes the gate. Zero values fall back to the defaults below.
type Options struct {
	MaxBatchSize       int
	DefaultRatePerMin  int
	QueueHighWater     int64
	DepthProbeInterval time.Duration
}

// Gate is the trust boundary: authenticate, rate-check, capacity-check,
// validate, enqueue. Each stage short-circuits with a structured rejection;
// only Enqueue mutates anything.
type Gate struct {
	resolver ProjectResolver
	limiter  Limiter
	queue    queue.Queue
	logger   *zap.Logger
	metrics  *infra.Metrics
	opts     Options

	// Depth probe result is cached so backpressure checks stay off the
	// per-request hot path.
	depthMu     sync.Mutex
	lastDepth   int64
	lastDepthAt time.Time
}

// Accepted is the success response body: fire-and-forget, the caller gets
// its IDs back and processing happens later.
type Accepted struct {
	Accepted int      `json:"accepted"`
	EventIDs []string `json:"event_ids"`
}

func NewGate(resolver ProjectResolver, limiter Limiter, q queue.Queue, logger *zap.Logger, metrics *infra.Metrics, opts Options) *Gate {
	if opts.MaxBatchSize <= 0 {
		opts.MaxBatchSize = 100
	}
	if opts.DefaultRatePerMin <= 0 {
		opts.DefaultRatePerMin = 6000
	}
	if opts.QueueHighWater <= 0 {
		opts.QueueHighWater = 100000
	}
	if opts.DepthProbeInterval <= 0 {
		opts.DepthProbeInterval = time.Second
	}
	if metrics == nil {
		metrics = infra.NewMetrics(nil)
	}
	return &Gate{
		resolver: resolver,
		limiter:  limiter,
		queue:    q,
		logger:   logger.With(zap.String("mod", "gate")),
		metrics:  metrics,
		opts:     opts,
	}
}

// Submit runs the full stage machine for one batch. On success every event
// is stamped with queued_at and appended to the queue in submission order.
func (g *Gate) Submit(ctx context.Context, apiKey string, batch []event.Envelope) (*Accepted, *APIError) {
	// Stage 1: authenticate.
	project, err := g.resolver.Lookup(ctx, apiKey)
	if err != nil {
		return nil, g.reject(authError(err))
	}

	g.metrics.IngestBatches.WithLabelValues(project.ID, "received").Inc()

	if len(batch) == 0 {
		return nil, g.reject(&APIError{Status: 400, Code: CodeBadRequest, Message: "empty batch"})
	}
	if len(batch) > g.opts.MaxBatchSize {
		return nil, g.reject(&APIError{
			Status:  413,
			Code:    CodeBatchTooLarge,
			Message: fmt.Sprintf("batch exceeds %d events", g.opts.MaxBatchSize),
		})
	}

	// Stage 2: rate limit. The counter counts events, and an over-quota
	// batch is rejected whole so nothing from it is enqueued.
	limit := project.RatePerMin
	if limit <= 0 {
		limit = g.opts.DefaultRatePerMin
	}
	ok, retryAfter, err := g.limiter.Allow(ctx, project.ID, len(batch), limit)
	if err != nil {
		g.logger.Error("rate limiter error", zap.Error(err))
		return nil, g.reject(&APIError{Status: 500, Code: CodeInternal, Message: "rate limit check failed"})
	}
	if !ok {
		return nil, g.reject(&APIError{
			Status:     429,
			Code:       CodeRateLimited,
			Message:    "project event quota exceeded",
			RetryAfter: int(retryAfter.Seconds() + 0.5),
		})
	}

	// Stage 3: backpressure. Reject retryably instead of growing the queue
	// without bound.
	if depth := g.queueDepth(ctx); depth > g.opts.QueueHighWater {
		return nil, g.reject(&APIError{
			Status:     503,
			Code:       CodeOverCapacity,
			Message:    "ingestion backlog over capacity, retry later",
			RetryAfter: 5,
		})
	}

	// Stage 4: validate, all-or-nothing. One broken event fails the batch so
	// a client retry of the identical batch stays idempotent.
	if errs := event.ValidateBatch(batch); len(errs) > 0 {
		return nil, g.reject(&APIError{
			Status:  422,
			Code:    CodeValidationFailed,
			Message: fmt.Sprintf("%d of %d events failed validation", len(errs), len(batch)),
			Details: errs,
		})
	}

	// Stage 5: enqueue in submission order. ProjectID comes from the key,
	// never from the payload. Appends are not atomic across the batch: a
	// queue failure mid-batch leaves the already-enqueued prefix in the
	// stream, the client retries the whole batch, and the storage upsert
	// absorbs the duplicated prefix.
	now := time.Now().UTC()
	ids := make([]string, 0, len(batch))
	for i := range batch {
		batch[i].ProjectID = project.ID
		batch[i].QueuedAt = &now

		payload, err := marshalEnvelope(&batch[i])
		if err != nil {
			g.logger.Error("envelope marshal failed", zap.String("event_id", batch[i].EventID), zap.Error(err))
			return nil, g.reject(&APIError{Status: 500, Code: CodeInternal, Message: "internal encoding error"})
		}
		if err := g.queue.Enqueue(ctx, queue.Message{ProjectID: project.ID, Payload: payload}); err != nil {
			g.logger.Error("enqueue failed", zap.String("project_id", project.ID), zap.Error(err))
			return nil, g.reject(&APIError{
				Status:     503,
				Code:       CodeOverCapacity,
				Message:    "queue unavailable, retry later",
				RetryAfter: 5,
			})
		}
		ids = append(ids, batch[i].EventID)
	}

	g.metrics.IngestBatches.WithLabelValues(project.ID, "accepted").Inc()
	g.metrics.BatchSize.Observe(float64(len(batch)))
	return &Accepted{Accepted: len(ids), EventIDs: ids}, nil
}

func (g *Gate) reject(e *APIError) *APIError {
	g.metrics.IngestRejections.WithLabelValues(e.Code).Inc()
	return e
}

func (g *Gate) queueDepth(ctx context.Context) int64 {
	g.depthMu.Lock()
	defer g.depthMu.Unlock()
	if time.Since(g.lastDepthAt) < g.opts.DepthProbeInterval {
		return g.lastDepth
	}
	depth, err := g.queue.Depth(ctx)
	if err != nil {
		// Fail open: a broken probe should not stop ingestion.
		g.logger.Warn("queue depth probe failed", zap.Error(err))
		depth = 0
	}
	g.lastDepth = depth
	g.lastDepthAt = time.Now()
	g.metrics.QueueDepth.Set(float64(depth))
	return depth
}

func marshalEnvelope(e *event.Envelope) ([]byte, error) {
	return json.Marshal(e)
}

func authError(err error) *APIError {
	switch {
	case errors.Is(err, storage.ErrRevokedKey):
		return &APIError{Status: 401, Code: CodeUnauthorized, Message: "api key revoked"}
	case errors.Is(err, storage.ErrUnknownKey):
		return &APIError{Status: 401, Code: CodeUnauthorized, Message: "invalid api key"}
	default:
		return &APIError{Status: 500, Code: CodeInternal, Message: "key lookup failed"}
	}
}
