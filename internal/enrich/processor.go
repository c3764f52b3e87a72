// Package enrich is the queue consumer: it normalizes raw events, attributes
// cost, persists them idempotently and feeds the alert evaluator.
package enrich

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kaadipranav/lynex-sub000/internal/event"
	"github.com/kaadipranav/lynex-sub000/internal/infra"
	"github.com/kaadipranav/lynex-sub000/internal/queue"
	"github.com/kaadipranav/lynex-sub000/internal/storage"
)

// EventWriter is the hot storage write surface. The returned flags report,
// per input row, whether the upsert inserted a new record (true) or replayed
// an existing one (false).
type EventWriter interface {
	UpsertBatch(ctx context.Context, rows []storage.EventRow) ([]bool, error)
}

// Evaluator sees every persisted event. Implementations must never return
// control-flow errors into the processing path; alerting is a side effect.
type Evaluator interface {
	Evaluate(ctx context.Context, row *storage.EventRow)
}

// Options tunes the consumer loop.
type Options struct {
	Consumer        string
	Workers         int
	BatchSize       int
	BlockTimeout    time.Duration
	ReclaimInterval time.Duration
	ReclaimMinIdle  time.Duration
}

// Processor is a competing consumer on the durable queue. Any number of
// processors can share the consumer group; idempotence of the storage upsert
// makes redelivery safe.
type Processor struct {
	queue   queue.Queue
	writer  EventWriter
	eval    Evaluator
	pricing *PriceTable
	logger  *zap.Logger
	metrics *infra.Metrics
	opts    Options
}

func NewProcessor(q queue.Queue, writer EventWriter, eval Evaluator, pricing *PriceTable, logger *zap.Logger, metrics *infra.Metrics, opts Options) *Processor {
	if opts.Consumer == "" {
		opts.Consumer = "processor-1"
	}
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 64
	}
	if opts.BlockTimeout <= 0 {
		opts.BlockTimeout = 5 * time.Second
	}
	if opts.ReclaimInterval <= 0 {
		opts.ReclaimInterval = 30 * time.Second
	}
	if opts.ReclaimMinIdle <= 0 {
		opts.ReclaimMinIdle = time.Minute
	}
	if metrics == nil {
		metrics = infra.NewMetrics(nil)
	}
	return &Processor{
		queue:   q,
		writer:  writer,
		eval:    eval,
		pricing: pricing,
		logger:  logger.With(zap.String("mod", "processor"), zap.String("consumer", opts.Consumer)),
		metrics: metrics,
		opts:    opts,
	}
}

// Run consumes until ctx is canceled, then drains in-flight deliveries.
func (p *Processor) Run(ctx context.Context) {
	deliveries := make(chan queue.Delivery)

	var workers sync.WaitGroup
	for i := 0; i < p.opts.Workers; i++ {
		workers.Add(1)
		go func() {
			defer workers.Done()
			for d := range deliveries {
				p.handle(d)
			}
		}()
	}

	// Both the dequeue loop and the reclaim loop send on deliveries, so the
	// channel closes only after every producer has returned. A Reclaim that
	// was in flight when ctx got canceled must never hit a closed channel.
	var producers sync.WaitGroup
	producers.Add(1)
	go func() {
		defer producers.Done()
		p.reclaimLoop(ctx, deliveries)
	}()
	producers.Add(1)
	go func() {
		defer producers.Done()
		p.dequeueLoop(ctx, deliveries)
	}()

	p.logger.Info("processor started", zap.Int("workers", p.opts.Workers))

	<-ctx.Done()
	producers.Wait()
	close(deliveries)
	workers.Wait()
	p.logger.Info("processor stopped")
}

// dequeueLoop feeds consumer-group reads into the worker channel.
func (p *Processor) dequeueLoop(ctx context.Context, deliveries chan<- queue.Delivery) {
	for {
		if ctx.Err() != nil {
			return
		}

		ds, err := p.queue.Dequeue(ctx, p.opts.Consumer, p.opts.BatchSize, p.opts.BlockTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Error("dequeue failed", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}
		for _, d := range ds {
			select {
			case deliveries <- d:
			case <-ctx.Done():
				return
			}
		}
	}
}

// reclaimLoop periodically adopts deliveries abandoned by dead consumers.
func (p *Processor) reclaimLoop(ctx context.Context, deliveries chan<- queue.Delivery) {
	ticker := time.NewTicker(p.opts.ReclaimInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ds, err := p.queue.Reclaim(ctx, p.opts.Consumer, p.opts.ReclaimMinIdle, p.opts.BatchSize)
			if err != nil {
				p.logger.Error("reclaim failed", zap.Error(err))
				continue
			}
			for _, d := range ds {
				select {
				case deliveries <- d:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

// handle runs the enrich → persist → evaluate → ack chain for one delivery.
// Deliberately not bound to the run context: once a delivery is in flight it
// finishes even during shutdown, the same way the audit drain worked.
func (p *Processor) handle(d queue.Delivery) {
	ctx := context.Background()
	start := time.Now()

	var env event.Envelope
	if err := json.Unmarshal(d.Payload, &env); err != nil {
		// Poison message: redelivery cannot fix a broken payload, ack it away.
		p.logger.Error("undecodable delivery, dropping", zap.String("delivery_id", d.ID), zap.Error(err))
		p.metrics.EnrichmentFailures.WithLabelValues("decode").Inc()
		p.ack(ctx, d)
		return
	}

	row := p.enrich(&env)

	inserted, err := p.writer.UpsertBatch(ctx, []storage.EventRow{row})
	if err != nil {
		// No ack: the delivery stays pending and comes back via reclaim.
		p.logger.Error("persist failed, leaving for redelivery",
			zap.String("event_id", env.EventID), zap.Error(err))
		p.metrics.ProcessDuration.WithLabelValues(string(env.Type), "persist_failed").Observe(time.Since(start).Seconds())
		return
	}
	p.metrics.EventsPersisted.Inc()

	// Alert aggregates only count first-time inserts; a redelivered event
	// already contributed to its windows.
	if p.eval != nil && len(inserted) == 1 && inserted[0] {
		p.eval.Evaluate(ctx, &row)
	}

	p.ack(ctx, d)
	p.metrics.ProcessDuration.WithLabelValues(string(env.Type), "ok").Observe(time.Since(start).Seconds())
}

// enrich fills the server-side fields. Enrichment is best-effort: a cost
// failure degrades to zero cost, it never blocks persistence.
func (p *Processor) enrich(env *event.Envelope) storage.EventRow {
	now := time.Now().UTC()
	env.ProcessedAt = &now
	if env.QueuedAt != nil {
		env.QueueLatencyMs = now.Sub(*env.QueuedAt).Milliseconds()
	}
	env.EstimatedCostUSD = p.cost(env)

	var contextJSON []byte
	if len(env.Context) > 0 {
		contextJSON, _ = json.Marshal(env.Context)
	}

	queuedAt := now
	if env.QueuedAt != nil {
		queuedAt = *env.QueuedAt
	}

	return storage.EventRow{
		ProjectID:        env.ProjectID,
		EventID:          env.EventID,
		Type:             string(env.Type),
		TraceID:          env.TraceID,
		ParentEventID:    env.ParentEventID,
		Timestamp:        env.Timestamp.UTC(),
		SDKName:          env.SDK.Name,
		SDKVersion:       env.SDK.Version,
		Context:          contextJSON,
		Body:             env.Body,
		QueuedAt:         queuedAt,
		ProcessedAt:      now,
		QueueLatencyMs:   env.QueueLatencyMs,
		EstimatedCostUSD: env.EstimatedCostUSD,
	}
}

func (p *Processor) cost(env *event.Envelope) float64 {
	if env.Type != event.TypeTokenUsage && env.Type != event.TypeModelResponse {
		return 0
	}
	body, err := env.DecodeBody()
	if err != nil {
		p.logger.Warn("cost attribution skipped",
			zap.String("event_id", env.EventID), zap.Error(err))
		p.metrics.EnrichmentFailures.WithLabelValues("cost").Inc()
		return 0
	}
	switch b := body.(type) {
	case *event.TokenUsageBody:
		return p.pricing.Cost(b.Model, b.InputTokens, b.OutputTokens)
	case *event.ModelResponseBody:
		return p.pricing.Cost(b.Model, b.InputTokens, b.OutputTokens)
	}
	return 0
}

func (p *Processor) ack(ctx context.Context, d queue.Delivery) {
	if err := p.queue.Ack(ctx, d); err != nil {
		// The worst case is one redelivery of an already-persisted event,
		// which the upsert absorbs.
		p.logger.Warn("ack failed", zap.String("delivery_id", d.ID), zap.Error(err))
	}
}
