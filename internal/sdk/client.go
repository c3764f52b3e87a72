/*
Package sdk is the client-side batching buffer: instrumented applications
call Capture and the client delivers batches to the ingest endpoint in the
background.

Delivery rules:
  - Capture never blocks and never returns transport errors; a full buffer
    sheds load with a log line instead of stalling the caller.
  - A batch flushes when it reaches the batch size or when the flush interval
    elapses, whichever comes first.
  - A failed flush is retried with exponential backoff (base 1s, cap 10s); a
    server Retry-After overrides the computed delay. After the retry budget
    the batch is dropped and logged, never surfaced to the caller.
  - Close drains the buffer with one final synchronous flush.

Failed batches are retried before newer events are sent, so delivery order
is preserved across retries. Beyond the retry budget delivery is
at-most-once: there is no durable local spool.
*/
package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kaadipranav/lynex-sub000/internal/event"
	"github.com/kaadipranav/lynex-sub000/internal/infra"
)

const (
	sdkName    = "lynex-go"
	sdkVersion = "0.3.0"
)

// Options configures a Client. Zero values use the defaults noted.
type Options struct {
	Endpoint string // full URL of the batch ingest endpoint
	APIKey   string

	BatchSize     int           // default 10
	FlushInterval time.Duration // default 5s
	BufferSize    int           // default 1000

	MaxRetries uint          // retries after the first attempt, default 3
	RetryBase  time.Duration // default 1s
	RetryCap   time.Duration // default 10s

	HTTPClient *http.Client
	Logger     *zap.Logger
	Metrics    *infra.Metrics // optional, exports buffer fill when set
}

// Client is the process-wide buffer instance. Construct one per process and
// Close it on shutdown; there is no hidden singleton.
type Client struct {
	opts     Options
	ch       chan event.Envelope
	flushReq chan chan struct{}
	wg       sync.WaitGroup
	logger   *zap.Logger

	// mu serializes sends against the channel close in Close, so a Capture
	// racing a shutdown can never hit a closed channel.
	mu     sync.RWMutex
	closed bool
}

func NewClient(opts Options) (*Client, error) {
	if opts.Endpoint == "" {
		return nil, errors.New("sdk: endpoint is required")
	}
	if opts.APIKey == "" {
		return nil, errors.New("sdk: api key is required")
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 5 * time.Second
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = 1000
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = time.Second
	}
	if opts.RetryCap <= 0 {
		opts.RetryCap = 10 * time.Second
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = infra.NewMetrics(nil)
	}

	c := &Client{
		opts:     opts,
		ch:       make(chan event.Envelope, opts.BufferSize),
		flushReq: make(chan chan struct{}),
		logger:   opts.Logger.With(zap.String("mod", "sdk")),
	}
	c.wg.Add(1)
	go c.worker()
	return c, nil
}

// Capture buffers one event. It assigns event_id and timestamp when absent,
// validates the body shape for the event's type, and never blocks or errors
// on network conditions.
func (c *Client) Capture(e event.Envelope) {
	if e.EventID == "" {
		e.EventID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	e.SDK = event.SDKInfo{Name: sdkName, Version: sdkVersion}

	if err := e.Validate(); err != nil {
		c.logger.Warn("event dropped: invalid", zap.String("event_id", e.EventID), zap.Error(err))
		return
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		c.logger.Warn("event dropped: client is closing", zap.String("event_id", e.EventID))
		return
	}

	// Load shedding: a full buffer drops the event rather than blocking the
	// instrumented application.
	select {
	case c.ch <- e:
		c.opts.Metrics.BufferFill.Set(float64(len(c.ch)))
	default:
		c.logger.Error("event dropped: buffer full", zap.String("event_id", e.EventID))
	}
}

// Flush forces delivery of everything currently buffered and waits for the
// attempt (including retries) to finish.
func (c *Client) Flush(ctx context.Context) error {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return errors.New("sdk: client closed")
	}
	done := make(chan struct{})
	select {
	case c.flushReq <- done:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close seals the buffer and performs one final best-effort flush. Safe to
// call more than once; Capture after Close drops with a warning.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.ch)
	c.mu.Unlock()
	c.wg.Wait()
}

func (c *Client) worker() {
	defer c.wg.Done()

	batch := make([]event.Envelope, 0, c.opts.BatchSize)
	ticker := time.NewTicker(c.opts.FlushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		c.deliver(batch)
		batch = batch[:0]
		c.opts.Metrics.BufferFill.Set(float64(len(c.ch)))
	}

	for {
		select {
		case e, ok := <-c.ch:
			if !ok {
				// Channel closed by Close(): whatever was buffered has been
				// drained into batch by now. Final flush and exit.
				flush()
				return
			}
			batch = append(batch, e)
			if len(batch) >= c.opts.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case done := <-c.flushReq:
			// Pull everything already buffered before sending.
		drain:
			for {
				select {
				case e, ok := <-c.ch:
					if !ok {
						break drain
					}
					batch = append(batch, e)
					if len(batch) >= c.opts.BatchSize {
						flush()
					}
				default:
					break drain
				}
			}
			flush()
			close(done)
		}
	}
}

// deliver POSTs one batch with the retry budget. The worker is single
// threaded, so a batch under retry blocks newer events: order is preserved.
func (c *Client) deliver(batch []event.Envelope) {
	body, err := json.Marshal(map[string][]event.Envelope{"events": batch})
	if err != nil {
		c.logger.Error("batch dropped: marshal failed", zap.Error(err))
		return
	}

	r := retry.New(
		retry.Attempts(1+c.opts.MaxRetries),
		retry.DelayType(func(n uint, err error, _ retry.DelayContext) time.Duration {
			// A server Retry-After wins over the computed backoff.
			var tErr *throttleError
			if errors.As(err, &tErr) && tErr.retryAfter > 0 {
				return tErr.retryAfter
			}
			d := c.opts.RetryBase << n
			if d > c.opts.RetryCap {
				d = c.opts.RetryCap
			}
			return d
		}),
	)

	err = r.Do(func() error {
		return c.post(body)
	})
	if err != nil {
		c.logger.Error("batch dropped after retry budget",
			zap.Int("events", len(batch)), zap.Error(err))
	}
}

func (c *Client) post(body []byte) error {
	req, err := http.NewRequest(http.MethodPost, c.opts.Endpoint, bytes.NewReader(body))
	if err != nil {
		return retry.Unrecoverable(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.opts.APIKey)

	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return err // transport errors are retryable
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	switch {
	case resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable:
		return &throttleError{
			status:     resp.StatusCode,
			retryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	case resp.StatusCode >= 500:
		return fmt.Errorf("server returned %d", resp.StatusCode)
	default:
		// 4xx other than throttling will not get better on retry.
		return retry.Unrecoverable(fmt.Errorf("server rejected batch: %d", resp.StatusCode))
	}
}

// throttleError carries the server's advisory delay.
type throttleError struct {
	status     int
	retryAfter time.Duration
}

func (e *throttleError) Error() string {
	return fmt.Sprintf("throttled (%d), retry after %s", e.status, e.retryAfter)
}

func parseRetryAfter(h string) time.Duration {
	if h == "" {
		return 0
	}
	secs, err := strconv.Atoi(h)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
