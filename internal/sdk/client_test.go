package sdk

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaadipranav/lynex-sub000/internal/event"
)

type recordedBatch struct {
	apiKey string
	events []event.Envelope
	at     time.Time
}

// captureServer records every batch POST and answers with a scripted status
// sequence (last status repeats).
type captureServer struct {
	mu       sync.Mutex
	batches  []recordedBatch
	statuses []int
	headers  map[string]string
}

func (s *captureServer) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Events []event.Envelope `json:"events"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		s.mu.Lock()
		s.batches = append(s.batches, recordedBatch{
			apiKey: r.Header.Get("X-API-Key"),
			events: req.Events,
			at:     time.Now(),
		})
		status := http.StatusAccepted
		if len(s.statuses) > 0 {
			status = s.statuses[0]
			if len(s.statuses) > 1 {
				s.statuses = s.statuses[1:]
			}
		}
		headers := s.headers
		s.mu.Unlock()

		for k, v := range headers {
			w.Header().Set(k, v)
		}
		w.WriteHeader(status)
	}
}

func (s *captureServer) snapshot() []recordedBatch {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]recordedBatch, len(s.batches))
	copy(out, s.batches)
	return out
}

func logEvent(msg string) event.Envelope {
	return event.Envelope{
		Type: event.TypeLog,
		Body: json.RawMessage(fmt.Sprintf(`{"message":%q}`, msg)),
	}
}

func newTestClient(t *testing.T, url string, mutate func(*Options)) *Client {
	t.Helper()
	opts := Options{
		Endpoint:      url,
		APIKey:        "lx_test_key",
		BatchSize:     3,
		FlushInterval: time.Hour, // tests drive flushes explicitly
		RetryBase:     5 * time.Millisecond,
		RetryCap:      20 * time.Millisecond,
	}
	if mutate != nil {
		mutate(&opts)
	}
	c, err := NewClient(opts)
	require.NoError(t, err)
	return c
}

func TestNewClientRequiresEndpointAndKey(t *testing.T) {
	_, err := NewClient(Options{APIKey: "k"})
	assert.Error(t, err)
	_, err = NewClient(Options{Endpoint: "http://localhost:9"})
	assert.Error(t, err)
}

func TestBatchSizeTriggersFlush(t *testing.T) {
	srv := &captureServer{}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	c := newTestClient(t, ts.URL, nil)
	defer c.Close()

	c.Capture(logEvent("one"))
	c.Capture(logEvent("two"))
	c.Capture(logEvent("three")) // hits BatchSize=3

	require.Eventually(t, func() bool {
		return len(srv.snapshot()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	got := srv.snapshot()[0]
	assert.Equal(t, "lx_test_key", got.apiKey)
	require.Len(t, got.events, 3)
	assert.Equal(t, event.TypeLog, got.events[0].Type)
	assert.NotEmpty(t, got.events[0].EventID, "capture assigns event_id")
	assert.False(t, got.events[0].Timestamp.IsZero(), "capture assigns timestamp")
	assert.Equal(t, "lynex-go", got.events[0].SDK.Name)
}

func TestFlushSendsPartialBatch(t *testing.T) {
	srv := &captureServer{}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	c := newTestClient(t, ts.URL, nil)
	defer c.Close()

	c.Capture(logEvent("only"))
	require.NoError(t, c.Flush(context.Background()))

	batches := srv.snapshot()
	require.Len(t, batches, 1)
	require.Len(t, batches[0].events, 1)
}

func TestCaptureDropsInvalidEvent(t *testing.T) {
	srv := &captureServer{}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	c := newTestClient(t, ts.URL, nil)
	defer c.Close()

	c.Capture(event.Envelope{Type: "not-a-type", Body: json.RawMessage(`{}`)})
	require.NoError(t, c.Flush(context.Background()))
	assert.Empty(t, srv.snapshot(), "invalid event never reaches the wire")
}

func TestRetryAfterServerError(t *testing.T) {
	srv := &captureServer{statuses: []int{500, 500, 202}}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	c := newTestClient(t, ts.URL, nil)
	defer c.Close()

	c.Capture(logEvent("flaky"))
	require.NoError(t, c.Flush(context.Background()))

	batches := srv.snapshot()
	require.Len(t, batches, 3, "two failures then success")
	for _, b := range batches {
		require.Len(t, b.events, 1, "the same batch is resent, not split")
	}
}

func TestRetryBackoffScalesExponentially(t *testing.T) {
	srv := &captureServer{statuses: []int{500, 500, 202}}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	c := newTestClient(t, ts.URL, func(o *Options) {
		o.RetryBase = 100 * time.Millisecond
		o.RetryCap = time.Second
	})
	defer c.Close()

	c.Capture(logEvent("flaky"))
	require.NoError(t, c.Flush(context.Background()))

	batches := srv.snapshot()
	require.Len(t, batches, 3)

	// Delays double from the base: ~100ms before the first retry, ~200ms
	// before the second.
	first := batches[1].at.Sub(batches[0].at)
	second := batches[2].at.Sub(batches[1].at)
	assert.GreaterOrEqual(t, first, 90*time.Millisecond)
	assert.GreaterOrEqual(t, second, 180*time.Millisecond)
	assert.Greater(t, second, first, "each retry waits longer than the last")
}

func TestBatchDroppedAfterRetryBudget(t *testing.T) {
	srv := &captureServer{statuses: []int{500}}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	c := newTestClient(t, ts.URL, func(o *Options) { o.MaxRetries = 2 })
	defer c.Close()

	c.Capture(logEvent("doomed"))
	require.NoError(t, c.Flush(context.Background()))
	assert.Len(t, srv.snapshot(), 3, "initial attempt plus two retries")

	// A later event goes through: the dropped batch left no residue.
	srv.mu.Lock()
	srv.statuses = []int{202}
	srv.mu.Unlock()
	c.Capture(logEvent("survivor"))
	require.NoError(t, c.Flush(context.Background()))
	assert.Len(t, srv.snapshot(), 4)
}

func TestClientRejectsNonThrottle4xxWithoutRetry(t *testing.T) {
	srv := &captureServer{statuses: []int{422}}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	c := newTestClient(t, ts.URL, func(o *Options) { o.MaxRetries = 5 })
	defer c.Close()

	c.Capture(logEvent("rejected"))
	require.NoError(t, c.Flush(context.Background()))
	assert.Len(t, srv.snapshot(), 1, "validation rejection is not retried")
}

func TestRetryAfterHeaderOverridesBackoff(t *testing.T) {
	srv := &captureServer{
		statuses: []int{429, 202},
		headers:  map[string]string{"Retry-After": "1"},
	}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	c := newTestClient(t, ts.URL, nil)
	defer c.Close()

	c.Capture(logEvent("throttled"))
	require.NoError(t, c.Flush(context.Background()))

	batches := srv.snapshot()
	require.Len(t, batches, 2)
	gap := batches[1].at.Sub(batches[0].at)
	assert.GreaterOrEqual(t, gap, 900*time.Millisecond,
		"server Retry-After beats the 5ms computed backoff")
}

func TestCloseDrainsBuffer(t *testing.T) {
	srv := &captureServer{}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	c := newTestClient(t, ts.URL, func(o *Options) { o.BatchSize = 100 })
	for i := 0; i < 7; i++ {
		c.Capture(logEvent(fmt.Sprintf("msg-%d", i)))
	}
	c.Close()

	total := 0
	for _, b := range srv.snapshot() {
		total += len(b.events)
	}
	assert.Equal(t, 7, total)
}

func TestConcurrentCaptureAndClose(t *testing.T) {
	srv := &captureServer{}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	c := newTestClient(t, ts.URL, func(o *Options) { o.BufferSize = 4 })

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				c.Capture(logEvent(fmt.Sprintf("c%d-%d", n, j)))
			}
		}(i)
	}

	// Closing mid-storm must never panic on the channel; late Captures are
	// dropped with a warning instead.
	c.Close()
	wg.Wait()
	c.Close() // second close is a no-op
}

func TestCaptureAfterCloseIsSafe(t *testing.T) {
	srv := &captureServer{}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	c := newTestClient(t, ts.URL, nil)
	c.Close()

	c.Capture(logEvent("late")) // must not panic or block
	assert.Error(t, c.Flush(context.Background()))
}
