package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kaadipranav/lynex-sub000/internal/infra"
	"github.com/kaadipranav/lynex-sub000/internal/storage"
)

// Notification is the payload handed to the delivery channel when a rule
// fires. The receiver decides how to fan it out (Slack, email, pager).
type Notification struct {
	RuleID    string            `json:"rule_id"`
	ProjectID string            `json:"project_id"`
	Condition Condition         `json:"condition"`
	Severity  string            `json:"severity"`
	Threshold float64           `json:"threshold"`
	Observed  float64           `json:"observed"`
	Event     *storage.EventRow `json:"event"`
	FiredAt   time.Time         `json:"fired_at"`
}

// Notifier delivers a firing notification. Errors are logged by the caller
// and never reach the processing path.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier is the fallback when no webhook is configured: firings land in
// the log and nowhere else.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With(zap.String("mod", "notifier"))}
}

func (l *LogNotifier) Notify(_ context.Context, n Notification) error {
	l.logger.Info("alert fired",
		zap.String("rule_id", n.RuleID),
		zap.String("project_id", n.ProjectID),
		zap.String("condition", string(n.Condition)),
		zap.String("severity", n.Severity),
		zap.Float64("observed", n.Observed),
		zap.Float64("threshold", n.Threshold),
	)
	return nil
}

// WebhookNotifier POSTs notifications as JSON behind the reliability chain:
// a local rate limiter, a circuit breaker and bounded retries. Webhook
// receivers are the least reliable part of the system; none of their
// failures may stall event processing.
type WebhookNotifier struct {
	url     string
	client  *http.Client
	limiter *rate.Limiter
	cb      *gobreaker.CircuitBreaker
	logger  *zap.Logger
	metrics *infra.Metrics
}

func NewWebhookNotifier(url string, timeout time.Duration, logger *zap.Logger, metrics *infra.Metrics) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if metrics == nil {
		metrics = infra.NewMetrics(nil)
	}
	n := &WebhookNotifier{
		url:     url,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(10), 20),
		logger:  logger.With(zap.String("mod", "notifier")),
		metrics: metrics,
	}
	n.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "alert-webhook",
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(_ string, _ gobreaker.State, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				metrics.NotifierBreakerState.Set(1)
			} else {
				metrics.NotifierBreakerState.Set(0)
			}
		},
	})
	return n
}

func (w *WebhookNotifier) Notify(ctx context.Context, n Notification) error {
	if err := w.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("notifier throttled: %w", err)
	}

	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	_, err = w.cb.Execute(func() (interface{}, error) {
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(3),
		)
		return nil, r.Do(func() error {
			return w.post(ctx, body)
		})
	})
	return err
}

func (w *WebhookNotifier) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}
