package alert

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kaadipranav/lynex-sub000/internal/storage"
)

type staticRules struct {
	rules []Rule
}

func (s *staticRules) ListEnabled(_ context.Context) ([]Rule, error) {
	return s.rules, nil
}

type capturingNotifier struct {
	mu   sync.Mutex
	sent []Notification
}

func (n *capturingNotifier) Notify(_ context.Context, notif Notification) error {
	n.mu.Lock()
	n.sent = append(n.sent, notif)
	n.mu.Unlock()
	return nil
}

func (n *capturingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

func newTestEvaluator(t *testing.T, rules ...Rule) (*Evaluator, *capturingNotifier) {
	t.Helper()
	notifier := &capturingNotifier{}
	e := NewEvaluator(
		&staticRules{rules: rules},
		NewMemoryWindowStore(),
		notifier,
		zap.NewNop(),
		nil,
		// A wide window keeps the whole test inside one bucket.
		Options{WindowSize: time.Hour},
	)
	require.NoError(t, e.Refresh(context.Background()))
	return e, notifier
}

func errorRow(project string) *storage.EventRow {
	return &storage.EventRow{
		ProjectID: project,
		EventID:   "e-" + time.Now().Format("150405.000000000"),
		Type:      "error",
		Timestamp: time.Now(),
		Body:      []byte(`{"message":"boom","kind":"Timeout"}`),
	}
}

func TestErrorCountFiresOncePerWindow(t *testing.T) {
	e, notifier := newTestEvaluator(t, Rule{
		RuleID:    "r1",
		ProjectID: "proj-1",
		Condition: CondErrorCount,
		Threshold: 2,
		Severity:  "critical",
		Enabled:   true,
	})

	ctx := context.Background()
	e.Evaluate(ctx, errorRow("proj-1"))
	assert.Equal(t, 0, notifier.count(), "below threshold")

	// Both of these cross the threshold inside one window; the fire flag
	// allows exactly one dispatch.
	e.Evaluate(ctx, errorRow("proj-1"))
	e.Evaluate(ctx, errorRow("proj-1"))
	assert.Equal(t, 1, notifier.count(), "one notification per window")

	notifier.mu.Lock()
	n := notifier.sent[0]
	notifier.mu.Unlock()
	assert.Equal(t, "r1", n.RuleID)
	assert.Equal(t, CondErrorCount, n.Condition)
	assert.Equal(t, "critical", n.Severity)
	assert.GreaterOrEqual(t, n.Observed, 2.0)
}

func TestProjectScopingIsExact(t *testing.T) {
	e, notifier := newTestEvaluator(t, Rule{
		RuleID:    "r1",
		ProjectID: "proj-1",
		Condition: CondErrorCount,
		Threshold: 1,
		Enabled:   true,
	})

	ctx := context.Background()
	e.Evaluate(ctx, errorRow("proj-2"))
	e.Evaluate(ctx, errorRow("PROJ-1")) // no case normalization
	assert.Equal(t, 0, notifier.count())

	e.Evaluate(ctx, errorRow("proj-1"))
	assert.Equal(t, 1, notifier.count())
}

func TestEventTypeFilter(t *testing.T) {
	e, notifier := newTestEvaluator(t, Rule{
		RuleID:     "r1",
		ProjectID:  "proj-1",
		Condition:  CondEventMatch,
		EventType:  "error",
		FieldPath:  "kind",
		FieldValue: "Timeout",
		Enabled:    true,
	})

	ctx := context.Background()
	row := errorRow("proj-1")
	row.Type = "log"
	e.Evaluate(ctx, row)
	assert.Equal(t, 0, notifier.count(), "type filter excludes non-error events")

	e.Evaluate(ctx, errorRow("proj-1"))
	assert.Equal(t, 1, notifier.count())
}

func TestEventMatchDotPath(t *testing.T) {
	e, notifier := newTestEvaluator(t, Rule{
		RuleID:     "r1",
		ProjectID:  "proj-1",
		Condition:  CondEventMatch,
		FieldPath:  "user.plan",
		FieldValue: "free",
		Enabled:    true,
	})

	ctx := context.Background()
	row := &storage.EventRow{
		ProjectID: "proj-1",
		EventID:   "e1",
		Type:      "custom",
		Context:   []byte(`{"user":{"plan":"free"}}`),
	}
	e.Evaluate(ctx, row)
	assert.Equal(t, 1, notifier.count(), "path resolves through context")

	// Missing path is a non-match, never an error.
	row2 := &storage.EventRow{ProjectID: "proj-1", EventID: "e2", Type: "custom", Context: []byte(`{}`)}
	e.Evaluate(ctx, row2)
	assert.Equal(t, 1, notifier.count())
}

func TestCostThresholdSumsAcrossEvents(t *testing.T) {
	e, notifier := newTestEvaluator(t, Rule{
		RuleID:    "r1",
		ProjectID: "proj-1",
		Condition: CondCostThreshold,
		Threshold: 0.10,
		Enabled:   true,
	})

	ctx := context.Background()
	row := func(cost float64) *storage.EventRow {
		return &storage.EventRow{ProjectID: "proj-1", EventID: "e", Type: "token_usage", EstimatedCostUSD: cost}
	}
	e.Evaluate(ctx, row(0.04))
	e.Evaluate(ctx, row(0.04))
	assert.Equal(t, 0, notifier.count())

	e.Evaluate(ctx, row(0.04)) // running sum 0.12 crosses 0.10
	assert.Equal(t, 1, notifier.count())
}

func TestLatencyThresholdUsesBodyLatency(t *testing.T) {
	e, notifier := newTestEvaluator(t, Rule{
		RuleID:    "r1",
		ProjectID: "proj-1",
		Condition: CondLatencyThreshold,
		Threshold: 1000,
		Enabled:   true,
	})

	ctx := context.Background()
	row := &storage.EventRow{
		ProjectID: "proj-1",
		EventID:   "e1",
		Type:      "span",
		Body:      []byte(`{"name":"llm.call","duration_ms":1500}`),
	}
	e.Evaluate(ctx, row)
	assert.Equal(t, 1, notifier.count())
}

func TestSubSecondWindowEvaluates(t *testing.T) {
	notifier := &capturingNotifier{}
	e := NewEvaluator(
		&staticRules{rules: []Rule{{
			RuleID:    "r1",
			ProjectID: "proj-1",
			Condition: CondErrorCount,
			Threshold: 1,
			Enabled:   true,
		}}},
		NewMemoryWindowStore(),
		notifier,
		zap.NewNop(),
		nil,
		Options{WindowSize: 500 * time.Millisecond},
	)
	require.NoError(t, e.Refresh(context.Background()))

	e.Evaluate(context.Background(), errorRow("proj-1"))
	assert.Equal(t, 1, notifier.count())
}

func TestRefreshSwapsSnapshot(t *testing.T) {
	source := &staticRules{rules: []Rule{{
		RuleID:    "r1",
		ProjectID: "proj-1",
		Condition: CondErrorCount,
		Threshold: 1,
		Enabled:   true,
	}}}
	notifier := &capturingNotifier{}
	e := NewEvaluator(source, NewMemoryWindowStore(), notifier, zap.NewNop(), nil, Options{WindowSize: time.Hour})
	require.NoError(t, e.Refresh(context.Background()))

	e.Evaluate(context.Background(), errorRow("proj-1"))
	assert.Equal(t, 1, notifier.count())

	// Rule removed upstream: after refresh it no longer matches.
	source.rules = nil
	require.NoError(t, e.Refresh(context.Background()))
	e.Evaluate(context.Background(), errorRow("proj-1"))
	assert.Equal(t, 1, notifier.count())
}
