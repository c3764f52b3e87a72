// Package alert matches enriched events against tenant rules and dispatches
// notifications. Rules are read-only here: the evaluator works off a
// periodically refreshed in-memory snapshot and never calls the rule store
// on the per-event path.
package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kaadipranav/lynex-sub000/internal/infra"
	"github.com/kaadipranav/lynex-sub000/internal/storage"
)

// RuleSource is the external rule store, snapshotted once per refresh cycle.
type RuleSource interface {
	ListEnabled(ctx context.Context) ([]Rule, error)
}

// Options tunes snapshot refresh and window aggregation.
type Options struct {
	RefreshInterval time.Duration
	WindowSize      time.Duration
}

// Evaluator holds the rule snapshot and the window state. Evaluate is safe
// for concurrent use by many processor workers; Refresh swaps the snapshot
// under the write lock so readers never see a partial rule set.
type Evaluator struct {
	source   RuleSource
	windows  WindowStore
	notifier Notifier
	logger   *zap.Logger
	metrics  *infra.Metrics
	opts     Options

	mu    sync.RWMutex
	rules map[string][]Rule // projectID → rules
}

func NewEvaluator(source RuleSource, windows WindowStore, notifier Notifier, logger *zap.Logger, metrics *infra.Metrics, opts Options) *Evaluator {
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = 60 * time.Second
	}
	if opts.WindowSize <= 0 {
		opts.WindowSize = 60 * time.Second
	}
	if metrics == nil {
		metrics = infra.NewMetrics(nil)
	}
	return &Evaluator{
		source:   source,
		windows:  windows,
		notifier: notifier,
		logger:   logger.With(zap.String("mod", "alerts")),
		metrics:  metrics,
		opts:     opts,
		rules:    make(map[string][]Rule),
	}
}

// Refresh loads a fresh snapshot from the rule store. On failure the
// previous snapshot stays active.
func (e *Evaluator) Refresh(ctx context.Context) error {
	rules, err := e.source.ListEnabled(ctx)
	if err != nil {
		return fmt.Errorf("load rule snapshot: %w", err)
	}

	next := make(map[string][]Rule, len(rules))
	for _, r := range rules {
		next[r.ProjectID] = append(next[r.ProjectID], r)
	}

	e.mu.Lock()
	e.rules = next
	e.mu.Unlock()

	e.logger.Debug("rule snapshot refreshed", zap.Int("rules", len(rules)))
	return nil
}

// Run refreshes on a timer until ctx is canceled. An external signal (see
// ListenRuleUpdates) can force a refresh between ticks.
func (e *Evaluator) Run(ctx context.Context) {
	if err := e.Refresh(ctx); err != nil {
		e.logger.Error("initial rule load failed", zap.Error(err))
	}

	ticker := time.NewTicker(e.opts.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.Refresh(ctx); err != nil {
				e.logger.Error("rule refresh failed", zap.Error(err))
			}
		}
	}
}

// Evaluate checks one persisted event against the project's rules. All
// failures are swallowed after logging; alerting never breaks processing.
func (e *Evaluator) Evaluate(ctx context.Context, row *storage.EventRow) {
	e.mu.RLock()
	rules := e.rules[row.ProjectID]
	e.mu.RUnlock()

	for i := range rules {
		rule := &rules[i]
		if rule.EventType != "" && rule.EventType != row.Type {
			continue
		}
		e.evaluateRule(ctx, rule, row)
	}
}

func (e *Evaluator) evaluateRule(ctx context.Context, rule *Rule, row *storage.EventRow) {
	// Nanosecond arithmetic so any positive window size yields a valid
	// bucket, including sub-second ones.
	bucket := time.Now().UnixNano() / int64(e.opts.WindowSize)
	ttl := 2 * e.opts.WindowSize

	var observed float64
	crossed := false

	switch rule.Condition {
	case CondEventMatch:
		if !matchField(row, rule.FieldPath, rule.FieldValue) {
			return
		}
		observed, crossed = 1, true

	case CondErrorCount:
		if row.Type != "error" {
			return
		}
		total, err := e.windows.IncrBy(ctx, rule.RuleID, bucket, 1, ttl)
		if err != nil {
			e.logger.Warn("window update failed", zap.String("rule_id", rule.RuleID), zap.Error(err))
			return
		}
		observed, crossed = total, total >= rule.Threshold

	case CondLatencyThreshold:
		latency := eventLatencyMs(row)
		if latency <= 0 {
			return
		}
		total, err := e.windows.IncrBy(ctx, rule.RuleID, bucket, latency, ttl)
		if err != nil {
			e.logger.Warn("window update failed", zap.String("rule_id", rule.RuleID), zap.Error(err))
			return
		}
		observed, crossed = total, total >= rule.Threshold

	case CondCostThreshold:
		if row.EstimatedCostUSD <= 0 {
			return
		}
		total, err := e.windows.IncrBy(ctx, rule.RuleID, bucket, row.EstimatedCostUSD, ttl)
		if err != nil {
			e.logger.Warn("window update failed", zap.String("rule_id", rule.RuleID), zap.Error(err))
			return
		}
		observed, crossed = total, total >= rule.Threshold

	default:
		return
	}

	if !crossed {
		return
	}

	// The fire flag lives in the same bucket as the aggregate, so a rule
	// fires at most once per tumbling window no matter how many processors
	// see threshold-crossing events.
	first, err := e.windows.MarkFired(ctx, rule.RuleID, bucket, ttl)
	if err != nil {
		e.logger.Warn("fire flag failed", zap.String("rule_id", rule.RuleID), zap.Error(err))
		return
	}
	if !first {
		return
	}

	n := Notification{
		RuleID:    rule.RuleID,
		ProjectID: rule.ProjectID,
		Condition: rule.Condition,
		Severity:  rule.Severity,
		Threshold: rule.Threshold,
		Observed:  observed,
		Event:     row,
		FiredAt:   time.Now().UTC(),
	}
	if err := e.notifier.Notify(ctx, n); err != nil {
		e.logger.Error("notification dispatch failed",
			zap.String("rule_id", rule.RuleID), zap.Error(err))
		return
	}
	e.metrics.AlertsFired.WithLabelValues(string(rule.Condition), rule.Severity).Inc()
}

// matchField resolves a dot path through the event body, then the context
// bag, and compares the string form. A missing path is a non-match, never an
// error.
func matchField(row *storage.EventRow, path, want string) bool {
	if path == "" {
		return false
	}
	if v, ok := resolvePath(row.Body, path); ok {
		return fmt.Sprint(v) == want
	}
	if v, ok := resolvePath(row.Context, path); ok {
		return fmt.Sprint(v) == want
	}
	return false
}

func resolvePath(raw []byte, path string) (any, bool) {
	if len(raw) == 0 {
		return nil, false
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, false
	}
	var cur any = m
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// eventLatencyMs pulls the latency figure out of a body that carries one.
func eventLatencyMs(row *storage.EventRow) float64 {
	for _, key := range []string{"duration_ms", "latency_ms"} {
		if v, ok := resolvePath(row.Body, key); ok {
			if f, ok := v.(float64); ok {
				return f
			}
		}
	}
	return 0
}
