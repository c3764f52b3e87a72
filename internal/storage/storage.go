// Package storage defines the persisted shapes of the pipeline: enriched
// event rows in hot storage, trace summaries, alert rules and API keys.
// PostgreSQL implementations live in the postgres subpackage; consumers
// depend on small interfaces they declare themselves.
package storage

import (
	"errors"
	"time"
)

var (
	ErrUnknownKey = errors.New("unknown api key")
	ErrRevokedKey = errors.New("api key revoked")
)

// EventRow is one enriched event as written to hot storage. Context and Body
// stay as raw JSON; the write path never needs to look inside them again.
type EventRow struct {
	ProjectID        string    `json:"project_id"`
	EventID          string    `json:"event_id"`
	Type             string    `json:"type"`
	TraceID          string    `json:"trace_id,omitempty"`
	ParentEventID    string    `json:"parent_event_id,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
	SDKName          string    `json:"sdk_name,omitempty"`
	SDKVersion       string    `json:"sdk_version,omitempty"`
	Context          []byte    `json:"context,omitempty"`
	Body             []byte    `json:"body,omitempty"`
	QueuedAt         time.Time `json:"queued_at"`
	ProcessedAt      time.Time `json:"processed_at"`
	QueueLatencyMs   int64     `json:"queue_latency_ms"`
	EstimatedCostUSD float64   `json:"estimated_cost_usd"`
}

// TraceSummary is the aggregate row behind the trace list endpoint.
type TraceSummary struct {
	TraceID      string    `json:"trace_id"`
	ProjectID    string    `json:"project_id"`
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
	DurationMs   int64     `json:"duration_ms"`
	EventCount   int64     `json:"event_count"`
	TotalCostUSD float64   `json:"total_cost_usd"`
	ErrorCount   int64     `json:"error_count"`
}

// Project is the tenant resolved from an API key.
type Project struct {
	ID         string
	Name       string
	RatePerMin int // 0 means use the gate default
	Revoked    bool
}
