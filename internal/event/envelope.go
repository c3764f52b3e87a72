package event

import (
	"encoding/json"
	"time"
)

// Type is the closed set of telemetry event kinds.
type Type string

const (
	TypeLog           Type = "log"
	TypeError         Type = "error"
	TypeSpan          Type = "span"
	TypeTokenUsage    Type = "token_usage"
	TypeMessage       Type = "message"
	TypeAgentAction   Type = "agent_action"
	TypeRetrieval     Type = "retrieval"
	TypeToolCall      Type = "tool_call"
	TypeModelResponse Type = "model_response"
	TypeEvalMetric    Type = "eval_metric"
	TypeCustom        Type = "custom"
)

var knownTypes = map[Type]struct{}{
	TypeLog: {}, TypeError: {}, TypeSpan: {}, TypeTokenUsage: {},
	TypeMessage: {}, TypeAgentAction: {}, TypeRetrieval: {}, TypeToolCall: {},
	TypeModelResponse: {}, TypeEvalMetric: {}, TypeCustom: {},
}

// Known reports whether t is part of the closed type set.
func (t Type) Known() bool {
	_, ok := knownTypes[t]
	return ok
}

// SDKInfo is provenance metadata stamped by the client library.
type SDKInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Envelope is the canonical wire format of one telemetry event.
//
// EventID and Timestamp are sender-assigned; ProjectID is overwritten by the
// gate from the authenticated API key, never trusted from the payload. Body is
// kept raw on the wire and decoded into its typed variant on demand (see
// DecodeBody), so an envelope can cross the queue without re-encoding.
type Envelope struct {
	EventID       string          `json:"event_id"`
	ProjectID     string          `json:"project_id,omitempty"`
	Type          Type            `json:"type"`
	Timestamp     time.Time       `json:"timestamp"`
	TraceID       string          `json:"trace_id,omitempty"`
	ParentEventID string          `json:"parent_event_id,omitempty"`
	SDK           SDKInfo         `json:"sdk"`
	Context       map[string]any  `json:"context,omitempty"`
	Body          json.RawMessage `json:"body,omitempty"`

	// Server-assigned during ingest and enrichment.
	QueuedAt         *time.Time `json:"queued_at,omitempty"`
	ProcessedAt      *time.Time `json:"processed_at,omitempty"`
	QueueLatencyMs   int64      `json:"queue_latency_ms,omitempty"`
	EstimatedCostUSD float64    `json:"estimated_cost_usd,omitempty"`
}
