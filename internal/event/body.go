package event

import (
	"encoding/json"
	"fmt"
)

// TypedBody is the sum type behind Envelope.Body. Each variant corresponds to
// one event Type; dispatch is an explicit switch on the envelope's type tag,
// not reflection.
type TypedBody interface {
	bodyType() Type
}

type LogBody struct {
	Level   string `json:"level,omitempty"`
	Message string `json:"message"`
}

type ErrorBody struct {
	Message    string `json:"message"`
	StackTrace string `json:"stack_trace,omitempty"`
	Kind       string `json:"kind,omitempty"`
}

type SpanBody struct {
	Name       string `json:"name"`
	DurationMs int64  `json:"duration_ms,omitempty"`
	Status     string `json:"status,omitempty"`
}

type TokenUsageBody struct {
	Model        string `json:"model"`
	InputTokens  int64  `json:"input_tokens"`
	OutputTokens int64  `json:"output_tokens"`
	TotalTokens  int64  `json:"total_tokens,omitempty"`
}

type MessageBody struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type AgentActionBody struct {
	Action string         `json:"action"`
	Input  map[string]any `json:"input,omitempty"`
}

type RetrievalBody struct {
	Query     string `json:"query"`
	Documents int    `json:"documents,omitempty"`
}

type ToolCallBody struct {
	Tool       string         `json:"tool"`
	Arguments  map[string]any `json:"arguments,omitempty"`
	DurationMs int64          `json:"duration_ms,omitempty"`
}

type ModelResponseBody struct {
	Model        string `json:"model"`
	InputTokens  int64  `json:"input_tokens,omitempty"`
	OutputTokens int64  `json:"output_tokens,omitempty"`
	Response     string `json:"response,omitempty"`
	LatencyMs    int64  `json:"latency_ms,omitempty"`
}

type EvalMetricBody struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// CustomBody is the catch-all variant: an opaque payload the pipeline stores
// and returns untouched.
type CustomBody map[string]any

func (LogBody) bodyType() Type           { return TypeLog }
func (ErrorBody) bodyType() Type         { return TypeError }
func (SpanBody) bodyType() Type          { return TypeSpan }
func (TokenUsageBody) bodyType() Type    { return TypeTokenUsage }
func (MessageBody) bodyType() Type       { return TypeMessage }
func (AgentActionBody) bodyType() Type   { return TypeAgentAction }
func (RetrievalBody) bodyType() Type     { return TypeRetrieval }
func (ToolCallBody) bodyType() Type      { return TypeToolCall }
func (ModelResponseBody) bodyType() Type { return TypeModelResponse }
func (EvalMetricBody) bodyType() Type    { return TypeEvalMetric }
func (CustomBody) bodyType() Type        { return TypeCustom }

// DecodeBody parses the raw body into the typed variant for the envelope's
// type. A nil body decodes to the variant's zero value so that shape checks
// in Validate report precise field errors instead of a generic parse error.
func (e *Envelope) DecodeBody() (TypedBody, error) {
	raw := e.Body
	if len(raw) == 0 {
		raw = []byte("{}")
	}

	decode := func(dst TypedBody) (TypedBody, error) {
		if err := json.Unmarshal(raw, dst); err != nil {
			return nil, fmt.Errorf("body is not valid %s payload: %w", e.Type, err)
		}
		return dst, nil
	}

	switch e.Type {
	case TypeLog:
		return decode(&LogBody{})
	case TypeError:
		return decode(&ErrorBody{})
	case TypeSpan:
		return decode(&SpanBody{})
	case TypeTokenUsage:
		return decode(&TokenUsageBody{})
	case TypeMessage:
		return decode(&MessageBody{})
	case TypeAgentAction:
		return decode(&AgentActionBody{})
	case TypeRetrieval:
		return decode(&RetrievalBody{})
	case TypeToolCall:
		return decode(&ToolCallBody{})
	case TypeModelResponse:
		return decode(&ModelResponseBody{})
	case TypeEvalMetric:
		return decode(&EvalMetricBody{})
	case TypeCustom:
		var m CustomBody
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("body is not a valid custom payload: %w", err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unknown event type %q", e.Type)
	}
}
