package event

import (
	"fmt"
	"time"
)

// MaxContextEntries caps the sender-supplied context bag.
const MaxContextEntries = 100

// maxClockSkew is how far into the future a sender timestamp may point.
const maxClockSkew = 5 * time.Minute

// ValidationError pins a rejection to one event in a batch.
type ValidationError struct {
	Index   int    `json:"index"`
	EventID string `json:"event_id,omitempty"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("event[%d] %s: %s", e.Index, e.Field, e.Message)
}

// Validate checks one envelope against the wire contract. The returned error
// is a *ValidationError with Index left at zero; batch validation fills it in.
func (e *Envelope) Validate() error {
	if e.EventID == "" {
		return &ValidationError{Field: "event_id", Message: "required"}
	}
	if e.Type == "" {
		return &ValidationError{EventID: e.EventID, Field: "type", Message: "required"}
	}
	if !e.Type.Known() {
		return &ValidationError{EventID: e.EventID, Field: "type", Message: fmt.Sprintf("unknown type %q", e.Type)}
	}
	if e.Timestamp.IsZero() {
		return &ValidationError{EventID: e.EventID, Field: "timestamp", Message: "required"}
	}
	if e.Timestamp.After(time.Now().Add(maxClockSkew)) {
		return &ValidationError{EventID: e.EventID, Field: "timestamp", Message: "too far in the future"}
	}
	if e.ParentEventID != "" && e.TraceID == "" {
		return &ValidationError{EventID: e.EventID, Field: "parent_event_id", Message: "set without trace_id"}
	}
	if len(e.Context) > MaxContextEntries {
		return &ValidationError{EventID: e.EventID, Field: "context", Message: fmt.Sprintf("more than %d entries", MaxContextEntries)}
	}

	body, err := e.DecodeBody()
	if err != nil {
		return &ValidationError{EventID: e.EventID, Field: "body", Message: err.Error()}
	}
	if err := validateBody(body); err != nil {
		return &ValidationError{EventID: e.EventID, Field: "body", Message: err.Error()}
	}
	return nil
}

// validateBody enforces the per-variant required fields.
func validateBody(body TypedBody) error {
	switch b := body.(type) {
	case *LogBody:
		if b.Message == "" {
			return fmt.Errorf("message is required for log events")
		}
	case *ErrorBody:
		if b.Message == "" {
			return fmt.Errorf("message is required for error events")
		}
	case *SpanBody:
		if b.Name == "" {
			return fmt.Errorf("name is required for span events")
		}
		if b.DurationMs < 0 {
			return fmt.Errorf("duration_ms must not be negative")
		}
	case *TokenUsageBody:
		if b.Model == "" {
			return fmt.Errorf("model is required for token_usage events")
		}
		if b.InputTokens < 0 || b.OutputTokens < 0 {
			return fmt.Errorf("token counts must not be negative")
		}
	case *MessageBody:
		if b.Role == "" {
			return fmt.Errorf("role is required for message events")
		}
	case *AgentActionBody:
		if b.Action == "" {
			return fmt.Errorf("action is required for agent_action events")
		}
	case *RetrievalBody:
		if b.Query == "" {
			return fmt.Errorf("query is required for retrieval events")
		}
	case *ToolCallBody:
		if b.Tool == "" {
			return fmt.Errorf("tool is required for tool_call events")
		}
	case *ModelResponseBody:
		if b.Model == "" {
			return fmt.Errorf("model is required for model_response events")
		}
		if b.InputTokens < 0 || b.OutputTokens < 0 {
			return fmt.Errorf("token counts must not be negative")
		}
	case *EvalMetricBody:
		if b.Name == "" {
			return fmt.Errorf("name is required for eval_metric events")
		}
	}
	return nil
}

// ValidateBatch checks every envelope and returns all per-event failures.
// The gate treats any failure as fatal for the whole batch (all-or-nothing),
// but still reports every broken event so the client fixes them in one pass.
func ValidateBatch(batch []Envelope) []ValidationError {
	var errs []ValidationError
	for i := range batch {
		if err := batch[i].Validate(); err != nil {
			ve := err.(*ValidationError)
			ve.Index = i
			errs = append(errs, *ve)
		}
	}
	return errs
}
