package alert

import "time"

// Condition is the kind of check a rule performs.
type Condition string

const (
	CondErrorCount       Condition = "error_count"
	CondLatencyThreshold Condition = "latency_threshold"
	CondCostThreshold    Condition = "cost_threshold"
	CondEventMatch       Condition = "event_match"
)

// Rule is one tenant-defined alert condition. Rules are managed elsewhere;
// the evaluator only ever reads them.
type Rule struct {
	RuleID    string    `json:"rule_id"`
	ProjectID string    `json:"project_id"`
	Condition Condition `json:"condition"`
	Threshold float64   `json:"threshold"`

	// Optional filters.
	EventType  string `json:"event_type,omitempty"`
	FieldPath  string `json:"field_path,omitempty"`
	FieldValue string `json:"field_value,omitempty"`

	Severity  string    `json:"severity"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
