package event

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validEnvelope(t Type, body string) Envelope {
	return Envelope{
		EventID:   "evt-1",
		Type:      t,
		Timestamp: time.Now().Add(-time.Second),
		SDK:       SDKInfo{Name: "lynex-go", Version: "0.3.0"},
		Body:      json.RawMessage(body),
	}
}

func TestValidateAcceptsKnownTypes(t *testing.T) {
	cases := map[Type]string{
		TypeLog:           `{"message":"hello"}`,
		TypeError:         `{"message":"boom","stack_trace":"..."}`,
		TypeSpan:          `{"name":"db.query","duration_ms":12}`,
		TypeTokenUsage:    `{"model":"gpt-4","input_tokens":10,"output_tokens":5}`,
		TypeMessage:       `{"role":"user","content":"hi"}`,
		TypeAgentAction:   `{"action":"search"}`,
		TypeRetrieval:     `{"query":"docs about redis"}`,
		TypeToolCall:      `{"tool":"calculator"}`,
		TypeModelResponse: `{"model":"claude-3-5-sonnet","input_tokens":100,"output_tokens":20}`,
		TypeEvalMetric:    `{"name":"accuracy","value":0.93}`,
		TypeCustom:        `{"anything":"goes"}`,
	}
	for typ, body := range cases {
		env := validEnvelope(typ, body)
		assert.NoError(t, env.Validate(), "type %s", typ)
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Envelope)
		field  string
	}{
		{"missing event_id", func(e *Envelope) { e.EventID = "" }, "event_id"},
		{"missing type", func(e *Envelope) { e.Type = "" }, "type"},
		{"unknown type", func(e *Envelope) { e.Type = "telemetry" }, "type"},
		{"zero timestamp", func(e *Envelope) { e.Timestamp = time.Time{} }, "timestamp"},
		{"future timestamp", func(e *Envelope) { e.Timestamp = time.Now().Add(time.Hour) }, "timestamp"},
		{"parent without trace", func(e *Envelope) { e.ParentEventID = "evt-0"; e.TraceID = "" }, "parent_event_id"},
		{"broken body json", func(e *Envelope) { e.Body = json.RawMessage(`{`) }, "body"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := validEnvelope(TypeLog, `{"message":"hello"}`)
			tt.mutate(&env)
			err := env.Validate()
			require.Error(t, err)
			ve, ok := err.(*ValidationError)
			require.True(t, ok)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestValidateBodyShapePerType(t *testing.T) {
	env := validEnvelope(TypeTokenUsage, `{"input_tokens":10,"output_tokens":5}`)
	err := env.Validate()
	require.Error(t, err, "token_usage without model must fail")

	env = validEnvelope(TypeTokenUsage, `{"model":"gpt-4","input_tokens":-1}`)
	require.Error(t, env.Validate(), "negative token counts must fail")

	env = validEnvelope(TypeError, `{}`)
	require.Error(t, env.Validate(), "error without message must fail")
}

func TestDecodeBodyDispatch(t *testing.T) {
	env := validEnvelope(TypeTokenUsage, `{"model":"gpt-4","input_tokens":10,"output_tokens":5}`)
	body, err := env.DecodeBody()
	require.NoError(t, err)
	usage, ok := body.(*TokenUsageBody)
	require.True(t, ok)
	assert.Equal(t, "gpt-4", usage.Model)
	assert.Equal(t, int64(10), usage.InputTokens)

	env = validEnvelope(TypeCustom, `{"weird":{"nested":true}}`)
	body, err = env.DecodeBody()
	require.NoError(t, err)
	custom, ok := body.(CustomBody)
	require.True(t, ok)
	assert.Contains(t, custom, "weird")
}

func TestValidateBatchReportsEveryFailure(t *testing.T) {
	batch := []Envelope{
		validEnvelope(TypeLog, `{"message":"one"}`),
		validEnvelope(TypeLog, `{}`),
		{EventID: "evt-3"},
	}
	errs := ValidateBatch(batch)
	require.Len(t, errs, 2)
	assert.Equal(t, 1, errs[0].Index)
	assert.Equal(t, 2, errs[1].Index)
}
