package enrich

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeModel(t *testing.T) {
	cases := map[string]string{
		"gpt-4-0125-preview":        "gpt-4",
		"gpt-4-0613":                "gpt-4",
		"GPT-4":                     "gpt-4",
		"gpt-4o-mini-2024-07-18":    "gpt-4o-mini",
		"claude-3-5-sonnet-20241022": "claude-3-5-sonnet",
		"gpt-4-turbo":               "gpt-4-turbo",
		"gemini-1.5-pro-latest":     "gemini-1.5-pro",
		"mistral-large":             "mistral-large",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeModel(in), "input %q", in)
	}
}

// Cost must be exact for the documented formula: the versioned suffix prices
// at the base model's rates.
func TestCostDeterminism(t *testing.T) {
	table := NewPriceTable(nil, Rates{})

	rates, ok := table.Lookup("gpt-4")
	assert.True(t, ok)

	want := float64(1000)/1e6*rates.InputPerMTok + float64(500)/1e6*rates.OutputPerMTok
	got := table.Cost("gpt-4-0125-preview", 1000, 500)
	assert.InDelta(t, want, got, 1e-9)
	assert.Equal(t, table.Cost("gpt-4", 1000, 500), got)
}

func TestCostUnknownModelFallsBack(t *testing.T) {
	table := NewPriceTable(nil, Rates{InputPerMTok: 1.0, OutputPerMTok: 2.0})

	_, ok := table.Lookup("totally-made-up-model")
	assert.False(t, ok)

	// 1000 in, 500 out at 1.0/2.0 per MTok
	assert.InDelta(t, 0.002, table.Cost("totally-made-up-model", 1000, 500), 1e-9)
}

func TestCostRoundsToSixDecimals(t *testing.T) {
	table := NewPriceTable(map[string]Rates{
		"tiny": {InputPerMTok: 0.1234567, OutputPerMTok: 0},
	}, Rates{})

	// 1 token at 0.1234567/MTok = 0.0000001234567 → rounds to 0
	assert.Equal(t, 0.0, table.Cost("tiny", 1, 0))
}

func TestOverridesWinOverBuiltins(t *testing.T) {
	table := NewPriceTable(map[string]Rates{
		"gpt-4": {InputPerMTok: 1, OutputPerMTok: 1},
	}, Rates{})
	assert.InDelta(t, 0.0015, table.Cost("gpt-4", 1000, 500), 1e-9)
}
