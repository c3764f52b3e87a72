package enrich

import (
	"math"
	"regexp"
	"strings"
)

// Rates are USD per million tokens.
type Rates struct {
	InputPerMTok  float64
	OutputPerMTok float64
}

// PriceTable maps normalized model names to rates. Unknown models fall back
// to the default rates instead of failing enrichment.
type PriceTable struct {
	models       map[string]Rates
	defaultRates Rates
}

// defaultModels are the built-in rates; config can override or extend them.
var defaultModels = map[string]Rates{
	"gpt-4":             {InputPerMTok: 30.0, OutputPerMTok: 60.0},
	"gpt-4-turbo":       {InputPerMTok: 10.0, OutputPerMTok: 30.0},
	"gpt-4o":            {InputPerMTok: 2.5, OutputPerMTok: 10.0},
	"gpt-4o-mini":       {InputPerMTok: 0.15, OutputPerMTok: 0.6},
	"gpt-3.5-turbo":     {InputPerMTok: 0.5, OutputPerMTok: 1.5},
	"claude-3-opus":     {InputPerMTok: 15.0, OutputPerMTok: 75.0},
	"claude-3-5-sonnet": {InputPerMTok: 3.0, OutputPerMTok: 15.0},
	"claude-3-haiku":    {InputPerMTok: 0.25, OutputPerMTok: 1.25},
	"gemini-1.5-pro":    {InputPerMTok: 1.25, OutputPerMTok: 5.0},
	"gemini-1.5-flash":  {InputPerMTok: 0.075, OutputPerMTok: 0.3},
	"mistral-large":     {InputPerMTok: 2.0, OutputPerMTok: 6.0},
}

// NewPriceTable merges overrides (already-normalized names) over the
// built-in table.
func NewPriceTable(overrides map[string]Rates, defaults Rates) *PriceTable {
	models := make(map[string]Rates, len(defaultModels)+len(overrides))
	for k, v := range defaultModels {
		models[k] = v
	}
	for k, v := range overrides {
		models[NormalizeModel(k)] = v
	}
	if defaults == (Rates{}) {
		defaults = Rates{InputPerMTok: 1.0, OutputPerMTok: 2.0}
	}
	return &PriceTable{models: models, defaultRates: defaults}
}

// versionSuffix matches trailing hyphen-tokens that carry version noise:
// date stamps and build numbers ("0125", "20241022", "2024-05-13") and
// release channels ("preview", "latest", "beta").
var versionSuffix = regexp.MustCompile(`^(\d{2,}|preview|latest|beta)$`)

// NormalizeModel strips version suffixes so "gpt-4-0125-preview" and
// "gpt-4-0613" both price as "gpt-4".
func NormalizeModel(model string) string {
	name := strings.ToLower(strings.TrimSpace(model))
	parts := strings.Split(name, "-")
	for len(parts) > 1 && versionSuffix.MatchString(parts[len(parts)-1]) {
		parts = parts[:len(parts)-1]
	}
	return strings.Join(parts, "-")
}

// Lookup returns the rates for a (possibly versioned) model name and whether
// it was found in the table.
func (t *PriceTable) Lookup(model string) (Rates, bool) {
	if r, ok := t.models[NormalizeModel(model)]; ok {
		return r, true
	}
	return t.defaultRates, false
}

// Cost computes the USD estimate for one usage record, rounded to 6 decimal
// places.
func (t *PriceTable) Cost(model string, inputTokens, outputTokens int64) float64 {
	rates, _ := t.Lookup(model)
	cost := float64(inputTokens)/1e6*rates.InputPerMTok + float64(outputTokens)/1e6*rates.OutputPerMTok
	return math.Round(cost*1e6) / 1e6
}
