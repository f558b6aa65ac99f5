package metrics

import (
	"math"
	"strings"
)

// Pricing is the USD price of a model per thousand tokens.
type Pricing struct {
	InputPer1K  float64
	OutputPer1K float64
}

// PriceTable maps model names to prices. A key also prices every dated
// snapshot it is a prefix of.
type PriceTable map[string]Pricing

// DefaultPriceTable uses audio token prices for the realtime models, since
// usage reports do not split audio from text tokens.
func DefaultPriceTable() PriceTable {
	return PriceTable{
		"gpt-4o-realtime-preview":      {InputPer1K: 0.04, OutputPer1K: 0.08},
		"gpt-4o-mini-realtime-preview": {InputPer1K: 0.01, OutputPer1K: 0.02},
		"gpt-4o":                       {InputPer1K: 0.01, OutputPer1K: 0.03},
		"gpt-4o-mini":                  {InputPer1K: 0.00175, OutputPer1K: 0.00525},
	}
}

// Lookup returns the price of model, preferring an exact entry and then the
// longest prefix.
func (t PriceTable) Lookup(model string) (Pricing, bool) {
	if p, ok := t[model]; ok {
		return p, true
	}

	var (
		best    Pricing
		bestLen int
	)
	for name, p := range t {
		if len(name) > bestLen && strings.HasPrefix(model, name+"-") {
			best, bestLen = p, len(name)
		}
	}
	return best, bestLen > 0
}

// Costs is the estimated USD cost of a call.
type Costs struct {
	Input  float64 `json:"input"`
	Output float64 `json:"output"`
	Total  float64 `json:"total"`
}

func estimateCosts(p Pricing, tokens TokenUsage) Costs {
	input := float64(tokens.Input) / 1000 * p.InputPer1K
	output := float64(tokens.Output) / 1000 * p.OutputPer1K
	return Costs{
		Input:  roundUSD(input),
		Output: roundUSD(output),
		Total:  roundUSD(input + output),
	}
}

func roundUSD(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
