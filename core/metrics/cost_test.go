package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPriceTableLookup(t *testing.T) {
	table := DefaultPriceTable()

	tests := map[string]Pricing{
		"gpt-4o-realtime-preview-2024-12-17":      table["gpt-4o-realtime-preview"],
		"gpt-4o-mini-realtime-preview-2024-12-17": table["gpt-4o-mini-realtime-preview"],
		"gpt-4o-mini":       table["gpt-4o-mini"],
		"gpt-4o-2024-08-06": table["gpt-4o"],
	}
	for model, want := range tests {
		got, ok := table.Lookup(model)
		if !ok || got != want {
			t.Fatalf("%s: expected %+v, got %+v (found=%v)", model, want, got, ok)
		}
	}

	if _, ok := table.Lookup("whisper-1"); ok {
		t.Fatalf("expected unknown model to have no price")
	}
	if _, ok := table.Lookup("gpt-4oo"); ok {
		t.Fatalf("expected prefix match to stop at a name boundary")
	}
}

func TestFinalizeEstimatesCost(t *testing.T) {
	instruments := NewInstruments("test", nil)
	recorder := NewCallRecorder("call_cost", instruments,
		WithModel("gpt-4o-realtime-preview-2024-12-17"),
		WithPricing(DefaultPriceTable()),
	)
	recorder.RecordTokens(1000, 500)

	summary := recorder.Finalize()

	want := Costs{Input: 0.04, Output: 0.04, Total: 0.08}
	if summary.Costs != want {
		t.Fatalf("expected %+v, got %+v", want, summary.Costs)
	}
	if got := testutil.ToFloat64(instruments.CostUSD); got != 0.08 {
		t.Fatalf("expected cost counter 0.08, got %v", got)
	}
}

func TestFinalizeWithoutPricingCostsNothing(t *testing.T) {
	recorder := NewCallRecorder("call_free", nil, WithModel("gpt-4o-realtime-preview"))
	recorder.RecordTokens(1000, 1000)

	if got := recorder.Finalize().Costs; got != (Costs{}) {
		t.Fatalf("expected zero cost without a price table, got %+v", got)
	}
}

func TestEstimateCostsRounds(t *testing.T) {
	got := estimateCosts(Pricing{InputPer1K: 0.00175, OutputPer1K: 0.00525}, TokenUsage{Input: 1, Output: 1})
	if got.Input != 0.000002 || got.Output != 0.000005 || got.Total != 0.000007 {
		t.Fatalf("expected micro dollar rounding, got %+v", got)
	}
}
