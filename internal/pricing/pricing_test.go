package pricing

import "testing"

func TestEstimateExactArithmetic(t *testing.T) {
	m := New(nil)

	tests := []struct {
		name       string
		model      string
		prompt     int
		completion int
		want       float64
	}{
		{"gpt-4 base", "gpt-4", 1000, 1000, 0.03 + 0.06},
		{"gpt-4-32k beats gpt-4", "gpt-4-32k", 1000, 1000, 0.06 + 0.12},
		{"gpt-4 with suffix", "gpt-4-0613", 2000, 500, 2000.0/1000*0.03 + 500.0/1000*0.06},
		{"gpt-3.5 base", "gpt-3.5-turbo", 1000, 1000, 0.0015 + 0.002},
		{"gpt-3.5 16k beats base", "gpt-3.5-turbo-16k", 1000, 1000, 0.003 + 0.004},
		{"unmatched uses default", "claude-3-opus", 1000, 1000, 0.0015 + 0.002},
		{"zero tokens", "gpt-4", 0, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := m.Estimate(tt.model, tt.prompt, tt.completion)
			if got != tt.want {
				t.Errorf("Estimate(%q, %d, %d) = %v, want %v",
					tt.model, tt.prompt, tt.completion, got, tt.want)
			}
		})
	}
}

func TestEstimateDeterministic(t *testing.T) {
	m := New(nil)
	first := m.Estimate("gpt-4", 123, 456)
	for i := 0; i < 100; i++ {
		if got := m.Estimate("gpt-4", 123, 456); got != first {
			t.Fatalf("Estimate not deterministic: %v vs %v", got, first)
		}
	}
}

func TestTableOrderFirstMatchWins(t *testing.T) {
	m := New([]Tier{
		{Marker: "special", PromptPer1K: 1, CompletionPer1K: 1},
		{Marker: "spec", PromptPer1K: 100, CompletionPer1K: 100},
	})

	// "special-model" contains both markers; the first tier must win.
	got := m.Estimate("special-model", 1000, 0)
	if got != 1.0 {
		t.Errorf("first matching tier should win, got cost %v", got)
	}
}

func TestCustomTableFallsBackToDefaultTier(t *testing.T) {
	m := New([]Tier{{Marker: "only", PromptPer1K: 9, CompletionPer1K: 9}})

	got := m.Estimate("nothing-matches", 1000, 1000)
	want := defaultTier.PromptPer1K + defaultTier.CompletionPer1K
	if got != want {
		t.Errorf("unmatched model = %v, want default tier %v", got, want)
	}
}
