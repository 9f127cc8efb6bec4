// Package pricing estimates completion cost from token counts.
//
// Estimation is a pure function over a tiered price table. Tiers are checked
// in table order against the model name by substring; the first match wins
// and unmatched models use the default tier. Longer markers are listed before
// their prefixes (gpt-4-32k before gpt-4) so the more specific tier wins.
package pricing

import "strings"

// Tier holds USD prices per 1K tokens.
type Tier struct {
	Marker          string
	PromptPer1K     float64
	CompletionPer1K float64
}

// DefaultTable mirrors the published per-1K-token prices for the supported
// model families.
var DefaultTable = []Tier{
	{Marker: "gpt-4-32k", PromptPer1K: 0.06, CompletionPer1K: 0.12},
	{Marker: "gpt-4", PromptPer1K: 0.03, CompletionPer1K: 0.06},
	{Marker: "gpt-3.5-turbo-16k", PromptPer1K: 0.003, CompletionPer1K: 0.004},
	{Marker: "gpt-3.5-turbo", PromptPer1K: 0.0015, CompletionPer1K: 0.002},
}

// defaultTier applies when no marker matches the model name.
var defaultTier = Tier{PromptPer1K: 0.0015, CompletionPer1K: 0.002}

// Model is a price model over a tier table.
type Model struct {
	table []Tier
}

// New creates a price model. A nil or empty table uses DefaultTable.
func New(table []Tier) *Model {
	if len(table) == 0 {
		table = DefaultTable
	}
	return &Model{table: table}
}

// tierFor returns the first tier whose marker is contained in model, or the
// default tier.
func (m *Model) tierFor(model string) Tier {
	for _, t := range m.table {
		if strings.Contains(model, t.Marker) {
			return t
		}
	}
	return defaultTier
}

// Estimate returns the estimated cost in USD for the given token counts.
// Deterministic: same inputs always produce the same output.
func (m *Model) Estimate(model string, promptTokens, completionTokens int) float64 {
	t := m.tierFor(model)
	return float64(promptTokens)/1000*t.PromptPer1K +
		float64(completionTokens)/1000*t.CompletionPer1K
}
