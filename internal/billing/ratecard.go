// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package billing

import "strings"

// =============================================================================
// RATE CARD
// =============================================================================

// Rate holds input and output pricing in cents per million tokens.
type Rate struct {
	// InputCentsPerM is the cost per million prompt tokens in cents.
	InputCentsPerM float64
	// OutputCentsPerM is the cost per million completion tokens in cents.
	OutputCentsPerM float64
}

// defaultRates is the built-in pricing table, cents per million tokens.
// 2024 list prices.
var defaultRates = map[string]Rate{
	"anthropic/claude-3-haiku":    {25, 125},     // $0.25/M in, $1.25/M out
	"anthropic/claude-3.5-haiku":  {80, 400},     // $0.80/M in, $4/M out
	"anthropic/claude-3.5-sonnet": {300, 1500},   // $3/M in, $15/M out
	"anthropic/claude-3-opus":     {1500, 7500},  // $15/M in, $75/M out
	"openai/gpt-4o-mini":          {15, 60},      // $0.15/M in, $0.60/M out
	"openai/gpt-4o":               {250, 1000},   // $2.50/M in, $10/M out
	"openai/gpt-4-turbo":          {1000, 3000},  // $10/M in, $30/M out
	"google/gemini-pro-1.5":       {125, 500},    // $1.25/M in, $5/M out
	"meta-llama/llama-3-70b-instruct": {59, 79},  // $0.59/M in, $0.79/M out
}

// fallbackRate is used for models missing from both tables. Pitched at the
// OpenRouter auto-router average so unknown models are never billed free.
var fallbackRate = Rate{100, 300}

// RateCard resolves per-model pricing, with overrides from configuration
// taking precedence over the built-in table.
type RateCard struct {
	overrides map[string]Rate
}

// NewRateCard creates a rate card. overrides maps model name to
// [input, output] cents per million tokens, matching the config format.
func NewRateCard(overrides map[string][2]float64) *RateCard {
	card := &RateCard{overrides: make(map[string]Rate, len(overrides))}
	for name, r := range overrides {
		card.overrides[strings.ToLower(name)] = Rate{InputCentsPerM: r[0], OutputCentsPerM: r[1]}
	}
	return card
}

// RateFor returns the pricing for a model.
func (c *RateCard) RateFor(modelName string) Rate {
	key := strings.ToLower(modelName)
	if r, ok := c.overrides[key]; ok {
		return r
	}
	if r, ok := defaultRates[key]; ok {
		return r
	}
	return fallbackRate
}

// Cost returns the cost in cents for a call's token counts.
func (c *RateCard) Cost(modelName string, promptTokens, completionTokens int) float64 {
	r := c.RateFor(modelName)
	return float64(promptTokens)*r.InputCentsPerM/1_000_000 +
		float64(completionTokens)*r.OutputCentsPerM/1_000_000
}
