// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package billing

import "sync"

// =============================================================================
// COST TRACKER
// =============================================================================

// Totals is one user's accumulated consumption since process start.
type Totals struct {
	Requests         int64   `json:"requests"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	CostCents        float64 `json:"cost_cents"`
}

// Tracker keeps in-memory per-user running totals for the stats surface.
// Durable accounting lives in the usage store; this is the cheap live view
// that needs no database round trip.
type Tracker struct {
	mu     sync.Mutex
	totals map[string]Totals
}

// NewTracker creates an empty cost tracker.
func NewTracker() *Tracker {
	return &Tracker{totals: make(map[string]Totals)}
}

// Add accumulates one completed model call.
func (t *Tracker) Add(userID string, promptTokens, completionTokens int, costCents float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tot := t.totals[userID]
	tot.Requests++
	tot.PromptTokens += int64(promptTokens)
	tot.CompletionTokens += int64(completionTokens)
	tot.CostCents += costCents
	t.totals[userID] = tot
}

// ForUser returns one user's running totals (zero value for unseen users).
func (t *Tracker) ForUser(userID string) Totals {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totals[userID]
}

// Snapshot copies all per-user totals.
func (t *Tracker) Snapshot() map[string]Totals {
	t.mu.Lock()
	defer t.mu.Unlock()
	snap := make(map[string]Totals, len(t.totals))
	for id, tot := range t.totals {
		snap[id] = tot
	}
	return snap
}

// TotalCostCents sums accumulated cost across all users.
func (t *Tracker) TotalCostCents() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	var sum float64
	for _, tot := range t.totals {
		sum += tot.CostCents
	}
	return sum
}
