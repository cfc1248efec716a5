// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import "time"

// =============================================================================
// USAGE RECORD
// =============================================================================

// UsageRecord is one billable model call. Records are append-only; the
// billing package aggregates them into invoices.
type UsageRecord struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	ConversationID string    `json:"conversation_id"`
	Provider       string    `json:"provider"`
	Model          string    `json:"model"`
	Timestamp      time.Time `json:"timestamp"`

	// Token counts
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`

	// CostCents is the computed cost of this call in cents.
	CostCents float64 `json:"cost_cents"`

	// LatencyMs is the wall-clock duration of the provider call.
	LatencyMs int64 `json:"latency_ms"`
}

// NewUsageRecord creates a usage record stamped with the current time.
func NewUsageRecord(userID, conversationID, providerName, modelName string, promptTokens, completionTokens int, costCents float64, latencyMs int64) *UsageRecord {
	return &UsageRecord{
		ID:               newID("usage"),
		UserID:           userID,
		ConversationID:   conversationID,
		Provider:         providerName,
		Model:            modelName,
		Timestamp:        time.Now(),
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		CostCents:        costCents,
		LatencyMs:        latencyMs,
	}
}

// TotalTokens returns prompt plus completion tokens.
func (r *UsageRecord) TotalTokens() int {
	return r.PromptTokens + r.CompletionTokens
}

// =============================================================================
// USAGE SUMMARY
// =============================================================================

// UsageSummary aggregates a user's usage over a period.
type UsageSummary struct {
	UserID           string    `json:"user_id"`
	From             time.Time `json:"from"`
	To               time.Time `json:"to"`
	Requests         int64     `json:"requests"`
	PromptTokens     int64     `json:"prompt_tokens"`
	CompletionTokens int64     `json:"completion_tokens"`
	CostCents        float64   `json:"cost_cents"`
}

// TotalTokens returns the combined token count of the summary.
func (s *UsageSummary) TotalTokens() int64 {
	return s.PromptTokens + s.CompletionTokens
}
