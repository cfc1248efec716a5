// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import "time"

// =============================================================================
// INVOICE
// =============================================================================

// InvoiceStatus is the lifecycle state of an invoice. Payment collection
// is out of scope; invoices move from open to closed when the period ends.
type InvoiceStatus string

const (
	InvoiceOpen   InvoiceStatus = "open"
	InvoiceClosed InvoiceStatus = "closed"
)

// InvoiceLine is the aggregated usage of a single model within a period.
type InvoiceLine struct {
	Provider         string  `json:"provider"`
	Model            string  `json:"model"`
	Requests         int64   `json:"requests"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	AmountCents      float64 `json:"amount_cents"`
}

// Invoice is the computed bill for one user over one calendar month (UTC).
type Invoice struct {
	ID          string        `json:"id"`
	UserID      string        `json:"user_id"`
	PeriodStart time.Time     `json:"period_start"`
	PeriodEnd   time.Time     `json:"period_end"`
	Lines       []InvoiceLine `json:"lines"`
	TotalCents  float64       `json:"total_cents"`
	Status      InvoiceStatus `json:"status"`
	GeneratedAt time.Time     `json:"generated_at"`
}

// NewInvoice creates an empty open invoice for the given period.
func NewInvoice(userID string, periodStart, periodEnd time.Time) *Invoice {
	return &Invoice{
		ID:          newID("inv"),
		UserID:      userID,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
		Lines:       make([]InvoiceLine, 0),
		Status:      InvoiceOpen,
		GeneratedAt: time.Now(),
	}
}

// AddLine appends a line item and updates the running total.
func (inv *Invoice) AddLine(line InvoiceLine) {
	inv.Lines = append(inv.Lines, line)
	inv.TotalCents += line.AmountCents
}

// TotalDollars returns the invoice total in dollars.
func (inv *Invoice) TotalDollars() float64 {
	return inv.TotalCents / 100.0
}
