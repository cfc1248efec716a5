// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/jeranaias/promptlab/internal/model"
	"github.com/jeranaias/promptlab/internal/storage"
)

// =============================================================================
// INVOICER
// =============================================================================

// Invoicer builds per-user monthly invoices from stored usage records.
type Invoicer struct {
	usage *storage.UsageStore
}

// NewInvoicer creates an invoicer over the usage store.
func NewInvoicer(usage *storage.UsageStore) *Invoicer {
	return &Invoicer{usage: usage}
}

// ParsePeriod parses a YYYY-MM period string into UTC month bounds.
func ParsePeriod(period string) (from, to time.Time, err error) {
	t, err := time.Parse("2006-01", period)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("period must be YYYY-MM: %w", err)
	}
	from = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return from, from.AddDate(0, 1, 0), nil
}

// Generate computes the invoice for one user and one calendar month.
// Months that have fully elapsed produce closed invoices; the current or a
// future month stays open.
func (inv *Invoicer) Generate(ctx context.Context, userID string, from, to time.Time) (*model.Invoice, error) {
	lines, err := inv.usage.AggregateByModel(ctx, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate usage for invoice: %w", err)
	}

	invoice := model.NewInvoice(userID, from, to)
	for _, line := range lines {
		invoice.AddLine(line)
	}
	if time.Now().UTC().After(to) {
		invoice.Status = model.InvoiceClosed
	}
	return invoice, nil
}

// GenerateForPeriod is Generate with a YYYY-MM period string.
func (inv *Invoicer) GenerateForPeriod(ctx context.Context, userID, period string) (*model.Invoice, error) {
	from, to, err := ParsePeriod(period)
	if err != nil {
		return nil, err
	}
	return inv.Generate(ctx, userID, from, to)
}
