// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package billing

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/jeranaias/promptlab/internal/model"
	"github.com/jeranaias/promptlab/internal/storage"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestRateCardCost(t *testing.T) {
	card := NewRateCard(nil)

	// 1M prompt + 1M completion tokens of sonnet = 300 + 1500 cents.
	got := card.Cost("anthropic/claude-3.5-sonnet", 1_000_000, 1_000_000)
	if !almostEqual(got, 1800) {
		t.Errorf("Cost() = %g cents, want 1800", got)
	}

	// Small call: 1000 prompt, 500 completion.
	got = card.Cost("anthropic/claude-3.5-sonnet", 1000, 500)
	want := 1000*300.0/1_000_000 + 500*1500.0/1_000_000
	if !almostEqual(got, want) {
		t.Errorf("Cost() = %g cents, want %g", got, want)
	}
}

func TestRateCardOverride(t *testing.T) {
	card := NewRateCard(map[string][2]float64{
		"Anthropic/Claude-3.5-Sonnet": {100, 200},
		"custom/model":                {50, 50},
	})

	// Override wins over the built-in table, case-insensitively.
	got := card.Cost("anthropic/claude-3.5-sonnet", 1_000_000, 0)
	if !almostEqual(got, 100) {
		t.Errorf("overridden Cost() = %g cents, want 100", got)
	}
	got = card.Cost("custom/model", 0, 1_000_000)
	if !almostEqual(got, 50) {
		t.Errorf("custom Cost() = %g cents, want 50", got)
	}
}

func TestRateCardUnknownModelNotFree(t *testing.T) {
	card := NewRateCard(nil)
	if got := card.Cost("mystery/model-9000", 1_000_000, 1_000_000); got <= 0 {
		t.Errorf("Cost(unknown) = %g, want > 0", got)
	}
}

func TestParsePeriod(t *testing.T) {
	from, to, err := ParsePeriod("2025-03")
	if err != nil {
		t.Fatalf("ParsePeriod() error = %v", err)
	}
	if !from.Equal(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("from = %v", from)
	}
	if !to.Equal(time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("to = %v", to)
	}

	if _, _, err := ParsePeriod("March 2025"); err == nil {
		t.Error("ParsePeriod(invalid) error = nil, want error")
	}
}

func TestInvoicerGenerate(t *testing.T) {
	store, err := storage.OpenUsageStore(filepath.Join(t.TempDir(), "usage.db"))
	if err != nil {
		t.Fatalf("OpenUsageStore() error = %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	ts := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	add := func(modelName string, cents float64) {
		rec := model.NewUsageRecord("user_1", "conv_1", "openrouter", modelName, 100, 50, cents, 100)
		rec.Timestamp = ts
		if err := store.Append(ctx, rec); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}
	add("model-a", 2.5)
	add("model-a", 2.5)
	add("model-b", 10.0)

	invoicer := NewInvoicer(store)
	invoice, err := invoicer.GenerateForPeriod(ctx, "user_1", "2025-03")
	if err != nil {
		t.Fatalf("GenerateForPeriod() error = %v", err)
	}

	if len(invoice.Lines) != 2 {
		t.Fatalf("invoice has %d lines, want 2", len(invoice.Lines))
	}
	if !almostEqual(invoice.TotalCents, 15.0) {
		t.Errorf("TotalCents = %g, want 15", invoice.TotalCents)
	}
	if !almostEqual(invoice.TotalDollars(), 0.15) {
		t.Errorf("TotalDollars() = %g, want 0.15", invoice.TotalDollars())
	}
	// An elapsed month is closed.
	if invoice.Status != model.InvoiceClosed {
		t.Errorf("Status = %q, want closed", invoice.Status)
	}
}

func TestInvoicerEmptyPeriod(t *testing.T) {
	store, err := storage.OpenUsageStore(filepath.Join(t.TempDir(), "usage.db"))
	if err != nil {
		t.Fatalf("OpenUsageStore() error = %v", err)
	}
	defer store.Close()

	invoicer := NewInvoicer(store)
	invoice, err := invoicer.GenerateForPeriod(context.Background(), "user_none", "2025-01")
	if err != nil {
		t.Fatalf("GenerateForPeriod() error = %v", err)
	}
	if len(invoice.Lines) != 0 || invoice.TotalCents != 0 {
		t.Errorf("empty invoice = %+v, want no lines and zero total", invoice)
	}
}

func TestTrackerAccumulates(t *testing.T) {
	tr := NewTracker()
	tr.Add("user_a", 100, 50, 0.5)
	tr.Add("user_a", 200, 100, 1.0)
	tr.Add("user_b", 10, 5, 0.1)

	a := tr.ForUser("user_a")
	if a.Requests != 2 || a.PromptTokens != 300 || a.CompletionTokens != 150 {
		t.Errorf("ForUser(a) = %+v, want 2 requests, 300/150 tokens", a)
	}
	if !almostEqual(a.CostCents, 1.5) {
		t.Errorf("ForUser(a).CostCents = %g, want 1.5", a.CostCents)
	}
	if tr.ForUser("user_z").Requests != 0 {
		t.Error("unseen user should report zero totals")
	}
	if !almostEqual(tr.TotalCostCents(), 1.6) {
		t.Errorf("TotalCostCents() = %g, want 1.6", tr.TotalCostCents())
	}

	// Snapshot is a copy, not a view.
	snap := tr.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("Snapshot() has %d users, want 2", len(snap))
	}
	snap["user_a"] = Totals{}
	if tr.ForUser("user_a").Requests != 2 {
		t.Error("mutating a snapshot changed the tracker")
	}
}
