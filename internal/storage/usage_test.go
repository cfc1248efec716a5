// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jeranaias/promptlab/internal/model"
)

func openTestUsageStore(t *testing.T) *UsageStore {
	t.Helper()
	store, err := OpenUsageStore(filepath.Join(t.TempDir(), "usage.db"))
	if err != nil {
		t.Fatalf("OpenUsageStore() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func appendAt(t *testing.T, store *UsageStore, userID, modelName string, ts time.Time, prompt, completion int, costCents float64) {
	t.Helper()
	rec := model.NewUsageRecord(userID, "conv_1", "openrouter", modelName, prompt, completion, costCents, 120)
	rec.Timestamp = ts
	if err := store.Append(context.Background(), rec); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
}

func TestUsageSummarize(t *testing.T) {
	store := openTestUsageStore(t)

	base := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	appendAt(t, store, "user_1", "model-a", base, 100, 50, 1.5)
	appendAt(t, store, "user_1", "model-a", base.Add(time.Hour), 200, 100, 3.0)
	appendAt(t, store, "user_2", "model-a", base, 999, 999, 99.0) // other user
	appendAt(t, store, "user_1", "model-a", base.AddDate(0, 1, 0), 500, 500, 10.0) // next month

	from := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)
	summary, err := store.Summarize(context.Background(), "user_1", from, to)
	if err != nil {
		t.Fatalf("Summarize() error = %v", err)
	}

	if summary.Requests != 2 {
		t.Errorf("Requests = %d, want 2", summary.Requests)
	}
	if summary.PromptTokens != 300 {
		t.Errorf("PromptTokens = %d, want 300", summary.PromptTokens)
	}
	if summary.CompletionTokens != 150 {
		t.Errorf("CompletionTokens = %d, want 150", summary.CompletionTokens)
	}
	if summary.CostCents != 4.5 {
		t.Errorf("CostCents = %g, want 4.5", summary.CostCents)
	}
	if summary.TotalTokens() != 450 {
		t.Errorf("TotalTokens() = %d, want 450", summary.TotalTokens())
	}
}

func TestUsageSummarizeEmpty(t *testing.T) {
	store := openTestUsageStore(t)

	from := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	summary, err := store.Summarize(context.Background(), "user_nobody", from, from.AddDate(0, 1, 0))
	if err != nil {
		t.Fatalf("Summarize() error = %v", err)
	}
	if summary.Requests != 0 || summary.CostCents != 0 {
		t.Errorf("empty summary = %+v, want zeros", summary)
	}
}

func TestUsageAggregateByModel(t *testing.T) {
	store := openTestUsageStore(t)

	base := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	appendAt(t, store, "user_1", "cheap-model", base, 100, 50, 0.5)
	appendAt(t, store, "user_1", "cheap-model", base.Add(time.Minute), 100, 50, 0.5)
	appendAt(t, store, "user_1", "expensive-model", base, 100, 50, 9.0)

	from := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	lines, err := store.AggregateByModel(context.Background(), "user_1", from, from.AddDate(0, 1, 0))
	if err != nil {
		t.Fatalf("AggregateByModel() error = %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("AggregateByModel() returned %d lines, want 2", len(lines))
	}

	// Most expensive model first.
	if lines[0].Model != "expensive-model" || lines[0].AmountCents != 9.0 {
		t.Errorf("lines[0] = %+v, want expensive-model at 9.0 cents", lines[0])
	}
	if lines[1].Model != "cheap-model" || lines[1].Requests != 2 || lines[1].AmountCents != 1.0 {
		t.Errorf("lines[1] = %+v, want cheap-model, 2 requests, 1.0 cents", lines[1])
	}
}

func TestUsageRecent(t *testing.T) {
	store := openTestUsageStore(t)

	base := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		appendAt(t, store, "user_1", "model-a", base.Add(time.Duration(i)*time.Minute), 10, 10, 0.1)
	}

	records, err := store.Recent(context.Background(), "user_1", 3)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("Recent() returned %d records, want 3", len(records))
	}
	// Newest first.
	for i := 1; i < len(records); i++ {
		if records[i].Timestamp.After(records[i-1].Timestamp) {
			t.Errorf("Recent() not sorted newest first at index %d", i)
		}
	}
}
