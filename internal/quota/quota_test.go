// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package quota

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jeranaias/promptlab/internal/model"
)

func TestLimiterStoreAllowsBurst(t *testing.T) {
	store := NewLimiterStore(1, 3)

	allowed := 0
	for i := 0; i < 10; i++ {
		if store.Allow("client-a") {
			allowed++
		}
	}
	if allowed != 3 {
		t.Errorf("allowed %d requests, want burst of 3", allowed)
	}

	// Independent keys get independent buckets.
	if !store.Allow("client-b") {
		t.Error("fresh key denied")
	}
}

func TestLimiterStoreCleanup(t *testing.T) {
	store := NewLimiterStore(1, 1)
	store.idleTTL = 0

	store.Allow("stale")
	time.Sleep(time.Millisecond)
	store.Cleanup()
	if store.Len() != 0 {
		t.Errorf("Len() = %d after cleanup, want 0", store.Len())
	}
}

func TestMemoryCounter(t *testing.T) {
	c := NewMemoryCounter()
	ctx := context.Background()

	total, err := c.Incr(ctx, "k", 100)
	if err != nil || total != 100 {
		t.Fatalf("Incr() = %d, %v, want 100, nil", total, err)
	}
	total, _ = c.Incr(ctx, "k", 50)
	if total != 150 {
		t.Errorf("Incr() = %d, want 150", total)
	}
	got, _ := c.Get(ctx, "k")
	if got != 150 {
		t.Errorf("Get() = %d, want 150", got)
	}
	got, _ = c.Get(ctx, "unknown")
	if got != 0 {
		t.Errorf("Get(unknown) = %d, want 0", got)
	}
}

func TestPeriodBounds(t *testing.T) {
	from, to := PeriodBounds(time.Date(2025, 3, 15, 23, 30, 0, 0, time.UTC))
	if !from.Equal(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("from = %v", from)
	}
	if !to.Equal(time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("to = %v", to)
	}
}

func planBudget(u *model.User) int64 {
	if u.MonthlyTokenQuota > 0 {
		return u.MonthlyTokenQuota
	}
	return 1000
}

func TestEnforcerCheck(t *testing.T) {
	e := NewEnforcer(NewMemoryCounter(), planBudget, nil, true)
	ctx := context.Background()
	u, _ := model.NewUser("quota@example.com", "Q", model.PlanFree)

	// Under budget.
	if err := e.Check(ctx, u, 500); err != nil {
		t.Fatalf("Check() error = %v, want nil", err)
	}

	if err := e.Record(ctx, u.ID, 900); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	// A call that starts under budget may project past it.
	if err := e.Check(ctx, u, 200); !errors.Is(err, ErrQuotaExceeded) {
		t.Errorf("Check() error = %v, want ErrQuotaExceeded", err)
	}
	if err := e.Check(ctx, u, 50); err != nil {
		t.Errorf("Check() error = %v, want nil under budget", err)
	}
}

func TestEnforcerUserOverride(t *testing.T) {
	e := NewEnforcer(NewMemoryCounter(), planBudget, nil, true)
	ctx := context.Background()
	u, _ := model.NewUser("vip@example.com", "VIP", model.PlanFree)
	u.MonthlyTokenQuota = 5000

	e.Record(ctx, u.ID, 2000)
	if err := e.Check(ctx, u, 2000); err != nil {
		t.Errorf("Check() error = %v, want nil under overridden budget", err)
	}

	remaining, err := e.Remaining(ctx, u)
	if err != nil {
		t.Fatalf("Remaining() error = %v", err)
	}
	if remaining != 3000 {
		t.Errorf("Remaining() = %d, want 3000", remaining)
	}
}

func TestEnforcerDisabled(t *testing.T) {
	e := NewEnforcer(NewMemoryCounter(), planBudget, nil, false)
	ctx := context.Background()
	u, _ := model.NewUser("off@example.com", "Off", model.PlanFree)

	e.Record(ctx, u.ID, 1_000_000)
	if err := e.Check(ctx, u, 1_000_000); err != nil {
		t.Errorf("Check() error = %v with enforcement disabled", err)
	}
	remaining, _ := e.Remaining(ctx, u)
	if remaining != -1 {
		t.Errorf("Remaining() = %d, want -1 (unlimited)", remaining)
	}
}

func TestEnforcerSeedsFromStoredUsage(t *testing.T) {
	// A fresh counter with durable history behind it, as after a restart.
	var lookups int
	stored := func(_ context.Context, _ string, _, _ time.Time) (int64, error) {
		lookups++
		return 900, nil
	}
	e := NewEnforcer(NewMemoryCounter(), planBudget, stored, true)
	ctx := context.Background()
	u, _ := model.NewUser("restart@example.com", "R", model.PlanFree)

	if err := e.Check(ctx, u, 200); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("Check() error = %v, want ErrQuotaExceeded from seeded total", err)
	}
	remaining, err := e.Remaining(ctx, u)
	if err != nil {
		t.Fatalf("Remaining() error = %v", err)
	}
	if remaining != 100 {
		t.Errorf("Remaining() = %d, want 100", remaining)
	}

	// New consumption stacks on the seed, and the store is read once.
	if err := e.Record(ctx, u.ID, 100); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if remaining, _ = e.Remaining(ctx, u); remaining != 0 {
		t.Errorf("Remaining() after Record = %d, want 0", remaining)
	}
	if lookups != 1 {
		t.Errorf("durable usage read %d times, want 1", lookups)
	}
}

func TestMemoryCounterSeedDoesNotClobber(t *testing.T) {
	c := NewMemoryCounter()
	ctx := context.Background()

	if err := c.Seed(ctx, "k", 500); err != nil {
		t.Fatalf("Seed() error = %v", err)
	}
	c.Incr(ctx, "k", 10)
	if err := c.Seed(ctx, "k", 9999); err != nil {
		t.Fatalf("Seed() error = %v", err)
	}
	got, _ := c.Get(ctx, "k")
	if got != 510 {
		t.Errorf("Get() = %d, want 510 (seed must not overwrite a live counter)", got)
	}
}
