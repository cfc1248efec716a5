// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package quota

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jeranaias/promptlab/internal/model"
)

// ErrQuotaExceeded is returned when a user's monthly token budget is spent.
// The HTTP layer maps it to 429.
var ErrQuotaExceeded = errors.New("monthly token quota exceeded")

// BudgetFunc resolves a user's monthly token budget. A return of 0 or less
// means unlimited.
type BudgetFunc func(u *model.User) int64

// UsageFunc reports a user's durable token total for a period. The enforcer
// uses it to rebuild counters from storage, so an in-memory counter does not
// forget the month's consumption across restarts.
type UsageFunc func(ctx context.Context, userID string, from, to time.Time) (int64, error)

// =============================================================================
// ENFORCER
// =============================================================================

// Enforcer checks and records per-user monthly token consumption.
type Enforcer struct {
	counter CounterStore
	budget  BudgetFunc
	usage   UsageFunc
	enabled bool

	mu     sync.Mutex
	seeded map[string]struct{}
}

// NewEnforcer creates an enforcer over the given counter store. usage may be
// nil when no durable record of past consumption exists.
func NewEnforcer(counter CounterStore, budget BudgetFunc, usage UsageFunc, enabled bool) *Enforcer {
	return &Enforcer{
		counter: counter,
		budget:  budget,
		usage:   usage,
		enabled: enabled,
		seeded:  make(map[string]struct{}),
	}
}

// PeriodBounds returns the UTC calendar month containing t.
func PeriodBounds(t time.Time) (from, to time.Time) {
	t = t.UTC()
	from = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return from, from.AddDate(0, 1, 0)
}

// periodKey is the counter key for a user's current month.
func periodKey(userID string, t time.Time) string {
	return fmt.Sprintf("tokens:%s:%s", userID, t.UTC().Format("2006-01"))
}

// ensureSeeded backfills the counter for the user's current period from the
// durable usage records, once per key per process. Seed is set-if-absent, so
// a shared Redis counter is never clobbered.
func (e *Enforcer) ensureSeeded(ctx context.Context, userID string) error {
	if e.usage == nil {
		return nil
	}
	key := periodKey(userID, time.Now())
	e.mu.Lock()
	_, done := e.seeded[key]
	e.mu.Unlock()
	if done {
		return nil
	}

	from, to := PeriodBounds(time.Now())
	spent, err := e.usage(ctx, userID, from, to)
	if err != nil {
		return fmt.Errorf("quota seed failed: %w", err)
	}
	if spent > 0 {
		if err := e.counter.Seed(ctx, key, spent); err != nil {
			return fmt.Errorf("quota seed failed: %w", err)
		}
	}

	e.mu.Lock()
	e.seeded[key] = struct{}{}
	e.mu.Unlock()
	return nil
}

// Check returns ErrQuotaExceeded when the user's spent tokens plus the
// projected cost of the next call would pass the budget. A call that starts
// under budget is allowed to finish over it; the overage counts against the
// remainder of the month.
func (e *Enforcer) Check(ctx context.Context, u *model.User, projected int64) error {
	if !e.enabled {
		return nil
	}
	budget := e.budget(u)
	if budget <= 0 {
		return nil
	}

	if err := e.ensureSeeded(ctx, u.ID); err != nil {
		return err
	}
	spent, err := e.counter.Get(ctx, periodKey(u.ID, time.Now()))
	if err != nil {
		return fmt.Errorf("quota lookup failed: %w", err)
	}
	if spent+projected > budget {
		return fmt.Errorf("%w: %d of %d tokens used", ErrQuotaExceeded, spent, budget)
	}
	return nil
}

// Record adds consumed tokens to the user's current period.
func (e *Enforcer) Record(ctx context.Context, userID string, tokens int64) error {
	if !e.enabled || tokens <= 0 {
		return nil
	}
	// Seed before the increment or a first-of-the-period Incr would mark
	// the key present and shadow the durable total.
	if err := e.ensureSeeded(ctx, userID); err != nil {
		return err
	}
	_, err := e.counter.Incr(ctx, periodKey(userID, time.Now()), tokens)
	return err
}

// Remaining returns the user's unspent budget for the current month.
// Unlimited budgets report -1.
func (e *Enforcer) Remaining(ctx context.Context, u *model.User) (int64, error) {
	budget := e.budget(u)
	if !e.enabled || budget <= 0 {
		return -1, nil
	}
	if err := e.ensureSeeded(ctx, u.ID); err != nil {
		return 0, err
	}
	spent, err := e.counter.Get(ctx, periodKey(u.ID, time.Now()))
	if err != nil {
		return 0, err
	}
	if spent >= budget {
		return 0, nil
	}
	return budget - spent, nil
}
