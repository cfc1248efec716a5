// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// PLANS
// =============================================================================

// Plan names the usage tier a user is on. The quota package maps plans to
// monthly token budgets and request rates.
type Plan string

const (
	PlanFree Plan = "free"
	PlanPro  Plan = "pro"
	PlanTeam Plan = "team"
)

// validPlans is the accepted set of plan names.
var validPlans = map[Plan]bool{
	PlanFree: true,
	PlanPro:  true,
	PlanTeam: true,
}

// =============================================================================
// USER TYPE
// =============================================================================

// User is a registered playground account. PasswordHash holds an argon2id
// encoded hash; the plaintext password is never stored.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Plan      Plan      `json:"plan"`
	CreatedAt time.Time `json:"created_at"`

	// Credentials at rest
	PasswordHash string `json:"password_hash"`
	APIKey       string `json:"api_key"`

	// MonthlyTokenQuota overrides the plan default when non-zero.
	MonthlyTokenQuota int64 `json:"monthly_token_quota,omitempty"`
}

// NewUser creates a user with a generated ID. Credentials are filled in by
// the auth package after construction.
func NewUser(email, name string, plan Plan) (*User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("email %q is not valid: %w", email, ErrInvalidUser)
	}
	if plan == "" {
		plan = PlanFree
	}
	if !validPlans[plan] {
		return nil, fmt.Errorf("unknown plan %q: %w", plan, ErrInvalidUser)
	}
	return &User{
		ID:        newID("user"),
		Email:     email,
		Name:      name,
		Plan:      plan,
		CreatedAt: time.Now(),
	}, nil
}
