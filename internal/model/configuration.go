// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"fmt"
	"time"
)

// Parameter bounds for model configurations. Shared with the HTTP layer
// so request validation and constructor validation agree.
const (
	// MinTemperature is the minimum sampling temperature.
	MinTemperature = 0.0

	// MaxTemperature is the maximum sampling temperature.
	MaxTemperature = 2.0

	// MaxTokensLimit is the maximum value for the max_tokens parameter.
	MaxTokensLimit = 128000

	// DefaultMaxTokens is used when max_tokens is unset.
	DefaultMaxTokens = 4096
)

// =============================================================================
// MODEL CONFIGURATION
// =============================================================================

// ModelConfiguration is a named, reusable set of sampling parameters for a
// provider model. Conversations reference a configuration by ID.
type ModelConfiguration struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Provider  string    `json:"provider"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Sampling parameters
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	MaxTokens   int     `json:"max_tokens"`

	// SystemPrompt is prepended to every conversation run with this
	// configuration (optional).
	SystemPrompt string `json:"system_prompt,omitempty"`
}

// NewModelConfiguration creates and validates a configuration.
// Zero-valued TopP and MaxTokens are defaulted before validation.
func NewModelConfiguration(name, provider, modelName string, temperature, topP float64, maxTokens int) (*ModelConfiguration, error) {
	if topP == 0 {
		topP = 1.0
	}
	if maxTokens == 0 {
		maxTokens = DefaultMaxTokens
	}

	now := time.Now()
	cfg := &ModelConfiguration{
		ID:          newID("cfg"),
		Name:        name,
		Provider:    provider,
		Model:       modelName,
		CreatedAt:   now,
		UpdatedAt:   now,
		Temperature: temperature,
		TopP:        topP,
		MaxTokens:   maxTokens,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks all parameter ranges.
func (c *ModelConfiguration) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("name must not be empty: %w", ErrInvalidConfiguration)
	}
	if c.Model == "" {
		return fmt.Errorf("model must not be empty: %w", ErrInvalidConfiguration)
	}
	if c.Temperature < MinTemperature || c.Temperature > MaxTemperature {
		return fmt.Errorf("temperature must be between %.1f and %.1f, got %g: %w",
			MinTemperature, MaxTemperature, c.Temperature, ErrInvalidConfiguration)
	}
	if c.TopP <= 0 || c.TopP > 1 {
		return fmt.Errorf("top_p must be in (0, 1], got %g: %w", c.TopP, ErrInvalidConfiguration)
	}
	if c.MaxTokens < 1 || c.MaxTokens > MaxTokensLimit {
		return fmt.Errorf("max_tokens must be between 1 and %d, got %d: %w",
			MaxTokensLimit, c.MaxTokens, ErrInvalidConfiguration)
	}
	return nil
}
