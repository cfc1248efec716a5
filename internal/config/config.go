// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides unified configuration loading for promptlab.
//
// Supports both TOML and JSON configuration formats, with sensible
// defaults, environment variable overrides, and validation.
//
// Configuration file locations (in order of precedence):
//   - ~/.promptlab/config.toml
//   - ~/.promptlab/config.json
//   - Built-in defaults
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/promptlab/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config is the complete promptlab configuration.
type Config struct {
	Version string `toml:"version" json:"version"`

	Server   ServerConfig   `toml:"server" json:"server"`
	Provider ProviderConfig `toml:"provider" json:"provider"`
	Quota    QuotaConfig    `toml:"quota" json:"quota"`
	Billing  BillingConfig  `toml:"billing" json:"billing"`
	Storage  StorageConfig  `toml:"storage" json:"storage"`
	Redis    RedisConfig    `toml:"redis" json:"redis"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	// Port the API server listens on.
	Port int `toml:"port" json:"port"`
	// BearerToken guards the API when non-empty. Per-user API keys are
	// checked in addition; this token is an operator backdoor for tooling.
	BearerToken string `toml:"bearer_token" json:"bearer_token"`
	// AllowedOrigins is the CORS origin allowlist.
	AllowedOrigins []string `toml:"allowed_origins" json:"allowed_origins"`
	// RateLimitRPS is the per-client request rate (requests per second).
	RateLimitRPS float64 `toml:"rate_limit_rps" json:"rate_limit_rps"`
	// RateLimitBurst is the token-bucket burst size.
	RateLimitBurst int `toml:"rate_limit_burst" json:"rate_limit_burst"`
}

// ProviderConfig contains the upstream model gateway configuration.
type ProviderConfig struct {
	// BaseURL of the OpenAI-compatible gateway.
	BaseURL string `toml:"base_url" json:"base_url"`
	// APIKey authenticates against the gateway.
	APIKey string `toml:"api_key" json:"api_key"`
	// DefaultModel is used when a configuration does not name one.
	DefaultModel string `toml:"default_model" json:"default_model"`
	// TimeoutSecs is the per-request timeout for non-streaming calls.
	TimeoutSecs int `toml:"timeout_secs" json:"timeout_secs"`
	// MaxRetries is the retry budget for transient errors.
	MaxRetries int `toml:"max_retries" json:"max_retries"`
}

// QuotaConfig contains usage enforcement configuration.
type QuotaConfig struct {
	// Enabled turns monthly token budget enforcement on.
	Enabled bool `toml:"enabled" json:"enabled"`
	// FreeMonthlyTokens is the monthly token budget for the free plan.
	FreeMonthlyTokens int64 `toml:"free_monthly_tokens" json:"free_monthly_tokens"`
	// ProMonthlyTokens is the monthly token budget for the pro plan.
	ProMonthlyTokens int64 `toml:"pro_monthly_tokens" json:"pro_monthly_tokens"`
	// TeamMonthlyTokens is the monthly token budget for the team plan.
	TeamMonthlyTokens int64 `toml:"team_monthly_tokens" json:"team_monthly_tokens"`
}

// BillingConfig contains rate card overrides.
type BillingConfig struct {
	// Rates maps model name to [input, output] cents per million tokens.
	// Models not listed fall back to the built-in rate card.
	Rates map[string][2]float64 `toml:"rates" json:"rates"`
}

// StorageConfig contains persistence configuration.
type StorageConfig struct {
	// DataDir is the root directory for file-backed stores.
	// Default: ~/.promptlab
	DataDir string `toml:"data_dir" json:"data_dir"`
	// UsageDBPath is the SQLite database for usage records.
	// Default: <data_dir>/usage.db
	UsageDBPath string `toml:"usage_db_path" json:"usage_db_path"`
	// MaxConversations limits stored conversations per user (0 = unlimited).
	MaxConversations int `toml:"max_conversations" json:"max_conversations"`
}

// RedisConfig contains optional Redis configuration for shared quota
// counters. When Addr is empty, counters are kept in process memory.
type RedisConfig struct {
	Addr     string `toml:"addr" json:"addr"`
	Password string `toml:"password" json:"password"`
	DB       int    `toml:"db" json:"db"`
}

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Version: "1.0.0",

		Server: ServerConfig{
			Port: 8790,
			AllowedOrigins: []string{
				"http://localhost",
				"http://localhost:3000",
				"http://127.0.0.1",
				"http://127.0.0.1:3000",
			},
			RateLimitRPS:   5,
			RateLimitBurst: 20,
		},

		Provider: ProviderConfig{
			BaseURL:      "https://openrouter.ai/api/v1",
			DefaultModel: "anthropic/claude-3.5-sonnet",
			TimeoutSecs:  60,
			MaxRetries:   3,
		},

		Quota: QuotaConfig{
			Enabled:           true,
			FreeMonthlyTokens: 1_000_000,
			ProMonthlyTokens:  25_000_000,
			TeamMonthlyTokens: 100_000_000,
		},

		Billing: BillingConfig{
			Rates: map[string][2]float64{},
		},

		Storage: StorageConfig{
			MaxConversations: 1000,
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// Dir returns the promptlab configuration directory path.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".promptlab"), nil
}

// PathTOML returns the path to the TOML config file.
func PathTOML() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// PathJSON returns the path to the JSON config file.
func PathJSON() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// ensureSecurePermissions fixes permissions on config files.
// SECURITY: Config files should be 0600 to protect API keys.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from the config file(s).
// Tries TOML first, then JSON, and falls back to defaults.
// Environment overrides are applied last, then defaults and validation.
func Load() (*Config, error) {
	cfg := Default()

	tomlPath, err := PathTOML()
	if err == nil {
		if _, statErr := os.Stat(tomlPath); statErr == nil {
			if err := LoadTOML(cfg, tomlPath); err != nil {
				return nil, fmt.Errorf("failed to load TOML config: %w", err)
			}
			return finalize(cfg)
		}
	}

	jsonPath, err := PathJSON()
	if err == nil {
		if _, statErr := os.Stat(jsonPath); statErr == nil {
			if err := LoadJSON(cfg, jsonPath); err != nil {
				return nil, fmt.Errorf("failed to load JSON config: %w", err)
			}
			return finalize(cfg)
		}
	}

	return finalize(cfg)
}

// LoadFromPath loads configuration from a specific file path.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()
	if strings.HasSuffix(path, ".json") {
		if err := LoadJSON(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load JSON config from %s: %w", path, err)
		}
	} else {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load TOML config from %s: %w", path, err)
		}
	}
	return finalize(cfg)
}

// finalize applies env overrides, fills defaults, and validates.
func finalize(cfg *Config) (*Config, error) {
	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML loads configuration from a TOML file.
func LoadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	return nil
}

// LoadJSON loads configuration from a JSON file.
func LoadJSON(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode JSON file: %w", err)
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies PROMPTLAB_* environment variables on top of
// the loaded configuration.
//
//	PROMPTLAB_PORT          server.port
//	PROMPTLAB_BEARER_TOKEN  server.bearer_token
//	PROMPTLAB_PROVIDER_URL  provider.base_url
//	PROMPTLAB_API_KEY       provider.api_key
//	PROMPTLAB_DATA_DIR      storage.data_dir
//	PROMPTLAB_REDIS_ADDR    redis.addr
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("PROMPTLAB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("PROMPTLAB_BEARER_TOKEN"); v != "" {
		c.Server.BearerToken = v
	}
	if v := os.Getenv("PROMPTLAB_PROVIDER_URL"); v != "" {
		c.Provider.BaseURL = v
	}
	if v := os.Getenv("PROMPTLAB_API_KEY"); v != "" {
		c.Provider.APIKey = v
	}
	if v := os.Getenv("PROMPTLAB_DATA_DIR"); v != "" {
		c.Storage.DataDir = v
	}
	if v := os.Getenv("PROMPTLAB_REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
}

// =============================================================================
// DEFAULTS AND VALIDATION
// =============================================================================

// SetDefaults fills in derived and missing values after loading.
func (c *Config) SetDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8790
	}
	if c.Server.RateLimitRPS == 0 {
		c.Server.RateLimitRPS = 5
	}
	if c.Server.RateLimitBurst == 0 {
		c.Server.RateLimitBurst = 20
	}
	if c.Provider.TimeoutSecs == 0 {
		c.Provider.TimeoutSecs = 60
	}
	if c.Provider.MaxRetries == 0 {
		c.Provider.MaxRetries = 3
	}
	if c.Storage.DataDir == "" {
		if dir, err := Dir(); err == nil {
			c.Storage.DataDir = dir
		}
	}
	if c.Storage.UsageDBPath == "" && c.Storage.DataDir != "" {
		c.Storage.UsageDBPath = filepath.Join(c.Storage.DataDir, "usage.db")
	}
	if c.Billing.Rates == nil {
		c.Billing.Rates = map[string][2]float64{}
	}
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.RateLimitRPS < 0 {
		return fmt.Errorf("server.rate_limit_rps must be non-negative, got %g", c.Server.RateLimitRPS)
	}
	if c.Provider.BaseURL != "" && !strings.HasPrefix(c.Provider.BaseURL, "http://") && !strings.HasPrefix(c.Provider.BaseURL, "https://") {
		return fmt.Errorf("provider.base_url must be an http(s) URL, got %q", c.Provider.BaseURL)
	}
	if c.Provider.TimeoutSecs < 1 {
		return fmt.Errorf("provider.timeout_secs must be positive, got %d", c.Provider.TimeoutSecs)
	}
	if c.Quota.FreeMonthlyTokens < 0 || c.Quota.ProMonthlyTokens < 0 || c.Quota.TeamMonthlyTokens < 0 {
		return fmt.Errorf("quota token budgets must be non-negative")
	}
	for model, rate := range c.Billing.Rates {
		if rate[0] < 0 || rate[1] < 0 {
			return fmt.Errorf("billing.rates[%s] must be non-negative", model)
		}
	}
	return nil
}

// =============================================================================
// SAVE
// =============================================================================

// Save writes the configuration to the TOML config file atomically.
func (c *Config) Save() error {
	path, err := PathTOML()
	if err != nil {
		return err
	}
	return c.SaveTo(path)
}

// SaveTo writes the configuration to a specific path atomically.
// SECURITY: Written 0600; config may contain API keys.
func (c *Config) SaveTo(path string) error {
	var sb strings.Builder
	if err := toml.NewEncoder(&sb).Encode(c); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return util.AtomicWriteFile(path, []byte(sb.String()), 0600)
}

// MonthlyTokens returns the configured monthly token budget for a plan
// name ("free", "pro", "team"). Unknown plans get the free budget.
func (c *Config) MonthlyTokens(plan string) int64 {
	switch plan {
	case "pro":
		return c.Quota.ProMonthlyTokens
	case "team":
		return c.Quota.TeamMonthlyTokens
	default:
		return c.Quota.FreeMonthlyTokens
	}
}
