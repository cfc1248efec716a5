// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/jeranaias/promptlab/internal/config"
)

// HandleConfig dispatches config subcommands: show (default), set, path.
func HandleConfig(args Args) {
	switch args.Subcommand {
	case "show", "":
		handleConfigShow(args)
	case "set":
		handleConfigSet(args)
	case "path":
		path, err := config.PathTOML()
		if err != nil {
			fatal("%v", err)
		}
		fmt.Println(path)
	default:
		fatal("unknown config subcommand %q (want show, set, or path)", args.Subcommand)
	}
}

func handleConfigShow(args Args) {
	cfg := loadConfig(args)

	// Never print credentials.
	redacted := *cfg
	if redacted.Provider.APIKey != "" {
		redacted.Provider.APIKey = "<set>"
	}
	if redacted.Server.BearerToken != "" {
		redacted.Server.BearerToken = "<set>"
	}
	if redacted.Redis.Password != "" {
		redacted.Redis.Password = "<set>"
	}

	if args.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(redacted)
		return
	}

	fmt.Printf("Server:\n")
	fmt.Printf("  port:             %d\n", redacted.Server.Port)
	fmt.Printf("  bearer_token:     %s\n", orUnset(redacted.Server.BearerToken))
	fmt.Printf("  rate_limit_rps:   %g (burst %d)\n", redacted.Server.RateLimitRPS, redacted.Server.RateLimitBurst)
	fmt.Printf("Provider:\n")
	fmt.Printf("  base_url:         %s\n", redacted.Provider.BaseURL)
	fmt.Printf("  api_key:          %s\n", orUnset(redacted.Provider.APIKey))
	fmt.Printf("  default_model:    %s\n", redacted.Provider.DefaultModel)
	fmt.Printf("Quota:\n")
	fmt.Printf("  enabled:          %t\n", redacted.Quota.Enabled)
	fmt.Printf("  free/pro/team:    %d / %d / %d tokens\n",
		redacted.Quota.FreeMonthlyTokens, redacted.Quota.ProMonthlyTokens, redacted.Quota.TeamMonthlyTokens)
	fmt.Printf("Storage:\n")
	fmt.Printf("  data_dir:         %s\n", redacted.Storage.DataDir)
	fmt.Printf("  usage_db_path:    %s\n", redacted.Storage.UsageDBPath)
	fmt.Printf("Redis:\n")
	fmt.Printf("  addr:             %s\n", orUnset(redacted.Redis.Addr))
}

func orUnset(s string) string {
	if s == "" {
		return "<unset>"
	}
	return s
}

// handleConfigSet updates one key in the config file.
func handleConfigSet(args Args) {
	if len(args.Raw) < 3 {
		fatal("usage: promptlab config set KEY VALUE")
	}
	key, value := args.Raw[1], args.Raw[2]

	cfg := loadConfig(args)
	switch key {
	case "server.port":
		port, err := strconv.Atoi(value)
		if err != nil {
			fatal("server.port must be an integer: %v", err)
		}
		cfg.Server.Port = port
	case "server.bearer_token":
		cfg.Server.BearerToken = value
	case "provider.base_url":
		cfg.Provider.BaseURL = value
	case "provider.api_key":
		cfg.Provider.APIKey = value
	case "provider.default_model":
		cfg.Provider.DefaultModel = value
	case "quota.enabled":
		enabled, err := strconv.ParseBool(value)
		if err != nil {
			fatal("quota.enabled must be true or false: %v", err)
		}
		cfg.Quota.Enabled = enabled
	case "storage.data_dir":
		cfg.Storage.DataDir = value
	case "redis.addr":
		cfg.Redis.Addr = value
	default:
		fatal("unknown config key %q", key)
	}

	if err := cfg.Validate(); err != nil {
		fatal("%v", err)
	}

	var err error
	if args.ConfigPath != "" {
		err = cfg.SaveTo(args.ConfigPath)
	} else {
		err = cfg.Save()
	}
	if err != nil {
		fatal("failed to save config: %v", err)
	}
	fmt.Printf("Set %s\n", key)
}
