// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/jeranaias/promptlab/internal/auth"
	"github.com/jeranaias/promptlab/internal/model"
)

// HandleUser dispatches user subcommands: add, list.
func HandleUser(args Args) {
	switch args.Subcommand {
	case "add", "create", "register":
		handleUserAdd(args)
	case "list", "ls", "":
		handleUserList(args)
	default:
		fatal("unknown user subcommand %q (want add or list)", args.Subcommand)
	}
}

func handleUserAdd(args Args) {
	if len(args.Raw) < 2 {
		fatal("usage: promptlab user add EMAIL [--name NAME] [--plan PLAN] [--password PASSWORD]")
	}
	email := args.Raw[1]

	u, err := model.NewUser(email, args.Options["name"], model.Plan(args.Options["plan"]))
	if err != nil {
		fatal("%v", err)
	}

	if password := args.Options["password"]; password != "" {
		hash, err := auth.HashPassword(password)
		if err != nil {
			fatal("%v", err)
		}
		u.PasswordHash = hash
	}

	key, err := auth.GenerateAPIKey()
	if err != nil {
		fatal("failed to generate API key: %v", err)
	}
	u.APIKey = key

	cfg := loadConfig(args)
	st := openStores(cfg)
	defer st.usage.Close()

	if err := st.users.Create(u); err != nil {
		fatal("%v", err)
	}

	if args.JSON {
		json.NewEncoder(os.Stdout).Encode(map[string]string{
			"id": u.ID, "email": u.Email, "plan": string(u.Plan), "api_key": key,
		})
		return
	}
	fmt.Printf("Created user %s (%s, plan %s)\n", u.ID, u.Email, u.Plan)
	fmt.Printf("API key (shown once, store it safely): %s\n", key)
}

func handleUserList(args Args) {
	cfg := loadConfig(args)
	st := openStores(cfg)
	defer st.usage.Close()

	users := st.users.List()
	if args.JSON {
		views := make([]map[string]any, 0, len(users))
		for _, u := range users {
			views = append(views, map[string]any{
				"id": u.ID, "email": u.Email, "name": u.Name,
				"plan": u.Plan, "created_at": u.CreatedAt,
			})
		}
		json.NewEncoder(os.Stdout).Encode(views)
		return
	}

	if len(users) == 0 {
		fmt.Println("No users registered.")
		return
	}
	fmt.Printf("%-42s %-30s %-6s %s\n", "ID", "EMAIL", "PLAN", "CREATED")
	for _, u := range users {
		fmt.Printf("%-42s %-30s %-6s %s\n",
			u.ID, u.Email, u.Plan, u.CreatedAt.Format("2006-01-02"))
	}
}
