// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/jeranaias/promptlab/internal/billing"
	"github.com/jeranaias/promptlab/internal/quota"
)

// periodBounds resolves the --period option, defaulting to the current
// UTC month.
func periodBounds(args Args) (from, to time.Time) {
	if p := args.Options["period"]; p != "" {
		from, to, err := billing.ParsePeriod(p)
		if err != nil {
			fatal("%v", err)
		}
		return from, to
	}
	return quota.PeriodBounds(time.Now())
}

// HandleUsage prints a user's usage summary for a month.
func HandleUsage(args Args) {
	if len(args.Raw) < 1 {
		fatal("usage: promptlab usage USER_ID [--period YYYY-MM]")
	}
	userID := args.Raw[0]
	from, to := periodBounds(args)

	cfg := loadConfig(args)
	st := openStores(cfg)
	defer st.usage.Close()

	if _, err := st.users.Get(userID); err != nil {
		fatal("user %s: %v", userID, err)
	}

	summary, err := st.usage.Summarize(context.Background(), userID, from, to)
	if err != nil {
		fatal("%v", err)
	}

	if args.JSON {
		json.NewEncoder(os.Stdout).Encode(summary)
		return
	}
	fmt.Printf("Usage for %s (%s)\n", userID, from.Format("2006-01"))
	fmt.Printf("  Requests:          %d\n", summary.Requests)
	fmt.Printf("  Prompt tokens:     %d\n", summary.PromptTokens)
	fmt.Printf("  Completion tokens: %d\n", summary.CompletionTokens)
	fmt.Printf("  Cost:              $%.4f\n", summary.CostCents/100.0)
}

// HandleInvoice prints a user's invoice for a month.
func HandleInvoice(args Args) {
	if len(args.Raw) < 1 {
		fatal("usage: promptlab invoice USER_ID [--period YYYY-MM]")
	}
	userID := args.Raw[0]
	from, to := periodBounds(args)

	cfg := loadConfig(args)
	st := openStores(cfg)
	defer st.usage.Close()

	if _, err := st.users.Get(userID); err != nil {
		fatal("user %s: %v", userID, err)
	}

	invoice, err := billing.NewInvoicer(st.usage).Generate(context.Background(), userID, from, to)
	if err != nil {
		fatal("%v", err)
	}

	if args.JSON {
		json.NewEncoder(os.Stdout).Encode(invoice)
		return
	}

	fmt.Printf("Invoice %s (%s, %s)\n", invoice.ID, from.Format("2006-01"), invoice.Status)
	if len(invoice.Lines) == 0 {
		fmt.Println("  No usage in period.")
		return
	}
	fmt.Printf("  %-40s %8s %10s %10s %10s\n", "MODEL", "REQS", "PROMPT", "COMPLETE", "AMOUNT")
	for _, line := range invoice.Lines {
		fmt.Printf("  %-40s %8d %10d %10d %9.4f$\n",
			line.Model, line.Requests, line.PromptTokens, line.CompletionTokens,
			line.AmountCents/100.0)
	}
	fmt.Printf("  Total: $%.4f\n", invoice.TotalDollars())
}
