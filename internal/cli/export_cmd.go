// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"os"

	"github.com/jeranaias/promptlab/internal/export"
)

// HandleExport renders a stored conversation to stdout or --out FILE.
func HandleExport(args Args) {
	if len(args.Raw) < 1 {
		fatal("usage: promptlab export CONVERSATION_ID [--format FORMAT] [--out FILE]")
	}
	conversationID := args.Raw[0]

	format := args.Options["format"]
	if format == "" {
		format = "markdown"
	}
	exporter, err := export.ForFormat(format)
	if err != nil {
		fatal("%v (supported: %v)", err, export.Formats())
	}

	cfg := loadConfig(args)
	st := openStores(cfg)
	defer st.usage.Close()

	conv, err := st.conversations.Load(conversationID)
	if err != nil {
		fatal("conversation %s: %v", conversationID, err)
	}
	// Nil is fine; exporters fall back to defaults for a deleted
	// configuration.
	modelCfg, _ := st.configurations.Get(conv.ConfigID)

	out, err := exporter.Export(conv, modelCfg)
	if err != nil {
		fatal("%v", err)
	}

	if path := args.Options["out"]; path != "" {
		if err := os.WriteFile(path, out, 0644); err != nil {
			fatal("%v", err)
		}
		fmt.Fprintf(os.Stderr, "Wrote %s\n", path)
		return
	}
	os.Stdout.Write(out)
}
