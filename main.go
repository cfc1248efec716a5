// promptlab - prompt experimentation API server.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"github.com/jeranaias/promptlab/internal/cli"
)

func main() {
	cmd, args := cli.Parse()

	switch cmd {
	case cli.CmdServe:
		cli.HandleServe(args)
	case cli.CmdUser:
		cli.HandleUser(args)
	case cli.CmdUsage:
		cli.HandleUsage(args)
	case cli.CmdInvoice:
		cli.HandleInvoice(args)
	case cli.CmdExport:
		cli.HandleExport(args)
	case cli.CmdConfig:
		cli.HandleConfig(args)
	case cli.CmdVersion:
		cli.HandleVersion()
	case cli.CmdHelp:
		cli.HandleHelp()
	}
}
