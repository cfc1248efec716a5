// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// cli.go - CLI parsing and command handlers for promptlab.
package cli

import (
	"fmt"
	"os"
	"strings"
)

// Version information (can be overridden at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Command represents the CLI command to execute.
type Command int

const (
	CmdServe Command = iota
	CmdUser
	CmdUsage
	CmdInvoice
	CmdExport
	CmdConfig
	CmdVersion
	CmdHelp
)

// Args holds parsed CLI arguments.
type Args struct {
	// Global flags
	ConfigPath string
	JSON       bool

	// Command-specific
	Subcommand string

	// Raw args (remaining after flag parsing)
	Raw []string

	// Options holds command-specific named options (e.g., --period, --format)
	Options map[string]string
}

const usageText = `promptlab - prompt experimentation API server

Promptlab runs conversations against OpenAI-compatible model gateways,
tracks per-user token usage, and bills it against a monthly quota.

Usage:
  promptlab serve                     Start the API server (default)
  promptlab user add EMAIL            Register a user
      --name NAME                     Display name
      --plan free|pro|team            Usage plan (default: free)
      --password PASSWORD             Optional password
  promptlab user list                 List registered users
  promptlab usage USER_ID             Usage summary
      --period YYYY-MM                Calendar month (default: current)
  promptlab invoice USER_ID           Monthly invoice
      --period YYYY-MM                Calendar month (default: current)
  promptlab export CONVERSATION_ID    Export a conversation to stdout
      --format markdown|json|curl|python|go
  promptlab config [show|set KEY VALUE]  Configuration
  promptlab version                   Version information

Global flags:
  --config PATH                       Config file (default: ~/.promptlab/config.toml)
  --json                              Machine-readable output where supported

Environment:
  PROMPTLAB_API_KEY                   Upstream gateway API key
  PROMPTLAB_PORT                      Server port (default: 8790)
  PROMPTLAB_DATA_DIR                  Data directory (default: ~/.promptlab)
  PROMPTLAB_REDIS_ADDR                Redis address for shared quota counters
`

// PrintUsage prints the usage text.
func PrintUsage() {
	fmt.Print(usageText)
}

// PrintVersion prints version information.
func PrintVersion() {
	fmt.Printf("promptlab version %s\n", Version)
	fmt.Printf("  Git commit: %s\n", GitCommit)
	fmt.Printf("  Build date: %s\n", BuildDate)
}

// Parse parses command-line arguments and returns the command and args.
func Parse() (Command, Args) {
	remaining, parsedArgs := parseGlobalFlags(os.Args[1:])

	// If no remaining args, default to serve
	if len(remaining) == 0 {
		return CmdServe, parsedArgs
	}

	cmd := strings.ToLower(remaining[0])
	remaining = remaining[1:]
	remaining, parsedArgs.Options = parseOptions(remaining)
	parsedArgs.Raw = remaining
	if len(remaining) > 0 {
		parsedArgs.Subcommand = remaining[0]
	}

	switch cmd {
	case "serve", "server":
		return CmdServe, parsedArgs
	case "user", "users":
		return CmdUser, parsedArgs
	case "usage":
		return CmdUsage, parsedArgs
	case "invoice", "invoices":
		return CmdInvoice, parsedArgs
	case "export":
		return CmdExport, parsedArgs
	case "config":
		return CmdConfig, parsedArgs
	case "version", "-v", "--version":
		return CmdVersion, parsedArgs
	case "help", "-h", "--help":
		return CmdHelp, parsedArgs
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		return CmdHelp, parsedArgs
	}
}

// parseGlobalFlags extracts global flags, returning the remaining args.
func parseGlobalFlags(args []string) ([]string, Args) {
	parsed := Args{Options: map[string]string{}}
	var remaining []string

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config":
			if i+1 < len(args) {
				i++
				parsed.ConfigPath = args[i]
			}
		case "--json":
			parsed.JSON = true
		default:
			remaining = append(remaining, args[i])
		}
	}
	return remaining, parsed
}

// parseOptions splits "--key value" and "--key=value" pairs from
// positional arguments.
func parseOptions(args []string) ([]string, map[string]string) {
	options := map[string]string{}
	var positional []string

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "--") {
			positional = append(positional, arg)
			continue
		}
		key := strings.TrimPrefix(arg, "--")
		if k, v, ok := strings.Cut(key, "="); ok {
			options[k] = v
			continue
		}
		if i+1 < len(args) && !strings.HasPrefix(args[i+1], "--") {
			options[key] = args[i+1]
			i++
		} else {
			options[key] = "true"
		}
	}
	return positional, options
}

// HandleVersion prints version info and exits successfully.
func HandleVersion() {
	PrintVersion()
}

// HandleHelp prints usage and exits successfully.
func HandleHelp() {
	PrintUsage()
}

// fatal prints an error and exits with status 1.
func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
