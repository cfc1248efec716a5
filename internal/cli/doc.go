// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli parses promptlab's command line and runs its commands.
//
// The default command starts the API server; the rest are operator
// conveniences over the same stores the server uses: user registration,
// usage and invoice reports, conversation export, and config management.
package cli
