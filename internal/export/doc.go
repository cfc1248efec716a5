// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export renders conversations into portable formats.
//
// Two families of exporter exist. Transcript exporters (markdown, json)
// reproduce the message history for reading or archival. Code exporters
// (curl, python, go) emit a runnable snippet that replays the conversation
// against an OpenAI-compatible chat completions endpoint with the exact
// sampling parameters of the conversation's model configuration, so an
// experiment tuned in the playground can be lifted into application code.
//
// Exporters return bytes; the HTTP layer serves them with the exporter's
// MIME type, and the CLI writes them to files.
package export
