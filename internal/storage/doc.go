// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides persistence for promptlab.
//
// Conversations, model configurations, and users live in JSON files under
// the data directory, written atomically with fsync. Usage records are
// append-only and live in a SQLite database (modernc.org/sqlite, pure Go)
// so billing aggregation stays a SQL query instead of a file scan.
//
// All not-found conditions are reported as ErrNotFound and can be tested
// with errors.Is.
package storage
