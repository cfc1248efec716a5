// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides shared helpers for promptlab: crash-safe file
// writes and UTF-8 aware string truncation.
//
//	// Write store files atomically to prevent data loss
//	err := util.AtomicWriteFile(path, data, 0644)
//
//	// Truncate long content safely for previews
//	preview := util.TruncateRunes(content, 80)
package util
