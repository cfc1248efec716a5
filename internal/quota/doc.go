// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package quota enforces usage limits.
//
// Two distinct limits live here. Request rate limiting is a per-client
// token bucket (golang.org/x/time/rate) keyed by client IP or API key,
// applied by the HTTP middleware. Monthly token quotas are per-user
// budgets tracked in a counter store; the in-memory store is the default
// and a Redis-backed store (github.com/redis/go-redis) supports running
// several instances against one shared count.
//
// Quota periods are calendar months in UTC.
package quota
