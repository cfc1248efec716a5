// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server provides the promptlab HTTP API.
//
// # Endpoints
//
//   - POST   /api/users                        - Register a user
//   - GET    /api/users/{id}                   - Fetch a user
//   - GET    /api/users/{id}/usage             - Usage summary for a period
//   - GET    /api/users/{id}/invoice           - Monthly invoice (?period=YYYY-MM)
//   - POST   /api/configurations               - Create a model configuration
//   - GET    /api/configurations               - List configurations
//   - GET    /api/configurations/{id}          - Fetch a configuration
//   - DELETE /api/configurations/{id}          - Delete a configuration
//   - POST   /api/conversations                - Start a conversation
//   - GET    /api/conversations                - List conversations (?q= search)
//   - GET    /api/conversations/{id}           - Fetch a conversation
//   - DELETE /api/conversations/{id}           - Delete a conversation
//   - POST   /api/conversations/{id}/end       - End a conversation
//   - POST   /api/conversations/{id}/messages  - Send a message (?stream=true for SSE)
//   - GET    /api/conversations/{id}/export    - Export (?format=markdown|json|curl|python|go)
//   - GET    /health                           - Health check
//   - GET    /stats                            - Server statistics
//
// Streaming responses are Server-Sent Events with three event types:
// response_chunk (incremental content), response_complete (final message,
// token usage, and cost), and response_error.
//
// # Security Features
//
//   - Per-user API key authentication with constant-time comparison
//   - Operator bearer token for administrative tooling
//   - CORS origin allowlist
//   - Per-client rate limiting backed by token buckets
//   - Security headers (X-Content-Type-Options, X-Frame-Options, etc.)
//   - Request logging with timing information
//   - Panic recovery with stack trace logging
package server
