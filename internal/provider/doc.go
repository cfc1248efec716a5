// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package provider implements the upstream LLM client.
//
// The client speaks the OpenAI-compatible chat completions protocol used by
// OpenRouter and most gateway providers: one POST endpoint for both buffered
// and streaming (SSE) completions. Transient failures (rate limits, 5xx) are
// retried with exponential backoff; everything else surfaces as a typed
// error the HTTP layer can map to a status code.
//
// Chatter is the interface the server depends on; Mock implements it for
// tests so no handler test needs a live upstream.
package provider
