// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the core data structures for the promptlab
// playground: conversations and their messages, reusable model
// configurations, user accounts, usage records, and invoices.
//
// All constructors validate their inputs and return sentinel errors
// (ErrInvalidConfiguration, ErrConversationEnded, ...) that callers can
// test with errors.Is. The HTTP layer maps these onto status codes.
package model
