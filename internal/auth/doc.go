// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package auth handles credentials at rest.
//
// Passwords are hashed with argon2id (golang.org/x/crypto/argon2) in the
// standard $argon2id$... encoded form, so parameters can be raised later
// without invalidating stored hashes. API keys are 256-bit random values
// with a pk_ prefix, compared in constant time.
//
// Login sessions, MFA, and OAuth are out of scope; API keys are the only
// request credential.
package auth
