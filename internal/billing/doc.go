// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package billing computes call costs and monthly invoices.
//
// Costs are token count times rate: the rate card maps model names to
// input/output cents per million tokens, with config overrides taking
// precedence over the built-in table. All arithmetic is in cents;
// conversion to dollars happens only at the JSON boundary.
package billing
