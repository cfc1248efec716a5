// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import "errors"

// =============================================================================
// SENTINEL ERRORS
// =============================================================================

var (
	// ErrInvalidConfiguration indicates a model configuration parameter is
	// out of range (temperature, top_p, max_tokens).
	ErrInvalidConfiguration = errors.New("invalid model configuration")

	// ErrConversationEnded indicates an attempt to append a message to a
	// conversation that has already been ended.
	ErrConversationEnded = errors.New("conversation has ended")

	// ErrAlreadyEnded indicates End was called on an ended conversation.
	ErrAlreadyEnded = errors.New("conversation already ended")

	// ErrInvalidRole indicates a message role outside the accepted set.
	ErrInvalidRole = errors.New("invalid message role")

	// ErrInvalidUser indicates a user record failed validation.
	ErrInvalidUser = errors.New("invalid user")
)
