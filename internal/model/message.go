// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ROLES
// =============================================================================

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// validRoles is the whitelist of acceptable message roles.
var validRoles = map[Role]bool{
	RoleUser:      true,
	RoleAssistant: true,
	RoleSystem:    true,
}

// ValidRole reports whether r is an accepted message role.
func ValidRole(r Role) bool {
	return validRoles[r]
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message is a single turn in a conversation.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`

	// Statistics (populated for assistant messages)
	PromptTokens     int   `json:"prompt_tokens,omitempty"`
	CompletionTokens int   `json:"completion_tokens,omitempty"`
	LatencyMs        int64 `json:"latency_ms,omitempty"`
}

// NewMessage creates a message with a generated ID and the current time.
// Returns ErrInvalidRole for roles outside the whitelist.
func NewMessage(role Role, content string) (*Message, error) {
	if !ValidRole(role) {
		return nil, fmt.Errorf("role %q: %w", role, ErrInvalidRole)
	}
	return &Message{
		ID:        newID("msg"),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}, nil
}

// NewUserMessage creates a user message.
func NewUserMessage(content string) *Message {
	msg, _ := NewMessage(RoleUser, content)
	return msg
}

// NewAssistantMessage creates an assistant message.
func NewAssistantMessage(content string) *Message {
	msg, _ := NewMessage(RoleAssistant, content)
	return msg
}

// NewSystemMessage creates a system message.
func NewSystemMessage(content string) *Message {
	msg, _ := NewMessage(RoleSystem, content)
	return msg
}

// TotalTokens returns the combined prompt and completion token count.
func (m *Message) TotalTokens() int {
	return m.PromptTokens + m.CompletionTokens
}

// =============================================================================
// ID GENERATION
// =============================================================================

// newID returns a prefixed unique identifier, e.g. "msg_5f1c...".
func newID(prefix string) string {
	return prefix + "_" + uuid.NewString()
}
