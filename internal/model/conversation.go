// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"strings"
	"time"
)

// MaxMessages is the maximum number of messages kept in a conversation.
// When exceeded, the oldest non-system messages are pruned to prevent
// unbounded growth.
const MaxMessages = 1000

// =============================================================================
// CONVERSATION STATUS
// =============================================================================

// Status is the lifecycle state of a conversation.
type Status string

const (
	// StatusActive allows appending messages.
	StatusActive Status = "active"
	// StatusEnded is terminal; appends are rejected.
	StatusEnded Status = "ended"
)

// =============================================================================
// CONVERSATION TYPE
// =============================================================================

// Conversation holds a prompt-experimentation session: an ordered message
// history bound to a user and a model configuration.
type Conversation struct {
	// Identity
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	EndedAt   time.Time `json:"ended_at,omitempty"`

	// Model configuration this conversation runs against.
	ConfigID string `json:"config_id"`

	// Messages
	Messages []*Message `json:"messages"`

	// Context tracking
	TokensUsed int `json:"tokens_used"`
}

// NewConversation creates an active conversation for the given user and
// model configuration.
func NewConversation(userID, configID string) *Conversation {
	now := time.Now()
	return &Conversation{
		ID:        newID("conv"),
		UserID:    userID,
		ConfigID:  configID,
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
		Messages:  make([]*Message, 0),
	}
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// Active reports whether the conversation still accepts messages.
func (c *Conversation) Active() bool {
	return c.Status == StatusActive
}

// End marks the conversation ended. Ending an already-ended conversation
// returns ErrAlreadyEnded; the state is unchanged either way.
func (c *Conversation) End() error {
	if c.Status == StatusEnded {
		return ErrAlreadyEnded
	}
	c.Status = StatusEnded
	c.EndedAt = time.Now()
	c.UpdatedAt = c.EndedAt
	return nil
}

// =============================================================================
// MESSAGE MANAGEMENT
// =============================================================================

// Append adds a message to the conversation history.
// Returns ErrConversationEnded when the conversation is no longer active.
func (c *Conversation) Append(msg *Message) error {
	if !c.Active() {
		return ErrConversationEnded
	}
	c.Messages = append(c.Messages, msg)
	c.TokensUsed += msg.TotalTokens()
	c.UpdatedAt = time.Now()
	c.updateTitle()
	c.pruneOldMessages()
	return nil
}

// AppendUser creates and appends a user message.
func (c *Conversation) AppendUser(content string) (*Message, error) {
	msg := NewUserMessage(content)
	if err := c.Append(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// AppendAssistant creates and appends an assistant message.
func (c *Conversation) AppendAssistant(content string) (*Message, error) {
	msg := NewAssistantMessage(content)
	if err := c.Append(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// LastMessage returns the most recent message, or nil if empty.
func (c *Conversation) LastMessage() *Message {
	if len(c.Messages) == 0 {
		return nil
	}
	return c.Messages[len(c.Messages)-1]
}

// LastAssistantMessage returns the most recent assistant message, or nil.
func (c *Conversation) LastAssistantMessage() *Message {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role == RoleAssistant {
			return c.Messages[i]
		}
	}
	return nil
}

// MessageCount returns the number of messages in the conversation.
func (c *Conversation) MessageCount() int {
	return len(c.Messages)
}

// updateTitle derives the title from the first user message when unset.
func (c *Conversation) updateTitle() {
	if c.Title != "" {
		return
	}
	for _, msg := range c.Messages {
		if msg.Role == RoleUser && msg.Content != "" {
			title := strings.ReplaceAll(msg.Content, "\n", " ")
			runes := []rune(title)
			if len(runes) > 50 {
				title = string(runes[:47]) + "..."
			}
			c.Title = title
			return
		}
	}
}

// pruneOldMessages drops the oldest non-system messages past MaxMessages.
func (c *Conversation) pruneOldMessages() {
	if len(c.Messages) <= MaxMessages {
		return
	}
	excess := len(c.Messages) - MaxMessages
	kept := make([]*Message, 0, MaxMessages)
	for _, msg := range c.Messages {
		if excess > 0 && msg.Role != RoleSystem {
			excess--
			continue
		}
		kept = append(kept, msg)
	}
	c.Messages = kept
}
