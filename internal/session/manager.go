// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session tracks conversation activity and ends idle conversations.
package session

import (
	"context"
	"log"
	"sync"
	"time"
)

// DefaultIdleTimeout ends conversations after an hour without a message.
const DefaultIdleTimeout = time.Hour

// sweepInterval is how often the background loop checks for idle entries.
const sweepInterval = time.Minute

// =============================================================================
// TRACKER
// =============================================================================

// Tracker records the last activity time of each active conversation and
// invokes the expire callback when one goes idle past the timeout. The
// callback typically ends and persists the conversation.
type Tracker struct {
	mu           sync.Mutex
	lastActivity map[string]time.Time

	idleTimeout time.Duration
	onExpire    func(conversationID string)
}

// NewTracker creates a tracker. onExpire may be nil.
func NewTracker(idleTimeout time.Duration, onExpire func(conversationID string)) *Tracker {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	return &Tracker{
		lastActivity: make(map[string]time.Time),
		idleTimeout:  idleTimeout,
		onExpire:     onExpire,
	}
}

// Touch records activity on a conversation, registering it if new.
func (t *Tracker) Touch(conversationID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastActivity[conversationID] = time.Now()
}

// Forget stops tracking a conversation (ended or deleted explicitly).
func (t *Tracker) Forget(conversationID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.lastActivity, conversationID)
}

// IdleTime returns how long a conversation has been idle, and whether it is
// tracked at all.
func (t *Tracker) IdleTime(conversationID string) (time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	last, ok := t.lastActivity[conversationID]
	if !ok {
		return 0, false
	}
	return time.Since(last), true
}

// ActiveCount returns the number of tracked conversations.
func (t *Tracker) ActiveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.lastActivity)
}

// Sweep expires idle conversations, returning their IDs. The expire
// callback runs outside the lock.
func (t *Tracker) Sweep() []string {
	cutoff := time.Now().Add(-t.idleTimeout)

	t.mu.Lock()
	var expired []string
	for id, last := range t.lastActivity {
		if last.Before(cutoff) {
			expired = append(expired, id)
			delete(t.lastActivity, id)
		}
	}
	onExpire := t.onExpire
	t.mu.Unlock()

	if onExpire != nil {
		for _, id := range expired {
			onExpire(id)
		}
	}
	if len(expired) > 0 {
		log.Printf("SESSION_SWEEP | expired=%d | timeout=%v", len(expired), t.idleTimeout)
	}
	return expired
}

// Run sweeps periodically until ctx is done.
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Sweep()
		}
	}
}
