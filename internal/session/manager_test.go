// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"sync"
	"testing"
	"time"
)

func TestTouchAndIdleTime(t *testing.T) {
	tr := NewTracker(time.Hour, nil)

	tr.Touch("conv_1")
	idle, ok := tr.IdleTime("conv_1")
	if !ok {
		t.Fatal("IdleTime() ok = false for touched conversation")
	}
	if idle > time.Second {
		t.Errorf("IdleTime() = %v immediately after Touch", idle)
	}

	if _, ok := tr.IdleTime("conv_unknown"); ok {
		t.Error("IdleTime() ok = true for unknown conversation")
	}
}

func TestForget(t *testing.T) {
	tr := NewTracker(time.Hour, nil)
	tr.Touch("conv_1")
	tr.Forget("conv_1")
	if _, ok := tr.IdleTime("conv_1"); ok {
		t.Error("conversation still tracked after Forget")
	}
	if tr.ActiveCount() != 0 {
		t.Errorf("ActiveCount() = %d, want 0", tr.ActiveCount())
	}
}

func TestSweepExpiresIdle(t *testing.T) {
	var mu sync.Mutex
	var expired []string
	tr := NewTracker(50*time.Millisecond, func(id string) {
		mu.Lock()
		expired = append(expired, id)
		mu.Unlock()
	})

	tr.Touch("conv_old")
	time.Sleep(80 * time.Millisecond)
	tr.Touch("conv_fresh")

	swept := tr.Sweep()
	if len(swept) != 1 || swept[0] != "conv_old" {
		t.Errorf("Sweep() = %v, want [conv_old]", swept)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(expired) != 1 || expired[0] != "conv_old" {
		t.Errorf("expire callback got %v, want [conv_old]", expired)
	}

	if _, ok := tr.IdleTime("conv_fresh"); !ok {
		t.Error("fresh conversation was swept")
	}
	if _, ok := tr.IdleTime("conv_old"); ok {
		t.Error("expired conversation still tracked")
	}
}

func TestTouchResetsIdleClock(t *testing.T) {
	tr := NewTracker(60*time.Millisecond, nil)

	tr.Touch("conv_1")
	time.Sleep(40 * time.Millisecond)
	tr.Touch("conv_1")
	time.Sleep(40 * time.Millisecond)

	// 80ms since first touch but only 40ms since last; must survive.
	if swept := tr.Sweep(); len(swept) != 0 {
		t.Errorf("Sweep() = %v, want none after re-touch", swept)
	}
}

func TestDefaultTimeout(t *testing.T) {
	tr := NewTracker(0, nil)
	if tr.idleTimeout != DefaultIdleTimeout {
		t.Errorf("idleTimeout = %v, want %v", tr.idleTimeout, DefaultIdleTimeout)
	}
}
