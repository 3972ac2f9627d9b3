// Copyright (c) 2022 The rcproxy Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package reactor

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRunAfterFiresOnce(t *testing.T) {
	_, loop := newRunningLoop(t)

	fired := make(chan struct{}, 2)
	loop.RunAfter(20*time.Millisecond, func() { fired <- struct{}{} })

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("RunAfter never fired")
	}

	select {
	case <-fired:
		t.Fatal("RunAfter timer fired more than once")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestRunEveryRepeats(t *testing.T) {
	_, loop := newRunningLoop(t)

	var count int32
	timer := loop.RunEvery(10*time.Millisecond, func() { atomic.AddInt32(&count, 1) })
	t.Cleanup(func() { loop.Cancel(timer) })

	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&count) < 3 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	assert.GreaterOrEqual(t, atomic.LoadInt32(&count), int32(3))
}

// TestCancelDuringOwnCallback exercises the exact cancelingTimers path:
// a repeating timer cancels itself from inside its own callback, while
// TimerQueue.handleRead is still iterating the expired batch. It must
// not be rescheduled, and must not panic or deadlock re-entering
// TimerQueue through the owning loop's own thread.
func TestCancelDuringOwnCallback(t *testing.T) {
	_, loop := newRunningLoop(t)

	var fireCount int32
	var timer *Timer
	done := make(chan struct{})
	timer = loop.RunEvery(10*time.Millisecond, func() {
		n := atomic.AddInt32(&fireCount, 1)
		loop.Cancel(timer)
		if n == 1 {
			close(done)
		}
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("self-cancelling timer never fired")
	}

	time.Sleep(100 * time.Millisecond)
	assert.EqualValues(t, 1, atomic.LoadInt32(&fireCount))
}

func TestCancelBeforeExpirationPreventsFiring(t *testing.T) {
	_, loop := newRunningLoop(t)

	fired := make(chan struct{}, 1)
	timer := loop.RunAfter(100*time.Millisecond, func() { fired <- struct{}{} })
	loop.Cancel(timer)

	select {
	case <-fired:
		t.Fatal("cancelled timer fired anyway")
	case <-time.After(250 * time.Millisecond):
	}
}

func TestTimersAtSameInstantBothFire(t *testing.T) {
	_, loop := newRunningLoop(t)

	when := time.Now().Add(30 * time.Millisecond)
	results := make(chan int, 2)
	loop.RunAt(when, func() { results <- 1 })
	loop.RunAt(when, func() { results <- 2 })

	seen := map[int]bool{}
	for i := 0; i < 2; i++ {
		select {
		case v := <-results:
			seen[v] = true
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for same-instant timers, got %v", seen)
		}
	}
	assert.True(t, seen[1] && seen[2], "expected both same-instant timers to fire, got %v", seen)
}
