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

func newRunningLoop(t *testing.T) (*LoopThread, *EventLoop) {
	t.Helper()
	lt := NewLoopThread("test", nil)
	loop := lt.StartLoop()
	t.Cleanup(lt.Stop)
	return lt, loop
}

func TestEventLoopWakeupRoundTrip(t *testing.T) {
	_, loop := newRunningLoop(t)

	done := make(chan struct{})
	loop.QueueInLoop(func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("QueueInLoop callback never ran; wakeup did not deliver")
	}
}

func TestEventLoopRunInLoopFromOwnThreadRunsSynchronously(t *testing.T) {
	_, loop := newRunningLoop(t)

	var ran int32
	result := make(chan bool, 1)
	loop.RunInLoop(func() {
		loop.RunInLoop(func() { atomic.StoreInt32(&ran, 1) })
		result <- atomic.LoadInt32(&ran) == 1
	})

	select {
	case synchronous := <-result:
		if !synchronous {
			t.Fatal("RunInLoop called from the loop thread must execute before returning")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for RunInLoop")
	}
}

func TestEventLoopQueueSizeDrainsAfterDispatch(t *testing.T) {
	_, loop := newRunningLoop(t)

	block := make(chan struct{})
	release := make(chan struct{})
	loop.QueueInLoop(func() {
		close(block)
		<-release
	})
	<-block

	loop.QueueInLoop(func() {})
	time.Sleep(20 * time.Millisecond)
	if n := loop.QueueSize(); n == 0 {
		t.Fatal("expected a queued functor to be visible while the loop is busy")
	}
	close(release)

	done := make(chan struct{})
	loop.QueueInLoop(func() { close(done) })
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop never drained pending functors")
	}
}

func TestEventLoopIterationAdvances(t *testing.T) {
	_, loop := newRunningLoop(t)

	start := loop.Iteration()
	done := make(chan struct{})
	loop.QueueInLoop(func() { close(done) })
	<-done

	assert.Greater(t, loop.Iteration(), start)
}

func TestEventLoopAssertInLoopThreadPanicsOffThread(t *testing.T) {
	_, loop := newRunningLoop(t)

	defer func() {
		if recover() == nil {
			t.Fatal("expected AssertInLoopThread to panic when called off the loop's own thread")
		}
	}()
	loop.AssertInLoopThread()
}

func TestLoopOfCurrentThreadDiffersOffLoopThread(t *testing.T) {
	// The LoopThread's goroutine holds its OS thread locked, so the test
	// goroutine runs on a different thread and the package-level registry
	// must not report the LoopThread's loop as this thread's loop.
	_, loop := newRunningLoop(t)
	assert.NotEqual(t, loop, LoopOfCurrentThread(), "test goroutine must not share a thread id with the LoopThread")
}
