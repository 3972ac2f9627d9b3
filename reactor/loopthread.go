// Copyright (c) 2022 The rcproxy Authors
// Copyright (c) 2010, Shuo Chen. All rights reserved (muduo).
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
	"runtime"
	"sync"

	"github.com/loopkit/reactor/logging"
)

// ThreadInitCallback runs on a LoopThread's own OS thread immediately
// after its EventLoop is constructed, before Loop starts.
type ThreadInitCallback func(*EventLoop)

// LoopThread owns one OS thread locked for the lifetime of one
// EventLoop, started with StartLoop and torn down with Stop. It exists
// so LoopPool (and callers wanting a single background loop) never have
// to reason about runtime.LockOSThread themselves.
type LoopThread struct {
	name     string
	callback ThreadInitCallback

	mu   sync.Mutex
	cond *sync.Cond
	loop *EventLoop
	done chan struct{}
}

// NewLoopThread creates a LoopThread that will run cb (if non-nil) once
// its EventLoop exists, before entering Loop. name is used only for
// diagnostics.
func NewLoopThread(name string, cb ThreadInitCallback) *LoopThread {
	t := &LoopThread{name: name, callback: cb}
	t.cond = sync.NewCond(&t.mu)
	return t
}

// StartLoop spawns the thread and blocks until its EventLoop has been
// constructed, returning it. Calling StartLoop twice on the same
// LoopThread is a programming error.
func (t *LoopThread) StartLoop() *EventLoop {
	t.done = make(chan struct{})
	go t.threadMain()

	t.mu.Lock()
	for t.loop == nil {
		t.cond.Wait()
	}
	loop := t.loop
	t.mu.Unlock()
	return loop
}

// Stop asks the owned loop to quit and waits for its thread to exit.
// Safe to call from any thread other than the LoopThread's own.
func (t *LoopThread) Stop() {
	t.mu.Lock()
	loop := t.loop
	t.mu.Unlock()
	if loop == nil {
		return
	}
	loop.Quit()
	<-t.done
}

func (t *LoopThread) threadMain() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	loop, err := NewEventLoop()
	if err != nil {
		logging.Errorf("LoopThread %q: failed to create event loop: %v", t.name, err)
		close(t.done)
		return
	}

	if t.callback != nil {
		t.callback(loop)
	}

	t.mu.Lock()
	t.loop = loop
	t.cond.Signal()
	t.mu.Unlock()

	loop.Loop()
	loop.Close()

	t.mu.Lock()
	t.loop = nil
	t.mu.Unlock()
	close(t.done)
}
