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
	"strconv"
	"sync/atomic"

	"github.com/cornelk/hashmap"
)

// LoopPool hands out EventLoops to callers that want to spread
// connections or other work across a fixed set of background threads,
// falling back to the base loop when started with zero worker threads.
// The registry is a concurrent map rather than a plain slice so Size
// can be read (as the admin package does) from a goroutine other than
// baseLoop's own, without taking a lock that would contend with
// GetNextLoop.
type LoopPool struct {
	baseLoop *EventLoop
	name     string

	started    int32
	numThreads int
	next       uint32

	threads  []*LoopThread
	loops    []*EventLoop
	registry hashmap.HashMap // index (int) -> *EventLoop
}

// NewLoopPool creates a pool that will run numThreads background
// LoopThreads when Start is called; numThreads may be zero, in which
// case every GetNextLoop/GetLoopForHash call returns baseLoop.
func NewLoopPool(baseLoop *EventLoop, name string, numThreads int) *LoopPool {
	return &LoopPool{
		baseLoop:   baseLoop,
		name:       name,
		numThreads: numThreads,
	}
}

// Start spawns the pool's worker threads, running cb on each new
// EventLoop before it starts looping. Must be called from baseLoop's
// own thread, and only once.
func (p *LoopPool) Start(cb ThreadInitCallback) {
	p.baseLoop.AssertInLoopThread()
	if !atomic.CompareAndSwapInt32(&p.started, 0, 1) {
		panic("LoopPool.Start called more than once")
	}

	for i := 0; i < p.numThreads; i++ {
		t := NewLoopThread(p.threadName(i), cb)
		p.threads = append(p.threads, t)
		loop := t.StartLoop()
		p.loops = append(p.loops, loop)
		p.registry.Insert(i, loop)
	}
	if p.numThreads == 0 && cb != nil {
		cb(p.baseLoop)
	}
}

func (p *LoopPool) threadName(i int) string {
	return p.name + strconv.Itoa(i)
}

// GetNextLoop round-robins across the pool's worker loops, returning
// baseLoop when the pool has none. Must be called from baseLoop's own
// thread, matching muduo's (undocumented, here made explicit)
// requirement that only the owning thread hands out loop assignments.
func (p *LoopPool) GetNextLoop() *EventLoop {
	p.baseLoop.AssertInLoopThread()
	if len(p.loops) == 0 {
		return p.baseLoop
	}
	idx := atomic.AddUint32(&p.next, 1) - 1
	return p.loops[idx%uint32(len(p.loops))]
}

// GetLoopForHash deterministically maps hashCode onto one of the pool's
// worker loops, so that all work for a given key always lands on the
// same loop/thread.
func (p *LoopPool) GetLoopForHash(hashCode uint64) *EventLoop {
	p.baseLoop.AssertInLoopThread()
	if len(p.loops) == 0 {
		return p.baseLoop
	}
	return p.loops[hashCode%uint64(len(p.loops))]
}

// GetAllLoops returns every loop in the pool, or a single-element slice
// containing baseLoop if the pool has no worker threads.
func (p *LoopPool) GetAllLoops() []*EventLoop {
	p.baseLoop.AssertInLoopThread()
	if len(p.loops) == 0 {
		return []*EventLoop{p.baseLoop}
	}
	out := make([]*EventLoop, len(p.loops))
	copy(out, p.loops)
	return out
}

// Size reports the number of worker loops registered, for admin/metrics
// surfaces that want it without round-tripping through baseLoop.
func (p *LoopPool) Size() int {
	return p.registry.Len()
}

// Stop tears down every worker thread. Safe to call from any thread.
func (p *LoopPool) Stop() {
	for _, t := range p.threads {
		t.Stop()
	}
}
