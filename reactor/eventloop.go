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
	"sync"
	"sync/atomic"
	"time"

	"github.com/loopkit/reactor/reactor/internal/currentthread"
	"github.com/loopkit/reactor/logging"
	reactorerrors "github.com/loopkit/reactor/pkg/errors"
)

// pollTimeout bounds how long a single Poll call may block when nothing
// else is scheduled, so a loop with no timers and no pending tasks still
// wakes up periodically (grounded on muduo's kPollTimeMs).
const pollTimeout = 10 * time.Second

var currentLoop sync.Map // goroutine-affine thread id (int32) -> *EventLoop

// EventLoop is one reactor: exactly one per OS thread, created and run
// from that thread via Loop, and never touched from any other goroutine
// except through RunInLoop/QueueInLoop/Quit and the timer methods
// (RunAt/RunAfter/RunEvery/Cancel), which are safe to call cross-thread.
// Channel registration (updateChannel/removeChannel) is loop-affine.
type EventLoop struct {
	looping  int32 // atomic bool
	quit     int32 // atomic bool
	closed   int32 // atomic bool; set once Close has run
	threadID int32 // OS tid captured at construction; loop must run there

	poller     Poller
	timerQueue *TimerQueue

	wakeup        *wakeupDescriptor
	wakeupChannel *Channel

	mu              sync.Mutex
	pendingFunctors []func()
	callingPending  int32 // atomic bool

	eventHandling        int32 // atomic bool
	currentActiveChannel *Channel
	activeChannels       []*Channel

	iteration uint64
}

// NewEventLoop constructs an EventLoop bound to the calling OS thread.
// The caller must arrange (via runtime.LockOSThread, typically through
// LoopThread) that this goroutine never migrates before Loop returns.
// A second EventLoop created on a thread that already owns one is a
// programming error and returns ErrDoubleLoopOnThread.
func NewEventLoop() (*EventLoop, error) {
	ignoreSigPipe()

	tid := currentthread.Tid()
	if _, exists := currentLoop.Load(tid); exists {
		return nil, reactorerrors.ErrDoubleLoopOnThread
	}

	poller, err := newPoller()
	if err != nil {
		return nil, err
	}
	wake, err := newWakeupDescriptor()
	if err != nil {
		poller.Close()
		return nil, err
	}

	loop := &EventLoop{
		threadID: tid,
		poller:   poller,
		wakeup:   wake,
	}
	loop.timerQueue = newTimerQueue(loop)
	loop.wakeupChannel = NewChannel(loop, wake.Fd())
	loop.wakeupChannel.SetReadCallback(func(time.Time) { loop.handleWakeupRead() })
	loop.wakeupChannel.EnableReading()

	currentLoop.Store(tid, loop)
	logging.Debugf("EventLoop created in thread %d", tid)
	return loop, nil
}

// LoopOfCurrentThread returns the EventLoop owned by the calling OS
// thread, or nil if this thread has none.
func LoopOfCurrentThread() *EventLoop {
	if loop, ok := currentLoop.Load(currentthread.Tid()); ok {
		return loop.(*EventLoop)
	}
	return nil
}

// Loop runs the reactor until Quit is called. It must be invoked from
// the same OS thread that constructed the EventLoop.
func (l *EventLoop) Loop() {
	l.AssertInLoopThread()
	if !atomic.CompareAndSwapInt32(&l.looping, 0, 1) {
		panic("EventLoop.Loop called while already looping")
	}
	atomic.StoreInt32(&l.quit, 0)
	logging.Debugf("EventLoop %p start looping", l)

	for atomic.LoadInt32(&l.quit) == 0 {
		l.activeChannels = l.activeChannels[:0]
		timeoutMS := int(pollTimeout / time.Millisecond)

		now, active, err := l.poller.Poll(timeoutMS)
		if err != nil {
			logging.Errorf("EventLoop poll error: %v", err)
			continue
		}
		l.activeChannels = active
		atomic.AddUint64(&l.iteration, 1)

		atomic.StoreInt32(&l.eventHandling, 1)
		for _, ch := range l.activeChannels {
			l.currentActiveChannel = ch
			ch.HandleEvent(now)
		}
		l.currentActiveChannel = nil
		atomic.StoreInt32(&l.eventHandling, 0)

		l.doPendingFunctors()
	}

	logging.Debugf("EventLoop %p stop looping", l)
	atomic.StoreInt32(&l.looping, 0)
}

// Quit requests the loop to return from Loop after finishing its current
// iteration. Safe to call from any thread.
func (l *EventLoop) Quit() {
	atomic.StoreInt32(&l.quit, 1)
	if !l.IsInLoopThread() {
		l.wakeupLocked()
	}
}

// Close tears down the loop's wakeup descriptor, timer queue and poller.
// Must be called after Loop has returned.
func (l *EventLoop) Close() error {
	currentLoop.Delete(l.threadID)
	l.wakeupChannel.DisableAll()
	l.wakeupChannel.Remove()
	if err := l.timerQueue.close(); err != nil {
		return err
	}
	if err := l.wakeup.Close(); err != nil {
		return err
	}
	err := l.poller.Close()
	atomic.StoreInt32(&l.closed, 1)
	return err
}

// RunInLoop runs cb immediately if called from the loop's own thread,
// otherwise queues it and wakes the loop.
func (l *EventLoop) RunInLoop(cb func()) {
	if l.IsInLoopThread() {
		cb()
	} else {
		l.QueueInLoop(cb)
	}
}

// QueueInLoop queues cb to run on the next iteration of the loop's
// thread, waking it if necessary. Safe to call from any thread,
// including the loop's own thread while it is dispatching callbacks.
func (l *EventLoop) QueueInLoop(cb func()) {
	l.mu.Lock()
	l.pendingFunctors = append(l.pendingFunctors, cb)
	l.mu.Unlock()

	if !l.IsInLoopThread() || atomic.LoadInt32(&l.callingPending) == 1 {
		l.wakeupLocked()
	}
}

// QueueSize reports the number of functors waiting to run.
func (l *EventLoop) QueueSize() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pendingFunctors)
}

// Iteration reports how many times this loop has returned from Poll,
// for admin/metrics surfaces polling from another goroutine.
func (l *EventLoop) Iteration() uint64 {
	return atomic.LoadUint64(&l.iteration)
}

// RunAt schedules cb to run once at the given time.
func (l *EventLoop) RunAt(when time.Time, cb func()) *Timer {
	return l.timerQueue.addTimer(cb, when, 0)
}

// RunAfter schedules cb to run once after delay.
func (l *EventLoop) RunAfter(delay time.Duration, cb func()) *Timer {
	return l.RunAt(time.Now().Add(delay), cb)
}

// RunEvery schedules cb to run once after interval and then repeatedly
// every interval thereafter.
func (l *EventLoop) RunEvery(interval time.Duration, cb func()) *Timer {
	return l.timerQueue.addTimer(cb, time.Now().Add(interval), interval)
}

// Cancel cancels a previously scheduled Timer. Safe from any thread.
// Returns ErrTimerNotFound if t already fired and was not repeating.
func (l *EventLoop) Cancel(t *Timer) error {
	return l.timerQueue.cancel(t)
}

// updateChannel installs or modifies ch's registration with the loop's
// poller. Must be called from the loop's own thread.
func (l *EventLoop) updateChannel(ch *Channel) {
	l.AssertInLoopThread()
	if atomic.LoadInt32(&l.closed) == 1 {
		logging.Errorf("EventLoop.updateChannel: %v", reactorerrors.ErrPollerClosed)
		return
	}
	if err := l.poller.UpdateChannel(ch); err != nil {
		logging.Errorf("EventLoop.updateChannel: %v", err)
	}
}

// removeChannel deregisters ch. Must be called from the loop's own
// thread. It may be called from inside ch's own HandleEvent, but panics
// if ch is another channel in the current iteration's active list.
func (l *EventLoop) removeChannel(ch *Channel) {
	l.AssertInLoopThread()
	if atomic.LoadInt32(&l.eventHandling) == 1 {
		if l.currentActiveChannel != ch && channelStillPending(l.activeChannels, ch) {
			panic(reactorerrors.ErrChannelNotRemoved)
		}
	}
	if atomic.LoadInt32(&l.closed) == 1 {
		logging.Errorf("EventLoop.removeChannel: %v", reactorerrors.ErrPollerClosed)
		return
	}
	if err := l.poller.RemoveChannel(ch); err != nil {
		logging.Errorf("EventLoop.removeChannel: %v", err)
	}
}

func channelStillPending(active []*Channel, ch *Channel) bool {
	for _, c := range active {
		if c == ch {
			return true
		}
	}
	return false
}

// HasChannel reports whether ch is currently registered with this
// loop's poller. Must be called from the loop's own thread.
func (l *EventLoop) HasChannel(ch *Channel) bool {
	l.AssertInLoopThread()
	return l.poller.HasChannel(ch)
}

// IsInLoopThread reports whether the calling goroutine is running on
// the OS thread that owns this loop.
func (l *EventLoop) IsInLoopThread() bool {
	return currentthread.Tid() == l.threadID
}

// AssertInLoopThread panics with ErrNotLoopThread if the calling
// goroutine is not running on the loop's owning OS thread.
func (l *EventLoop) AssertInLoopThread() {
	if !l.IsInLoopThread() {
		panic(reactorerrors.ErrNotLoopThread)
	}
}

func (l *EventLoop) wakeupLocked() {
	if err := l.wakeup.Wake(); err != nil {
		logging.Errorf("EventLoop.wakeup: %v", err)
	}
}

func (l *EventLoop) handleWakeupRead() {
	l.wakeup.Drain()
}

func (l *EventLoop) doPendingFunctors() {
	l.mu.Lock()
	functors := l.pendingFunctors
	l.pendingFunctors = nil
	l.mu.Unlock()

	atomic.StoreInt32(&l.callingPending, 1)
	for _, f := range functors {
		f()
	}
	atomic.StoreInt32(&l.callingPending, 0)
}
