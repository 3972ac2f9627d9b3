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
	"time"

	"github.com/petar/GoLLRB/llrb"

	"github.com/loopkit/reactor/logging"
	reactorerrors "github.com/loopkit/reactor/pkg/errors"
)

// timerDescriptor is the kernel-backed "next timer expiration" wakeup
// source: timerfd on Linux, a self-pipe fed by a dedicated goroutine
// everywhere else. TimerQueue only ever reads and re-arms it; it never
// computes a poll timeout itself, matching the fixed-poll-timeout loop
// design shared with every other Channel.
type timerDescriptor interface {
	Fd() int
	Arm(d time.Duration) error
	Drain()
	Close() error
}

// timerEntry orders timers first by expiration, then by sequence, so
// that the ordered set never collapses two timers sharing an
// expiration instant (mirrors std::set<pair<Timestamp,Timer*>>).
type timerEntry struct {
	when  time.Time
	timer *Timer
}

func (e timerEntry) Less(than llrb.Item) bool {
	o := than.(timerEntry)
	if e.when.Equal(o.when) {
		return e.timer.sequence < o.timer.sequence
	}
	return e.when.Before(o.when)
}

// TimerQueue owns every Timer scheduled on one EventLoop. addTimer and
// cancel are safe to call from any thread; they hop onto the loop via
// RunInLoop before touching the ordered set.
type TimerQueue struct {
	loop    *EventLoop
	fd      timerDescriptor
	channel *Channel

	timers *llrb.LLRB // timerEntry, ordered by (when, sequence)

	activeTimers         map[int64]*Timer // sequence -> timer, mirrors timers_
	callingExpiredTimers bool
	cancelingTimers      map[int64]bool
}

func newTimerQueue(loop *EventLoop) *TimerQueue {
	fd, err := newTimerDescriptor()
	if err != nil {
		logging.Errorf("newTimerDescriptor failed: %v", err)
		panic(err)
	}
	tq := &TimerQueue{
		loop:         loop,
		fd:           fd,
		timers:       llrb.New(),
		activeTimers: make(map[int64]*Timer),
	}
	tq.channel = NewChannel(loop, fd.Fd())
	tq.channel.SetReadCallback(func(time.Time) { tq.handleRead() })
	tq.channel.EnableReading()
	return tq
}

func (tq *TimerQueue) close() error {
	tq.channel.DisableAll()
	tq.channel.Remove()
	return tq.fd.Close()
}

// addTimer schedules cb to run at when, repeating every interval
// thereafter if interval > 0. Safe to call from any thread.
func (tq *TimerQueue) addTimer(cb func(), when time.Time, interval time.Duration) *Timer {
	t := newTimer(cb, when, interval)
	tq.loop.RunInLoop(func() { tq.addTimerInLoop(t) })
	return t
}

func (tq *TimerQueue) addTimerInLoop(t *Timer) {
	tq.loop.AssertInLoopThread()
	if tq.insert(t) {
		tq.rearm()
	}
}

// cancel cancels t. Safe to call from any thread, including from inside
// a timer's own callback (the cancelingTimers bookkeeping exists
// exactly for that case). It returns ErrTimerNotFound if t has already
// fired and was not repeating, so there is nothing left to cancel.
func (tq *TimerQueue) cancel(t *Timer) error {
	result := make(chan error, 1)
	tq.loop.RunInLoop(func() { result <- tq.cancelInLoop(t) })
	return <-result
}

func (tq *TimerQueue) cancelInLoop(t *Timer) error {
	tq.loop.AssertInLoopThread()
	if _, ok := tq.activeTimers[t.sequence]; ok {
		tq.timers.Delete(timerEntry{when: t.expiration, timer: t})
		delete(tq.activeTimers, t.sequence)
		return nil
	}
	if tq.callingExpiredTimers {
		if tq.cancelingTimers == nil {
			tq.cancelingTimers = make(map[int64]bool)
		}
		tq.cancelingTimers[t.sequence] = true
		return nil
	}
	return reactorerrors.ErrTimerNotFound
}

func (tq *TimerQueue) insert(t *Timer) bool {
	earliestChanged := false
	if min := tq.timers.Min(); min == nil || t.expiration.Before(min.(timerEntry).when) {
		earliestChanged = true
	}
	tq.timers.ReplaceOrInsert(timerEntry{when: t.expiration, timer: t})
	tq.activeTimers[t.sequence] = t
	return earliestChanged
}

func (tq *TimerQueue) handleRead() {
	tq.loop.AssertInLoopThread()
	tq.fd.Drain()
	now := time.Now()

	expired := tq.getExpired(now)

	tq.callingExpiredTimers = true
	tq.cancelingTimers = nil
	for _, e := range expired {
		e.timer.Run()
	}
	tq.callingExpiredTimers = false

	tq.reset(expired, now)
}

// getExpired removes and returns every timer entry whose expiration is
// at or before now, earliest first.
func (tq *TimerQueue) getExpired(now time.Time) []timerEntry {
	var expired []timerEntry
	for {
		min := tq.timers.Min()
		if min == nil {
			break
		}
		e := min.(timerEntry)
		if e.when.After(now) {
			break
		}
		tq.timers.DeleteMin()
		delete(tq.activeTimers, e.timer.sequence)
		expired = append(expired, e)
	}
	return expired
}

// reset reinserts every repeating, not-since-cancelled timer from
// expired, then re-arms the descriptor for whatever is now earliest.
func (tq *TimerQueue) reset(expired []timerEntry, now time.Time) {
	for _, e := range expired {
		t := e.timer
		if t.repeat && !tq.cancelingTimers[t.sequence] {
			t.restart(now)
			tq.insert(t)
		}
	}
	tq.rearm()
}

func (tq *TimerQueue) rearm() {
	min := tq.timers.Min()
	if min == nil {
		return
	}
	when := min.(timerEntry).when
	d := time.Until(when)
	if d < 0 {
		d = 0
	}
	if err := tq.fd.Arm(d); err != nil {
		logging.Errorf("TimerQueue.rearm: %v", err)
	}
}
