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
	"sync/atomic"
	"time"
)

var timerSequenceGenerator int64

// Timer is one scheduled callback, identified for cancellation purposes
// by its sequence number rather than its (mutable) expiration time.
type Timer struct {
	callback   func()
	expiration time.Time
	interval   time.Duration // zero means one-shot
	repeat     bool
	sequence   int64
}

func newTimer(cb func(), when time.Time, interval time.Duration) *Timer {
	return &Timer{
		callback:   cb,
		expiration: when,
		interval:   interval,
		repeat:     interval > 0,
		sequence:   atomic.AddInt64(&timerSequenceGenerator, 1),
	}
}

// Run invokes the timer's callback. Only ever called by the TimerQueue
// that owns the timer, from the loop's own thread.
func (t *Timer) Run() { t.callback() }

// Expiration returns the timer's next scheduled firing time.
func (t *Timer) Expiration() time.Time { return t.expiration }

// Repeat reports whether the timer reschedules itself after firing.
func (t *Timer) Repeat() bool { return t.repeat }

// Sequence returns the timer's creation-order identity, stable across
// restarts of a repeating timer.
func (t *Timer) Sequence() int64 { return t.sequence }

// restart reschedules a repeating timer for its next interval relative
// to now; one-shot timers are reset to the zero time (the TimerQueue
// drops these instead of reinserting them).
func (t *Timer) restart(now time.Time) {
	if t.repeat {
		t.expiration = now.Add(t.interval)
	} else {
		t.expiration = time.Time{}
	}
}
