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

	"github.com/loopkit/reactor/logging"
	reactorerrors "github.com/loopkit/reactor/pkg/errors"
)

// Event bits, backend-independent. Each poller backend translates its own
// native readiness flags into this set before handing a Channel back to
// the event loop.
const (
	EventNone     int32 = 0
	EventReadable int32 = 1 << iota
	EventPriority
	EventReadHup // peer performed a half-close (shutdown(SHUT_WR))
	EventWritable
	EventHup // peer hung up entirely
	EventError
	EventInvalid // descriptor is no longer valid (EBADF-class)
)

const readEvents = EventReadable | EventPriority | EventReadHup

// PollIndex states a Channel's registration can be in, read and mutated by
// the poller backends (the poll(2) backend stores its slot number in the
// same field instead); ordinary users never touch it.
const (
	PollIndexNew int32 = iota - 1
	PollIndexAdded
	PollIndexDeleted
)

// Channel binds one file descriptor's readiness events to user callbacks
// and mediates registration with the owning EventLoop's Poller. A Channel
// never owns its descriptor: closing the descriptor and destroying the
// Channel are the caller's separate responsibilities, and Remove must be
// called before a Channel is discarded.
type Channel struct {
	loop   *EventLoop
	fd     int
	events int32
	revents int32
	index  int32 // PollIndexNew/Added/Deleted, owned by the poller backend

	ReadCallback  func(receiveTime time.Time)
	WriteCallback func()
	CloseCallback func()
	ErrorCallback func()

	isAlive func() bool // installed by Tie; nil means "always alive"
	tied    bool

	eventHandling bool
	addedToLoop   bool
}

// NewChannel creates a Channel for fd, owned by loop. fd must already be
// open; the Channel does not take ownership of it.
func NewChannel(loop *EventLoop, fd int) *Channel {
	return &Channel{
		loop:  loop,
		fd:    fd,
		index: PollIndexNew,
	}
}

// Fd returns the underlying file descriptor.
func (c *Channel) Fd() int { return c.fd }

// Events returns the event mask currently requested from the poller.
func (c *Channel) Events() int32 { return c.events }

// SetRevents is called by poller backends to record the readiness bits a
// Poll call observed for this channel, immediately before the Channel is
// handed back to the event loop for dispatch.
func (c *Channel) SetRevents(revents int32) { c.revents = revents }

// Index/SetIndex expose the poller-private registration state.
func (c *Channel) Index() int32     { return c.index }
func (c *Channel) SetIndex(i int32) { c.index = i }

// IsNoneEvent reports whether the channel currently requests no events at
// all, i.e. it can be safely deregistered or left quiescent.
func (c *Channel) IsNoneEvent() bool { return c.events == EventNone }

// IsWriting reports whether the writable bit is currently requested.
func (c *Channel) IsWriting() bool { return c.events&EventWritable != 0 }

// IsReading reports whether any readable-class bit is currently requested.
func (c *Channel) IsReading() bool { return c.events&readEvents != 0 }

func (c *Channel) SetReadCallback(cb func(time.Time)) { c.ReadCallback = cb }
func (c *Channel) SetWriteCallback(cb func())         { c.WriteCallback = cb }
func (c *Channel) SetCloseCallback(cb func())          { c.CloseCallback = cb }
func (c *Channel) SetErrorCallback(cb func())          { c.ErrorCallback = cb }

// EnableReading requests the readable event and pushes the update to the
// owning loop's poller.
func (c *Channel) EnableReading() {
	c.events |= readEvents
	c.update()
}

// DisableReading withdraws the readable event.
func (c *Channel) DisableReading() {
	c.events &^= readEvents
	c.update()
}

// EnableWriting requests the writable event.
func (c *Channel) EnableWriting() {
	c.events |= EventWritable
	c.update()
}

// DisableWriting withdraws the writable event.
func (c *Channel) DisableWriting() {
	c.events &^= EventWritable
	c.update()
}

// DisableAll withdraws every requested event.
func (c *Channel) DisableAll() {
	c.events = EventNone
	c.update()
}

func (c *Channel) update() {
	c.addedToLoop = true
	c.loop.updateChannel(c)
}

// Remove deregisters the channel from its loop. The caller must have
// disabled all events first (DisableAll). It may be called from one of
// this channel's own callbacks, but not for a different channel that is
// still waiting to be dispatched in the current loop iteration.
func (c *Channel) Remove() {
	c.addedToLoop = false
	c.loop.removeChannel(c)
}

// Tie installs a liveness check that HandleEvent consults before running
// any callback. It is the Go analogue of muduo's weak_ptr tie(): the
// owner hands Channel a cheap "am I still alive" predicate (typically
// backed by an atomic/bool the owner flips in its own Close path) instead
// of a real weak pointer, since the failure mode we must prevent —
// running a callback against an owner that closed itself earlier in the
// same dispatch pass — is about program state, not garbage collection.
func (c *Channel) Tie(isAlive func() bool) {
	c.isAlive = isAlive
	c.tied = true
}

// HandleEvent dispatches c.revents to the installed callbacks in the
// fixed order required by the reactor's ordering guarantee: close, then
// error, then read, then write. receiveTime is the timestamp the owning
// loop's last Poll call returned, propagated unchanged to ReadCallback.
func (c *Channel) HandleEvent(receiveTime time.Time) {
	if c.tied && c.isAlive != nil && !c.isAlive() {
		return
	}
	c.eventHandling = true
	defer func() { c.eventHandling = false }()

	if c.revents&EventHup != 0 && c.revents&EventReadable == 0 {
		if c.CloseCallback != nil {
			c.CloseCallback()
		}
	}
	if c.revents&EventInvalid != 0 {
		logging.Warnf("channel fd=%d: %v", c.fd, reactorerrors.ErrInvalidDescriptor)
	}
	if c.revents&(EventError|EventInvalid) != 0 {
		if c.ErrorCallback != nil {
			c.ErrorCallback()
		}
	}
	if c.revents&readEvents != 0 {
		if c.ReadCallback != nil {
			c.ReadCallback(receiveTime)
		}
	}
	if c.revents&EventWritable != 0 {
		if c.WriteCallback != nil {
			c.WriteCallback()
		}
	}
}

// AssertNotHandling panics if the channel is currently inside HandleEvent;
// callers that are about to release the owning object call this first to
// surface the same invariant muduo enforces with an assertion in its
// destructor.
func (c *Channel) AssertNotHandling() {
	if c.eventHandling {
		panic(reactorerrors.ErrChannelStillHandling)
	}
}

