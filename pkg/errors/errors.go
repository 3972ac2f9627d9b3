// Copyright (c) 2022 The rcproxy Authors
// Copyright (c) 2019 Andy Pan
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

// Package errors collects the sentinel errors used by the reactor package
// and the reactor-echo demo so callers can compare with errors.Is
// instead of matching strings.
package errors

import "errors"

var (
	// ErrAcceptSocket occurs when the listener fails to accept a pending
	// connection (resource exhaustion, e.g. EMFILE).
	ErrAcceptSocket = errors.New("accept a new connection error")

	// ErrNotLoopThread occurs when a loop-affine operation (updateChannel,
	// removeChannel, Loop, HasChannel) is invoked from a goroutine other
	// than the one the EventLoop is bound to.
	ErrNotLoopThread = errors.New("operation must run on the event loop's own thread")

	// ErrDoubleLoopOnThread occurs when a second EventLoop is constructed
	// on a thread that already owns one. This is a fatal condition: the
	// caller is expected to panic rather than continue.
	ErrDoubleLoopOnThread = errors.New("another event loop already exists on this thread")

	// ErrChannelStillHandling is the panic value of Channel.AssertNotHandling
	// when the channel is still inside HandleEvent.
	ErrChannelStillHandling = errors.New("channel cannot be removed while handling an event")

	// ErrChannelNotRemoved is the panic value of EventLoop's channel removal
	// when the channel being removed is not the one currently dispatching
	// but is still in the current iteration's active list.
	ErrChannelNotRemoved = errors.New("channel must be removed from its loop before being discarded")

	// ErrTimerNotFound occurs when Cancel targets a timer id unknown to the
	// queue (it may have already fired and not be repeating).
	ErrTimerNotFound = errors.New("timer not found")

	// ErrPollerClosed occurs when an operation is attempted on a Poller
	// after Close has returned.
	ErrPollerClosed = errors.New("poller is closed")

	// ErrInvalidDescriptor occurs when the poller reports a negative or
	// invalid-poll readiness bit for a registered descriptor.
	ErrInvalidDescriptor = errors.New("invalid descriptor reported by poller")
)
