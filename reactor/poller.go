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

import "time"

// Poller is the readiness-multiplexer capability set. The scalable
// implementation is selected at build time by platform (epoll on linux,
// kqueue on darwin/dragonfly/freebsd); setting REACTOR_POLLER=poll selects
// the portable poll(2) implementation instead. All are constructed by
// newPoller, never directly, so the rest of the package is backend
// agnostic.
//
// A Poller never owns the descriptors registered with it: Close tears
// down the poller's own kernel object but never touches user
// descriptors.
type Poller interface {
	// Poll waits up to timeoutMS milliseconds (negative: forever, zero:
	// non-blocking probe) for readiness, and returns the channels whose
	// revents were just set along with the timestamp taken immediately
	// after the wait returned.
	Poll(timeoutMS int) (now time.Time, active []*Channel, err error)

	// UpdateChannel installs or modifies ch's registration. Must only be
	// called from the owning loop's thread.
	UpdateChannel(ch *Channel) error

	// RemoveChannel deregisters ch, which must currently request no
	// events (DisableAll must have been called first).
	RemoveChannel(ch *Channel) error

	// HasChannel reports whether ch is currently registered.
	HasChannel(ch *Channel) bool

	Close() error
}

func newPoller() (Poller, error) {
	return newPlatformPoller()
}

const initialPollEventsCap = 16
