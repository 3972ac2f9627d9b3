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

//go:build linux || darwin || freebsd || dragonfly
// +build linux darwin freebsd dragonfly

package reactor

import (
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// pollPoller is the level-triggered backend named in the design: a dense
// vector of (fd, events, revents) triples scanned after every poll(2)
// call, with swap-with-last removal and the negative-sentinel trick for
// "registered but quiescent" slots (-(fd+1), relying on fds being
// non-negative — see the design notes' open question).
//
// It is always available (poll(2) is POSIX) and is selected by setting
// REACTOR_POLLER=poll; the default is the scalable backend for the host
// platform.
type pollPoller struct {
	pollfds  []unix.PollFd
	channels map[int]*Channel
}

func newPollPoller() (Poller, error) {
	return &pollPoller{channels: make(map[int]*Channel)}, nil
}

func (p *pollPoller) Poll(timeoutMS int) (time.Time, []*Channel, error) {
	n, err := unix.Poll(p.pollfds, timeoutMS)
	now := time.Now()
	if err != nil {
		if err == unix.EINTR {
			return now, nil, nil
		}
		return now, nil, os.NewSyscallError("poll", err)
	}
	if n == 0 {
		return now, nil, nil
	}

	active := make([]*Channel, 0, n)
	remaining := n
	for _, pfd := range p.pollfds {
		if remaining == 0 {
			break
		}
		if pfd.Revents == 0 {
			continue
		}
		remaining--
		fd := pfd.Fd
		if fd < 0 {
			fd = -fd - 1
		}
		ch, ok := p.channels[int(fd)]
		if !ok {
			continue
		}
		ch.SetRevents(translatePollRevents(pfd.Revents))
		active = append(active, ch)
	}
	return now, active, nil
}

func (p *pollPoller) UpdateChannel(ch *Channel) error {
	if ch.Index() < 0 {
		pfd := unix.PollFd{
			Fd:     int32(ch.fd),
			Events: translateToPollEvents(ch.events),
		}
		p.pollfds = append(p.pollfds, pfd)
		ch.SetIndex(int32(len(p.pollfds) - 1))
		p.channels[ch.fd] = ch
		return nil
	}

	idx := ch.Index()
	pfd := &p.pollfds[idx]
	pfd.Fd = int32(ch.fd)
	pfd.Events = translateToPollEvents(ch.events)
	pfd.Revents = 0
	if ch.IsNoneEvent() {
		pfd.Fd = -int32(ch.fd) - 1
	}
	return nil
}

func (p *pollPoller) RemoveChannel(ch *Channel) error {
	idx := int(ch.Index())
	delete(p.channels, ch.fd)
	last := len(p.pollfds) - 1
	if idx == last {
		p.pollfds = p.pollfds[:last]
		return nil
	}
	p.pollfds[idx], p.pollfds[last] = p.pollfds[last], p.pollfds[idx]
	movedFd := p.pollfds[idx].Fd
	if movedFd < 0 {
		movedFd = -movedFd - 1
	}
	if moved, ok := p.channels[int(movedFd)]; ok {
		moved.SetIndex(int32(idx))
	}
	p.pollfds = p.pollfds[:last]
	return nil
}

func (p *pollPoller) HasChannel(ch *Channel) bool {
	found, ok := p.channels[ch.fd]
	return ok && found == ch
}

func (p *pollPoller) Close() error { return nil }

func translateToPollEvents(events int32) int16 {
	var e int16
	if events&readEvents != 0 {
		e |= unix.POLLIN | unix.POLLPRI
	}
	if events&EventWritable != 0 {
		e |= unix.POLLOUT
	}
	return e
}

func translatePollRevents(revents int16) int32 {
	var e int32
	if revents&(unix.POLLIN|unix.POLLPRI) != 0 {
		e |= EventReadable
	}
	if revents&unix.POLLRDHUP != 0 {
		e |= EventReadHup
	}
	if revents&unix.POLLOUT != 0 {
		e |= EventWritable
	}
	if revents&unix.POLLHUP != 0 {
		e |= EventHup
	}
	if revents&unix.POLLERR != 0 {
		e |= EventError
	}
	if revents&unix.POLLNVAL != 0 {
		e |= EventInvalid
	}
	return e
}
