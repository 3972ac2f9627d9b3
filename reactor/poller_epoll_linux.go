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

//go:build linux
// +build linux

package reactor

import (
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// epollPoller is the scalable backend on Linux: the per-channel Index
// field encodes the registration FSM (new/added/deleted) from spec
// §4.1, directly grounded on muduo's EPollPoller.
type epollPoller struct {
	fd       int
	events   []unix.EpollEvent
	channels map[int]*Channel
}

func newPlatformPoller() (Poller, error) {
	if usePollBackend() {
		return newPollPoller()
	}
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, os.NewSyscallError("epoll_create1", err)
	}
	return &epollPoller{
		fd:       fd,
		events:   make([]unix.EpollEvent, initialPollEventsCap),
		channels: make(map[int]*Channel),
	}, nil
}

func (p *epollPoller) Poll(timeoutMS int) (time.Time, []*Channel, error) {
	n, err := unix.EpollWait(p.fd, p.events, timeoutMS)
	now := time.Now()
	if err != nil {
		if err == unix.EINTR {
			return now, nil, nil
		}
		return now, nil, os.NewSyscallError("epoll_wait", err)
	}
	if n == 0 {
		return now, nil, nil
	}

	active := make([]*Channel, 0, n)
	for i := 0; i < n; i++ {
		ev := &p.events[i]
		channel, ok := p.channels[int(ev.Fd)]
		if !ok {
			continue
		}
		channel.SetRevents(translateEpollEvents(ev.Events))
		active = append(active, channel)
	}
	if n == len(p.events) {
		p.events = make([]unix.EpollEvent, len(p.events)*2)
	}
	return now, active, nil
}

func (p *epollPoller) UpdateChannel(ch *Channel) error {
	index := ch.Index()
	if index == PollIndexNew || index == PollIndexDeleted {
		p.channels[ch.fd] = ch
		ch.SetIndex(PollIndexAdded)
		return p.ctl(unix.EPOLL_CTL_ADD, ch)
	}

	if ch.IsNoneEvent() {
		ch.SetIndex(PollIndexDeleted)
		return p.ctl(unix.EPOLL_CTL_DEL, ch)
	}
	return p.ctl(unix.EPOLL_CTL_MOD, ch)
}

func (p *epollPoller) RemoveChannel(ch *Channel) error {
	delete(p.channels, ch.fd)
	index := ch.Index()
	ch.SetIndex(PollIndexNew)
	if index == PollIndexAdded {
		return p.ctl(unix.EPOLL_CTL_DEL, ch)
	}
	return nil
}

func (p *epollPoller) HasChannel(ch *Channel) bool {
	found, ok := p.channels[ch.fd]
	return ok && found == ch
}

func (p *epollPoller) Close() error {
	return os.NewSyscallError("close", unix.Close(p.fd))
}

func (p *epollPoller) ctl(op int, ch *Channel) error {
	ev := unix.EpollEvent{
		Events: translateToEpollEvents(ch.events),
		Fd:     int32(ch.fd),
	}
	if err := unix.EpollCtl(p.fd, op, ch.fd, &ev); err != nil {
		return os.NewSyscallError("epoll_ctl", err)
	}
	return nil
}

func translateToEpollEvents(events int32) uint32 {
	var e uint32
	if events&readEvents != 0 {
		e |= unix.EPOLLIN | unix.EPOLLPRI
	}
	if events&EventWritable != 0 {
		e |= unix.EPOLLOUT
	}
	return e
}

func translateEpollEvents(events uint32) int32 {
	var e int32
	if events&(unix.EPOLLIN|unix.EPOLLPRI) != 0 {
		e |= EventReadable
	}
	if events&unix.EPOLLRDHUP != 0 {
		e |= EventReadHup
	}
	if events&unix.EPOLLOUT != 0 {
		e |= EventWritable
	}
	if events&unix.EPOLLHUP != 0 {
		e |= EventHup
	}
	if events&unix.EPOLLERR != 0 {
		e |= EventError
	}
	return e
}
