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

//go:build darwin || dragonfly || freebsd
// +build darwin dragonfly freebsd

package reactor

import (
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// bsdTimerfd emulates timerfd where the kernel provides none: a single
// goroutine owns a stdlib time.Timer armed to the next expiration and
// writes to a self-pipe when it fires, giving TimerQueue the same
// "read a descriptor" contract it gets from timerfd on Linux. See the
// design notes for why this was chosen over kqueue's EVFILT_TIMER.
type bsdTimerfd struct {
	readFd  int
	writeFd int
	armCh   chan time.Duration
	stopCh  chan struct{}
}

func newTimerDescriptor() (timerDescriptor, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, os.NewSyscallError("socketpair", err)
	}
	if err := unix.SetNonblock(fds[0], true); err != nil {
		unix.Close(fds[0])
		unix.Close(fds[1])
		return nil, os.NewSyscallError("setnonblock", err)
	}

	t := &bsdTimerfd{
		readFd:  fds[0],
		writeFd: fds[1],
		armCh:   make(chan time.Duration, 1),
		stopCh:  make(chan struct{}),
	}
	go t.run()
	return t, nil
}

func (t *bsdTimerfd) Fd() int { return t.readFd }

func (t *bsdTimerfd) Arm(d time.Duration) error {
	select {
	case t.armCh <- d:
	default:
		// drain a stale pending rearm request, then retry
		select {
		case <-t.armCh:
		default:
		}
		t.armCh <- d
	}
	return nil
}

func (t *bsdTimerfd) Drain() {
	var buf [8]byte
	unix.Read(t.readFd, buf[:])
}

func (t *bsdTimerfd) Close() error {
	close(t.stopCh)
	err1 := unix.Close(t.readFd)
	err2 := unix.Close(t.writeFd)
	if err1 != nil {
		return os.NewSyscallError("close", err1)
	}
	if err2 != nil {
		return os.NewSyscallError("close", err2)
	}
	return nil
}

// run owns the only stdlib timer in the BSD/Darwin build, so that the
// reactor's single blocking suspension point remains the Poller's
// syscall, never this goroutine: it only ever produces one byte on the
// self-pipe and waits to be re-armed or stopped.
func (t *bsdTimerfd) run() {
	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-t.stopCh:
			return
		case d := <-t.armCh:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(d)
		case <-timer.C:
			unix.Write(t.writeFd, []byte{1})
		}
	}
}
