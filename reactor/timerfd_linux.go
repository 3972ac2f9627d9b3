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

// linuxTimerfd backs TimerQueue with CLOCK_MONOTONIC timerfd, exactly
// as muduo's TimerQueue does, so the timer is just another
// descriptor-bearing Channel from the Poller's point of view.
type linuxTimerfd struct {
	fd int
}

func newTimerDescriptor() (timerDescriptor, error) {
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_NONBLOCK|unix.TFD_CLOEXEC)
	if err != nil {
		return nil, os.NewSyscallError("timerfd_create", err)
	}
	return &linuxTimerfd{fd: fd}, nil
}

func (t *linuxTimerfd) Fd() int { return t.fd }

func (t *linuxTimerfd) Arm(d time.Duration) error {
	if d <= 0 {
		d = time.Nanosecond // timerfd treats an all-zero value as "disarm"
	}
	spec := unix.ItimerSpec{
		Value: unix.NsecToTimespec(d.Nanoseconds()),
	}
	if err := unix.TimerfdSettime(t.fd, 0, &spec, nil); err != nil {
		return os.NewSyscallError("timerfd_settime", err)
	}
	return nil
}

func (t *linuxTimerfd) Drain() {
	var buf [8]byte
	unix.Read(t.fd, buf[:])
}

func (t *linuxTimerfd) Close() error {
	return os.NewSyscallError("close", unix.Close(t.fd))
}
