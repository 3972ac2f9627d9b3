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

	"golang.org/x/sys/unix"
)

// wakeupDescriptor is the cross-thread "someone queued a task, stop
// blocking in Poll" source. On Linux it is a single eventfd: Wake writes
// the 8-byte counter increment, drain reads it back to zero so the next
// readiness edge isn't spurious.
type wakeupDescriptor struct {
	fd int
}

func newWakeupDescriptor() (*wakeupDescriptor, error) {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, os.NewSyscallError("eventfd", err)
	}
	return &wakeupDescriptor{fd: fd}, nil
}

func (w *wakeupDescriptor) Fd() int { return w.fd }

func (w *wakeupDescriptor) Wake() error {
	var buf [8]byte
	buf[0] = 1
	_, err := unix.Write(w.fd, buf[:])
	if err != nil && err != unix.EAGAIN {
		return os.NewSyscallError("write", err)
	}
	return nil
}

func (w *wakeupDescriptor) Drain() {
	var buf [8]byte
	for {
		_, err := unix.Read(w.fd, buf[:])
		if err != nil {
			return
		}
	}
}

func (w *wakeupDescriptor) Close() error {
	return os.NewSyscallError("close", unix.Close(w.fd))
}
