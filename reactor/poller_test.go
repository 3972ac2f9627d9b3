// Copyright (c) 2022 The rcproxy Authors
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
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

// raiseFileDescriptorLimit ensures the process soft limit can
// accommodate a load test opening many descriptors at once, since the
// common default (1024) is smaller than this test needs.
func raiseFileDescriptorLimit(t *testing.T, want uint64) {
	t.Helper()
	var rlim unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rlim); err != nil {
		t.Fatalf("getrlimit: %v", err)
	}
	if rlim.Cur >= want {
		return
	}
	target := want
	if rlim.Max < target {
		target = rlim.Max
	}
	rlim.Cur = target
	if err := unix.Setrlimit(unix.RLIMIT_NOFILE, &rlim); err != nil {
		t.Skipf("cannot raise RLIMIT_NOFILE to %d: %v", want, err)
	}
}

func newSocketpair(t *testing.T) (int, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	for _, fd := range fds {
		if err := unix.SetNonblock(fd, true); err != nil {
			t.Fatalf("set nonblock: %v", err)
		}
	}
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

// TestChannelRegistrationFSM exercises PollIndexNew -> Added -> Deleted
// across whichever backend newPoller selects for this platform,
// verifying HasChannel tracks registration state at each step.
func TestChannelRegistrationFSM(t *testing.T) {
	_, loop := newRunningLoop(t)
	a, b := newSocketpair(t)
	_ = b

	result := make(chan string, 1)
	loop.RunInLoop(func() {
		ch := NewChannel(loop, a)
		if ch.Index() != PollIndexNew {
			result <- "expected PollIndexNew before first registration"
			return
		}
		if loop.HasChannel(ch) {
			result <- "HasChannel true before EnableReading"
			return
		}

		ch.EnableReading()
		if !loop.HasChannel(ch) {
			result <- "HasChannel false after EnableReading"
			return
		}

		ch.EnableWriting()
		if !loop.HasChannel(ch) {
			result <- "HasChannel false after modifying an already-added channel"
			return
		}

		ch.DisableAll()
		ch.Remove()
		if loop.HasChannel(ch) {
			result <- "HasChannel true after Remove"
			return
		}
		result <- ""
	})

	select {
	case msg := <-result:
		if msg != "" {
			t.Fatal(msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out exercising channel registration FSM")
	}
}

func TestChannelReadableFiresCallback(t *testing.T) {
	_, loop := newRunningLoop(t)
	a, b := newSocketpair(t)

	var fired int32
	done := make(chan struct{})
	loop.RunInLoop(func() {
		ch := NewChannel(loop, a)
		ch.SetReadCallback(func(time.Time) {
			atomic.StoreInt32(&fired, 1)
			buf := make([]byte, 16)
			unix.Read(a, buf)
			ch.DisableAll()
			ch.Remove()
			close(done)
		})
		ch.EnableReading()
	})

	unix.Write(b, []byte("hi"))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("readable channel never fired its callback")
	}
	if atomic.LoadInt32(&fired) != 1 {
		t.Fatal("read callback did not run")
	}
}

// TestManySocketpairsUnderLoad registers 1000 socketpair halves on one
// loop and confirms every one of them reports readable once its peer
// writes, exercising the poller's dense-to-many-descriptor path under
// load regardless of which backend is selected.
func TestManySocketpairsUnderLoad(t *testing.T) {
	const n = 1000
	raiseFileDescriptorLimit(t, 2*n+64)
	_, loop := newRunningLoop(t)

	readEnds := make([]int, n)
	writeEnds := make([]int, n)
	for i := 0; i < n; i++ {
		a, b := newSocketpair(t)
		readEnds[i] = a
		writeEnds[i] = b
	}

	var remaining int32 = n
	done := make(chan struct{})
	registered := make(chan struct{})

	loop.RunInLoop(func() {
		for i := 0; i < n; i++ {
			fd := readEnds[i]
			ch := NewChannel(loop, fd)
			ch.SetReadCallback(func(time.Time) {
				buf := make([]byte, 4)
				unix.Read(fd, buf)
				ch.DisableAll()
				ch.Remove()
				if atomic.AddInt32(&remaining, -1) == 0 {
					close(done)
				}
			})
			ch.EnableReading()
		}
		close(registered)
	})

	select {
	case <-registered:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out registering channels")
	}

	for _, fd := range writeEnds {
		unix.Write(fd, []byte("x"))
	}

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatalf("only %d/%d channels reported readable", n-int(atomic.LoadInt32(&remaining)), n)
	}
}
