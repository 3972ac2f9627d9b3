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

package main

import (
	"time"

	"golang.org/x/sys/unix"

	"github.com/loopkit/reactor/logging"
	"github.com/loopkit/reactor/reactor"
)

// echoConn is one accepted connection, bound to whichever worker loop
// accepted it. outbound buffers bytes HandleEvent's write callback
// couldn't push through a single non-blocking write, the same
// register-for-writable-until-drained pattern as the teacher's
// core/connection.go write path.
type echoConn struct {
	loop    *reactor.EventLoop
	fd      int
	channel *reactor.Channel
	closed  bool

	outbound []byte
}

func newEchoConn(loop *reactor.EventLoop, fd int) {
	c := &echoConn{loop: loop, fd: fd}
	c.channel = reactor.NewChannel(loop, fd)
	c.channel.Tie(func() bool { return !c.closed })
	c.channel.SetReadCallback(c.handleRead)
	c.channel.SetWriteCallback(c.handleWrite)
	c.channel.SetCloseCallback(c.handleClose)
	c.channel.SetErrorCallback(c.handleClose)
	c.channel.EnableReading()
}

func (c *echoConn) handleRead(time.Time) {
	buf := make([]byte, 65536)
	for {
		n, err := unix.Read(c.fd, buf)
		if n > 0 {
			c.write(buf[:n])
		}
		if err == unix.EAGAIN {
			return
		}
		if n == 0 || err != nil {
			c.handleClose()
			return
		}
		if n < len(buf) {
			return
		}
	}
}

func (c *echoConn) write(data []byte) {
	if len(c.outbound) > 0 {
		c.outbound = append(c.outbound, data...)
		return
	}

	n, err := unix.Write(c.fd, data)
	if err != nil && err != unix.EAGAIN {
		logging.Errorf("reactor-echo: write failed: %v", err)
		c.handleClose()
		return
	}
	if n < len(data) {
		if n < 0 {
			n = 0
		}
		c.outbound = append(c.outbound, data[n:]...)
		c.channel.EnableWriting()
	}
}

func (c *echoConn) handleWrite() {
	if len(c.outbound) == 0 {
		c.channel.DisableWriting()
		return
	}
	n, err := unix.Write(c.fd, c.outbound)
	if err != nil && err != unix.EAGAIN {
		logging.Errorf("reactor-echo: write failed: %v", err)
		c.handleClose()
		return
	}
	if n < 0 {
		n = 0
	}
	c.outbound = c.outbound[n:]
	if len(c.outbound) == 0 {
		c.channel.DisableWriting()
	}
}

func (c *echoConn) handleClose() {
	if c.closed {
		return
	}
	c.closed = true
	c.channel.DisableAll()
	c.channel.Remove()
	unix.Close(c.fd)
}
