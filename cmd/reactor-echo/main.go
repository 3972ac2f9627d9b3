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

// reactor-echo is a minimal TCP echo server demonstrating the reactor
// package end to end: one base loop accepting connections and handing
// each one to a worker loop drawn from a LoopPool, the same
// accept-then-spread-across-a-pool shape as the teacher's
// core/acceptor.go + core/engine.go.
package main

import (
	"flag"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/loopkit/reactor/admin"
	"github.com/loopkit/reactor/logging"
	reactorerrors "github.com/loopkit/reactor/pkg/errors"
	"github.com/loopkit/reactor/reactor"
)

func main() {
	addr := flag.String("addr", ":5007", "tcp listen address")
	adminAddr := flag.String("admin-addr", ":6060", "admin http listen address")
	numLoops := flag.Int("loops", 4, "number of worker event loops")
	flag.Parse()

	if err := logging.InitializeLogger(
		logging.WithDir("log"),
		logging.WithLogLevel(logging.LevelInfo),
	); err != nil {
		println("failed to initialize logger:", err.Error())
		os.Exit(1)
	}
	defer logging.Shutdown()

	runtime.LockOSThread()
	baseLoop, err := reactor.NewEventLoop()
	if err != nil {
		logging.Errorf("failed to create base loop: %v", err)
		os.Exit(1)
	}

	pool := reactor.NewLoopPool(baseLoop, "echo-worker-", *numLoops)
	pool.Start(nil)

	srv, err := newEchoServer(baseLoop, pool, *addr)
	if err != nil {
		logging.Errorf("failed to start echo server: %v", err)
		os.Exit(1)
	}

	adminSrv := admin.NewServer(*adminAddr, pool, baseLoop, "reactor_echo")
	adminSrv.Start()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logging.Infof("reactor-echo: shutting down")
		baseLoop.RunInLoop(srv.close)
		adminSrv.Stop(5 * time.Second)
		pool.Stop()
		baseLoop.Quit()
	}()

	logging.Infof("reactor-echo: listening on %s, %d worker loops, admin on %s", *addr, *numLoops, *adminAddr)
	baseLoop.Loop()
	baseLoop.Close()
}

// echoServer owns the listening socket's Channel on the base loop and
// hands each accepted connection to a pool worker.
type echoServer struct {
	loop    *reactor.EventLoop
	pool    *reactor.LoopPool
	fd      int
	channel *reactor.Channel
}

func newEchoServer(loop *reactor.EventLoop, pool *reactor.LoopPool, addr string) (*echoServer, error) {
	fd, err := listenTCP(addr)
	if err != nil {
		return nil, err
	}

	s := &echoServer{loop: loop, pool: pool, fd: fd}
	s.channel = reactor.NewChannel(loop, fd)
	s.channel.SetReadCallback(func(time.Time) { s.accept() })
	s.channel.EnableReading()
	return s, nil
}

func (s *echoServer) accept() {
	for {
		nfd, _, err := unix.Accept(s.fd)
		if err != nil {
			switch err {
			case unix.EAGAIN:
			case unix.EMFILE, unix.ENFILE:
				logging.Errorf("reactor-echo: %v: %v", reactorerrors.ErrAcceptSocket, err)
			default:
				logging.Errorf("reactor-echo: accept failed: %v", err)
			}
			return
		}
		if err := unix.SetNonblock(nfd, true); err != nil {
			logging.Errorf("reactor-echo: set nonblock failed: %v", err)
			unix.Close(nfd)
			continue
		}

		worker := s.pool.GetNextLoop()
		worker.RunInLoop(func() { newEchoConn(worker, nfd) })
	}
}

func (s *echoServer) close() {
	s.channel.DisableAll()
	s.channel.Remove()
	unix.Close(s.fd)
}

func listenTCP(addr string) (int, error) {
	sa, err := resolveSockaddr(addr)
	if err != nil {
		return -1, err
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, err
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, err
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, err
	}
	if err := unix.Listen(fd, 1024); err != nil {
		unix.Close(fd)
		return -1, err
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}
