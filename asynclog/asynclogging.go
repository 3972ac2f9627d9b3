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

package asynclog

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// maxBuffersBeforeDrop is the filled-buffer backlog size past which the
// consumer drops everything but the two oldest buffers rather than let
// an unbounded backlog build up behind a stalled disk.
const maxBuffersBeforeDrop = 25

// AsyncLogging is the double-buffered producer/consumer pipeline: any
// number of producer goroutines call Append concurrently, and a single
// consumer goroutine started by Start drains filled buffers to a
// LogFile. Append never performs I/O and never blocks on the consumer.
type AsyncLogging struct {
	dir           string
	basename      string
	rollSize      int64
	flushInterval time.Duration

	mu      sync.Mutex
	current *buffer
	next    *buffer
	filled  []*buffer

	notify  chan struct{}
	running int32
	stopCh  chan struct{}
	doneCh  chan struct{}

	droppedBuffers uint64 // atomic, exposed for the admin stats surface
}

// NewAsyncLogging constructs a pipeline writing into dir under
// basename-prefixed files, rolling at rollSize bytes or each UTC day,
// and flushing the current buffer to disk at least every flushInterval
// even when it is not yet full.
func NewAsyncLogging(dir, basename string, rollSize int64, flushInterval time.Duration) *AsyncLogging {
	return &AsyncLogging{
		dir:           dir,
		basename:      basename,
		rollSize:      rollSize,
		flushInterval: flushInterval,
		current:       newBuffer(),
		next:          newBuffer(),
		notify:        make(chan struct{}, 1),
	}
}

// Append queues logline for the consumer goroutine. Safe to call
// concurrently from any number of goroutines.
func (a *AsyncLogging) Append(logline []byte) {
	a.mu.Lock()
	if a.current.avail() > len(logline) {
		a.current.append(logline)
		a.mu.Unlock()
		return
	}

	a.filled = append(a.filled, a.current)
	if a.next != nil {
		a.current = a.next
		a.next = nil
	} else {
		// Rarely happens: the consumer hasn't replenished next yet.
		a.current = newBuffer()
	}
	a.current.append(logline)
	a.mu.Unlock()

	select {
	case a.notify <- struct{}{}:
	default:
	}
}

// Start launches the consumer goroutine and blocks until it has opened
// its LogFile and is ready to receive. Returns an error if the log
// directory or first file can't be created.
func (a *AsyncLogging) Start() error {
	if !atomic.CompareAndSwapInt32(&a.running, 0, 1) {
		return nil
	}
	a.stopCh = make(chan struct{})
	a.doneCh = make(chan struct{})

	started := make(chan error, 1)
	go a.run(started)
	return <-started
}

// Stop signals the consumer goroutine to flush and exit, and waits for
// it to finish.
func (a *AsyncLogging) Stop() {
	if !atomic.CompareAndSwapInt32(&a.running, 1, 0) {
		return
	}
	close(a.stopCh)
	<-a.doneCh
}

// DroppedBuffers reports the cumulative count of filled buffers
// discarded by the backpressure-by-drop path.
func (a *AsyncLogging) DroppedBuffers() uint64 {
	return atomic.LoadUint64(&a.droppedBuffers)
}

func (a *AsyncLogging) run(started chan<- error) {
	logFile, err := NewLogFile(a.dir, a.basename, a.rollSize, a.flushInterval)
	if err != nil {
		started <- err
		close(a.doneCh)
		return
	}
	started <- nil

	newBuffer1 := newBuffer()
	newBuffer2 := newBuffer()

	for {
		select {
		case <-a.notify:
		case <-time.After(a.flushInterval):
		case <-a.stopCh:
		}

		a.mu.Lock()
		a.filled = append(a.filled, a.current)
		a.current = newBuffer1
		newBuffer1 = nil
		buffersToWrite := a.filled
		a.filled = nil
		if a.next == nil {
			a.next = newBuffer2
			newBuffer2 = nil
		}
		a.mu.Unlock()

		if len(buffersToWrite) > maxBuffersBeforeDrop {
			dropped := len(buffersToWrite) - 2
			atomic.AddUint64(&a.droppedBuffers, uint64(dropped))
			msg := fmt.Sprintf("Dropped log messages at %s, %d larger buffers\n",
				time.Now().Format(time.RFC3339), dropped)
			fmt.Fprint(os.Stderr, msg)
			logFile.Append([]byte(msg))
			for _, b := range buffersToWrite[2:] {
				b.release()
			}
			buffersToWrite = buffersToWrite[:2]
		}

		for _, b := range buffersToWrite {
			logFile.Append(b.bytes())
		}

		if newBuffer1 == nil {
			last := len(buffersToWrite) - 1
			newBuffer1 = buffersToWrite[last]
			buffersToWrite = buffersToWrite[:last]
			newBuffer1.reset()
		}
		if newBuffer2 == nil {
			last := len(buffersToWrite) - 1
			newBuffer2 = buffersToWrite[last]
			buffersToWrite = buffersToWrite[:last]
			newBuffer2.reset()
		}

		logFile.Flush()

		select {
		case <-a.stopCh:
			logFile.Flush()
			logFile.Close()
			close(a.doneCh)
			return
		default:
		}
	}
}
