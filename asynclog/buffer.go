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

// Package asynclog implements the double-buffered producer/consumer log
// pipeline: callers append log lines from any goroutine without ever
// blocking on file I/O, and a single background goroutine drains filled
// buffers to disk.
package asynclog

import "github.com/valyala/bytebufferpool"

// bufferSize is the capacity of one fixed buffer (muduo's kLargeBuffer).
const bufferSize = 4 * 1024 * 1024

var pool bytebufferpool.Pool

// buffer is a pooled, logically fixed-capacity byte buffer. It wraps
// bytebufferpool.ByteBuffer rather than a raw []byte so that buffers
// dropped under backpressure return their backing array to the pool
// instead of being left for the GC.
type buffer struct {
	bb *bytebufferpool.ByteBuffer
}

func newBuffer() *buffer {
	return &buffer{bb: pool.Get()}
}

// avail reports how many more bytes can be appended before the buffer
// is considered full.
func (b *buffer) avail() int {
	return bufferSize - len(b.bb.B)
}

func (b *buffer) length() int { return len(b.bb.B) }

func (b *buffer) bytes() []byte { return b.bb.B }

func (b *buffer) append(p []byte) {
	b.bb.Write(p)
}

// reset empties the buffer for reuse without releasing it back to the
// pool (the consumer goroutine keeps two of these alive permanently).
func (b *buffer) reset() {
	b.bb.Reset()
}

// release returns the buffer's backing array to the shared pool; only
// called for buffers dropped under backpressure.
func (b *buffer) release() {
	pool.Put(b.bb)
	b.bb = nil
}
