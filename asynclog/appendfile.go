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
	"bufio"
	"fmt"
	"os"
)

// appendFileBufSize matches the stdio setbuffer size FileUtil::AppendFile
// installs over its FILE*.
const appendFileBufSize = 64 * 1024

// appendFile is an append-only, internally buffered file handle. It
// never blocks on behalf of a caller longer than necessary to queue
// bytes into its buffer; flush() is what actually forces a write(2).
type appendFile struct {
	f            *os.File
	w            *bufio.Writer
	writtenBytes int64
}

func newAppendFile(path string) (*appendFile, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	return &appendFile{
		f: f,
		w: bufio.NewWriterSize(f, appendFileBufSize),
	}, nil
}

// append writes logline in full, retrying on short writes, and abandons
// after the first hard error rather than looping forever against a
// broken file descriptor.
func (a *appendFile) append(logline []byte) {
	n, err := a.w.Write(logline)
	a.writtenBytes += int64(n)
	if err != nil {
		fmt.Fprintf(os.Stderr, "asynclog: AppendFile.append failed: %v\n", err)
	}
}

func (a *appendFile) flush() {
	if err := a.w.Flush(); err != nil {
		fmt.Fprintf(os.Stderr, "asynclog: AppendFile.flush failed: %v\n", err)
	}
}

func (a *appendFile) close() error {
	a.flush()
	return a.f.Close()
}
