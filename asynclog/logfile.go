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
	"path/filepath"
	"time"
)

// rollPerSeconds is the "new calendar day" period a LogFile rolls on,
// independent of rollSize (one day, in UTC, exactly as muduo's LogFile
// does with gmtime_r rather than localtime_r).
const rollPerSeconds = 60 * 60 * 24

// checkEveryN bounds how often append checks the wall clock for a
// size-independent roll or a flush-interval flush, so that a high
// throughput logger isn't calling time.Now() on every single append.
const checkEveryN = 1024

// LogFile owns the single on-disk destination of the log pipeline's
// consumer goroutine: it rolls to a freshly named file when the
// previous one exceeds rollSize bytes or a UTC day boundary is crossed,
// and flushes on its own schedule independent of the roll check.
type LogFile struct {
	dir           string
	basename      string
	rollSize      int64
	flushInterval time.Duration

	count          int
	startOfPeriod  time.Time
	lastRoll       time.Time
	lastFlush      time.Time
	file           *appendFile
}

// NewLogFile creates a LogFile writing basename-prefixed files under
// dir, rolling at rollSize bytes or at each UTC day boundary, flushing
// at least every flushInterval while actively appending.
func NewLogFile(dir, basename string, rollSize int64, flushInterval time.Duration) (*LogFile, error) {
	lf := &LogFile{
		dir:           dir,
		basename:      basename,
		rollSize:      rollSize,
		flushInterval: flushInterval,
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	if err := lf.rollFile(time.Now()); err != nil {
		return nil, err
	}
	return lf, nil
}

// Append writes logline to the current file, rolling first if needed.
func (lf *LogFile) Append(logline []byte) {
	lf.file.append(logline)

	if lf.file.writtenBytes > lf.rollSize {
		lf.rollFile(time.Now())
		return
	}

	lf.count++
	if lf.count < checkEveryN {
		return
	}
	lf.count = 0

	now := time.Now().UTC()
	thisPeriod := now.Truncate(rollPerSeconds * time.Second)
	if !thisPeriod.Equal(lf.startOfPeriod) {
		lf.rollFile(now)
		return
	}
	if now.Sub(lf.lastFlush) > lf.flushInterval {
		lf.lastFlush = now
		lf.file.flush()
	}
}

// Flush forces any buffered bytes out to the OS.
func (lf *LogFile) Flush() {
	lf.file.flush()
}

// Close flushes and closes the underlying file.
func (lf *LogFile) Close() error {
	if lf.file == nil {
		return nil
	}
	return lf.file.close()
}

func (lf *LogFile) rollFile(now time.Time) error {
	now = now.UTC()
	if !now.After(lf.lastRoll) {
		return nil
	}
	name := logFileName(lf.basename, now)
	path := filepath.Join(lf.dir, name)

	if lf.file != nil {
		lf.file.close()
	}
	f, err := newAppendFile(path)
	if err != nil {
		return err
	}
	lf.file = f
	lf.lastRoll = now
	lf.lastFlush = now
	lf.startOfPeriod = now.Truncate(rollPerSeconds * time.Second)
	return nil
}

func logFileName(basename string, now time.Time) string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s.%s.%s.%d.log", basename, now.Format("20060102-150405"), host, os.Getpid())
}
