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

package asynclog

import (
	"os"
	"testing"
	"time"
)

func TestLogFileRollsOnSize(t *testing.T) {
	dir := t.TempDir()
	lf, err := NewLogFile(dir, "roll", 64, time.Hour)
	if err != nil {
		t.Fatalf("NewLogFile: %v", err)
	}
	defer lf.Close()

	lf.Append(make([]byte, 100))
	time.Sleep(1100 * time.Millisecond) // file names have one-second resolution; guarantee a distinct one
	lf.Append(make([]byte, 100))
	lf.Flush()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) < 2 {
		t.Fatalf("expected at least 2 rolled files after exceeding rollSize twice, got %d", len(entries))
	}
}

func TestLogFileDoesNotRollWithinSizeBudget(t *testing.T) {
	dir := t.TempDir()
	lf, err := NewLogFile(dir, "noroll", 1<<20, time.Hour)
	if err != nil {
		t.Fatalf("NewLogFile: %v", err)
	}
	defer lf.Close()

	for i := 0; i < 5; i++ {
		lf.Append([]byte("a short line\n"))
	}
	lf.Flush()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly 1 file while under rollSize, got %d", len(entries))
	}
}
