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

package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestLoggingLifecycle exercises InitializeLogger, a live log call and
// Shutdown in one sequential test since logObj is process-global state
// that InitializeLogger only ever sets once.
func TestLoggingLifecycle(t *testing.T) {
	if logObj == nil {
		if got := DroppedBuffers(); got != 0 {
			t.Fatalf("expected DroppedBuffers to be 0 before InitializeLogger, got %d", got)
		}
	}

	dir := t.TempDir()
	if err := InitializeLogger(
		WithDir(dir),
		WithLogLevel(LevelDebug),
		WithFlushInterval(10*time.Millisecond),
	); err != nil {
		t.Fatalf("InitializeLogger: %v", err)
	}

	Infof("hello from %s", "logging_test")
	Warnf("a warning line")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if containsAcrossFiles(t, dir, "hello from logging_test") &&
			containsAcrossFiles(t, dir, "a warning line") {
			Shutdown()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("logged lines never reached disk within the flush interval")
}

func containsAcrossFiles(t *testing.T, dir, needle string) bool {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		b, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		if bytes.Contains(b, []byte(needle)) {
			return true
		}
	}
	return false
}
