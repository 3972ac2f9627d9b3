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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/loopkit/reactor/logging"
)

func TestLoadAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reactor.yaml")
	if err := os.WriteFile(path, []byte("num_loops: 2\n"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	w, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer w.Close()

	cfg := w.Current()
	if cfg.NumLoops != 2 {
		t.Fatalf("expected num_loops 2, got %d", cfg.NumLoops)
	}
	if cfg.LogLevel != logging.LevelInfo {
		t.Fatalf("expected default log level %q, got %q", logging.LevelInfo, cfg.LogLevel)
	}
	if cfg.LogRollSizeMB != 20 {
		t.Fatalf("expected default log_roll_size_mb 20, got %d", cfg.LogRollSizeMB)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reactor.yaml")
	if err := os.WriteFile(path, []byte("num_loops: -1\n"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("expected Load to reject a negative num_loops")
	}
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reactor.yaml")
	if err := os.WriteFile(path, []byte("num_loops: 1\n"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	w, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(path, []byte("num_loops: 5\n"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if w.Current().NumLoops == 5 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("config watcher never picked up the rewritten file, still %d", w.Current().NumLoops)
}
