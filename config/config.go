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

// Package config loads and hot-reloads the reactor's process-level
// settings: how many worker loops to run, which poller backend to
// prefer, and where the async log pipeline writes.
package config

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/loopkit/reactor/logging"
)

// Config is the reactor process's static configuration, reloaded in
// place whenever the backing file changes on disk.
type Config struct {
	NumLoops      int    `yaml:"num_loops"`
	PollerBackend string `yaml:"poller_backend"` // "", or "poll" to force the portable backend
	AdminPort     int    `yaml:"admin_port"`
	LogDir        string `yaml:"log_dir"`
	LogLevel      string `yaml:"log_level"`
	LogRollSizeMB int64  `yaml:"log_roll_size_mb"`
}

func (c *Config) validate() error {
	if c.NumLoops < 0 {
		return errors.Errorf("num_loops must be >= 0, got %d", c.NumLoops)
	}
	if c.PollerBackend != "" && c.PollerBackend != "poll" {
		return errors.Errorf("unsupported poller_backend %q", c.PollerBackend)
	}
	if c.LogLevel != "" {
		switch c.LogLevel {
		case logging.LevelDebug, logging.LevelInfo, logging.LevelWarn, logging.LevelError:
		default:
			return errors.Errorf("unknown log level %s", c.LogLevel)
		}
	}
	return nil
}

func defaultConfig() Config {
	return Config{
		NumLoops:      0,
		LogDir:        "log",
		LogLevel:      logging.LevelInfo,
		LogRollSizeMB: 20,
	}
}

// Watcher owns a Config loaded from a single YAML file and keeps it
// current via fsnotify, the same way the teacher's IP allowlist stayed
// current with a directory watch plus a filename comparison.
type Watcher struct {
	path string

	mu  sync.RWMutex
	cfg Config

	watcher *fsnotify.Watcher
	closed  int32
}

// Load reads path once, validates it, and starts watching it for
// writes/renames so that Current always reflects the file on disk.
func Load(path string) (*Watcher, error) {
	w := &Watcher{path: path}
	if err := w.reload(); err != nil {
		return nil, err
	}
	if err := w.watch(); err != nil {
		return nil, err
	}
	return w, nil
}

// Current returns a copy of the most recently loaded configuration.
func (w *Watcher) Current() Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cfg
}

// Close stops the background watch goroutine.
func (w *Watcher) Close() error {
	if !atomic.CompareAndSwapInt32(&w.closed, 0, 1) {
		return nil
	}
	return w.watcher.Close()
}

func (w *Watcher) reload() error {
	raw, err := os.ReadFile(w.path)
	if err != nil {
		return errors.Wrapf(err, "failed to read config from %s", w.path)
	}
	cfg := defaultConfig()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return errors.Wrapf(err, "failed to unmarshal config from %s", w.path)
	}
	if err := cfg.validate(); err != nil {
		return errors.Wrap(err, "config validate failed")
	}

	w.mu.Lock()
	w.cfg = cfg
	w.mu.Unlock()
	return nil
}

func (w *Watcher) watch() error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "failed to create config watcher")
	}
	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return errors.Wrapf(err, "failed to watch %s", dir)
	}
	w.watcher = fw

	target := filepath.Clean(w.path)
	go func() {
		for {
			select {
			case ev, ok := <-fw.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Rename|fsnotify.Create) == 0 {
					continue
				}
				if err := w.reload(); err != nil {
					logging.Errorf("config: reload of %s failed: %v", w.path, err)
				} else {
					logging.Infof("config: reloaded %s", w.path)
				}
			case err, ok := <-fw.Errors:
				if !ok {
					return
				}
				logging.Errorf("config: watcher error: %v", err)
			}
		}
	}()
	return nil
}
