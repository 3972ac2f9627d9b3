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

package reactor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoopPoolRoundRobinsAcrossWorkers(t *testing.T) {
	_, base := newRunningLoop(t)

	pool := NewLoopPool(base, "pooltest-", 3)
	done := make(chan struct{})
	base.RunInLoop(func() {
		pool.Start(nil)
		close(done)
	})
	<-done
	t.Cleanup(pool.Stop)

	assert.Equal(t, 3, pool.Size())

	seen := make(map[*EventLoop]int)
	result := make(chan map[*EventLoop]int, 1)
	base.RunInLoop(func() {
		for i := 0; i < 9; i++ {
			seen[pool.GetNextLoop()]++
		}
		result <- seen
	})

	select {
	case got := <-result:
		if len(got) != 3 {
			t.Fatalf("expected round robin to touch all 3 workers, touched %d", len(got))
		}
		for loop, count := range got {
			if count != 3 {
				t.Fatalf("expected even distribution, loop %p got %d of 9", loop, count)
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out collecting round robin assignments")
	}
}

func TestLoopPoolZeroWorkersFallsBackToBase(t *testing.T) {
	_, base := newRunningLoop(t)

	pool := NewLoopPool(base, "pooltest-", 0)
	done := make(chan struct{})
	base.RunInLoop(func() {
		pool.Start(nil)
		close(done)
	})
	<-done

	result := make(chan *EventLoop, 1)
	base.RunInLoop(func() { result <- pool.GetNextLoop() })

	select {
	case loop := <-result:
		if loop != base {
			t.Fatal("expected GetNextLoop to fall back to the base loop with zero workers")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
}

func TestLoopPoolGetLoopForHashIsStable(t *testing.T) {
	_, base := newRunningLoop(t)

	pool := NewLoopPool(base, "pooltest-", 4)
	done := make(chan struct{})
	base.RunInLoop(func() {
		pool.Start(nil)
		close(done)
	})
	<-done
	t.Cleanup(pool.Stop)

	result := make(chan bool, 1)
	base.RunInLoop(func() {
		a := pool.GetLoopForHash(42)
		b := pool.GetLoopForHash(42)
		c := pool.GetLoopForHash(43)
		result <- a == b && (a != c || len(pool.GetAllLoops()) == 1)
	})

	select {
	case stable := <-result:
		if !stable {
			t.Fatal("GetLoopForHash must be stable for a fixed hash code")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
}
