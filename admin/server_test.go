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

package admin

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/loopkit/reactor/reactor"
)

func newTestPool(t *testing.T) (*reactor.EventLoop, *reactor.LoopPool) {
	t.Helper()
	lt := reactor.NewLoopThread("admin-test-base", nil)
	base := lt.StartLoop()
	t.Cleanup(lt.Stop)

	pool := reactor.NewLoopPool(base, "admin-test-worker-", 2)
	done := make(chan struct{})
	base.RunInLoop(func() {
		pool.Start(nil)
		close(done)
	})
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out starting pool")
	}
	t.Cleanup(pool.Stop)
	return base, pool
}

func TestAdminLoopsEndpointReportsEveryWorker(t *testing.T) {
	base, pool := newTestPool(t)
	srv := NewServer(":0", pool, base, "admin_test")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/loops", nil)
	srv.httpSrv.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var loops []loopInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &loops); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	assert.Len(t, loops, 2)
}

func TestAdminVersionEndpoint(t *testing.T) {
	base, pool := newTestPool(t)
	srv := NewServer(":0", pool, base, "admin_test_version")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/version", nil)
	srv.httpSrv.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(rec.Body.Bytes()) == 0 {
		t.Fatal("expected a non-empty version body")
	}
}

func TestAdminMetricsEndpointExposesLoopGauges(t *testing.T) {
	base, pool := newTestPool(t)
	srv := NewServer(":0", pool, base, "admin_test_metrics")

	// Populate the gauges once via /loops before scraping /metrics.
	rec := httptest.NewRecorder()
	srv.httpSrv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/loops", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("warm-up /loops call failed: %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	srv.httpSrv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from /metrics, got %d", rec.Code)
	}
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if len(body) == 0 {
		t.Fatal("expected non-empty prometheus exposition body")
	}
}
