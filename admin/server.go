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

// Package admin is the reactor's introspection HTTP surface: pprof
// profiles, prometheus metrics, and a small set of JSON endpoints
// describing the live loop pool, wired the same way the teacher wires
// its gin server in web/init.go.
package admin

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/loopkit/reactor/logging"
	"github.com/loopkit/reactor/reactor"
)

// Server hosts the reactor's admin HTTP surface on a single port.
type Server struct {
	pool     *reactor.LoopPool
	baseLoop *reactor.EventLoop
	stats    *ReactorStats

	httpSrv *http.Server
}

// NewServer builds the gin engine and registers pprof, /metrics and the
// loop-pool JSON routes. baseLoop must be the same EventLoop the pool
// was constructed with, since LoopPool's accessors are loop-affine and
// the admin HTTP handlers run on neither of the reactor's own threads.
// statsNamespace is used as the prometheus metric namespace, matching
// the teacher's NewProxyStats(namespace) constructor shape.
func NewServer(addr string, pool *reactor.LoopPool, baseLoop *reactor.EventLoop, statsNamespace string) *Server {
	gin.SetMode(gin.ReleaseMode)
	ginSrv := gin.New()
	ginSrv.Use(gin.Recovery())

	s := &Server{
		pool:     pool,
		baseLoop: baseLoop,
		stats:    NewReactorStats(statsNamespace, pool),
	}

	pprof.Register(ginSrv)
	ginSrv.GET("/metrics", gin.WrapH(promhttp.Handler()))
	ginSrv.GET("/loops", s.handleLoops)
	ginSrv.GET("/version", s.handleVersion)

	s.httpSrv = &http.Server{Handler: ginSrv, Addr: addr}
	return s
}

// Start runs the HTTP server in a background goroutine, logging and
// returning if ListenAndServe fails for any reason other than a clean
// Shutdown.
func (s *Server) Start() {
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Errorf("admin: failed to start http server: %v", err)
		}
	}()
}

// Stop gracefully shuts the admin server down within timeout.
func (s *Server) Stop(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.httpSrv.Shutdown(ctx)
}

type loopInfo struct {
	Index     int    `json:"index"`
	Iteration uint64 `json:"iteration"`
	QueueSize int    `json:"queue_size"`
}

// handleLoops hops onto baseLoop via RunInLoop since LoopPool's
// GetAllLoops is loop-affine; the admin HTTP handler runs on gin's own
// goroutine, never on one of the reactor's threads. The cost is at
// most one wakeup round trip.
func (s *Server) handleLoops(c *gin.Context) {
	result := make(chan []loopInfo, 1)
	s.baseLoop.RunInLoop(func() {
		loops := s.pool.GetAllLoops()
		out := make([]loopInfo, len(loops))
		for i, l := range loops {
			out[i] = loopInfo{Index: i, Iteration: l.Iteration(), QueueSize: l.QueueSize()}
		}
		s.stats.Refresh("loop", loops)
		result <- out
	})
	c.JSON(http.StatusOK, <-result)
}

func (s *Server) handleVersion(c *gin.Context) {
	c.String(http.StatusOK, fmt.Sprintf("reactor admin, loops=%d, dropped_log_buffers=%d",
		s.pool.Size(), logging.DroppedBuffers()))
}
