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
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loopkit/reactor/logging"
	"github.com/loopkit/reactor/reactor"
)

// ReactorStats mirrors the teacher's ProxyStats pattern: a named bundle
// of prometheus vectors constructed once and registered with the
// default registry. The per-loop gauges are set by Refresh (which the
// admin /loops handler calls) rather than pushed on every loop
// iteration; the dropped-log-buffers gauge is a GaugeFunc read on
// every scrape.
type ReactorStats struct {
	LoopQueueSize *prometheus.GaugeVec
	LoopIteration *prometheus.GaugeVec
	DroppedLogBuffers prometheus.GaugeFunc
}

// NewReactorStats registers the gauges, so the hot loop threads never
// have to push metrics themselves. The per-loop gauges stay unset until
// Refresh is first called; pool is not read here.
func NewReactorStats(namespace string, pool *reactor.LoopPool) *ReactorStats {
	s := &ReactorStats{
		LoopQueueSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "loop_queue_size",
			Help:      "number of pending functors queued on a loop",
		}, []string{"loop"}),
		LoopIteration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "loop_iteration_total",
			Help:      "number of poll iterations a loop has completed",
		}, []string{"loop"}),
	}
	s.DroppedLogBuffers = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "log_dropped_buffers_total",
		Help:      "filled log buffers discarded by the async log pipeline's backpressure path",
	}, func() float64 { return float64(logging.DroppedBuffers()) })

	prometheus.MustRegister(s.LoopQueueSize, s.LoopIteration, s.DroppedLogBuffers)
	return s
}

// Refresh pulls current queue/iteration counts for every loop baseLoop
// knows about. Must be called from baseLoop's own thread, since
// LoopPool's accessors are loop-affine.
func (s *ReactorStats) Refresh(name string, loops []*reactor.EventLoop) {
	for i, l := range loops {
		label := labelFor(name, i)
		s.LoopQueueSize.WithLabelValues(label).Set(float64(l.QueueSize()))
		s.LoopIteration.WithLabelValues(label).Set(float64(l.Iteration()))
	}
}

func labelFor(name string, index int) string {
	return name + "-" + strconv.Itoa(index)
}
