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

package reactor

import (
	"os/signal"
	"sync"
	"syscall"
)

var ignoreSigPipeOnce sync.Once

// ignoreSigPipe arranges for writes to a closed/reset peer socket to
// surface as an EPIPE return value instead of killing the process, the
// same default muduo's InitSigPipe establishes for every process linking
// against it. It is called once from NewEventLoop.
func ignoreSigPipe() {
	ignoreSigPipeOnce.Do(func() {
		signal.Ignore(syscall.SIGPIPE)
	})
}
