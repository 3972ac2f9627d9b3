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

import "os"

// PollerBackendEnv names the environment variable that picks a Poller
// backend, per spec §6 and §9: the scalable kernel backend (epoll on
// Linux, kqueue on BSD/Darwin) is the default; setting it to "poll"
// forces the portable level-triggered poll(2) backend instead. Any other
// value (including "auto", "epoll", "kqueue") is treated as "use the
// platform default".
const PollerBackendEnv = "REACTOR_POLLER"

func usePollBackend() bool {
	return os.Getenv(PollerBackendEnv) == "poll"
}
