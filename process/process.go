//
// Copyright 2019-2020 Nestybox, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

// Package process provides the liveness check the method-resource map and
// the daemon's pid-file check use to tell a live process from a crashed
// one.
package process

import (
	"github.com/eclipse-score/lola-discovery/domain"
	"golang.org/x/sys/unix"
)

// IsAlive reports whether a process with the given pid currently exists.
// It sends signal 0, which performs the existence/permission checks
// without actually delivering a signal (kill(2)).
func IsAlive(pid domain.ProcessId) bool {
	if pid == 0 {
		return false
	}
	err := unix.Kill(int(pid), 0)
	if err == nil {
		return true
	}
	// EPERM means the process exists but we lack permission to signal it;
	// still alive from our point of view.
	return err == unix.EPERM
}
