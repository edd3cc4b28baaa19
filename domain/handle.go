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

package domain

import "sync/atomic"

// FindServiceHandle is an opaque, monotonically increasing token uniquely
// identifying an active or cancelled search. Uniqueness is process-wide and
// handles are never reused within a process lifetime.
type FindServiceHandle uint64

var handleCounter uint64

// NewFindServiceHandle hands out the next process-wide unique handle.
func NewFindServiceHandle() FindServiceHandle {
	return FindServiceHandle(atomic.AddUint64(&handleCounter, 1))
}
