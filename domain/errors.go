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

import "errors"

// Error codes surfaced upward to callers of the search manager / facade
// (spec §6, §7).
var (
	// ErrBindingFailure is the generic error reported to a caller when a
	// filesystem operation backing an offer/stop/find fails.
	ErrBindingFailure = errors.New("binding failure")

	// ErrServiceNotOffered is reported when an offer could not create its
	// flag file, or when stopping targets an identifier that was never (or
	// is no longer) offered. Both errors also match ErrBindingFailure.
	ErrServiceNotOffered = errors.New("service not offered")
)
