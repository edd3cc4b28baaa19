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

// SearchHandler is invoked by the event loop whenever the set of known
// handles matching a search's identifier changes. The event loop releases
// its lock before calling a handler, so a handler is free to call back into
// StartFindService/StopFindService/OfferService for the same or another
// search from within its own invocation.
type SearchHandler func(handles []HandleType)
