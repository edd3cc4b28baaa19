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

// Package watchregistry is the bookkeeping side of C4: it tracks which
// kernel watch descriptor covers which directory, how many concurrent
// searches multiplex onto that one watch, and which SearchRequest owns a
// given FindServiceHandle. It never calls into the kernel watch API itself
// -- that belongs to the event loop, which owns the single watch file
// descriptor (spec §4.4/§4.5).
package watchregistry

import (
	"sync"

	"github.com/eclipse-score/lola-discovery/domain"
)

// WatchDescriptor mirrors the kernel's inotify watch descriptor type.
type WatchDescriptor int32

// WatchKind tells the event loop how to interpret a create/delete event
// observed on a watch: a service-level watch reports instance directories
// coming and going, an instance-level one reports flag files coming and
// going.
type WatchKind int

const (
	KindService WatchKind = iota
	KindInstance
)

// Watch is one kernel-level watch on a directory, shared by every search
// whose identifier resolves to that directory.
type Watch struct {
	Descriptor WatchDescriptor
	Path       string
	RefCount   int
	Kind       WatchKind
	Service    domain.ServiceId
	Instance   domain.InstanceId // meaningful only when Kind == KindInstance
}

// SearchRequest is one StartFindService registration: a handle, the
// identifier it searches for, the handler to invoke on change, the watch
// covering its parent directory, and -- for find-any searches -- the set
// of per-instance child watches opened for instances discovered so far.
type SearchRequest struct {
	Handle      domain.FindServiceHandle
	Identifier  domain.EnrichedInstanceIdentifier
	Handler     domain.SearchHandler
	ParentWd    WatchDescriptor
	ChildWds    map[domain.InstanceId]WatchDescriptor
}

// Registry is the three-map structure C4 names: descriptor→Watch,
// path→descriptor (for idempotent watch reuse), and handle→SearchRequest,
// plus a reverse identifier→handle-set index so the event loop can fan an
// observed change out to every search sharing that identifier.
type Registry struct {
	mu sync.Mutex

	watchesByWd   map[WatchDescriptor]*Watch
	watchesByPath map[string]WatchDescriptor

	searches     map[domain.FindServiceHandle]*SearchRequest
	byIdentifier map[domain.EnrichedInstanceIdentifier]map[domain.FindServiceHandle]struct{}
}

func New() *Registry {
	return &Registry{
		watchesByWd:   make(map[WatchDescriptor]*Watch),
		watchesByPath: make(map[string]WatchDescriptor),
		searches:      make(map[domain.FindServiceHandle]*SearchRequest),
		byIdentifier:  make(map[domain.EnrichedInstanceIdentifier]map[domain.FindServiceHandle]struct{}),
	}
}

// LookupWatch returns the existing watch covering path, if any.
func (r *Registry) LookupWatch(path string) (*Watch, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	wd, ok := r.watchesByPath[path]
	if !ok {
		return nil, false
	}
	return r.watchesByWd[wd], true
}

// TrackWatch records a newly created kernel watch with refcount 1. The
// caller must have already created the kernel watch itself and populated
// w's Descriptor, Path, Kind and Service/Instance fields; RefCount is
// always reset to 1.
func (r *Registry) TrackWatch(w *Watch) *Watch {
	r.mu.Lock()
	defer r.mu.Unlock()
	w.RefCount = 1
	r.watchesByWd[w.Descriptor] = w
	r.watchesByPath[w.Path] = w.Descriptor
	return w
}

// RetainWatch increments the refcount of an existing watch on path. Returns
// false if no watch covers path yet -- the caller must create one and call
// TrackWatch instead.
func (r *Registry) RetainWatch(path string) (*Watch, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	wd, ok := r.watchesByPath[path]
	if !ok {
		return nil, false
	}
	w := r.watchesByWd[wd]
	w.RefCount++
	return w, true
}

// ReleaseWatch decrements the refcount of the watch identified by wd and
// removes it from the registry once it reaches zero. The bool return
// reports whether the watch was removed -- the caller must then tear down
// the underlying kernel watch.
func (r *Registry) ReleaseWatch(wd WatchDescriptor) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.watchesByWd[wd]
	if !ok {
		return false
	}
	w.RefCount--
	if w.RefCount > 0 {
		return false
	}
	delete(r.watchesByWd, wd)
	delete(r.watchesByPath, w.Path)
	return true
}

// WatchByDescriptor looks up a watch by its kernel descriptor -- the event
// loop uses this to resolve an inotify event back to the path it concerns.
func (r *Registry) WatchByDescriptor(wd WatchDescriptor) (*Watch, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.watchesByWd[wd]
	return w, ok
}

// RegisterSearch records a new search and indexes it by identifier.
func (r *Registry) RegisterSearch(req *SearchRequest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.searches[req.Handle] = req
	set, ok := r.byIdentifier[req.Identifier]
	if !ok {
		set = make(map[domain.FindServiceHandle]struct{})
		r.byIdentifier[req.Identifier] = set
	}
	set[req.Handle] = struct{}{}
}

// UnregisterSearch removes a search by handle, returning it so the caller
// can release its watches.
func (r *Registry) UnregisterSearch(handle domain.FindServiceHandle) (*SearchRequest, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.searches[handle]
	if !ok {
		return nil, false
	}
	delete(r.searches, handle)
	if set, ok := r.byIdentifier[req.Identifier]; ok {
		delete(set, handle)
		if len(set) == 0 {
			delete(r.byIdentifier, req.Identifier)
		}
	}
	return req, true
}

// Search returns the SearchRequest registered under handle.
func (r *Registry) Search(handle domain.FindServiceHandle) (*SearchRequest, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.searches[handle]
	return req, ok
}

// SearchesFor returns every search sharing identifier, the fan-out set the
// event loop notifies when a watched directory changes.
func (r *Registry) SearchesFor(identifier domain.EnrichedInstanceIdentifier) []*SearchRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	// Map keys compare InstanceID by pointer, so identifiers are matched by
	// value here rather than by a direct map lookup.
	var reqs []*SearchRequest
	for key, set := range r.byIdentifier {
		if key.ServiceID != identifier.ServiceID || key.Quality != identifier.Quality ||
			key.IsFindAny() != identifier.IsFindAny() ||
			(!key.IsFindAny() && *key.InstanceID != *identifier.InstanceID) {
			continue
		}
		for handle := range set {
			reqs = append(reqs, r.searches[handle])
		}
	}
	return reqs
}

// Len returns the number of currently registered searches, used by tests
// to confirm every search was stopped.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.searches)
}
