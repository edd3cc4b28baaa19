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

// Package methodmap implements C7, the auxiliary method-resource map: a
// registry of the shared-memory regions backing in-flight method calls,
// keyed by the ApplicationId that owns them, with crash recovery -- an
// ApplicationId re-registering under a new ProcessId evicts every region
// its previous (necessarily crashed) owner left behind.
package methodmap

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/eclipse-score/lola-discovery/domain"
	"github.com/eclipse-score/lola-discovery/process"
)

// RegionId distinguishes the resources a single ProcessId owns under one
// ApplicationId (e.g. successive method-call regions it has registered).
type RegionId uint32

// Resource is the shared-memory handle a registered region backs. The map
// only tracks its presence and reference count; the resource's own shared
// reference semantics (a holder keeps functioning even after the map entry
// that registered it is evicted) are the caller's responsibility, per
// spec §9 -- this map never calls into it.
type Resource interface{}

type region struct {
	resource Resource
	refCount int32
}

type owner struct {
	pid     domain.ProcessId
	regions map[RegionId]*region
}

// Map is the method-resource map. Safe for concurrent use.
type Map struct {
	mu    sync.Mutex
	byApp map[domain.ApplicationId]*owner
}

func New() *Map {
	return &Map{byApp: make(map[domain.ApplicationId]*owner)}
}

// Contains reports whether region id is currently registered under app to
// an owner whose ProcessId equals pid (spec §4.7).
func (m *Map) Contains(app domain.ApplicationId, pid domain.ProcessId, id RegionId) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.containsLocked(app, pid, id)
}

func (m *Map) containsLocked(app domain.ApplicationId, pid domain.ProcessId, id RegionId) bool {
	o, ok := m.byApp[app]
	if !ok || o.pid != pid {
		return false
	}
	_, ok = o.regions[id]
	return ok
}

// InsertAndCleanUpOldRegions registers resource as region id, owned by pid,
// under app. Precondition (spec §4.7): Contains(app, pid, id) must be false
// -- re-registering a region the caller already holds under the same
// (ApplicationId, ProcessId) is a caller bug, not a runtime condition this
// map tolerates, and terminates the process.
//
// If app was previously owned by a different pid, every region that prior
// owner held is evicted first -- the
// only way an ApplicationId changes owning ProcessId is that the previous
// owner crashed and a new instance of the application started. A prior
// owner found still alive is logged -- it indicates two live processes
// claiming the same ApplicationId, which this map cannot itself resolve --
// but the new registration proceeds regardless, since the map's job is
// bookkeeping, not access control.
func (m *Map) InsertAndCleanUpOldRegions(app domain.ApplicationId, pid domain.ProcessId, id RegionId, resource Resource) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.containsLocked(app, pid, id) {
		logrus.Fatalf("methodmap: insertAndCleanUpOldRegions precondition violated: region %d already registered for application %d under pid %d", id, app, pid)
	}

	o, ok := m.byApp[app]
	if ok && o.pid != pid {
		if process.IsAlive(o.pid) {
			logrus.Warnf("methodmap: application %d re-registered under pid %d while previous owner pid %d is still alive", app, pid, o.pid)
		}
		ok = false
	}
	if !ok {
		o = &owner{pid: pid, regions: make(map[RegionId]*region)}
		m.byApp[app] = o
	}

	o.regions[id] = &region{resource: resource, refCount: 1}
}

// Release decrements the reference count of region id under app, removing
// it once it reaches zero. Returns false if app/id was not registered.
func (m *Map) Release(app domain.ApplicationId, id RegionId) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.byApp[app]
	if !ok {
		return false
	}
	r, ok := o.regions[id]
	if !ok {
		return false
	}
	r.refCount--
	if r.refCount > 0 {
		return true
	}
	delete(o.regions, id)
	if len(o.regions) == 0 {
		delete(m.byApp, app)
	}
	return true
}

// Clear removes every region registered under app, regardless of owner.
// Used when an application withdraws explicitly rather than crashing.
func (m *Map) Clear(app domain.ApplicationId) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byApp, app)
}
