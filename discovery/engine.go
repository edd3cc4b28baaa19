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

// Package discovery implements C5 (the event loop) and C6 (the search
// manager): it watches the filesystem for remote offers and withdrawals,
// multiplexes concurrent StartFindService calls onto a small number of
// kernel watches, and owns the local process's own offers.
//
// Engine's lock is never held across a handler invocation (see
// callHandler): a handler that calls back into StartFindService,
// StopFindService or OfferService from within its own invocation simply
// reacquires the lock like any other caller, so it observes the engine as
// re-entrant without Engine needing an actual recursive mutex.
package discovery

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/eclipse-score/lola-discovery/cache"
	"github.com/eclipse-score/lola-discovery/domain"
	"github.com/eclipse-score/lola-discovery/flagfile"
	"github.com/eclipse-score/lola-discovery/pathbuilder"
	"github.com/eclipse-score/lola-discovery/watchregistry"
)

// localOffer is one of this process's own offers: the flag file(s) backing
// it (a B-quality offer keeps two: the B file and its QM-shadow, sharing
// one disambiguator per spec §4.2) plus the disambiguator. shadow is nil
// for a QM offer, or after its QM shadow has been selectively withdrawn.
type localOffer struct {
	handle        domain.HandleType
	primary       *flagfile.FlagFile
	shadow        *flagfile.FlagFile
	disambiguator uint64
}

// Engine is the discovery core for one process: it owns this process's
// offers, the kernel watch state, and the known-instance caches that back
// FindService/StartFindService.
type Engine struct {
	mu sync.Mutex

	flags    *flagfile.Manager
	watcher  kernelWatcher
	registry *watchregistry.Registry

	qmCache *cache.KnownInstances
	bCache  *cache.KnownInstances

	offered map[domain.HandleType]*localOffer

	pid domain.ProcessId

	stop chan struct{}
	wg   sync.WaitGroup
}

// New constructs an Engine and starts its event loop goroutine.
func New(flags *flagfile.Manager, pid domain.ProcessId) (*Engine, error) {
	w, err := newKernelWatcher()
	if err != nil {
		return nil, fmt.Errorf("discovery: %w", err)
	}
	return newWithWatcher(flags, pid, w), nil
}

func newWithWatcher(flags *flagfile.Manager, pid domain.ProcessId, w kernelWatcher) *Engine {
	e := &Engine{
		flags:    flags,
		watcher:  w,
		registry: watchregistry.New(),
		qmCache:  cache.New(),
		bCache:   cache.New(),
		offered:  make(map[domain.HandleType]*localOffer),
		pid:      pid,
		stop:     make(chan struct{}),
	}
	e.wg.Add(1)
	go e.run()
	return e
}

// Close stops the event loop and releases the kernel watch file
// descriptor. Any offers or searches still registered are left exactly as
// they are. Facade.Close stops the facade's searches; it does not withdraw
// offers.
func (e *Engine) Close() error {
	close(e.stop)
	err := e.watcher.Close()
	e.wg.Wait()
	return err
}

func (e *Engine) cacheFor(quality domain.QualityType) *cache.KnownInstances {
	if quality == domain.QualityASILB {
		return e.bCache
	}
	return e.qmCache
}

// searchesForQuality returns every registered search that should be
// notified of a change to (service, instance, quality): the find-any
// search over that service/quality, if any, plus the concrete search for
// that exact instance/quality, if any. Must be called with e.mu held.
func (e *Engine) searchesForQuality(service domain.ServiceId, instance domain.InstanceId, quality domain.QualityType) []*watchregistry.SearchRequest {
	var out []*watchregistry.SearchRequest
	out = append(out, e.registry.SearchesFor(domain.NewFindAnyIdentifier(service, quality))...)
	out = append(out, e.registry.SearchesFor(domain.NewIdentifier(service, instance, quality))...)
	return out
}

// callHandler invokes a search's handler with the current handle snapshot.
// Must be called with e.mu NOT held.
func (e *Engine) callHandler(req *watchregistry.SearchRequest) {
	e.mu.Lock()
	handles := e.cacheFor(req.Identifier.Quality).GetKnownHandles(req.Identifier)
	e.mu.Unlock()

	if req.Handler != nil {
		req.Handler(handles)
	}
}

func (e *Engine) run() {
	defer e.wg.Done()
	for {
		select {
		case <-e.stop:
			return
		case ev, ok := <-e.watcher.Events():
			if !ok {
				return
			}
			e.handleEvent(ev)
		case err, ok := <-e.watcher.Errors():
			if !ok {
				continue
			}
			logrus.WithError(err).Error("discovery: kernel watch error")
		}
	}
}

func (e *Engine) handleEvent(ev watchEvent) {
	e.mu.Lock()
	watch, ok := e.registry.WatchByDescriptor(ev.Wd)
	if !ok {
		e.mu.Unlock()
		return
	}

	if ev.Mask&maskIgnored != 0 {
		e.handleIgnored(watch)
		return
	}

	switch watch.Kind {
	case watchregistry.KindService:
		e.handleServiceEvent(watch, ev)
	case watchregistry.KindInstance:
		e.handleInstanceEvent(watch, ev)
	}
}

// handleIgnored implements the open question in spec §9: an
// instance-level watch going away (its directory was removed) is routine
// cleanup and handled silently; a service-level watch going away means the
// root layout itself was disturbed and is unrecoverable.
// Called with e.mu held; always unlocks before returning.
func (e *Engine) handleIgnored(watch *watchregistry.Watch) {
	if watch.Kind == watchregistry.KindService {
		e.mu.Unlock()
		logrus.Fatalf("discovery: service-level watch on %s was dropped by the kernel", watch.Path)
		return
	}

	e.registry.ReleaseWatch(watch.Descriptor)
	service, instance := watch.Service, watch.Instance
	e.qmCache.Remove(service, &instance)
	e.bCache.Remove(service, &instance)
	notify := dedupeSearches(append(
		e.searchesForQuality(service, instance, domain.QualityQM),
		e.searchesForQuality(service, instance, domain.QualityASILB)...,
	))
	e.mu.Unlock()

	for _, req := range notify {
		e.callHandler(req)
	}
}

// handleServiceEvent reacts to an instance directory appearing or
// disappearing under a watched service directory. Called with e.mu held;
// always unlocks before returning.
func (e *Engine) handleServiceEvent(watch *watchregistry.Watch, ev watchEvent) {
	instance, ok := pathbuilder.ParseInstanceDirName(ev.Name)
	if !ok {
		e.mu.Unlock()
		return
	}
	service := watch.Service

	var notify []*watchregistry.SearchRequest
	switch {
	case ev.Mask&maskCreate != 0:
		notify = e.onInstanceDirCreated(service, instance)
	case ev.Mask&maskDelete != 0:
		notify = e.onInstanceDirRemoved(service, instance)
	}
	e.mu.Unlock()

	for _, req := range notify {
		e.callHandler(req)
	}
}

// onInstanceDirCreated adds a child watch for the new instance directory
// (shared by every find-any search over this service) and crawls it for
// flag files that already exist. Called and returns with e.mu held.
func (e *Engine) onInstanceDirCreated(service domain.ServiceId, instance domain.InstanceId) []*watchregistry.SearchRequest {
	path := pathbuilder.InstanceDir(service, instance)
	wd, err := e.addOrRetainWatch(path, watchregistry.KindInstance, service, instance)
	if err != nil {
		logrus.WithError(err).Warnf("discovery: failed to watch new instance dir %s", path)
		return nil
	}

	for _, req := range e.registry.SearchesFor(domain.NewFindAnyIdentifier(service, domain.QualityQM)) {
		req.ChildWds[instance] = wd
	}
	for _, req := range e.registry.SearchesFor(domain.NewFindAnyIdentifier(service, domain.QualityASILB)) {
		req.ChildWds[instance] = wd
	}

	var notify []*watchregistry.SearchRequest
	for _, quality := range [...]domain.QualityType{domain.QualityQM, domain.QualityASILB} {
		id := domain.NewIdentifier(service, instance, quality)
		if e.flags.Exists(id) && e.cacheFor(quality).Insert(service, &instance) {
			notify = append(notify, e.searchesForQuality(service, instance, quality)...)
		}
	}
	return dedupeSearches(notify)
}

// onInstanceDirRemoved drops any cached knowledge of instance. The
// corresponding child watch is torn down separately when the kernel
// reports it as IN_IGNORED (handleIgnored) -- rmdir of a watched directory
// always produces that event on Linux, so it is not duplicated here.
func (e *Engine) onInstanceDirRemoved(service domain.ServiceId, instance domain.InstanceId) []*watchregistry.SearchRequest {
	var notify []*watchregistry.SearchRequest
	for _, quality := range [...]domain.QualityType{domain.QualityQM, domain.QualityASILB} {
		if e.cacheFor(quality).Remove(service, &instance) {
			notify = append(notify, e.searchesForQuality(service, instance, quality)...)
		}
	}
	return dedupeSearches(notify)
}

// handleInstanceEvent reacts to a flag file appearing or disappearing
// inside an already-watched instance directory. Called with e.mu held;
// always unlocks before returning.
func (e *Engine) handleInstanceEvent(watch *watchregistry.Watch, ev watchEvent) {
	_, quality, _, ok := pathbuilder.ParseFlagFileName(ev.Name)
	if !ok {
		e.mu.Unlock()
		return
	}
	service, instance := watch.Service, watch.Instance

	var notify []*watchregistry.SearchRequest
	switch {
	case ev.Mask&maskCreate != 0:
		if e.cacheFor(quality).Insert(service, &instance) {
			notify = e.searchesForQuality(service, instance, quality)
		}
	case ev.Mask&maskDelete != 0:
		if e.cacheFor(quality).Remove(service, &instance) {
			notify = e.searchesForQuality(service, instance, quality)
		}
	}
	e.mu.Unlock()

	for _, req := range dedupeSearches(notify) {
		e.callHandler(req)
	}
}

// addOrRetainWatch adds a kernel watch on path, or retains the existing one
// if some other search already watches it. Must be called with e.mu held.
func (e *Engine) addOrRetainWatch(path string, kind watchregistry.WatchKind, service domain.ServiceId, instance domain.InstanceId) (watchregistry.WatchDescriptor, error) {
	if w, ok := e.registry.RetainWatch(path); ok {
		return w.Descriptor, nil
	}
	id, err := e.watcher.AddWatch(path)
	if err != nil {
		return 0, err
	}
	w := e.registry.TrackWatch(&watchregistry.Watch{
		Descriptor: watchregistry.WatchDescriptor(id),
		Path:       path,
		Kind:       kind,
		Service:    service,
		Instance:   instance,
	})
	return w.Descriptor, nil
}

// releaseWatch releases a kernel watch, removing it once its refcount
// reaches zero. Must be called with e.mu held.
func (e *Engine) releaseWatch(wd watchregistry.WatchDescriptor) {
	if e.registry.ReleaseWatch(wd) {
		if err := e.watcher.RemoveWatch(watchID(wd)); err != nil {
			logrus.WithError(err).Warn("discovery: failed to remove kernel watch")
		}
	}
}

func dedupeSearches(in []*watchregistry.SearchRequest) []*watchregistry.SearchRequest {
	if len(in) < 2 {
		return in
	}
	seen := make(map[domain.FindServiceHandle]struct{}, len(in))
	out := in[:0]
	for _, req := range in {
		if _, ok := seen[req.Handle]; ok {
			continue
		}
		seen[req.Handle] = struct{}{}
		out = append(out, req)
	}
	return out
}
