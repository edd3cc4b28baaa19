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

package discovery

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/eclipse-score/lola-discovery/domain"
	"github.com/eclipse-score/lola-discovery/pathbuilder"
	"github.com/eclipse-score/lola-discovery/watchregistry"
)

// FindService performs a one-shot crawl of the filesystem for identifier
// and returns the handles currently observed, without registering a
// persistent watch.
func (e *Engine) FindService(identifier domain.EnrichedInstanceIdentifier) ([]domain.HandleType, error) {
	if !identifier.Valid() {
		// Invalid quality only ever originates from a misconfigured
		// deployment (spec §4.6/§7 kind 1) -- unrecoverable.
		logrus.Fatalf("discovery: invalid quality for %v", identifier)
	}

	if !identifier.IsFindAny() {
		if e.flags.Exists(identifier) {
			return []domain.HandleType{domain.NewHandle(identifier.ServiceID, *identifier.InstanceID, identifier.Quality)}, nil
		}
		return nil, nil
	}

	instances, err := e.crawlServiceDir(identifier.ServiceID)
	if err != nil {
		return nil, err
	}
	var handles []domain.HandleType
	for _, instance := range instances {
		id := domain.NewIdentifier(identifier.ServiceID, instance, identifier.Quality)
		if e.flags.Exists(id) {
			handles = append(handles, domain.NewHandle(identifier.ServiceID, instance, identifier.Quality))
		}
	}
	return handles, nil
}

// crawlServiceDir lists the instance directories currently present under a
// service directory. A missing service directory is not an error -- it
// just means no one has offered that service yet. Any other read failure
// is a binding failure.
func (e *Engine) crawlServiceDir(service domain.ServiceId) ([]domain.InstanceId, error) {
	dirNode := e.flags.IOService().NewIOnode("service", pathbuilder.ServiceDir(service), 0755)
	entries, err := dirNode.ReadDirAll()
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: read service dir: %v", domain.ErrBindingFailure, err)
	}
	var instances []domain.InstanceId
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if instance, ok := pathbuilder.ParseInstanceDirName(entry.Name()); ok {
			instances = append(instances, instance)
		}
	}
	return instances, nil
}

// StartFindService registers a persistent search: identifier's current
// matches are delivered to handler once immediately, and handler is
// invoked again every time the matching handle set changes, until
// StopFindService is called (spec §4.4/§4.5).
func (e *Engine) StartFindService(identifier domain.EnrichedInstanceIdentifier, handler domain.SearchHandler) (domain.FindServiceHandle, error) {
	if !identifier.Valid() {
		// Invalid quality only ever originates from a misconfigured
		// deployment (spec §4.6/§7 kind 1) -- unrecoverable.
		logrus.Fatalf("discovery: invalid quality for %v", identifier)
	}

	req := &watchregistry.SearchRequest{
		Handle:     domain.NewFindServiceHandle(),
		Identifier: identifier,
		Handler:    handler,
	}

	e.mu.Lock()
	if identifier.IsFindAny() {
		req.ChildWds = make(map[domain.InstanceId]watchregistry.WatchDescriptor)
		if err := e.startFindAny(req); err != nil {
			e.mu.Unlock()
			return 0, err
		}
	} else {
		if err := e.startFindConcrete(req); err != nil {
			e.mu.Unlock()
			return 0, err
		}
	}
	e.registry.RegisterSearch(req)
	e.mu.Unlock()

	e.callHandler(req)
	return req.Handle, nil
}

// startFindAny watches the service directory and every currently-present
// instance directory under it, priming the cache from a crawl. Must be
// called with e.mu held; rolls back any watch it created on error.
func (e *Engine) startFindAny(req *watchregistry.SearchRequest) error {
	service := req.Identifier.ServiceID

	parentWd, err := e.addOrRetainWatch(pathbuilder.ServiceDir(service), watchregistry.KindService, service, 0)
	if err != nil {
		return fmt.Errorf("%w: watch service dir: %v", domain.ErrBindingFailure, err)
	}
	req.ParentWd = parentWd

	instances, _ := e.crawlServiceDir(service)
	for _, instance := range instances {
		path := pathbuilder.InstanceDir(service, instance)
		wd, err := e.addOrRetainWatch(path, watchregistry.KindInstance, service, instance)
		if err != nil {
			logrus.WithError(err).Warnf("discovery: failed to watch existing instance dir %s", path)
			continue
		}
		req.ChildWds[instance] = wd

		id := domain.NewIdentifier(service, instance, req.Identifier.Quality)
		if e.flags.Exists(id) {
			e.cacheFor(req.Identifier.Quality).Insert(service, &instance)
		}
	}
	return nil
}

// startFindConcrete watches the single instance directory identifier
// names, priming the cache if a matching flag file already exists. Must be
// called with e.mu held.
func (e *Engine) startFindConcrete(req *watchregistry.SearchRequest) error {
	service, instance := req.Identifier.ServiceID, *req.Identifier.InstanceID
	path := pathbuilder.InstanceDir(service, instance)

	wd, err := e.addOrRetainWatch(path, watchregistry.KindInstance, service, instance)
	if err != nil {
		return fmt.Errorf("%w: watch instance dir: %v", domain.ErrBindingFailure, err)
	}
	req.ParentWd = wd

	if e.flags.Exists(req.Identifier) {
		e.cacheFor(req.Identifier.Quality).Insert(service, &instance)
	}
	return nil
}

// StopFindService unregisters a search and releases its watches. Idempotent
// per spec §4.6/§7: a second call, or a call with an unknown handle,
// returns success and is a no-op.
func (e *Engine) StopFindService(handle domain.FindServiceHandle) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	req, ok := e.registry.UnregisterSearch(handle)
	if !ok {
		return nil
	}

	e.releaseWatch(req.ParentWd)
	for _, wd := range req.ChildWds {
		e.releaseWatch(wd)
	}
	return nil
}
