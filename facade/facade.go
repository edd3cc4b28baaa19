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

// Package facade implements C9, the service-discovery facade: the public
// surface a proxy/skeleton binding sees. It resolves the configured
// InstanceSpecifier for a deployment into one or more concrete
// EnrichedInstanceIdentifier leaves (a specifier can name several
// redundant instances, e.g. QM and ASIL-B siblings, or several physical
// instances behind one logical name) and dispatches each leaf to the
// underlying discovery.Engine.
package facade

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/eclipse-score/lola-discovery/discovery"
	"github.com/eclipse-score/lola-discovery/domain"
)

// InstanceSpecifier is the logical, deployment-configured name a binding
// asks for -- e.g. "MyService/MyPort" -- as opposed to the concrete
// ServiceId/InstanceId/quality triples it resolves to.
type InstanceSpecifier string

// Resolver maps an InstanceSpecifier to the concrete identifiers it names.
// The facade's only collaborator requirement; config.GlobalConfig provides
// the production implementation.
type Resolver interface {
	Resolve(specifier InstanceSpecifier) ([]domain.EnrichedInstanceIdentifier, error)
}

// SearchHandle identifies one Facade.StartFindService registration, which
// may fan out to several underlying discovery.Engine searches.
type SearchHandle uint64

type searchState struct {
	mu      sync.Mutex
	perLeaf map[int][]domain.HandleType // most recent snapshot per leaf index
	handler domain.SearchHandler
	leaves  []domain.FindServiceHandle
}

// Facade is the per-process service-discovery entrypoint.
type Facade struct {
	engine   *discovery.Engine
	resolver Resolver

	mu      sync.Mutex
	handles map[SearchHandle]*searchState
	nextID  uint64
}

func New(engine *discovery.Engine, resolver Resolver) *Facade {
	return &Facade{
		engine:   engine,
		resolver: resolver,
		handles:  make(map[SearchHandle]*searchState),
	}
}

func (f *Facade) nextHandle() SearchHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	return SearchHandle(f.nextID)
}

// OfferService resolves specifier and offers every leaf it names. If any
// leaf fails to bind, every leaf already offered is withdrawn before the
// error is returned (spec §4.9's unwind-on-failure contract, applied here
// to offers as well as searches).
func (f *Facade) OfferService(specifier InstanceSpecifier) ([]domain.HandleType, error) {
	leaves, err := f.resolver.Resolve(specifier)
	if err != nil {
		return nil, fmt.Errorf("facade: resolve %q: %w", specifier, err)
	}

	var offered []domain.HandleType
	for _, leaf := range leaves {
		handle, err := f.engine.OfferService(leaf)
		if err != nil {
			for _, h := range offered {
				_ = f.engine.StopOfferService(h, domain.SelectorBoth)
			}
			return nil, fmt.Errorf("facade: offer %v: %w", leaf, err)
		}
		offered = append(offered, handle)
	}
	return offered, nil
}

// StopOfferService withdraws every handle OfferService returned, removing
// both flag files each backs.
func (f *Facade) StopOfferService(handles []domain.HandleType) error {
	var firstErr error
	for _, h := range handles {
		if err := f.engine.StopOfferService(h, domain.SelectorBoth); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// FindService resolves specifier and performs a one-shot lookup across
// every leaf, returning the union of handles from leaves that succeeded.
// A leaf lookup failing does not fail the whole call -- spec's
// union-on-partial-success contract -- unless every leaf fails, in which
// case the last error is returned.
func (f *Facade) FindService(specifier InstanceSpecifier) ([]domain.HandleType, error) {
	leaves, err := f.resolver.Resolve(specifier)
	if err != nil {
		return nil, fmt.Errorf("facade: resolve %q: %w", specifier, err)
	}

	var union []domain.HandleType
	var lastErr error
	succeeded := 0
	for _, leaf := range leaves {
		handles, err := f.engine.FindService(leaf)
		if err != nil {
			lastErr = err
			logrus.WithError(err).Warnf("facade: FindService leaf %v failed", leaf)
			continue
		}
		succeeded++
		union = append(union, handles...)
	}
	if succeeded == 0 && lastErr != nil {
		return nil, fmt.Errorf("facade: all leaves of %q failed: %w", specifier, lastErr)
	}
	return union, nil
}

// StartFindService resolves specifier and registers a persistent search on
// every leaf. The caller's handler is invoked with the union of every
// leaf's most recent snapshot whenever any leaf's observed set changes. If
// any leaf fails to register, every leaf already registered is stopped
// before the error is returned (spec §4.9).
func (f *Facade) StartFindService(specifier InstanceSpecifier, handler domain.SearchHandler) (SearchHandle, error) {
	leaves, err := f.resolver.Resolve(specifier)
	if err != nil {
		return 0, fmt.Errorf("facade: resolve %q: %w", specifier, err)
	}

	state := &searchState{
		perLeaf: make(map[int][]domain.HandleType),
		handler: handler,
	}

	for i, leaf := range leaves {
		idx := i
		leafHandler := func(handles []domain.HandleType) {
			state.mu.Lock()
			state.perLeaf[idx] = handles
			union := unionSnapshots(state.perLeaf)
			h := state.handler
			state.mu.Unlock()
			if h != nil {
				h(union)
			}
		}

		leafHandle, err := f.engine.StartFindService(leaf, leafHandler)
		if err != nil {
			for _, lh := range state.leaves {
				_ = f.engine.StopFindService(lh)
			}
			return 0, fmt.Errorf("facade: start find %v: %w", leaf, err)
		}
		state.leaves = append(state.leaves, leafHandle)
	}

	handle := f.nextHandle()
	f.mu.Lock()
	f.handles[handle] = state
	f.mu.Unlock()
	return handle, nil
}

// StopFindService stops every leaf search registered under handle.
// Idempotent per spec §4.6/§7: a second call, or a call with an unknown
// handle, returns success and is a no-op.
func (f *Facade) StopFindService(handle SearchHandle) error {
	f.mu.Lock()
	state, ok := f.handles[handle]
	if ok {
		delete(f.handles, handle)
	}
	f.mu.Unlock()

	if !ok {
		return nil
	}

	var firstErr error
	for _, lh := range state.leaves {
		if err := f.engine.StopFindService(lh); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close stops every still-registered search -- a binding that is torn down
// without explicitly calling StopFindService on each of its searches must
// not leak kernel watches (spec §4.6).
func (f *Facade) Close() error {
	f.mu.Lock()
	handles := make([]SearchHandle, 0, len(f.handles))
	for h := range f.handles {
		handles = append(handles, h)
	}
	f.mu.Unlock()

	var firstErr error
	for _, h := range handles {
		if err := f.StopFindService(h); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func unionSnapshots(perLeaf map[int][]domain.HandleType) []domain.HandleType {
	var out []domain.HandleType
	for _, handles := range perLeaf {
		out = append(out, handles...)
	}
	return out
}
