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

// Package cache implements the known-instances cache (spec §4.3): an
// in-memory map from ServiceId to the set of InstanceIds currently
// observed via flag-file existence, derived strictly from filesystem
// observations and exclusively owned by the discovery event loop.
package cache

import (
	"github.com/eclipse-score/lola-discovery/domain"
)

// KnownInstances is not safe for concurrent use; callers (the event loop)
// serialize access the same way state/containerDB.go's idTable is only
// ever touched under its owning service's lock.
type KnownInstances struct {
	services map[domain.ServiceId]map[domain.InstanceId]struct{}
}

func New() *KnownInstances {
	return &KnownInstances{
		services: make(map[domain.ServiceId]map[domain.InstanceId]struct{}),
	}
}

// Insert records that an instance exists. Inserting an identifier that
// carries no InstanceId (a find-any identifier) is a no-op and returns
// false, per spec §4.3.
func (c *KnownInstances) Insert(service domain.ServiceId, instance *domain.InstanceId) bool {
	if instance == nil {
		return false
	}
	set, ok := c.services[service]
	if !ok {
		set = make(map[domain.InstanceId]struct{})
		c.services[service] = set
	}
	if _, exists := set[*instance]; exists {
		return false
	}
	set[*instance] = struct{}{}
	return true
}

// Remove deletes a previously observed instance. Returns false if it was
// not present (or the identifier carries no InstanceId).
func (c *KnownInstances) Remove(service domain.ServiceId, instance *domain.InstanceId) bool {
	if instance == nil {
		return false
	}
	set, ok := c.services[service]
	if !ok {
		return false
	}
	if _, exists := set[*instance]; !exists {
		return false
	}
	delete(set, *instance)
	if len(set) == 0 {
		delete(c.services, service)
	}
	return true
}

// GetKnownHandles returns the handles matching query: all instances of
// query.ServiceID if query is find-any, or the single matching handle (if
// observed) otherwise.
func (c *KnownInstances) GetKnownHandles(query domain.EnrichedInstanceIdentifier) []domain.HandleType {
	set, ok := c.services[query.ServiceID]
	if !ok {
		return nil
	}

	if query.IsFindAny() {
		handles := make([]domain.HandleType, 0, len(set))
		for instance := range set {
			handles = append(handles, domain.NewHandle(query.ServiceID, instance, query.Quality))
		}
		return handles
	}

	if _, exists := set[*query.InstanceID]; !exists {
		return nil
	}
	return []domain.HandleType{domain.NewHandle(query.ServiceID, *query.InstanceID, query.Quality)}
}

// Merge unions other's per-service instance sets into c. Where a ServiceId
// exists in both, other's entries are copied into c's existing inner set;
// where only other has it, c adopts other's inner map itself (the two
// caches then share it), so no new inner map is allocated. other is not
// emptied.
func (c *KnownInstances) Merge(other *KnownInstances) {
	for service, otherSet := range other.services {
		set, ok := c.services[service]
		if !ok {
			c.services[service] = otherSet
			continue
		}
		for instance := range otherSet {
			set[instance] = struct{}{}
		}
	}
}
