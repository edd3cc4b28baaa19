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

import "fmt"

// EnrichedInstanceIdentifier names a ServiceId, an optional InstanceId (nil
// means "find-any", legal only for searches and configuration lookups) and
// the quality level an offer/search operates at.
type EnrichedInstanceIdentifier struct {
	ServiceID  ServiceId
	InstanceID *InstanceId
	Quality    QualityType
}

// NewFindAnyIdentifier builds an identifier with no concrete InstanceId.
func NewFindAnyIdentifier(service ServiceId, quality QualityType) EnrichedInstanceIdentifier {
	return EnrichedInstanceIdentifier{ServiceID: service, Quality: quality}
}

// NewIdentifier builds an identifier naming a concrete instance.
func NewIdentifier(service ServiceId, instance InstanceId, quality QualityType) EnrichedInstanceIdentifier {
	return EnrichedInstanceIdentifier{ServiceID: service, InstanceID: &instance, Quality: quality}
}

// IsFindAny reports whether this identifier carries no concrete InstanceId.
func (e EnrichedInstanceIdentifier) IsFindAny() bool {
	return e.InstanceID == nil
}

// Valid reports whether the identifier satisfies §3's invariant: the
// quality must be QM or B.
func (e EnrichedInstanceIdentifier) Valid() bool {
	return e.Quality == QualityQM || e.Quality == QualityASILB
}

func (e EnrichedInstanceIdentifier) String() string {
	if e.IsFindAny() {
		return fmt.Sprintf("service=%d instance=* quality=%s", e.ServiceID, e.Quality)
	}
	return fmt.Sprintf("service=%d instance=%d quality=%s", e.ServiceID, *e.InstanceID, e.Quality)
}

// WithInstance returns a copy of e naming a concrete InstanceId, leaving e
// untouched, e.g. to turn a find-any EnrichedInstanceIdentifier into the
// identifier of one watched instance directory.
func (e EnrichedInstanceIdentifier) WithInstance(instance InstanceId) EnrichedInstanceIdentifier {
	e.InstanceID = &instance
	return e
}

// HandleType is an EnrichedInstanceIdentifier with a resolved InstanceId.
// It is hashable and totally ordered, and is only ever constructed by the
// discovery core (never by a caller).
type HandleType struct {
	ServiceID  ServiceId
	InstanceID InstanceId
	Quality    QualityType
}

// NewHandle constructs a HandleType. Exported for use by the discovery
// engine packages that resolve a concrete instance from a cache/crawl.
func NewHandle(service ServiceId, instance InstanceId, quality QualityType) HandleType {
	return HandleType{ServiceID: service, InstanceID: instance, Quality: quality}
}

func (h HandleType) String() string {
	return fmt.Sprintf("service=%d instance=%d quality=%s", h.ServiceID, h.InstanceID, h.Quality)
}

// Less orders handles by ServiceId, then InstanceId. Handle-set snapshots
// passed to handlers are not sorted with it; they come in cache map order.
func (h HandleType) Less(other HandleType) bool {
	if h.ServiceID != other.ServiceID {
		return h.ServiceID < other.ServiceID
	}
	return h.InstanceID < other.InstanceID
}
