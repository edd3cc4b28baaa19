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

import "os"

// ServiceId identifies a service type, decimal-addressed in the discovery
// filesystem layout.
type ServiceId uint16

// InstanceId distinguishes instances of one ServiceId. Zero is a legal
// instance id; find-any queries are represented by a nil *InstanceId on
// EnrichedInstanceIdentifier, not by a sentinel value here.
type InstanceId uint16

// ApplicationId is the per-process identity used by the method-resource
// map. Defaults to the process' uid when not overridden by configuration.
type ApplicationId uint32

// ProcessId is the OS process id captured at offer/registration time.
type ProcessId uint32

// QualityType is the safety/ASIL quality level an instance is offered at.
type QualityType int

const (
	QualityInvalid QualityType = iota
	QualityQM
	QualityASILB
)

func (q QualityType) String() string {
	switch q {
	case QualityQM:
		return "asil-qm"
	case QualityASILB:
		return "asil-b"
	default:
		return "invalid"
	}
}

// ParseQuality recovers a QualityType from the substring a flag-file name
// carries. Any value outside {asil-qm, asil-b} is QualityInvalid.
func ParseQuality(s string) QualityType {
	switch s {
	case "asil-qm":
		return QualityQM
	case "asil-b":
		return QualityASILB
	default:
		return QualityInvalid
	}
}

// OfferSelector controls how much of an offer StopOfferService withdraws
// (spec §4.6): the whole offer, or only its QM-shadow flag file.
type OfferSelector int

const (
	SelectorBoth OfferSelector = iota
	SelectorQMOnly
)

// CurrentApplicationID resolves the process' default ApplicationId, used
// whenever the global configuration does not override it.
func CurrentApplicationID() ApplicationId {
	return ApplicationId(os.Getuid())
}

// CurrentProcessID resolves the calling process' id.
func CurrentProcessID() ProcessId {
	return ProcessId(os.Getpid())
}
