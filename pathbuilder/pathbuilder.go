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

// Package pathbuilder implements the deterministic, bit-exact path and
// name construction rules the discovery filesystem layout depends on
// (spec §4.1). No runtime state; every function is a pure transform of its
// arguments.
package pathbuilder

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/eclipse-score/lola-discovery/domain"
)

// DiscoveryRoot is the platform-selected root all service/instance
// directories live under.
const DiscoveryRoot = discoveryRoot

const (
	qmShmSuffix      = ""
	bShmSuffix       = "-b"
	dataChannelStem  = "lola-data-"
	ctrlChannelStem  = "lola-ctl-"
	methodChannelStem = "lola-methods-"
)

// ServiceDir returns the service directory for a ServiceId: <root>/<S>,
// decimal, no padding.
func ServiceDir(service domain.ServiceId) string {
	return filepath.Join(DiscoveryRoot, strconv.FormatUint(uint64(service), 10))
}

// InstanceDir returns the instance directory for a (ServiceId, InstanceId)
// pair: <root>/<S>/<I>.
func InstanceDir(service domain.ServiceId, instance domain.InstanceId) string {
	return filepath.Join(ServiceDir(service), strconv.FormatUint(uint64(instance), 10))
}

// FlagFileName composes a flag-file's base name: <pid>_<quality>_<disambiguator>.
// The literal "invalid" quality string is only ever produced defensively;
// valid offer flows never reach this with QualityInvalid.
func FlagFileName(pid domain.ProcessId, quality domain.QualityType, disambiguator uint64) string {
	return fmt.Sprintf("%d_%s_%d", pid, quality, disambiguator)
}

// FlagFilePath composes the full path to a flag file.
func FlagFilePath(service domain.ServiceId, instance domain.InstanceId, pid domain.ProcessId, quality domain.QualityType, disambiguator uint64) string {
	return filepath.Join(InstanceDir(service, instance), FlagFileName(pid, quality, disambiguator))
}

// ParseInstanceDirName parses a directory basename found directly under a
// service directory as a decimal InstanceId. ok is false for any name that
// does not parse as a plain non-negative base-10 integer within uint16
// range -- the event loop is expected to silently ignore such directories
// (spec §4.5).
func ParseInstanceDirName(name string) (instance domain.InstanceId, ok bool) {
	v, err := strconv.ParseUint(name, 10, 16)
	if err != nil {
		return 0, false
	}
	return domain.InstanceId(v), true
}

// ParseFlagFileName recovers the (pid, quality, disambiguator) triple from
// a flag-file basename. ok is false if the name does not have the
// "<pid>_<quality>_<disambiguator>" shape.
func ParseFlagFileName(name string) (pid domain.ProcessId, quality domain.QualityType, disambiguator uint64, ok bool) {
	parts := strings.SplitN(name, "_", 3)
	if len(parts) != 3 {
		return 0, domain.QualityInvalid, 0, false
	}

	p, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return 0, domain.QualityInvalid, 0, false
	}

	q := domain.ParseQuality(parts[1])
	if q == domain.QualityInvalid {
		return 0, domain.QualityInvalid, 0, false
	}

	d, err := strconv.ParseUint(parts[2], 10, 64)
	if err != nil {
		return 0, domain.QualityInvalid, 0, false
	}

	return domain.ProcessId(p), q, d, true
}

// ContainsQuality reports whether a flag-file basename carries the given
// quality's substring, the test flagfile's Exists and residual cleanup use
// to classify flag files without fully parsing the name.
func ContainsQuality(name string, quality domain.QualityType) bool {
	return strings.Contains(name, quality.String())
}

// shmID renders a ServiceId/InstanceId pair as the 16-hex-digit /
// 5-decimal-digit zero-padded components shared-memory channel names use.
func shmID(service domain.ServiceId, instance domain.InstanceId) string {
	return fmt.Sprintf("%016x%05d", uint64(service), uint64(instance))
}

// DataChannelName builds the shared-memory channel name for an instance's
// data segment.
func DataChannelName(service domain.ServiceId, instance domain.InstanceId, quality domain.QualityType) string {
	return dataChannelStem + shmID(service, instance) + qualitySuffix(quality)
}

// ControlChannelName builds the shared-memory channel name for an
// instance's control segment.
func ControlChannelName(service domain.ServiceId, instance domain.InstanceId, quality domain.QualityType) string {
	return ctrlChannelStem + shmID(service, instance) + qualitySuffix(quality)
}

// MethodChannelName builds the shared-memory channel name for a method's
// call region, disambiguated per proxy process and per-proxy instance
// counter (both 5-digit zero-padded).
func MethodChannelName(service domain.ServiceId, instance domain.InstanceId, proxyPid domain.ProcessId, proxyInstanceCounter uint32) string {
	return fmt.Sprintf("%s%s-%05d-%05d", methodChannelStem, shmID(service, instance), proxyPid, proxyInstanceCounter)
}

func qualitySuffix(quality domain.QualityType) string {
	if quality == domain.QualityASILB {
		return bShmSuffix
	}
	return qmShmSuffix
}
