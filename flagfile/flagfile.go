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

// Package flagfile implements the scoped filesystem artifact whose
// existence on disk is the observable claim of an offer (spec §4.2). It
// relies directly on the host's atomic open(O_CREAT|O_EXCL) and unlink
// semantics -- per spec §9's design note, these primitives must not be
// abstracted through a helper that could split the operation.
package flagfile

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eclipse-score/lola-discovery/domain"
	"github.com/eclipse-score/lola-discovery/pathbuilder"
)

const (
	dirMode      = 0777
	fileMode     = 0644
	mkdirRetries = 3
	mkdirBackoff = 10 * time.Millisecond
)

// Manager creates and destroys flag files for one process. It owns the
// monotonic disambiguator sequence for that process (spec §9: "the
// disambiguator must strictly increase within a process lifetime").
type Manager struct {
	ios domain.IOServiceIface

	mu     sync.Mutex
	lastID uint64
}

func NewManager(ios domain.IOServiceIface) *Manager {
	return &Manager{ios: ios}
}

// IOService exposes the underlying filesystem abstraction for collaborators
// (the event loop's service-directory crawl) that need to list directories
// outside of a single flag file's lifecycle.
func (m *Manager) IOService() domain.IOServiceIface {
	return m.ios
}

// FlagFile is a created flag file: the observable claim of one offer at
// one quality.
type FlagFile struct {
	Path          string
	ProcessID     domain.ProcessId
	Disambiguator uint64

	node domain.IOnodeIface
}

// NextDisambiguator returns a value strictly greater than any previously
// returned by this Manager, derived from a steady clock reading (spec §9).
// Two flag files belonging to the same offer (a B-quality offer and its
// QM-shadow) share one disambiguator value obtained from a single call.
func (m *Manager) NextDisambiguator() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := uint64(time.Now().UnixNano())
	if now <= m.lastID {
		now = m.lastID + 1
	}
	m.lastID = now
	return now
}

// Make creates the flag file for identifier at the given quality,
// disambiguator and pid. It first removes any existing same-quality flag
// files in the instance directory -- these can only be residuals from a
// crashed process, since a live process never opens two flag files for the
// same identifier+quality (spec §4.2).
func (m *Manager) Make(identifier domain.EnrichedInstanceIdentifier, pid domain.ProcessId, disambiguator uint64) (*FlagFile, error) {
	if identifier.InstanceID == nil {
		return nil, fmt.Errorf("%w: flag file requires a concrete instance id", domain.ErrBindingFailure)
	}
	quality := identifier.Quality
	if quality != domain.QualityQM && quality != domain.QualityASILB {
		logrus.Fatalf("flagfile: invalid quality %v for %v", quality, identifier)
	}

	instanceDir := pathbuilder.InstanceDir(identifier.ServiceID, *identifier.InstanceID)

	if err := m.removeResiduals(identifier, instanceDir); err != nil {
		return nil, fmt.Errorf("%w: residual cleanup failed: %v", domain.ErrBindingFailure, err)
	}

	if err := m.ensureDir(instanceDir); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrBindingFailure, err)
	}

	path := pathbuilder.FlagFilePath(identifier.ServiceID, *identifier.InstanceID, pid, quality, disambiguator)

	node := m.ios.NewIOnode(pathbuilder.FlagFileName(pid, quality, disambiguator), path, fileMode)
	node.SetOpenFlags(os.O_CREATE | os.O_EXCL | os.O_WRONLY)
	if err := node.Open(); err != nil {
		return nil, fmt.Errorf("%w: create %s: %v", domain.ErrBindingFailure, path, err)
	}
	if err := node.Close(); err != nil {
		return nil, fmt.Errorf("%w: close %s: %v", domain.ErrBindingFailure, path, err)
	}
	if err := node.Chmod(fileMode); err != nil {
		return nil, fmt.Errorf("%w: chmod %s: %v", domain.ErrBindingFailure, path, err)
	}

	logrus.Debugf("flagfile: created %s", path)

	return &FlagFile{
		Path:          path,
		ProcessID:     pid,
		Disambiguator: disambiguator,
		node:          node,
	}, nil
}

// removeResiduals deletes any existing flag file in instanceDir matching
// identifier's quality substring.
func (m *Manager) removeResiduals(identifier domain.EnrichedInstanceIdentifier, instanceDir string) error {
	dirNode := m.ios.NewIOnode("instance", instanceDir, dirMode)
	entries, err := dirNode.ReadDirAll()
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if pathbuilder.ContainsQuality(entry.Name(), identifier.Quality) {
			stale := m.ios.NewIOnode(entry.Name(), instanceDir+"/"+entry.Name(), fileMode)
			if err := stale.Remove(); err != nil && !os.IsNotExist(err) {
				return err
			}
			logrus.Debugf("flagfile: removed residual %s/%s", instanceDir, entry.Name())
		}
	}
	return nil
}

// ensureDir creates instanceDir (and its parents) idempotently with
// world-writable permissions, retrying up to mkdirRetries times with a
// fixed backoff, accepting "already exists with correct mode" as success
// and self-healing wrong permissions on an existing directory (spec §4.2).
// Only instanceDir's own mode is checked and corrected; parent directories
// keep the mode MkdirAll gave them.
func (m *Manager) ensureDir(path string) error {
	var lastErr error
	for attempt := 0; attempt < mkdirRetries; attempt++ {
		node := m.ios.NewIOnode("instance", path, dirMode)
		err := node.MkdirAll()
		if err == nil || os.IsExist(err) {
			var info os.FileInfo
			if info, err = node.Stat(); err == nil {
				if info.Mode().Perm() == dirMode {
					return nil
				}
				if err = node.Chmod(dirMode); err == nil {
					return nil
				}
			}
		}
		lastErr = err
		time.Sleep(mkdirBackoff)
	}
	return lastErr
}

// Exists returns true iff at least one file in the instance directory
// matches identifier's quality substring (spec §4.2).
func (m *Manager) Exists(identifier domain.EnrichedInstanceIdentifier) bool {
	if identifier.InstanceID == nil {
		return false
	}
	instanceDir := pathbuilder.InstanceDir(identifier.ServiceID, *identifier.InstanceID)
	dirNode := m.ios.NewIOnode("instance", instanceDir, dirMode)
	entries, err := dirNode.ReadDirAll()
	if err != nil {
		return false
	}
	for _, entry := range entries {
		if !entry.IsDir() && pathbuilder.ContainsQuality(entry.Name(), identifier.Quality) {
			return true
		}
	}
	return false
}

// Destroy removes the flag file. A removal failure here is fatal: an
// offer that cannot be withdrawn corrupts discovery state for every peer
// on the host (spec §4.2, §7 kind 5).
func (f *FlagFile) Destroy() {
	if err := f.node.Remove(); err != nil && !os.IsNotExist(err) {
		logrus.Fatalf("flagfile: failed to remove %s: %v -- discovery state for this host may now be corrupt", f.Path, err)
	}
	logrus.Debugf("flagfile: removed %s", f.Path)
}
