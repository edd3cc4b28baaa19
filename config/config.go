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

// Package config loads the daemon's deployment configuration document: the
// service/instance layout a binding's InstanceSpecifier resolves to, the
// ApplicationId override, and the tracing runtime's sizing.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/eclipse-score/lola-discovery/domain"
	"github.com/eclipse-score/lola-discovery/facade"
)

// TracingConfig holds the tracing section of the document: whether tracing
// is enabled and the size of C8's trace slot array. The daemon loads it but
// does not construct a tracing runtime from it.
type TracingConfig struct {
	Enabled   bool   `yaml:"enabled"`
	SlotCount int    `yaml:"slotCount"`
	SlotSize  uint64 `yaml:"slotSize"`
}

// InstanceConfig is one concrete leaf an InstanceSpecifier resolves to.
type InstanceConfig struct {
	ServiceID  domain.ServiceId  `yaml:"serviceId"`
	InstanceID domain.InstanceId `yaml:"instanceId"`
	Quality    string            `yaml:"quality"`
}

// GlobalConfig is the whole deployment document.
type GlobalConfig struct {
	// ApplicationID overrides domain.CurrentApplicationID's uid-based
	// default when set (spec §6).
	ApplicationID *uint32 `yaml:"applicationId"`

	Tracing TracingConfig `yaml:"tracing"`

	// ServiceInstances maps each configured InstanceSpecifier to the
	// concrete identifiers it fans out to.
	ServiceInstances map[string][]InstanceConfig `yaml:"serviceInstances"`
}

// Load reads and parses a GlobalConfig document from path.
func Load(path string) (*GlobalConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg GlobalConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &cfg, nil
}

// ResolvedApplicationID returns the configured override, falling back to
// the process' uid per spec §3.
func (c *GlobalConfig) ResolvedApplicationID() domain.ApplicationId {
	if c.ApplicationID != nil {
		return domain.ApplicationId(*c.ApplicationID)
	}
	return domain.CurrentApplicationID()
}

// Resolve implements facade.Resolver against the configured
// serviceInstances document.
func (c *GlobalConfig) Resolve(specifier facade.InstanceSpecifier) ([]domain.EnrichedInstanceIdentifier, error) {
	entries, ok := c.ServiceInstances[string(specifier)]
	if !ok {
		return nil, fmt.Errorf("config: unknown instance specifier %q", specifier)
	}

	leaves := make([]domain.EnrichedInstanceIdentifier, 0, len(entries))
	for _, e := range entries {
		quality := domain.ParseQuality(e.Quality)
		if quality == domain.QualityInvalid {
			return nil, fmt.Errorf("config: specifier %q: invalid quality %q", specifier, e.Quality)
		}
		leaves = append(leaves, domain.NewIdentifier(e.ServiceID, e.InstanceID, quality))
	}
	return leaves, nil
}
