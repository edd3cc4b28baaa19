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

	"github.com/sirupsen/logrus"

	"github.com/eclipse-score/lola-discovery/domain"
	"github.com/eclipse-score/lola-discovery/flagfile"
)

// OfferService creates the flag file(s) claiming identifier for this
// process. An ASIL-B offer additionally creates a QM-shadow flag file
// under the same instance directory, sharing the same disambiguator, so QM
// consumers can observe a B offer as if it were QM (spec §4.2).
func (e *Engine) OfferService(identifier domain.EnrichedInstanceIdentifier) (domain.HandleType, error) {
	if identifier.InstanceID == nil {
		return domain.HandleType{}, fmt.Errorf("%w: OfferService requires a concrete instance id", domain.ErrBindingFailure)
	}
	if !identifier.Valid() {
		// Invalid quality only ever originates from a misconfigured
		// deployment, never from a peer's runtime behavior (spec §4.6/§7
		// kind 1) -- unrecoverable.
		logrus.Fatalf("discovery: invalid quality for %v", identifier)
	}

	handle := domain.NewHandle(identifier.ServiceID, *identifier.InstanceID, identifier.Quality)

	e.mu.Lock()
	if _, exists := e.offered[handle]; exists {
		e.mu.Unlock()
		return domain.HandleType{}, fmt.Errorf("%w: %v already offered by this process", domain.ErrBindingFailure, identifier)
	}
	e.mu.Unlock()

	disambiguator := e.flags.NextDisambiguator()

	primary, err := e.flags.Make(identifier, e.pid, disambiguator)
	if err != nil {
		return domain.HandleType{}, fmt.Errorf("%w: %w", domain.ErrServiceNotOffered, err)
	}
	offer := &localOffer{handle: handle, primary: primary, disambiguator: disambiguator}

	if identifier.Quality == domain.QualityASILB {
		shadowID := domain.NewIdentifier(identifier.ServiceID, *identifier.InstanceID, domain.QualityQM)
		shadow, err := e.flags.Make(shadowID, e.pid, disambiguator)
		if err != nil {
			primary.Destroy()
			return domain.HandleType{}, fmt.Errorf("%w: %w", domain.ErrServiceNotOffered, err)
		}
		offer.shadow = shadow
	}

	e.mu.Lock()
	e.offered[handle] = offer
	e.mu.Unlock()

	return handle, nil
}

// StopOfferService withdraws a previously made offer. selector chooses
// whether both flag files (the offer's own label plus its QM shadow, if
// any) are removed, or only the QM shadow -- leaving the underlying B offer
// itself intact for consumers that asked for B specifically (spec §4.6).
// Per spec §4.2/§7, a removal failure here is fatal and is enforced by
// flagfile.FlagFile.Destroy itself. Stop on an unknown or already-stopped
// identifier is a binding-failure (the error also matches
// ErrServiceNotOffered).
func (e *Engine) StopOfferService(handle domain.HandleType, selector domain.OfferSelector) error {
	e.mu.Lock()
	offer, ok := e.offered[handle]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: %w: %v not offered by this process", domain.ErrBindingFailure, domain.ErrServiceNotOffered, handle)
	}

	if selector == domain.SelectorQMOnly {
		shadow := offer.shadow
		if shadow == nil {
			e.mu.Unlock()
			return fmt.Errorf("%w: %w: %v has no QM shadow to remove", domain.ErrBindingFailure, domain.ErrServiceNotOffered, handle)
		}
		offer.shadow = nil
		e.mu.Unlock()
		shadow.Destroy()
		return nil
	}

	delete(e.offered, handle)
	e.mu.Unlock()

	offer.primary.Destroy()
	if offer.shadow != nil {
		offer.shadow.Destroy()
	}
	return nil
}
