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

// Package tracing implements C8, tracing runtime registration: a
// fixed-size array of trace slots a tracing agent can attach to, and a
// canonicalized-element-identifier index resolving a registration back to
// its (handle, start address) pair.
package tracing

import (
	"fmt"
	"sync"

	iradix "github.com/hashicorp/go-immutable-radix"
	"github.com/sirupsen/logrus"
)

// Handle identifies the first slot of a reserved range; it is also that
// slot's index.
type Handle uint32

// Registration is what RegisterServiceElement hands back and what the
// identifier index stores: the reserved range's start handle, its size in
// slots, and the start address of its first slot.
type Registration struct {
	Handle       Handle
	Size         int
	StartAddress uint64
}

type slot struct {
	occupied bool
	key      string
}

// Runtime is one process' tracing slot array plus its identifier index.
// The slot array is fixed-size, matching the "bounded trace buffer" shape
// real tracing runtimes use so the tracing agent can mmap a single region
// once at startup. Registration is guarded entirely by mu -- a per-slot
// lock would buy nothing, since reserving a contiguous run of k slots
// already has to hold the whole array stable against concurrent scans.
type Runtime struct {
	mu       sync.Mutex
	slots    []slot
	slotSize uint64
	cursor   int
	tree     *iradix.Tree
}

func NewRuntime(capacity int, slotSize uint64) *Runtime {
	return &Runtime{
		slots:    make([]slot, capacity),
		slotSize: slotSize,
		tree:     iradix.New(),
	}
}

// RegisterServiceElement reserves k contiguous trace slots for canonicalID
// and indexes the range (spec §4.8). k must be positive -- registering a
// zero-size range is a caller bug and terminates the process. Registering
// an identifier that is already registered is a (non-fatal) error --
// callers are expected to Unregister before re-registering the same
// element. Allocation scans forward from a cursor so repeated
// register/unregister cycles spread across the array instead of always
// reusing the slots at the front; the search never wraps a range across
// the end of the array, so a contiguous run is always addressable as one
// flat span. Exhausting the array -- no run of k free contiguous slots
// anywhere in it -- overflows the cursor beyond the array's capacity and
// is fatal, not a recoverable error: the trace buffer is sized at startup
// for the process' expected element count, and a miss means that sizing
// was wrong.
func (r *Runtime) RegisterServiceElement(k int, canonicalID string) (Registration, error) {
	if k <= 0 {
		logrus.Fatalf("tracing: registerServiceElement: non-positive range size %d for %q", k, canonicalID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tree.Get([]byte(canonicalID)); ok {
		return Registration{}, fmt.Errorf("tracing: %q already registered", canonicalID)
	}

	n := len(r.slots)
	if k > n {
		logrus.Fatalf("tracing: registerServiceElement: range size %d exceeds capacity %d", k, n)
	}

	for i := 0; i < n; i++ {
		start := (r.cursor + i) % n
		if start+k > n {
			continue
		}
		if !r.rangeFreeLocked(start, k) {
			continue
		}

		for s := start; s < start+k; s++ {
			r.slots[s].occupied = true
			r.slots[s].key = canonicalID
		}
		r.cursor = start + k
		if r.cursor >= n {
			r.cursor = 0
		}

		reg := Registration{Handle: Handle(start), Size: k, StartAddress: uint64(start) * r.slotSize}
		txn := r.tree.Txn()
		txn.Insert([]byte(canonicalID), reg)
		r.tree = txn.Commit()
		return reg, nil
	}

	logrus.Fatalf("tracing: registerServiceElement: cursor overflow, no free run of %d contiguous slots in capacity %d", k, n)
	panic("unreachable")
}

func (r *Runtime) rangeFreeLocked(start, k int) bool {
	for s := start; s < start+k; s++ {
		if r.slots[s].occupied {
			return false
		}
	}
	return true
}

// Lookup resolves a previously registered canonical identifier.
func (r *Runtime) Lookup(canonicalID string) (Registration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.tree.Get([]byte(canonicalID))
	if !ok {
		return Registration{}, false
	}
	return v.(Registration), true
}

// Unregister frees canonicalID's reserved range and removes it from the
// index.
func (r *Runtime) Unregister(canonicalID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.tree.Get([]byte(canonicalID))
	if !ok {
		return false
	}
	reg := v.(Registration)

	for s := int(reg.Handle); s < int(reg.Handle)+reg.Size; s++ {
		r.slots[s].occupied = false
		r.slots[s].key = ""
	}

	txn := r.tree.Txn()
	txn.Delete([]byte(canonicalID))
	r.tree = txn.Commit()
	return true
}

// Len reports how many identifiers are currently registered.
func (r *Runtime) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tree.Len()
}
