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

// watchMask bits, named independently of the kernel's own constants so the
// rest of the package never needs to import golang.org/x/sys/unix directly.
type watchMask uint32

const (
	maskCreate     watchMask = 1 << iota // entry created in a watched directory
	maskDelete                           // entry removed from a watched directory
	maskDeleteSelf                       // the watched directory itself was removed
	maskIgnored                          // the kernel dropped this watch (rmdir, umount, explicit remove)
	maskIsDir                            // the affected entry is itself a directory
)

// watchEvent is one observed filesystem change, translated from whatever
// the kernel watch API reports into the handful of cases the event loop
// cares about.
type watchEvent struct {
	Wd   watchID
	Name string
	Mask watchMask
}

// watchID is the kernel's opaque watch descriptor.
type watchID int32

// kernelWatcher is the seam between the event loop and the kernel directory
// watch API (spec §9: used directly, never through an fsnotify-style
// abstraction, in the real implementation -- kernelWatcher exists only so
// tests can substitute a fake and drive the event loop deterministically).
type kernelWatcher interface {
	AddWatch(path string) (watchID, error)
	RemoveWatch(id watchID) error
	Events() <-chan watchEvent
	Errors() <-chan error
	Close() error
}
