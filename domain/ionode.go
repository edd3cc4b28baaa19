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

// IOnode abstracts the small set of filesystem operations the discovery
// core needs against flag files and their parent directories. There are two
// backing implementations: an afero.OsFs-backed one for production and an
// afero.MemMapFs-backed one for unit tests that don't need to exercise real
// kernel watch semantics.
type IOServiceType = int

const (
	Unknown          IOServiceType = iota
	IOOsFileService                // production / regular purposes
	IOMemFileService               // unit-testing purposes
)

type IOServiceIface interface {
	NewIOnode(name string, path string, mode os.FileMode) IOnodeIface
	RemoveAllIOnodes() error
	GetServiceType() IOServiceType
}

type IOnodeIface interface {
	Open() error
	Close() error
	ReadDirAll() ([]os.FileInfo, error)
	Mkdir() error
	MkdirAll() error
	Chmod(mode os.FileMode) error
	Stat() (os.FileInfo, error)
	Remove() error
	RemoveAll() error

	Name() string
	Path() string
	OpenFlags() int
	OpenMode() os.FileMode
	SetPath(s string)
	SetOpenFlags(flags int)
	SetOpenMode(mode os.FileMode)
}
