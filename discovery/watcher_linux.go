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

//go:build linux

package discovery

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

const inotifyEventHeaderLen = 16 // wd(4) + mask(4) + cookie(4) + len(4), per inotify(7)

// inotifyWatcher is the production kernelWatcher, a thin direct wrapper
// over inotify_init1/inotify_add_watch/inotify_rm_watch -- the single
// goroutine reading the fd and translating raw events mirrors
// gravwell-gravwell/filewatch's routine() select loop, adapted from
// fsnotify to these raw syscalls per the design note that flag-file
// watching must use the kernel primitives directly.
type inotifyWatcher struct {
	fd int

	events chan watchEvent
	errs   chan error
	done   chan struct{}

	closeOnce sync.Once
}

func newInotifyWatcher() (*inotifyWatcher, error) {
	fd, err := unix.InotifyInit1(unix.IN_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("inotify_init1: %w", err)
	}
	w := &inotifyWatcher{
		fd:     fd,
		events: make(chan watchEvent, 64),
		errs:   make(chan error, 1),
		done:   make(chan struct{}),
	}
	go w.readLoop()
	return w, nil
}

func (w *inotifyWatcher) AddWatch(path string) (watchID, error) {
	mask := uint32(unix.IN_CREATE | unix.IN_DELETE | unix.IN_DELETE_SELF | unix.IN_MOVED_FROM | unix.IN_MOVED_TO)
	wd, err := unix.InotifyAddWatch(w.fd, path, mask)
	if err != nil {
		return 0, fmt.Errorf("inotify_add_watch %s: %w", path, err)
	}
	return watchID(wd), nil
}

func (w *inotifyWatcher) RemoveWatch(id watchID) error {
	if _, err := unix.InotifyRmWatch(w.fd, uint32(id)); err != nil {
		return fmt.Errorf("inotify_rm_watch: %w", err)
	}
	return nil
}

func (w *inotifyWatcher) Events() <-chan watchEvent { return w.events }
func (w *inotifyWatcher) Errors() <-chan error       { return w.errs }

func (w *inotifyWatcher) Close() error {
	w.closeOnce.Do(func() {
		close(w.done)
		unix.Close(w.fd)
	})
	return nil
}

func (w *inotifyWatcher) readLoop() {
	defer close(w.events)

	buf := make([]byte, 64*(inotifyEventHeaderLen+unix.NAME_MAX+1))
	for {
		n, err := unix.Read(w.fd, buf)
		if err != nil {
			select {
			case <-w.done:
				return
			default:
			}
			if err == unix.EINTR {
				continue
			}
			select {
			case w.errs <- fmt.Errorf("inotify read: %w", err):
			case <-w.done:
			}
			continue
		}
		if n == 0 {
			return
		}

		offset := 0
		for offset+inotifyEventHeaderLen <= n {
			wd := int32(binary.LittleEndian.Uint32(buf[offset : offset+4]))
			rawMask := binary.LittleEndian.Uint32(buf[offset+4 : offset+8])
			nameLen := binary.LittleEndian.Uint32(buf[offset+12 : offset+16])
			offset += inotifyEventHeaderLen

			name := ""
			if nameLen > 0 {
				raw := buf[offset : offset+int(nameLen)]
				if i := indexByte(raw, 0); i >= 0 {
					raw = raw[:i]
				}
				name = string(raw)
				offset += int(nameLen)
			}

			ev := watchEvent{Wd: watchID(wd), Name: name, Mask: translateMask(rawMask)}
			select {
			case w.events <- ev:
			case <-w.done:
				return
			}
		}
	}
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

func translateMask(raw uint32) watchMask {
	var m watchMask
	if raw&(unix.IN_CREATE|unix.IN_MOVED_TO) != 0 {
		m |= maskCreate
	}
	if raw&(unix.IN_DELETE|unix.IN_MOVED_FROM) != 0 {
		m |= maskDelete
	}
	if raw&unix.IN_DELETE_SELF != 0 {
		m |= maskDeleteSelf
	}
	if raw&unix.IN_IGNORED != 0 {
		m |= maskIgnored
	}
	if raw&unix.IN_ISDIR != 0 {
		m |= maskIsDir
	}
	return m
}

func newKernelWatcher() (kernelWatcher, error) {
	w, err := newInotifyWatcher()
	if err != nil {
		logrus.WithError(err).Error("discovery: failed to initialize kernel watch")
		return nil, err
	}
	return w, nil
}
