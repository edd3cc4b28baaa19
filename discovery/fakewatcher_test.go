package discovery

import "sync"

// fakeWatcher is a deterministic, test-only kernelWatcher: AddWatch hands
// out sequential descriptors and records the path for each, Inject lets a
// test push a synthetic event as if the kernel had reported it.
type fakeWatcher struct {
	mu       sync.Mutex
	nextID   watchID
	pathByID map[watchID]string
	removed  map[watchID]bool

	events chan watchEvent
	errs   chan error
}

func newFakeWatcher() *fakeWatcher {
	return &fakeWatcher{
		pathByID: make(map[watchID]string),
		removed:  make(map[watchID]bool),
		events:   make(chan watchEvent, 64),
		errs:     make(chan error, 1),
	}
}

func (f *fakeWatcher) AddWatch(path string) (watchID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := f.nextID
	f.pathByID[id] = path
	return id, nil
}

func (f *fakeWatcher) RemoveWatch(id watchID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed[id] = true
	return nil
}

func (f *fakeWatcher) Events() <-chan watchEvent { return f.events }
func (f *fakeWatcher) Errors() <-chan error       { return f.errs }

func (f *fakeWatcher) Close() error {
	close(f.events)
	return nil
}

// Inject delivers ev as if the kernel had just reported it. The events
// channel is buffered, so Inject returns once ev is queued, not once the
// engine's run loop has handled it.
func (f *fakeWatcher) Inject(ev watchEvent) {
	f.events <- ev
}

func (f *fakeWatcher) wasRemoved(id watchID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.removed[id]
}
