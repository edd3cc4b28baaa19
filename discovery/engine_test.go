package discovery

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/eclipse-score/lola-discovery/domain"
	"github.com/eclipse-score/lola-discovery/flagfile"
	"github.com/eclipse-score/lola-discovery/pathbuilder"
	"github.com/eclipse-score/lola-discovery/sysio"
)

// These tests run against a real OS filesystem (flag-file existence is the
// thing under test) but a fakeWatcher in place of real inotify, so event
// dispatch is driven deterministically instead of racing the kernel.

func newTestEngine(t *testing.T) (*Engine, *fakeWatcher) {
	t.Helper()
	flags := flagfile.NewManager(sysio.NewIOService(domain.IOOsFileService))
	fw := newFakeWatcher()
	e := newWithWatcher(flags, domain.ProcessId(os.Getpid()), fw)
	t.Cleanup(func() { _ = e.Close() })
	return e, fw
}

func cleanupService(t *testing.T, service domain.ServiceId, instance domain.InstanceId) {
	t.Helper()
	t.Cleanup(func() {
		_ = os.RemoveAll(pathbuilder.InstanceDir(service, instance))
	})
}

func TestOfferService_CreatesAndWithdraws(t *testing.T) {
	cleanupService(t, 201, 1)
	e, _ := newTestEngine(t)

	id := domain.NewIdentifier(201, 1, domain.QualityQM)
	handle, err := e.OfferService(id)
	require.NoError(t, err)
	require.True(t, e.flags.Exists(id))

	require.NoError(t, e.StopOfferService(handle, domain.SelectorBoth))
	require.False(t, e.flags.Exists(id))
}

func TestOfferService_Duplicate(t *testing.T) {
	cleanupService(t, 202, 1)
	e, _ := newTestEngine(t)

	id := domain.NewIdentifier(202, 1, domain.QualityQM)
	_, err := e.OfferService(id)
	require.NoError(t, err)

	_, err = e.OfferService(id)
	require.Error(t, err)
}

func TestOfferService_ASILB_CreatesQMShadow(t *testing.T) {
	cleanupService(t, 203, 1)
	e, _ := newTestEngine(t)

	id := domain.NewIdentifier(203, 1, domain.QualityASILB)
	handle, err := e.OfferService(id)
	require.NoError(t, err)

	require.True(t, e.flags.Exists(id))
	require.True(t, e.flags.Exists(domain.NewIdentifier(203, 1, domain.QualityQM)))

	require.NoError(t, e.StopOfferService(handle, domain.SelectorBoth))
	require.False(t, e.flags.Exists(id))
	require.False(t, e.flags.Exists(domain.NewIdentifier(203, 1, domain.QualityQM)))
}

func TestStopOfferService_QMOnly_LeavesBFileIntact(t *testing.T) {
	cleanupService(t, 207, 1)
	e, _ := newTestEngine(t)

	id := domain.NewIdentifier(207, 1, domain.QualityASILB)
	handle, err := e.OfferService(id)
	require.NoError(t, err)

	require.NoError(t, e.StopOfferService(handle, domain.SelectorQMOnly))
	require.True(t, e.flags.Exists(id))
	require.False(t, e.flags.Exists(domain.NewIdentifier(207, 1, domain.QualityQM)))

	require.NoError(t, e.StopOfferService(handle, domain.SelectorBoth))
	require.False(t, e.flags.Exists(id))
}

func TestStopOfferService_Unknown(t *testing.T) {
	e, _ := newTestEngine(t)
	err := e.StopOfferService(domain.NewHandle(1, 1, domain.QualityQM), domain.SelectorBoth)
	require.ErrorIs(t, err, domain.ErrServiceNotOffered)
}

func TestFindService_Concrete(t *testing.T) {
	cleanupService(t, 204, 1)
	e, _ := newTestEngine(t)

	id := domain.NewIdentifier(204, 1, domain.QualityQM)
	handles, err := e.FindService(id)
	require.NoError(t, err)
	require.Empty(t, handles)

	_, err = e.OfferService(id)
	require.NoError(t, err)

	handles, err = e.FindService(id)
	require.NoError(t, err)
	require.Equal(t, []domain.HandleType{domain.NewHandle(204, 1, domain.QualityQM)}, handles)
}

func TestStartFindService_ConcreteImmediateCallback(t *testing.T) {
	cleanupService(t, 205, 1)
	e, _ := newTestEngine(t)

	id := domain.NewIdentifier(205, 1, domain.QualityQM)
	_, err := e.OfferService(id)
	require.NoError(t, err)

	results := make(chan []domain.HandleType, 4)
	handle, err := e.StartFindService(id, func(h []domain.HandleType) { results <- h })
	require.NoError(t, err)
	defer e.StopFindService(handle)

	select {
	case h := <-results:
		require.Equal(t, []domain.HandleType{domain.NewHandle(205, 1, domain.QualityQM)}, h)
	case <-time.After(time.Second):
		t.Fatal("handler was not invoked immediately on StartFindService")
	}
}

func TestStartFindService_FindAny_EventDrivenUpdate(t *testing.T) {
	cleanupService(t, 206, 9)
	e, fw := newTestEngine(t)

	results := make(chan []domain.HandleType, 4)
	id := domain.NewFindAnyIdentifier(206, domain.QualityQM)
	handle, err := e.StartFindService(id, func(h []domain.HandleType) { results <- h })
	require.NoError(t, err)
	defer e.StopFindService(handle)

	select {
	case h := <-results:
		require.Empty(t, h)
	case <-time.After(time.Second):
		t.Fatal("initial callback did not fire")
	}

	// Simulate a remote process creating instance directory "9" and
	// offering it, then report that to the engine the way inotify would.
	offerer := flagfile.NewManager(sysio.NewIOService(domain.IOOsFileService))
	_, err = offerer.Make(domain.NewIdentifier(206, 9, domain.QualityQM), 9999, offerer.NextDisambiguator())
	require.NoError(t, err)

	fw.Inject(watchEvent{Wd: 1, Name: "9", Mask: maskCreate})

	select {
	case h := <-results:
		require.Equal(t, []domain.HandleType{domain.NewHandle(206, 9, domain.QualityQM)}, h)
	case <-time.After(time.Second):
		t.Fatal("handler was not invoked after simulated instance creation")
	}
}

func TestStopFindService_Unknown(t *testing.T) {
	e, _ := newTestEngine(t)
	// Idempotent per spec §4.6/§7: an unknown handle is a no-op success.
	require.NoError(t, e.StopFindService(domain.NewFindServiceHandle()))
}

func TestStopFindService_Repeat(t *testing.T) {
	cleanupService(t, 208, 1)
	e, _ := newTestEngine(t)

	id := domain.NewIdentifier(208, 1, domain.QualityQM)
	handle, err := e.StartFindService(id, func([]domain.HandleType) {})
	require.NoError(t, err)

	require.NoError(t, e.StopFindService(handle))
	require.NoError(t, e.StopFindService(handle))
}
