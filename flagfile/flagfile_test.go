package flagfile_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/eclipse-score/lola-discovery/domain"
	"github.com/eclipse-score/lola-discovery/flagfile"
	"github.com/eclipse-score/lola-discovery/pathbuilder"
	"github.com/eclipse-score/lola-discovery/sysio"
)

// flag-file atomicity (O_CREAT|O_EXCL) is part of the contract under test,
// so these run against a real OS filesystem rather than afero's MemMapFs.
// Every test picks its own ServiceId so instance directories never collide
// and cleans its instance directory up afterward.
func newManager(t *testing.T) *flagfile.Manager {
	t.Helper()
	return flagfile.NewManager(sysio.NewIOService(domain.IOOsFileService))
}

func cleanupInstance(t *testing.T, service domain.ServiceId, instance domain.InstanceId) {
	t.Helper()
	t.Cleanup(func() {
		_ = os.RemoveAll(pathbuilder.InstanceDir(service, instance))
	})
}

func instancePtr(v domain.InstanceId) *domain.InstanceId { return &v }

func TestMake_CreatesFileAndDirectory(t *testing.T) {
	cleanupInstance(t, 101, 2)

	m := newManager(t)
	id := domain.NewIdentifier(101, 2, domain.QualityQM)
	ff, err := m.Make(id, domain.ProcessId(os.Getpid()), m.NextDisambiguator())
	require.NoError(t, err)

	info, err := os.Stat(ff.Path)
	require.NoError(t, err)
	require.False(t, info.IsDir())
	require.Equal(t, os.FileMode(0644), info.Mode().Perm())

	dirInfo, err := os.Stat(filepath.Dir(ff.Path))
	require.NoError(t, err)
	require.True(t, dirInfo.IsDir())
}

func TestMake_RemovesResidualSameQuality(t *testing.T) {
	cleanupInstance(t, 102, 2)

	m := newManager(t)
	id := domain.NewIdentifier(102, 2, domain.QualityQM)

	first, err := m.Make(id, 100, m.NextDisambiguator())
	require.NoError(t, err)

	second, err := m.Make(id, 200, m.NextDisambiguator())
	require.NoError(t, err)

	_, err = os.Stat(first.Path)
	require.True(t, os.IsNotExist(err), "residual from a previous make must be removed")

	_, err = os.Stat(second.Path)
	require.NoError(t, err)
}

func TestMake_DistinctQualitiesCoexist(t *testing.T) {
	cleanupInstance(t, 103, 2)

	m := newManager(t)
	qm, err := m.Make(domain.NewIdentifier(103, 2, domain.QualityQM), 100, m.NextDisambiguator())
	require.NoError(t, err)
	b, err := m.Make(domain.NewIdentifier(103, 2, domain.QualityASILB), 100, m.NextDisambiguator())
	require.NoError(t, err)

	_, err = os.Stat(qm.Path)
	require.NoError(t, err)
	_, err = os.Stat(b.Path)
	require.NoError(t, err)
}

func TestExists(t *testing.T) {
	cleanupInstance(t, 104, 2)

	m := newManager(t)
	id := domain.NewIdentifier(104, 2, domain.QualityQM)
	require.False(t, m.Exists(id))

	_, err := m.Make(id, 100, m.NextDisambiguator())
	require.NoError(t, err)
	require.True(t, m.Exists(id))
}

func TestDestroy_RemovesFile(t *testing.T) {
	cleanupInstance(t, 105, 2)

	m := newManager(t)
	id := domain.NewIdentifier(105, 2, domain.QualityQM)
	ff, err := m.Make(id, 100, m.NextDisambiguator())
	require.NoError(t, err)

	ff.Destroy()
	_, err = os.Stat(ff.Path)
	require.True(t, os.IsNotExist(err))
	require.False(t, m.Exists(id))
}

func TestNextDisambiguator_StrictlyIncreasing(t *testing.T) {
	m := newManager(t)
	var prev uint64
	for i := 0; i < 100; i++ {
		v := m.NextDisambiguator()
		require.Greater(t, v, prev)
		prev = v
	}
}

func TestNewIdentifierHelper(t *testing.T) {
	id := domain.NewIdentifier(1, 2, domain.QualityQM)
	require.False(t, id.IsFindAny())
	require.Equal(t, instancePtr(2), id.InstanceID)
}
