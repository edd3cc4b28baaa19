package methodmap_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eclipse-score/lola-discovery/domain"
	"github.com/eclipse-score/lola-discovery/methodmap"
)

func TestInsertAndContains(t *testing.T) {
	m := methodmap.New()
	require.False(t, m.Contains(1, 100, 10))

	m.InsertAndCleanUpOldRegions(1, 100, 10, "region-10")
	assert.True(t, m.Contains(1, 100, 10))
}

func TestContains_WrongPidIsFalse(t *testing.T) {
	m := methodmap.New()
	m.InsertAndCleanUpOldRegions(1, 100, 10, "region-10")

	assert.True(t, m.Contains(1, 100, 10))
	assert.False(t, m.Contains(1, 999, 10), "a different pid must not be reported as the owner")
}

func TestInsert_EvictsDeadOwnersRegions(t *testing.T) {
	m := methodmap.New()
	deadPid := domain.ProcessId(1 << 30) // unlikely to be alive

	m.InsertAndCleanUpOldRegions(1, deadPid, 10, "r10")
	m.InsertAndCleanUpOldRegions(1, deadPid, 11, "r11")
	require.True(t, m.Contains(1, deadPid, 10))
	require.True(t, m.Contains(1, deadPid, 11))

	newPid := domain.ProcessId(os.Getpid())
	m.InsertAndCleanUpOldRegions(1, newPid, 20, "r20")

	assert.False(t, m.Contains(1, deadPid, 10), "dead owner's regions must be evicted")
	assert.False(t, m.Contains(1, deadPid, 11))
	assert.True(t, m.Contains(1, newPid, 20))
}

func TestInsert_DifferentApplicationsIndependent(t *testing.T) {
	m := methodmap.New()
	m.InsertAndCleanUpOldRegions(1, 100, 10, "a")
	m.InsertAndCleanUpOldRegions(2, 200, 10, "b")

	assert.True(t, m.Contains(1, 100, 10))
	assert.True(t, m.Contains(2, 200, 10))

	m.Clear(1)
	assert.False(t, m.Contains(1, 100, 10))
	assert.True(t, m.Contains(2, 200, 10))
}

func TestRelease_RemovesRegistration(t *testing.T) {
	m := methodmap.New()
	m.InsertAndCleanUpOldRegions(1, 100, 10, "a")

	assert.True(t, m.Release(1, 10))
	assert.False(t, m.Contains(1, 100, 10))
}

func TestRelease_Unknown(t *testing.T) {
	m := methodmap.New()
	assert.False(t, m.Release(1, 10))
}
