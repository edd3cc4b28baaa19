package pathbuilder_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eclipse-score/lola-discovery/domain"
	"github.com/eclipse-score/lola-discovery/pathbuilder"
)

func TestInstanceDirRoundTrip(t *testing.T) {
	for _, instance := range []domain.InstanceId{0, 1, 42, 65535} {
		dir := pathbuilder.InstanceDir(7, instance)
		parsed, ok := pathbuilder.ParseInstanceDirName(dir[len(pathbuilder.ServiceDir(7))+1:])
		require.True(t, ok)
		assert.Equal(t, instance, parsed)
	}
}

func TestParseInstanceDirName_Invalid(t *testing.T) {
	for _, name := range []string{"", "abc", "-1", "1.5", "99999999"} {
		_, ok := pathbuilder.ParseInstanceDirName(name)
		assert.False(t, ok, "name=%q", name)
	}
}

func TestFlagFileNameRoundTrip(t *testing.T) {
	name := pathbuilder.FlagFileName(1234, domain.QualityASILB, 99)
	pid, quality, disambiguator, ok := pathbuilder.ParseFlagFileName(name)
	require.True(t, ok)
	assert.EqualValues(t, 1234, pid)
	assert.Equal(t, domain.QualityASILB, quality)
	assert.EqualValues(t, 99, disambiguator)
}

func TestParseFlagFileName_Invalid(t *testing.T) {
	for _, name := range []string{"", "1234", "1234_asil-x_1", "abc_asil-qm_1"} {
		_, _, _, ok := pathbuilder.ParseFlagFileName(name)
		assert.False(t, ok, "name=%q", name)
	}
}

func TestContainsQuality(t *testing.T) {
	name := pathbuilder.FlagFileName(1, domain.QualityQM, 1)
	assert.True(t, pathbuilder.ContainsQuality(name, domain.QualityQM))
	assert.False(t, pathbuilder.ContainsQuality(name, domain.QualityASILB))
}

func TestMethodChannelName_ZeroPadded(t *testing.T) {
	name := pathbuilder.MethodChannelName(1, 2, 3, 4)
	assert.Equal(t, "lola-methods-000000000000000100002-00003-00004", name)
}
