package process_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/eclipse-score/lola-discovery/domain"
	"github.com/eclipse-score/lola-discovery/process"
)

func TestIsAlive_CurrentProcess(t *testing.T) {
	assert.True(t, process.IsAlive(domain.ProcessId(os.Getpid())))
}

func TestIsAlive_ZeroPid(t *testing.T) {
	assert.False(t, process.IsAlive(0))
}

func TestIsAlive_UnlikelyPid(t *testing.T) {
	// PID 1 is always alive on a running Linux system (init/systemd), so
	// use a pid far beyond any realistic allocation as the "not alive" case.
	assert.False(t, process.IsAlive(domain.ProcessId(1<<30)))
}
