package driver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuardConfigureExcludesEverything(t *testing.T) {
	var guard operationGuard

	release, _, ok := guard.acquireConfigure()
	require.True(t, ok)

	_, problem, ok := guard.acquireConfigure()
	assert.False(t, ok)
	assert.Equal(t, Problem_ConfigureIsAlreadyRunning, problem)

	_, problem, ok = guard.acquireBuild()
	assert.False(t, ok)
	assert.Equal(t, Problem_ConfigureIsAlreadyRunning, problem)

	release()

	release, _, ok = guard.acquireBuild()
	require.True(t, ok)
	release()
}

func TestGuardBuildExcludesEverything(t *testing.T) {
	var guard operationGuard

	release, _, ok := guard.acquireBuild()
	require.True(t, ok)

	_, problem, ok := guard.acquireBuild()
	assert.False(t, ok)
	assert.Equal(t, Problem_BuildIsAlreadyRunning, problem)

	_, problem, ok = guard.acquireConfigure()
	assert.False(t, ok)
	assert.Equal(t, Problem_BuildIsAlreadyRunning, problem)

	release()
	assert.True(t, guard.idle())
}

func TestGuardState(t *testing.T) {
	var guard operationGuard

	assert.True(t, guard.idle())

	release, _, ok := guard.acquireConfigure()
	require.True(t, ok)

	configuring, building := guard.state()
	assert.True(t, configuring)
	assert.False(t, building)
	assert.False(t, guard.idle())

	release()
	assert.True(t, guard.idle())
}
