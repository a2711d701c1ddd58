package settings

import (
	"bytes"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
sourceDirectory: ${workspaceFolder}/src
buildDirectory: ${workspaceFolder}/out/${buildType}
preferredGenerators:
  - Ninja
  - Unix Makefiles
configureSettings:
  ENABLE_WARNINGS: "ON"
buildEnvironment:
  VERBOSE: "1"
parallelJobs: 8
kit: GCC 13.2.0
variant:
  buildType: release
`

func fromYAML(t *testing.T, text string) *Settings {
	t.Helper()

	v := viper.New()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(bytes.NewBufferString(text)))

	settings, err := FromViper(v)
	require.NoError(t, err)

	return settings
}

func TestDefaults(t *testing.T) {
	settings := Defaults()

	assert.Equal(t, "${workspaceFolder}", settings.SourceDirectory)
	assert.Equal(t, "${workspaceFolder}/build", settings.BuildDirectory)
	assert.Greater(t, settings.ParallelJobs, 0)
	assert.False(t, settings.PresetsEnabled())
}

func TestFromViper(t *testing.T) {
	settings := fromYAML(t, sampleConfig)

	assert.Equal(t, "${workspaceFolder}/src", settings.SourceDirectory)
	assert.Equal(t, "${workspaceFolder}/out/${buildType}", settings.BuildDirectory)
	assert.Equal(t, []string{"Ninja", "Unix Makefiles"}, settings.PreferredGenerators)
	assert.Equal(t, "ON", settings.ConfigureSettings["ENABLE_WARNINGS"])
	assert.Equal(t, "1", settings.BuildEnvironment["VERBOSE"])
	assert.Equal(t, 8, settings.ParallelJobs)
	assert.Equal(t, "GCC 13.2.0", settings.Kit)
	assert.Equal(t, map[string]string{"buildType": "release"}, settings.Variant)
}

func TestFromViper_UnsetKeysKeepDefaults(t *testing.T) {
	settings := fromYAML(t, "kit: Clang\n")

	assert.Equal(t, "${workspaceFolder}", settings.SourceDirectory)
	assert.Greater(t, settings.ParallelJobs, 0)
}

func TestPresetsEnabled(t *testing.T) {
	settings := fromYAML(t, "presetsFile: ${workspaceFolder}/CMakePresets.json\nconfigurePreset: debug\n")

	assert.True(t, settings.PresetsEnabled())
	assert.Equal(t, "debug", settings.ConfigurePreset)
}
