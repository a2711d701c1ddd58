package environment

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvironment_FirstSeenCasingWins(t *testing.T) {
	env := New(KeyCasing_Insensitive)

	env.Set("Path", "/usr/bin")
	env.Set("PATH", "/opt/bin")

	value, ok := env.Get("path")
	assert.True(t, ok)
	assert.Equal(t, "/opt/bin", value)
	assert.Equal(t, []string{"Path"}, env.Keys())
	assert.Equal(t, []string{"Path=/opt/bin"}, env.Slice())
}

func TestEnvironment_CaseSensitiveKeysAreDistinct(t *testing.T) {
	env := New(KeyCasing_Sensitive)

	env.Set("Path", "/usr/bin")
	env.Set("PATH", "/opt/bin")

	assert.Equal(t, 2, env.Len())

	value, ok := env.Get("Path")
	assert.True(t, ok)
	assert.Equal(t, "/usr/bin", value)
}

func TestEnvironment_FromSliceKeepsOrder(t *testing.T) {
	env := FromSlice([]string{"B=2", "A=1", "C=3"}, KeyCasing_Sensitive)

	assert.Equal(t, []string{"B", "A", "C"}, env.Keys())
	assert.Equal(t, []string{"B=2", "A=1", "C=3"}, env.Slice())
}

func TestEnvironment_FromSliceSkipsMalformedPairs(t *testing.T) {
	env := FromSlice([]string{"A=1", "novalue", "=empty"}, KeyCasing_Sensitive)

	assert.Equal(t, []string{"A"}, env.Keys())
}

func TestEnvironment_MergeLaterLayerWins(t *testing.T) {
	base := FromSlice([]string{"CC=gcc", "CXX=g++"}, KeyCasing_Sensitive)

	merged := base.Merge(MergeOptions{},
		Overlay{"CC": Value("clang")},
		Overlay{"CC": Value("clang-18"), "LD": Value("lld")},
	)

	value, _ := merged.Get("CC")
	assert.Equal(t, "clang-18", value)

	value, _ = merged.Get("CXX")
	assert.Equal(t, "g++", value)

	value, _ = merged.Get("LD")
	assert.Equal(t, "lld", value)

	// the receiver is never modified
	value, _ = base.Get("CC")
	assert.Equal(t, "gcc", value)
}

func TestEnvironment_MergeMissingKeyIsNoChange(t *testing.T) {
	base := FromSlice([]string{"CC=gcc"}, KeyCasing_Sensitive)

	merged := base.Merge(MergeOptions{}, Overlay{"CXX": Value("g++")})

	value, ok := merged.Get("CC")
	assert.True(t, ok)
	assert.Equal(t, "gcc", value)
}

func TestEnvironment_MergeNullDeletes(t *testing.T) {
	base := FromSlice([]string{"CC=gcc", "CXX=g++"}, KeyCasing_Sensitive)

	merged := base.Merge(MergeOptions{}, Overlay{"CXX": nil})

	assert.False(t, merged.Has("CXX"))
	assert.Equal(t, []string{"CC"}, merged.Keys())
	assert.NotContains(t, merged.Slice(), "CXX=g++")
}

func TestEnvironment_MergePreserveNullKeepsMarker(t *testing.T) {
	base := FromSlice([]string{"CC=gcc"}, KeyCasing_Sensitive)

	merged := base.Merge(MergeOptions{PreserveNull: true}, Overlay{"CXX": nil})

	assert.False(t, merged.Has("CXX"))
	assert.NotContains(t, merged.Keys(), "CXX")

	overlay := merged.AsOverlay()
	marker, present := overlay["CXX"]
	require.True(t, present)
	assert.Nil(t, marker)

	// a later merge without PreserveNull applies the recorded deletion
	applied := FromSlice([]string{"CXX=g++"}, KeyCasing_Sensitive).Merge(MergeOptions{}, overlay)
	assert.False(t, applied.Has("CXX"))
}

func TestEnvironment_MergeCaseInsensitiveOverride(t *testing.T) {
	base := FromSlice([]string{"Path=/usr/bin"}, KeyCasing_Insensitive)

	merged := base.Merge(MergeOptions{}, Overlay{"PATH": Value("/opt/bin")})

	assert.Equal(t, []string{"Path=/opt/bin"}, merged.Slice())
}

func TestEnvironment_UnsetRemovesOrderSlot(t *testing.T) {
	env := FromSlice([]string{"A=1", "B=2", "C=3"}, KeyCasing_Sensitive)

	env.Unset("B")
	assert.Equal(t, []string{"A", "C"}, env.Keys())

	env.Set("B", "4")
	assert.Equal(t, []string{"A", "C", "B"}, env.Keys())
}

func TestEnvironment_Prepend(t *testing.T) {
	env := FromSlice([]string{"PATH=/usr/bin"}, KeyCasing_Sensitive)

	env.Prepend("PATH", "/opt/cmake/bin", ":")

	value, _ := env.Get("PATH")
	assert.Equal(t, "/opt/cmake/bin:/usr/bin", value)

	env.Prepend("LD_LIBRARY_PATH", "/opt/cmake/lib", ":")

	value, _ = env.Get("LD_LIBRARY_PATH")
	assert.Equal(t, "/opt/cmake/lib", value)
}

func TestEnvironment_CloneIsIndependent(t *testing.T) {
	env := FromSlice([]string{"A=1"}, KeyCasing_Sensitive)

	clone := env.Clone()
	clone.Set("A", "2")
	clone.Set("B", "3")

	value, _ := env.Get("A")
	assert.Equal(t, "1", value)
	assert.False(t, env.Has("B"))
}

func TestLoadDotenv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("CC=clang\n# comment\nBUILD_TYPE=Debug\n"), 0644))

	overlay, err := LoadDotenv(path)
	require.NoError(t, err)

	require.NotNil(t, overlay["CC"])
	assert.Equal(t, "clang", *overlay["CC"])
	require.NotNil(t, overlay["BUILD_TYPE"])
	assert.Equal(t, "Debug", *overlay["BUILD_TYPE"])
}

func TestLoadDotenv_MissingFile(t *testing.T) {
	_, err := LoadDotenv(filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)
}
