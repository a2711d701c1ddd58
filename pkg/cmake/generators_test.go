package cmake

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProber map[string]bool

func (p fakeProber) ToolPresent(tool string) bool {
	return p[tool]
}

func TestGenerator_String(t *testing.T) {
	tests := []struct {
		generator Generator
		expected  string
	}{
		{Generator{Name: "Ninja"}, "Ninja"},
		{Generator{Name: "Visual Studio 17 2022", Platform: "x64"}, "Visual Studio 17 2022 (x64)"},
		{Generator{Name: "Visual Studio 16 2019", Platform: "Win32", Toolset: "v142"}, "Visual Studio 16 2019 (Win32) [v142]"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.generator.String())
		})
	}
}

func TestGenerator_IsMultiConfig(t *testing.T) {
	assert.True(t, Generator{Name: "Visual Studio 17 2022"}.IsMultiConfig())
	assert.True(t, Generator{Name: "Xcode"}.IsMultiConfig())
	assert.True(t, Generator{Name: "Ninja Multi-Config"}.IsMultiConfig())
	assert.False(t, Generator{Name: "Ninja"}.IsMultiConfig())
	assert.False(t, Generator{Name: "Unix Makefiles"}.IsMultiConfig())
}

func TestSelector_FindBest(t *testing.T) {
	preference := []Generator{
		{Name: "Ninja"},
		{Name: "Unix Makefiles"},
	}

	t.Run("first present tool wins", func(t *testing.T) {
		selector := &Selector{
			Prober:   fakeProber{"ninja": true, "make": true},
			Platform: "linux",
		}

		best := selector.FindBest(preference)
		require.NotNil(t, best)
		assert.Equal(t, "Ninja", best.Name)
	})

	t.Run("falls through to next candidate", func(t *testing.T) {
		selector := &Selector{
			Prober:   fakeProber{"make": true},
			Platform: "linux",
		}

		best := selector.FindBest(preference)
		require.NotNil(t, best)
		assert.Equal(t, "Unix Makefiles", best.Name)
	})

	t.Run("nothing available", func(t *testing.T) {
		selector := &Selector{
			Prober:   fakeProber{},
			Platform: "linux",
		}

		assert.Nil(t, selector.FindBest(preference))
	})

	t.Run("deterministic for fixed probe answers", func(t *testing.T) {
		selector := &Selector{
			Prober:   fakeProber{"ninja": true, "make": true},
			Platform: "linux",
		}

		first := selector.FindBest(preference)
		for i := 0; i < 10; i++ {
			assert.Equal(t, first, selector.FindBest(preference))
		}
	})
}

func TestSelector_FindBest_IDEGenerators(t *testing.T) {
	t.Run("visual studio needs no probe on windows", func(t *testing.T) {
		selector := &Selector{
			Prober:   fakeProber{},
			Platform: "windows",
		}

		best := selector.FindBest([]Generator{
			{Name: "Visual Studio 17 2022", Platform: "x64", Toolset: "v143"},
		})
		require.NotNil(t, best)
		assert.Equal(t, "Visual Studio 17 2022", best.Name)
		// the explicit platform and toolset from the preference entry survive
		assert.Equal(t, "x64", best.Platform)
		assert.Equal(t, "v143", best.Toolset)
	})

	t.Run("visual studio rejected off windows", func(t *testing.T) {
		selector := &Selector{
			Prober:   fakeProber{"ninja": true},
			Platform: "linux",
		}

		best := selector.FindBest([]Generator{
			{Name: "Visual Studio 16 2019"},
			{Name: "Ninja"},
		})
		require.NotNil(t, best)
		assert.Equal(t, "Ninja", best.Name)
	})

	t.Run("xcode only on darwin", func(t *testing.T) {
		darwin := &Selector{Prober: fakeProber{}, Platform: "darwin"}
		linux := &Selector{Prober: fakeProber{}, Platform: "linux"}

		assert.NotNil(t, darwin.FindBest([]Generator{{Name: "Xcode"}}))
		assert.Nil(t, linux.FindBest([]Generator{{Name: "Xcode"}}))
	})
}

func TestSelector_FindBest_OptimisticKnownGenerator(t *testing.T) {
	selector := &Selector{
		Prober:   fakeProber{},
		Platform: "linux",
	}

	best := selector.FindBest([]Generator{{Name: "Green Hills MULTI"}})
	require.NotNil(t, best)
	assert.Equal(t, "Green Hills MULTI", best.Name)

	assert.Nil(t, selector.FindBest([]Generator{{Name: "Completely Made Up"}}))
}

func TestDefaultPreference(t *testing.T) {
	t.Run("linux", func(t *testing.T) {
		names := []string{}
		for _, g := range DefaultPreference("linux") {
			names = append(names, g.Name)
		}
		assert.Equal(t, []string{"Ninja", "Unix Makefiles"}, names)
	})

	t.Run("windows includes visual studio", func(t *testing.T) {
		preference := DefaultPreference("windows")
		assert.Equal(t, "Ninja", preference[0].Name)

		found := false
		for _, g := range preference {
			if visualStudioPattern.MatchString(g.Name) {
				found = true
			}
		}
		assert.True(t, found)
	})

	t.Run("darwin includes xcode", func(t *testing.T) {
		preference := DefaultPreference("darwin")
		assert.Equal(t, "Xcode", preference[len(preference)-1].Name)
	})
}
