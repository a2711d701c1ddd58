package cmake

import (
	"golang.org/x/mod/semver"
)

// Capabilities describes which command line features a cmake version supports. Callers
// branch on these fields instead of comparing raw version strings.
type Capabilities struct {
	// cmake --build accepts --parallel (3.12)
	ParallelJobs bool

	// -S and -B replace the positional source/build directory arguments (3.13)
	SourceBuildDirFlags bool

	// The file-api query protocol replaces cmake-server for code model retrieval (3.14)
	FileAPI bool

	// cmake --install replaces building the install target directly (3.15)
	InstallCommand bool

	// CMakePresets.json and --preset are understood (3.19)
	Presets bool

	// cmake -E server is available; the server mode was removed in 3.20
	ServerMode bool
}

// DetectCapabilities derives the feature set from a "major.minor.patch" version string.
// An unparseable version yields no capabilities.
func DetectCapabilities(version string) Capabilities {
	v := "v" + version
	if !semver.IsValid(v) {
		return Capabilities{}
	}

	atLeast := func(minimum string) bool {
		return semver.Compare(v, "v"+minimum) >= 0
	}

	return Capabilities{
		ParallelJobs:        atLeast("3.12.0"),
		SourceBuildDirFlags: atLeast("3.13.0"),
		FileAPI:             atLeast("3.14.0"),
		InstallCommand:      atLeast("3.15.0"),
		Presets:             atLeast("3.19.0"),
		ServerMode:          atLeast("3.7.0") && !atLeast("3.20.0"),
	}
}
