// Package settings holds the legacy (non-preset) configuration surface, loaded through
// viper so values come from the cmakekit.yaml config file or matching environment
// variables interchangeably.
package settings

import (
	"runtime"

	"github.com/spf13/viper"
)

// Settings is everything the resolver needs in legacy mode. Template values may contain
// ${...} references that are expanded against the driver's context before use
type Settings struct {
	// CMakePath locates the cmake executable, empty meaning PATH lookup
	CMakePath string `mapstructure:"cmakePath"`

	// SourceDirectory is where CMakeLists.txt lives
	SourceDirectory string `mapstructure:"sourceDirectory"`

	// BuildDirectory is where the buildsystem is generated
	BuildDirectory string `mapstructure:"buildDirectory"`

	// InstallPrefix is passed as CMAKE_INSTALL_PREFIX when set
	InstallPrefix string `mapstructure:"installPrefix"`

	// Generator pins a single generator, skipping preference probing
	Generator string `mapstructure:"generator"`

	// PreferredGenerators are tried in order when Generator is empty
	PreferredGenerators []string `mapstructure:"preferredGenerators"`

	// Platform and Toolset annotate IDE generators
	Platform string `mapstructure:"platform"`
	Toolset  string `mapstructure:"toolset"`

	// ConfigureArgs are extra arguments appended to every configure
	ConfigureArgs []string `mapstructure:"configureArgs"`

	// ConfigureSettings are extra -D cache variables
	ConfigureSettings map[string]string `mapstructure:"configureSettings"`

	// BuildArgs go to `cmake --build` before the -- separator, BuildToolArgs after it
	BuildArgs     []string `mapstructure:"buildArgs"`
	BuildToolArgs []string `mapstructure:"buildToolArgs"`

	// CTestArgs and CPackArgs are appended to test and package invocations
	CTestArgs []string `mapstructure:"ctestArgs"`
	CPackArgs []string `mapstructure:"cpackArgs"`

	// DefaultTarget builds instead of "all" when no explicit targets are given
	DefaultTarget string `mapstructure:"defaultTarget"`

	// ParallelJobs caps build parallelism; 0 means the host CPU count
	ParallelJobs int `mapstructure:"parallelJobs"`

	// Environment layers, merged in this order after the process and kit environments
	Environment          map[string]string `mapstructure:"environment"`
	ConfigureEnvironment map[string]string `mapstructure:"configureEnvironment"`
	BuildEnvironment     map[string]string `mapstructure:"buildEnvironment"`
	TestEnvironment      map[string]string `mapstructure:"testEnvironment"`
	CPackEnvironment     map[string]string `mapstructure:"cpackEnvironment"`

	// EnvFile names a dotenv file folded into the general environment layer
	EnvFile string `mapstructure:"envFile"`

	// CopyCompileCommands copies compile_commands.json there after each configure
	CopyCompileCommands string `mapstructure:"copyCompileCommands"`

	// KitsFile overrides the default kits file location
	KitsFile string `mapstructure:"kitsFile"`

	// Kit names the active kit from the kits file
	Kit string `mapstructure:"kit"`

	// Variant maps variant dimension names to choices
	Variant map[string]string `mapstructure:"variant"`

	// Presets mode: the presets file plus the active preset per operation. An empty
	// ConfigurePreset means legacy settings mode
	PresetsFile     string `mapstructure:"presetsFile"`
	ConfigurePreset string `mapstructure:"configurePreset"`
	BuildPreset     string `mapstructure:"buildPreset"`
	TestPreset      string `mapstructure:"testPreset"`
	PackagePreset   string `mapstructure:"packagePreset"`

	// ConfigureOnOpen requests an automatic configure when a workspace is opened
	ConfigureOnOpen bool `mapstructure:"configureOnOpen"`
}

// Defaults returns the settings used when nothing is configured
func Defaults() *Settings {
	return &Settings{
		SourceDirectory: "${workspaceFolder}",
		BuildDirectory:  "${workspaceFolder}/build",
		ParallelJobs:    runtime.NumCPU(),
	}
}

// FromViper decodes settings from a viper instance on top of the defaults
func FromViper(v *viper.Viper) (*Settings, error) {
	settings := Defaults()

	if err := v.Unmarshal(settings); err != nil {
		return nil, err
	}

	if settings.ParallelJobs <= 0 {
		settings.ParallelJobs = runtime.NumCPU()
	}

	return settings, nil
}

// PresetsEnabled reports whether the workspace runs in preset mode. In preset mode the
// kit and variant settings are ignored
func (s *Settings) PresetsEnabled() bool {
	return s.PresetsFile != ""
}
