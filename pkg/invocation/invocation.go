// Package invocation turns the active configuration surface — presets, or kit plus
// variant plus legacy settings — into concrete command lines and layered environments for
// each cmake operation. It is pure computation: nothing here spawns a process.
package invocation

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/cmakekit/cmakekit/pkg/cmake"
	"github.com/cmakekit/cmakekit/pkg/environment"
	"github.com/cmakekit/cmakekit/pkg/expand"
	"github.com/cmakekit/cmakekit/pkg/kits"
	"github.com/cmakekit/cmakekit/pkg/presets"
	"github.com/cmakekit/cmakekit/pkg/settings"
	"github.com/cmakekit/cmakekit/pkg/utils"
	"github.com/cmakekit/cmakekit/pkg/variants"
)

// Operation names the cmake operation an environment or command line is computed for
type Operation int

const (
	Operation_Configure Operation = iota
	Operation_Build
	Operation_Test
	Operation_Package
	Operation_Install
)

func (op Operation) String() string {
	switch op {
	case Operation_Configure:
		return "configure"
	case Operation_Build:
		return "build"
	case Operation_Test:
		return "test"
	case Operation_Package:
		return "package"
	case Operation_Install:
		return "install"
	default:
		return "unknown"
	}
}

// Invocation is one fully expanded command the driver can hand to the spawner
type Invocation struct {
	Program string
	Args    []string

	// Dir is the working directory the command expects
	Dir string

	Env *environment.Environment

	Generator *cmake.Generator
	BinaryDir string
}

// Inputs is the configuration surface a resolution reads. The driver owns one and keeps
// it current across kit, preset and variant changes
type Inputs struct {
	CMake    *cmake.Executable
	Settings *settings.Settings

	// Kit and Variant drive legacy mode. Ignored when ConfigurePreset is set
	Kit     *kits.Kit
	Variant *variants.Selection

	// Active presets. A nil ConfigurePreset means legacy settings mode
	ConfigurePreset *presets.ConfigurePreset
	BuildPreset     *presets.BuildPreset
	TestPreset      *presets.TestPreset
	PackagePreset   *presets.PackagePreset

	// Generator is the generator resolved for the current configure cycle
	Generator *cmake.Generator

	// Vars are the ${...} expansion variables (workspaceFolder, buildType, ...)
	Vars map[string]string

	// BaseEnv is the process environment layer. Nil captures the OS environment
	BaseEnv *environment.Environment

	// EnvFileOverlay is the parsed envFile, folded into the general settings layer
	EnvFileOverlay environment.Overlay

	Logger *slog.Logger
}

// PresetsActive reports whether resolution uses presets instead of kit and variant
func (in *Inputs) PresetsActive() bool {
	return in.ConfigurePreset != nil
}

// Clone returns a copy that resolution can read while the original keeps changing. The
// expansion variables are copied; selection pointers are replaced wholesale on change,
// never mutated in place, so the copy shares them
func (in *Inputs) Clone() *Inputs {
	clone := *in
	clone.Vars = utils.CopyMap(in.Vars)

	return &clone
}

func (in *Inputs) logger() *slog.Logger {
	if in.Logger != nil {
		return in.Logger
	}

	return slog.Default()
}

func (in *Inputs) expandOptions() expand.Options {
	return expand.Options{Mode: expand.Mode_Permissive, Logger: in.Logger}
}

func (in *Inputs) expandString(template string, env *environment.Environment) (string, error) {
	return expand.Expand(template, &expand.Context{Vars: in.Vars, Env: env}, in.expandOptions())
}

// Environment computes the layered environment for one operation. Layers merge left to
// right, each expanded against the accumulation of all prior layers so a later layer can
// reference ${env:PATH} built up by an earlier one:
// process < kit < general settings (+envFile) < operation settings < preset | variant
func (in *Inputs) Environment(op Operation) (*environment.Environment, error) {
	env := in.BaseEnv
	if env == nil {
		env = environment.FromOS(environment.KeyCasing_Platform)
	}
	env = env.Clone()

	apply := func(overlay environment.Overlay) error {
		if len(overlay) == 0 {
			return nil
		}

		expanded, err := expand.Overlay(overlay, &expand.Context{Vars: in.Vars, Env: env}, in.expandOptions())
		if err != nil {
			return err
		}

		env = env.Merge(environment.MergeOptions{}, expanded)
		return nil
	}

	layers := []environment.Overlay{}

	if in.Kit != nil && !in.PresetsActive() {
		layers = append(layers, environment.OverlayFromMap(in.Kit.EnvironmentVariables))
	}

	if in.Settings != nil {
		layers = append(layers, environment.OverlayFromMap(in.Settings.Environment))
	}

	layers = append(layers, in.EnvFileOverlay)

	if in.Settings != nil {
		switch op {
		case Operation_Configure:
			layers = append(layers, environment.OverlayFromMap(in.Settings.ConfigureEnvironment))
		case Operation_Build, Operation_Install:
			layers = append(layers, environment.OverlayFromMap(in.Settings.BuildEnvironment))
		case Operation_Test:
			layers = append(layers, environment.OverlayFromMap(in.Settings.TestEnvironment))
		case Operation_Package:
			layers = append(layers, environment.OverlayFromMap(in.Settings.CPackEnvironment))
		}
	}

	if in.PresetsActive() {
		// Operation presets layer on top of the configure preset's environment
		layers = append(layers, environment.Overlay(in.ConfigurePreset.Environment))

		switch op {
		case Operation_Build, Operation_Install:
			if in.BuildPreset != nil {
				layers = append(layers, environment.Overlay(in.BuildPreset.Environment))
			}
		case Operation_Test:
			if in.TestPreset != nil {
				layers = append(layers, environment.Overlay(in.TestPreset.Environment))
			}
		case Operation_Package:
			if in.PackagePreset != nil {
				layers = append(layers, environment.Overlay(in.PackagePreset.Environment))
			}
		}
	} else if in.Variant != nil {
		layers = append(layers, environment.Overlay(in.Variant.Env))
	}

	for _, layer := range layers {
		if err := apply(layer); err != nil {
			return nil, err
		}
	}

	return env, nil
}

// SourceDir returns the expanded source directory
func (in *Inputs) SourceDir() (string, error) {
	template := ""
	if in.Settings != nil {
		template = in.Settings.SourceDirectory
	}

	if template == "" {
		template = "${workspaceFolder}"
	}

	return in.expandString(template, in.BaseEnv)
}

// BinaryDir returns the expanded binary directory. An active configure preset's binaryDir
// wins over the settings template
func (in *Inputs) BinaryDir() (string, error) {
	template := ""

	if in.PresetsActive() && in.ConfigurePreset.BinaryDir != "" {
		template = in.ConfigurePreset.BinaryDir
	} else if in.Settings != nil {
		template = in.Settings.BuildDirectory
	}

	if template == "" {
		template = "${workspaceFolder}/build"
	}

	return in.expandString(template, in.BaseEnv)
}

// InstallDir returns the expanded install prefix, empty when none is configured
func (in *Inputs) InstallDir() (string, error) {
	template := ""

	if in.PresetsActive() && in.ConfigurePreset.InstallDir != "" {
		template = in.ConfigurePreset.InstallDir
	} else if in.Settings != nil {
		template = in.Settings.InstallPrefix
	}

	if template == "" {
		return "", nil
	}

	return in.expandString(template, in.BaseEnv)
}

// ResolveGenerator picks the generator for a configure cycle. Preset mode trusts the
// preset verbatim; legacy mode tries the kit's preference, then a pinned settings
// generator, then probes the preference list
func (in *Inputs) ResolveGenerator(selector *cmake.Selector) (*cmake.Generator, error) {
	if in.PresetsActive() {
		if in.ConfigurePreset.Generator == "" {
			return nil, utils.MakeError(cmake.ErrNoGenerator, "configure preset %q names no generator", in.ConfigurePreset.Name)
		}

		return &cmake.Generator{
			Name:     in.ConfigurePreset.Generator,
			Platform: in.ConfigurePreset.Architecture,
			Toolset:  in.ConfigurePreset.Toolset,
		}, nil
	}

	if in.Kit != nil && in.Kit.PreferredGenerator != nil {
		preferred := *in.Kit.PreferredGenerator
		return &preferred, nil
	}

	if selector == nil {
		selector = &cmake.Selector{Logger: in.Logger}
	}

	if in.Settings != nil && in.Settings.Generator != "" {
		return &cmake.Generator{
			Name:     in.Settings.Generator,
			Platform: in.Settings.Platform,
			Toolset:  in.Settings.Toolset,
		}, nil
	}

	var preference []cmake.Generator
	if in.Settings != nil {
		preference = utils.Map(in.Settings.PreferredGenerators, func(name string) cmake.Generator {
			return cmake.Generator{Name: name, Platform: in.Settings.Platform, Toolset: in.Settings.Toolset}
		})
	}

	if len(preference) == 0 {
		preference = cmake.DefaultPreference(selector.Platform)
	}

	generator := selector.FindBest(preference)
	if generator == nil {
		return nil, utils.MakeError(cmake.ErrNoGenerator, "tried %v", utils.FormatSlice(preference, ", "))
	}

	return generator, nil
}

func generatorArgs(generator *cmake.Generator) []string {
	args := []string{"-G", generator.Name}

	if generator.Platform != "" {
		args = append(args, "-A", generator.Platform)
	}

	if generator.Toolset != "" {
		args = append(args, "-T", generator.Toolset)
	}

	return args
}

func defineArg(key, tag, value string) string {
	if tag != "" {
		return fmt.Sprintf("-D%s:%s=%s", key, tag, value)
	}

	return fmt.Sprintf("-D%s=%s", key, value)
}

// ResolveConfigure computes the full configure command line. The generator must already
// be resolved into in.Generator
func (in *Inputs) ResolveConfigure(extraArgs []string) (*Invocation, error) {
	if in.Generator == nil {
		return nil, utils.MakeError(cmake.ErrNoGenerator, "generator not resolved before configure")
	}

	sourceDir, err := in.SourceDir()
	if err != nil {
		return nil, err
	}

	binaryDir, err := in.BinaryDir()
	if err != nil {
		return nil, err
	}

	env, err := in.Environment(Operation_Configure)
	if err != nil {
		return nil, err
	}

	context := &expand.Context{Vars: in.Vars, Env: env}

	var args []string

	if in.CMake.Capabilities().SourceBuildDirFlags {
		args = append(args, "-S", sourceDir, "-B", binaryDir)
	} else {
		args = append(args, "-H"+sourceDir, "-B"+binaryDir)
	}

	args = append(args, generatorArgs(in.Generator)...)

	if in.PresetsActive() {
		args = append(args, in.presetCacheArgs(context)...)
	} else {
		legacy, err := in.legacyCacheArgs(context)
		if err != nil {
			return nil, err
		}

		args = append(args, legacy...)
	}

	if in.Settings != nil && len(in.Settings.ConfigureSettings) > 0 {
		if in.PresetsActive() {
			in.logger().Warn("layering configureSettings on top of the active configure preset",
				"preset", in.ConfigurePreset.Name)
		}

		for _, key := range utils.SortedKeys(in.Settings.ConfigureSettings) {
			value, err := expand.Expand(in.Settings.ConfigureSettings[key], context, in.expandOptions())
			if err != nil {
				return nil, err
			}

			args = append(args, defineArg(key, "", value))
		}
	}

	if in.Settings != nil && len(in.Settings.ConfigureArgs) > 0 {
		if in.PresetsActive() {
			in.logger().Warn("layering configureArgs on top of the active configure preset",
				"preset", in.ConfigurePreset.Name)
		}

		expanded, err := expand.Slice(in.Settings.ConfigureArgs, context, in.expandOptions())
		if err != nil {
			return nil, err
		}

		args = append(args, expanded...)
	}

	args = append(args, extraArgs...)

	return &Invocation{
		Program:   in.CMake.Path(),
		Args:      args,
		Env:       env,
		Generator: in.Generator,
		BinaryDir: binaryDir,
	}, nil
}

func (in *Inputs) presetCacheArgs(context *expand.Context) []string {
	preset := in.ConfigurePreset
	var args []string

	if preset.ToolchainFile != "" {
		args = append(args, defineArg("CMAKE_TOOLCHAIN_FILE", "FILEPATH", preset.ToolchainFile))
	}

	for _, key := range utils.SortedKeys(preset.CacheVariables) {
		tag, value := presets.CacheVariableString(preset.CacheVariables[key])

		expanded, err := expand.Expand(value, context, in.expandOptions())
		if err == nil {
			value = expanded
		}

		args = append(args, defineArg(key, tag, value))
	}

	if preset.WarningsAsErrors {
		args = append(args, "-Werror=dev")
	}

	if preset.DebugOutput {
		args = append(args, "--debug-output")
	}

	if preset.TraceOutput {
		args = append(args, "--trace")
	}

	return args
}

func (in *Inputs) legacyCacheArgs(context *expand.Context) ([]string, error) {
	var args []string

	if in.Kit != nil {
		expanded, err := expand.Slice(in.Kit.ConfigureArgs(), context, in.expandOptions())
		if err != nil {
			return nil, err
		}

		args = append(args, expanded...)
	}

	if in.Variant != nil {
		if in.Variant.BuildType != "" && !in.Generator.IsMultiConfig() {
			args = append(args, defineArg("CMAKE_BUILD_TYPE", "", in.Variant.BuildType))
		}

		if in.Variant.Linkage == "shared" {
			args = append(args, defineArg("BUILD_SHARED_LIBS", "BOOL", "ON"))
		}

		for _, key := range utils.SortedKeys(in.Variant.Settings) {
			value, err := expand.Expand(in.Variant.Settings[key], context, in.expandOptions())
			if err != nil {
				return nil, err
			}

			args = append(args, defineArg(key, "", value))
		}
	}

	installDir, err := in.InstallDir()
	if err != nil {
		return nil, err
	}

	if installDir != "" {
		args = append(args, defineArg("CMAKE_INSTALL_PREFIX", "PATH", installDir))
	}

	return args, nil
}

// buildConfig returns the multi-config configuration name for build-like operations
func (in *Inputs) buildConfig() string {
	if in.PresetsActive() {
		if in.BuildPreset != nil && in.BuildPreset.Configuration != "" {
			return in.BuildPreset.Configuration
		}

		return ""
	}

	if in.Variant != nil {
		return in.Variant.BuildType
	}

	return ""
}

func (in *Inputs) jobs(presetJobs int) int {
	if presetJobs > 0 {
		return presetJobs
	}

	if in.Settings != nil {
		return in.Settings.ParallelJobs
	}

	return 0
}

// ResolveBuild computes the build command line. Explicit targets win over the build
// preset's targets, which win over the settings-level default target. Nil is returned
// with no error when there is nothing to build with — the driver maps that to its typed
// no-build-command failure
func (in *Inputs) ResolveBuild(targets []string) (*Invocation, error) {
	if in.Generator == nil {
		return nil, nil
	}

	binaryDir, err := in.BinaryDir()
	if err != nil {
		return nil, err
	}

	env, err := in.Environment(Operation_Build)
	if err != nil {
		return nil, err
	}

	context := &expand.Context{Vars: in.Vars, Env: env}

	args := []string{"--build", binaryDir}

	config := in.buildConfig()
	if config != "" && in.Generator.IsMultiConfig() {
		args = append(args, "--config", config)
	}

	presetJobs := 0

	if len(targets) == 0 {
		if in.PresetsActive() && in.BuildPreset != nil {
			targets = in.BuildPreset.Targets
		} else if in.Settings != nil && in.Settings.DefaultTarget != "" {
			targets = []string{in.Settings.DefaultTarget}
		}
	}

	if len(targets) > 0 {
		args = append(args, "--target")
		args = append(args, targets...)
	}

	if in.PresetsActive() && in.BuildPreset != nil {
		presetJobs = in.BuildPreset.Jobs

		if in.BuildPreset.CleanFirst {
			args = append(args, "--clean-first")
		}

		if in.BuildPreset.Verbose {
			args = append(args, "--verbose")
		}
	}

	if in.Settings != nil && len(in.Settings.BuildArgs) > 0 {
		expanded, err := expand.Slice(in.Settings.BuildArgs, context, in.expandOptions())
		if err != nil {
			return nil, err
		}

		args = append(args, expanded...)
	}

	jobs := in.jobs(presetJobs)

	var native []string

	if in.CMake.Capabilities().ParallelJobs {
		if jobs > 0 {
			args = append(args, "--parallel", strconv.Itoa(jobs))
		}
	} else {
		native = append(native, cmake.NativeJobsArgs(in.Generator.Name, jobs)...)
	}

	if in.PresetsActive() && in.BuildPreset != nil {
		native = append(native, in.BuildPreset.NativeToolOptions...)
	}

	if in.Settings != nil {
		native = append(native, in.Settings.BuildToolArgs...)
	}

	if len(native) > 0 {
		args = append(args, "--")
		args = append(args, native...)
	}

	return &Invocation{
		Program:   in.CMake.Path(),
		Args:      args,
		Env:       env,
		Generator: in.Generator,
		BinaryDir: binaryDir,
	}, nil
}

// ResolveTest computes the ctest command line, run from the binary directory
func (in *Inputs) ResolveTest(extraArgs []string) (*Invocation, error) {
	binaryDir, err := in.BinaryDir()
	if err != nil {
		return nil, err
	}

	env, err := in.Environment(Operation_Test)
	if err != nil {
		return nil, err
	}

	context := &expand.Context{Vars: in.Vars, Env: env}

	var args []string

	presetJobs := 0
	config := in.buildConfig()

	if in.PresetsActive() && in.TestPreset != nil {
		presetJobs = in.TestPreset.Jobs

		if in.TestPreset.Configuration != "" {
			config = in.TestPreset.Configuration
		}

		if in.TestPreset.OutputOnFailure {
			args = append(args, "--output-on-failure")
		}
	}

	if config != "" {
		args = append(args, "-C", config)
	}

	if jobs := in.jobs(presetJobs); jobs > 1 {
		args = append(args, "-j", strconv.Itoa(jobs))
	}

	if in.PresetsActive() && in.TestPreset != nil {
		args = append(args, in.TestPreset.Args...)
	}

	if in.Settings != nil && len(in.Settings.CTestArgs) > 0 {
		expanded, err := expand.Slice(in.Settings.CTestArgs, context, in.expandOptions())
		if err != nil {
			return nil, err
		}

		args = append(args, expanded...)
	}

	args = append(args, extraArgs...)

	return &Invocation{
		Program:   in.CMake.CTestPath(),
		Args:      args,
		Dir:       binaryDir,
		Env:       env,
		Generator: in.Generator,
		BinaryDir: binaryDir,
	}, nil
}

// ResolvePackage computes the cpack command line, run from the binary directory
func (in *Inputs) ResolvePackage(extraArgs []string) (*Invocation, error) {
	binaryDir, err := in.BinaryDir()
	if err != nil {
		return nil, err
	}

	env, err := in.Environment(Operation_Package)
	if err != nil {
		return nil, err
	}

	context := &expand.Context{Vars: in.Vars, Env: env}

	var args []string

	if in.PresetsActive() && in.PackagePreset != nil {
		preset := in.PackagePreset

		if len(preset.Generators) > 0 {
			args = append(args, "-G", utils.FormatSlice(preset.Generators, ";"))
		}

		if len(preset.Configurations) > 0 {
			args = append(args, "-C", utils.FormatSlice(preset.Configurations, ";"))
		}

		if preset.PackageName != "" {
			args = append(args, "-P", preset.PackageName)
		}

		if preset.PackageDirectory != "" {
			directory, err := expand.Expand(preset.PackageDirectory, context, in.expandOptions())
			if err != nil {
				return nil, err
			}

			args = append(args, "-B", directory)
		}
	} else if config := in.buildConfig(); config != "" {
		args = append(args, "-C", config)
	}

	if in.Settings != nil && len(in.Settings.CPackArgs) > 0 {
		expanded, err := expand.Slice(in.Settings.CPackArgs, context, in.expandOptions())
		if err != nil {
			return nil, err
		}

		args = append(args, expanded...)
	}

	args = append(args, extraArgs...)

	return &Invocation{
		Program:   in.CMake.CPackPath(),
		Args:      args,
		Dir:       binaryDir,
		Env:       env,
		Generator: in.Generator,
		BinaryDir: binaryDir,
	}, nil
}

// ResolveInstall computes the install command line: `cmake --install` on versions that
// have it, a build of the install target otherwise
func (in *Inputs) ResolveInstall() (*Invocation, error) {
	if !in.CMake.Capabilities().InstallCommand {
		return in.ResolveBuild([]string{"install"})
	}

	binaryDir, err := in.BinaryDir()
	if err != nil {
		return nil, err
	}

	env, err := in.Environment(Operation_Install)
	if err != nil {
		return nil, err
	}

	args := []string{"--install", binaryDir}

	if config := in.buildConfig(); config != "" && in.Generator != nil && in.Generator.IsMultiConfig() {
		args = append(args, "--config", config)
	}

	installDir, err := in.InstallDir()
	if err != nil {
		return nil, err
	}

	if installDir != "" {
		args = append(args, "--prefix", installDir)
	}

	return &Invocation{
		Program:   in.CMake.Path(),
		Args:      args,
		Env:       env,
		Generator: in.Generator,
		BinaryDir: binaryDir,
	}, nil
}
