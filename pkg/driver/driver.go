// Package driver holds the configure/build state machine at the heart of the toolkit:
// one Driver per workspace folder owns the active kit, presets, variant, generator and
// environment, decides when a configure or build may run, computes the fully expanded
// command lines and delegates execution to a pluggable Strategy. Consumers never touch
// driver state directly; they receive snapshots and subscribe to change events.
package driver

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cmakekit/cmakekit/pkg/cmake"
	"github.com/cmakekit/cmakekit/pkg/cmake/cache"
	"github.com/cmakekit/cmakekit/pkg/codemodel"
	"github.com/cmakekit/cmakekit/pkg/environment"
	"github.com/cmakekit/cmakekit/pkg/expand"
	"github.com/cmakekit/cmakekit/pkg/invocation"
	"github.com/cmakekit/cmakekit/pkg/kits"
	"github.com/cmakekit/cmakekit/pkg/presets"
	"github.com/cmakekit/cmakekit/pkg/proc"
	"github.com/cmakekit/cmakekit/pkg/settings"
	"github.com/cmakekit/cmakekit/pkg/telemetry"
	"github.com/cmakekit/cmakekit/pkg/variants"
)

// ErrDisposed reports an operation on a driver that was already disposed
var ErrDisposed = errors.New("driver is disposed")

// Options wires a Driver's collaborators. WorkspaceFolder and CMake are required;
// everything else has a working default
type Options struct {
	// WorkspaceFolder anchors ${workspaceFolder} expansion and owns this driver
	WorkspaceFolder string

	CMake    *cmake.Executable
	Settings *settings.Settings

	// Strategy executes configure cycles. Nil means a command-line strategy
	Strategy Strategy

	// Spawner runs build-like subprocesses (build, test, package, install)
	Spawner proc.Spawner

	FS       FileSystem
	Problems ProblemHandler
	Selector *cmake.Selector
	Logger   *slog.Logger
	Metrics  telemetry.Sink

	// ReusePolicy maps triggers to cache-reuse behavior. Nil means the default
	ReusePolicy ReusePolicy

	// BaseEnv overrides the captured process environment, for tests
	BaseEnv *environment.Environment
}

// Driver is the per-workspace-folder state machine. All entry points return typed
// Results instead of errors, and the configure/build mutual exclusion is enforced by an
// internal operation guard
type Driver struct {
	opts   Options
	logger *slog.Logger

	guard operationGuard

	// mu protects everything below. Operations additionally hold a guard slot, so the
	// critical sections here stay short
	mu              sync.Mutex
	inputs          *invocation.Inputs
	sourceDir       string
	binaryDir       string
	installDir      string
	generator       *cmake.Generator
	configuredOnce  bool
	settingsDirty   bool
	lastConfigure   time.Time
	trackedInputs   []string
	cacheSnapshot   *cache.Cache
	model           *codemodel.CodeModel
	currentProcess  proc.Process
	cancelRequested bool
	disposed        bool

	cacheUpdated     event[*cache.Cache]
	codeModelUpdated event[*codemodel.CodeModel]
	configureDone    event[Result]
}

// New builds a Driver and resolves its initial expansion state
func New(options Options) (*Driver, error) {
	if options.WorkspaceFolder == "" {
		return nil, errors.New("driver needs a workspace folder")
	}

	if options.CMake == nil {
		return nil, errors.New("driver needs a cmake executable")
	}

	if options.Settings == nil {
		options.Settings = settings.Defaults()
	}

	if options.Spawner == nil {
		options.Spawner = proc.ExecSpawner{}
	}

	if options.FS == nil {
		options.FS = OSFileSystem{}
	}

	if options.Problems == nil {
		options.Problems = NullProblemHandler{}
	}

	if options.Logger == nil {
		options.Logger = slog.Default()
	}

	if options.Metrics == nil {
		options.Metrics = telemetry.NullSink{}
	}

	if options.ReusePolicy == nil {
		options.ReusePolicy = DefaultReusePolicy()
	}

	if options.Strategy == nil {
		options.Strategy = NewCommandLineStrategy(options.Spawner, options.FS, options.Logger)
	}

	driver := &Driver{
		opts:   options,
		logger: options.Logger.With("workspace", options.WorkspaceFolder),
	}

	driver.inputs = &invocation.Inputs{
		CMake:    options.CMake,
		Settings: options.Settings,
		BaseEnv:  options.BaseEnv,
		Logger:   driver.logger,
	}

	if options.Settings.EnvFile != "" {
		if overlay, err := environment.LoadDotenv(options.Settings.EnvFile); err != nil {
			driver.logger.Warn("failed to load envFile", "path", options.Settings.EnvFile, "error", err)
		} else {
			driver.inputs.EnvFileOverlay = overlay
		}
	}

	if err := driver.refreshExpansion(); err != nil {
		return nil, err
	}

	return driver, nil
}

func workspaceHash(folder string) string {
	digest := fnv.New32a()
	digest.Write([]byte(folder))
	return fmt.Sprintf("%08x", digest.Sum32())
}

// refreshExpansion recomputes the expansion variables and every derived path. Workspace
// variables may change between operations, so each configure and build re-runs this
// before computing arguments
func (d *Driver) refreshExpansion() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.refreshExpansionLocked()
}

func (d *Driver) refreshExpansionLocked() error {
	vars := map[string]string{
		"workspaceFolder":         d.opts.WorkspaceFolder,
		"workspaceFolderBasename": filepath.Base(d.opts.WorkspaceFolder),
		"workspaceHash":           workspaceHash(d.opts.WorkspaceFolder),
		"buildType":               buildTypeFor(d.inputs),
	}

	if home, err := os.UserHomeDir(); err == nil {
		vars["userHome"] = home
	}

	if d.inputs.Kit != nil {
		vars["buildKit"] = d.inputs.Kit.Name
	}

	if d.generator != nil {
		vars["generator"] = d.generator.Name
	}

	d.inputs.Vars = vars

	sourceDir, err := d.inputs.SourceDir()
	if err != nil {
		return err
	}

	// Presets reference the resolved source directory as ${sourceDir}
	vars["sourceDir"] = sourceDir

	binaryDir, err := d.inputs.BinaryDir()
	if err != nil {
		return err
	}

	installDir, err := d.inputs.InstallDir()
	if err != nil {
		return err
	}

	d.sourceDir = sourceDir
	d.binaryDir = binaryDir
	d.installDir = installDir

	return nil
}

func buildTypeFor(in *invocation.Inputs) string {
	if in.PresetsActive() {
		if in.BuildPreset != nil && in.BuildPreset.Configuration != "" {
			return in.BuildPreset.Configuration
		}

		return "Debug"
	}

	if in.Variant != nil && in.Variant.BuildType != "" {
		return in.Variant.BuildType
	}

	return "Debug"
}

func (d *Driver) presetsEnabled(in *invocation.Inputs) bool {
	return d.opts.Settings.PresetsEnabled() || in.PresetsActive()
}

// snapshotForOperation copies the resolution surface under the lock, so command-line
// resolution runs unlocked while selection setters keep mutating the live inputs. An
// operation works entirely on the selection it observed at its start
func (d *Driver) snapshotForOperation() (snapshot *invocation.Inputs, sourceDir, binaryDir string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	snapshot = d.inputs.Clone()
	snapshot.Generator = d.generator

	return snapshot, d.sourceDir, d.binaryDir
}

func (d *Driver) isDisposed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.disposed
}

func (d *Driver) clearCancel() {
	d.mu.Lock()
	d.cancelRequested = false
	d.mu.Unlock()
}

func (d *Driver) wasCancelled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.cancelRequested
}

func (d *Driver) setCurrentProcess(process proc.Process) {
	d.mu.Lock()
	d.currentProcess = process
	d.mu.Unlock()
}

// Configure runs the full configure sequence for the given trigger. Every failure mode
// is folded into the typed Result; no error ever escapes
func (d *Driver) Configure(ctx context.Context, trigger Trigger, extraArgs []string, consumer proc.OutputConsumer) Result {
	return d.configure(ctx, trigger, extraArgs, consumer, false)
}

// CleanConfigure deletes the cache and CMakeFiles directory before configuring, under
// the same mutual exclusion as a plain configure
func (d *Driver) CleanConfigure(ctx context.Context, extraArgs []string, consumer proc.OutputConsumer) Result {
	return d.configure(ctx, Trigger_CleanCommand, extraArgs, consumer, true)
}

func (d *Driver) configure(ctx context.Context, trigger Trigger, extraArgs []string, consumer proc.OutputConsumer, cleanFirst bool) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("configure panicked", "panic", r)
			result = failedResult(ResultType_InternalError, Code_GenericFailure, fmt.Errorf("internal error: %v", r))
		}

		d.configureDone.publish(result)
	}()

	if d.isDisposed() {
		return failedResult(ResultType_InternalError, Code_GenericFailure, ErrDisposed)
	}

	// Triggers mapped to cache reuse take the cheap path instead of a full configure,
	// but only strategies that can serve from disk support it
	if d.opts.ReusePolicy.behavior(trigger) == Reuse_IfNotConfigured && !d.ConfiguredOnce() {
		if !d.opts.Strategy.SupportsCachedConfigure() {
			return failedResult(ResultType_NoCache, Code_NoCache, nil)
		}

		return d.configureFromCache(ctx)
	}

	release, problem, ok := d.guard.acquireConfigure()
	if !ok {
		d.opts.Problems.HandleProblem(ctx, problem, string(trigger))

		if problem == Problem_BuildIsAlreadyRunning {
			return failedResult(ResultType_BuildInProgress, Code_BuildInProgress, nil)
		}

		return failedResult(ResultType_ConfigureInProgress, Code_ConfigureInProgress, nil)
	}
	defer release()

	d.clearCancel()

	if err := d.refreshExpansion(); err != nil {
		return failedResult(ResultType_InternalError, Code_GenericFailure, err)
	}

	snapshot, sourceDir, binaryDir := d.snapshotForOperation()

	if result, ok := d.checkSourcePreconditions(ctx, sourceDir); !ok {
		return result
	}

	if cleanFirst {
		d.removeCacheArtifacts(binaryDir)
	}

	if d.presetsEnabled(snapshot) && snapshot.ConfigurePreset == nil {
		return failedResult(ResultType_NoConfigurePreset, Code_NoConfigurePreset, nil)
	}

	// The generator survives configure cycles until a kit or preset change drops it
	if snapshot.Generator == nil {
		generator, err := snapshot.ResolveGenerator(d.opts.Selector)
		if err != nil {
			return failedResult(ResultType_NoGenerator, Code_NoGenerator, err)
		}

		snapshot.Generator = generator
		snapshot.Vars["generator"] = generator.Name

		d.mu.Lock()
		d.generator = generator
		d.inputs.Generator = generator
		d.mu.Unlock()
	}

	inv, err := snapshot.ResolveConfigure(extraArgs)
	if err != nil {
		return failedResult(ResultType_InternalError, Code_GenericFailure, err)
	}

	selection := Selection{
		SourceDir: sourceDir,
		BinaryDir: binaryDir,
		Generator: snapshot.Generator,
		Env:       inv.Env.Slice(),
		BuildType: buildTypeFor(snapshot),
	}

	if err := d.opts.Strategy.OnSelectionChanged(ctx, selection); err != nil {
		return failedResult(ResultType_InternalError, Code_GenericFailure, err)
	}

	d.logger.Info("configuring",
		"trigger", trigger,
		"generator", snapshot.Generator.Name,
		"binaryDir", binaryDir,
	)

	var code int

	err = telemetry.Measure(d.opts.Metrics, "configure", metricsMetadata(trigger, snapshot), func() error {
		var configureErr error
		code, configureErr = d.opts.Strategy.Configure(ctx, inv, consumer)
		return configureErr
	})

	if d.wasCancelled() {
		return failedResult(ResultType_ForcedCancel, Code_Cancelled, err)
	}

	if err != nil {
		d.logger.Error("configure failed", "error", err)
		return failedResult(ResultType_InternalError, Code_GenericFailure, err)
	}

	if code == 0 {
		d.afterSuccessfulConfigure(ctx, snapshot, binaryDir)
	}

	return normalResult(code)
}

func metricsMetadata(trigger Trigger, in *invocation.Inputs) map[string]any {
	metadata := map[string]any{"trigger": string(trigger)}

	if in.Generator != nil {
		metadata["generator"] = in.Generator.Name
	}

	if in.Kit != nil {
		metadata["kit"] = in.Kit.Name
	}

	if in.ConfigurePreset != nil {
		metadata["configurePreset"] = in.ConfigurePreset.Name
	}

	return metadata
}

// checkSourcePreconditions verifies the source directory and CMakeLists.txt. The problem
// handler gets a chance to fix a missing CMakeLists.txt before the check fails
func (d *Driver) checkSourcePreconditions(ctx context.Context, sourceDir string) (Result, bool) {
	if sourceDir == "" {
		d.opts.Problems.HandleProblem(ctx, Problem_NoSourceDirectoryFound, d.opts.WorkspaceFolder)
		return failedResult(ResultType_Precondition, Code_Precondition, errors.New("no source directory resolved")), false
	}

	listsFile := filepath.Join(sourceDir, "CMakeLists.txt")

	if !d.opts.FS.Exists(listsFile) {
		recovered := d.opts.Problems.HandleProblem(ctx, Problem_MissingCMakeListsFile, listsFile)

		if !recovered || !d.opts.FS.Exists(listsFile) {
			return failedResult(ResultType_Precondition, Code_Precondition,
				fmt.Errorf("no CMakeLists.txt at %v", sourceDir)), false
		}
	}

	return Result{}, true
}

// configureFromCache serves a configure request from the on-disk cache without running
// cmake. Only taken before the first configure of the session
func (d *Driver) configureFromCache(ctx context.Context) Result {
	release, problem, ok := d.guard.acquireConfigure()
	if !ok {
		d.opts.Problems.HandleProblem(ctx, problem, string(Trigger_CacheReuse))

		if problem == Problem_BuildIsAlreadyRunning {
			return failedResult(ResultType_BuildInProgress, Code_BuildInProgress, nil)
		}

		return failedResult(ResultType_ConfigureInProgress, Code_ConfigureInProgress, nil)
	}
	defer release()

	if err := d.refreshExpansion(); err != nil {
		return failedResult(ResultType_InternalError, Code_GenericFailure, err)
	}

	snapshot, sourceDir, binaryDir := d.snapshotForOperation()

	cachePath := filepath.Join(binaryDir, "CMakeCache.txt")

	data, err := d.opts.FS.ReadFile(cachePath)
	if err != nil {
		return failedResult(ResultType_NoCache, Code_NoCache, err)
	}

	parsed, err := cache.Parse(string(data))
	if err != nil {
		return failedResult(ResultType_NoCache, Code_NoCache, err)
	}

	d.mu.Lock()
	if d.generator == nil {
		if name := parsed.Value("CMAKE_GENERATOR"); name != "" {
			d.generator = &cmake.Generator{Name: name}
			d.inputs.Generator = d.generator
		}
	}
	snapshot.Generator = d.generator
	d.cacheSnapshot = parsed
	d.configuredOnce = true
	d.lastConfigure = time.Now()
	d.mu.Unlock()

	selection := Selection{
		SourceDir: sourceDir,
		BinaryDir: binaryDir,
		Generator: snapshot.Generator,
		BuildType: buildTypeFor(snapshot),
	}

	env, err := snapshot.Environment(invocation.Operation_Configure)
	if err == nil {
		selection.Env = env.Slice()

		if err := d.opts.Strategy.OnSelectionChanged(ctx, selection); err == nil {
			if refresh, err := d.opts.Strategy.Refresh(ctx); err == nil {
				d.applyRefresh(refresh)
			}
		}
	}

	d.logger.Info("reused cached configuration", "binaryDir", binaryDir)
	d.cacheUpdated.publish(parsed)

	return normalResult(0)
}

func (d *Driver) afterSuccessfulConfigure(ctx context.Context, snapshot *invocation.Inputs, binaryDir string) {
	refresh, err := d.opts.Strategy.Refresh(ctx)
	if err != nil {
		// The configure itself succeeded; a failed refresh only degrades the
		// derived views
		d.logger.Warn("failed to refresh cache and code model", "error", err)
	} else {
		d.applyRefresh(refresh)
	}

	d.mu.Lock()
	d.configuredOnce = true
	d.settingsDirty = false
	d.lastConfigure = time.Now()
	d.mu.Unlock()

	d.copyCompileCommands(snapshot, binaryDir)
}

// applyRefresh swaps the snapshots atomically and notifies subscribers, cache first,
// then code model
func (d *Driver) applyRefresh(refresh *Refresh) {
	d.mu.Lock()

	if refresh.Cache != nil {
		d.cacheSnapshot = refresh.Cache
	}

	if refresh.CodeModel != nil {
		d.model = refresh.CodeModel
	}

	if len(refresh.InputFiles) > 0 {
		d.trackedInputs = refresh.InputFiles
	}

	cacheSnapshot := d.cacheSnapshot
	model := d.model

	d.mu.Unlock()

	if refresh.Cache != nil {
		d.cacheUpdated.publish(cacheSnapshot)
	}

	if refresh.CodeModel != nil {
		d.codeModelUpdated.publish(model)
	}
}

func (d *Driver) copyCompileCommands(in *invocation.Inputs, binaryDir string) {
	template := d.opts.Settings.CopyCompileCommands
	if template == "" {
		return
	}

	target, err := expand.Expand(template, &expand.Context{Vars: in.Vars}, expand.Options{Logger: d.logger})
	if err != nil {
		d.logger.Warn("failed to expand copyCompileCommands target", "template", template, "error", err)
		return
	}

	source := filepath.Join(binaryDir, "compile_commands.json")

	data, err := d.opts.FS.ReadFile(source)
	if err != nil {
		d.logger.Debug("no compilation database to copy", "path", source)
		return
	}

	if err := d.opts.FS.WriteFile(target, data); err != nil {
		d.logger.Warn("failed to copy compilation database", "target", target, "error", err)
	}
}

// removeCacheArtifacts deletes CMakeCache.txt and the CMakeFiles directory, best effort:
// individual failures are logged and skipped, never fatal
func (d *Driver) removeCacheArtifacts(binaryDir string) {
	cachePath := filepath.Join(binaryDir, "CMakeCache.txt")

	if d.opts.FS.Exists(cachePath) {
		if err := d.opts.FS.Remove(cachePath); err != nil {
			d.logger.Warn("failed to remove cache file", "path", cachePath, "error", err)
		}
	}

	cmakeFiles := filepath.Join(binaryDir, "CMakeFiles")

	if d.opts.FS.Exists(cmakeFiles) {
		if err := d.opts.FS.RemoveAll(cmakeFiles); err != nil {
			d.logger.Warn("failed to remove CMakeFiles", "path", cmakeFiles, "error", err)
		}
	}
}

// Build runs the build step. A nil target list builds the preset's targets or the
// settings-level default target. Mutually exclusive with configure and other builds
func (d *Driver) Build(ctx context.Context, targets []string, consumer proc.OutputConsumer) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("build panicked", "panic", r)
			result = failedResult(ResultType_InternalError, Code_GenericFailure, fmt.Errorf("internal error: %v", r))
		}
	}()

	if d.isDisposed() {
		return failedResult(ResultType_InternalError, Code_GenericFailure, ErrDisposed)
	}

	release, problem, ok := d.guard.acquireBuild()
	if !ok {
		d.opts.Problems.HandleProblem(ctx, problem, "build")

		if problem == Problem_ConfigureIsAlreadyRunning {
			return failedResult(ResultType_ConfigureInProgress, Code_ConfigureInProgress, nil)
		}

		return failedResult(ResultType_BuildInProgress, Code_BuildInProgress, nil)
	}
	defer release()

	d.clearCancel()

	if err := d.refreshExpansion(); err != nil {
		return failedResult(ResultType_InternalError, Code_GenericFailure, err)
	}

	snapshot, _, binaryDir := d.snapshotForOperation()

	// Preset mode with nothing to build is a typed failure, not an error
	if d.presetsEnabled(snapshot) && snapshot.BuildPreset == nil && len(targets) == 0 {
		return failedResult(ResultType_NoBuildCommand, Code_NoBuildCommand, nil)
	}

	// Settings-mode builds may run before any configure; try to resolve a generator
	// so the command can still be constructed
	if snapshot.Generator == nil {
		if generator, err := snapshot.ResolveGenerator(d.opts.Selector); err == nil {
			snapshot.Generator = generator

			d.mu.Lock()
			d.generator = generator
			d.inputs.Generator = generator
			d.mu.Unlock()
		}
	}

	inv, err := snapshot.ResolveBuild(targets)
	if err != nil {
		return failedResult(ResultType_InternalError, Code_GenericFailure, err)
	}

	if inv == nil {
		return failedResult(ResultType_NoBuildCommand, Code_NoBuildCommand, nil)
	}

	if err := d.opts.Strategy.PreBuild(ctx); err != nil {
		return failedResult(ResultType_InternalError, Code_GenericFailure, err)
	}

	d.logger.Info("building", "targets", targets, "binaryDir", binaryDir)

	var code int

	err = telemetry.Measure(d.opts.Metrics, "build", metricsMetadata(Trigger_Command, snapshot), func() error {
		var buildErr error
		code, buildErr = d.runProcess(ctx, inv, consumer)
		return buildErr
	})

	if d.wasCancelled() {
		return failedResult(ResultType_ForcedCancel, Code_Cancelled, err)
	}

	if err != nil {
		d.logger.Error("build failed", "error", err)
		return failedResult(ResultType_InternalError, Code_GenericFailure, err)
	}

	if code == 0 {
		// Builds may generate sources that change the code model
		if refresh, err := d.opts.Strategy.Refresh(ctx); err == nil {
			d.applyRefresh(refresh)
		}
	}

	return normalResult(code)
}

// Clean builds the clean target
func (d *Driver) Clean(ctx context.Context, consumer proc.OutputConsumer) Result {
	return d.Build(ctx, []string{"clean"}, consumer)
}

// Test runs ctest under the build exclusion slot
func (d *Driver) Test(ctx context.Context, extraArgs []string, consumer proc.OutputConsumer) Result {
	return d.runBuildLike(ctx, "test", consumer, func(in *invocation.Inputs) (*invocation.Invocation, error) {
		return in.ResolveTest(extraArgs)
	})
}

// Pack runs cpack under the build exclusion slot
func (d *Driver) Pack(ctx context.Context, extraArgs []string, consumer proc.OutputConsumer) Result {
	return d.runBuildLike(ctx, "package", consumer, func(in *invocation.Inputs) (*invocation.Invocation, error) {
		return in.ResolvePackage(extraArgs)
	})
}

// Install installs the configured tree under the build exclusion slot
func (d *Driver) Install(ctx context.Context, consumer proc.OutputConsumer) Result {
	return d.runBuildLike(ctx, "install", consumer, func(in *invocation.Inputs) (*invocation.Invocation, error) {
		return in.ResolveInstall()
	})
}

func (d *Driver) runBuildLike(ctx context.Context, operation string, consumer proc.OutputConsumer, resolve func(*invocation.Inputs) (*invocation.Invocation, error)) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("operation panicked", "operation", operation, "panic", r)
			result = failedResult(ResultType_InternalError, Code_GenericFailure, fmt.Errorf("internal error: %v", r))
		}
	}()

	if d.isDisposed() {
		return failedResult(ResultType_InternalError, Code_GenericFailure, ErrDisposed)
	}

	release, problem, ok := d.guard.acquireBuild()
	if !ok {
		d.opts.Problems.HandleProblem(ctx, problem, operation)

		if problem == Problem_ConfigureIsAlreadyRunning {
			return failedResult(ResultType_ConfigureInProgress, Code_ConfigureInProgress, nil)
		}

		return failedResult(ResultType_BuildInProgress, Code_BuildInProgress, nil)
	}
	defer release()

	d.clearCancel()

	if err := d.refreshExpansion(); err != nil {
		return failedResult(ResultType_InternalError, Code_GenericFailure, err)
	}

	snapshot, _, _ := d.snapshotForOperation()

	inv, err := resolve(snapshot)
	if err != nil {
		return failedResult(ResultType_InternalError, Code_GenericFailure, err)
	}

	if inv == nil {
		return failedResult(ResultType_NoBuildCommand, Code_NoBuildCommand, nil)
	}

	d.logger.Info("running "+operation, "program", inv.Program)

	var code int

	err = telemetry.Measure(d.opts.Metrics, operation, metricsMetadata(Trigger_Command, snapshot), func() error {
		var runErr error
		code, runErr = d.runProcess(ctx, inv, consumer)
		return runErr
	})

	if d.wasCancelled() {
		return failedResult(ResultType_ForcedCancel, Code_Cancelled, err)
	}

	if err != nil {
		d.logger.Error(operation+" failed", "error", err)
		return failedResult(ResultType_InternalError, Code_GenericFailure, err)
	}

	return normalResult(code)
}

func (d *Driver) runProcess(ctx context.Context, inv *invocation.Invocation, consumer proc.OutputConsumer) (int, error) {
	request := proc.Request{
		Program: inv.Program,
		Args:    inv.Args,
		Dir:     inv.Dir,
	}

	if inv.Env != nil {
		request.Env = inv.Env.Slice()
	}

	process, err := d.opts.Spawner.Spawn(ctx, request, consumer)
	if err != nil {
		return Code_GenericFailure, err
	}

	d.setCurrentProcess(process)
	defer d.setCurrentProcess(nil)

	return process.Wait(ctx)
}

// CheckNeedsReconfigure reports whether a configure is advisable: configure-affecting
// settings changed, no inputs are tracked yet, or a tracked input file was touched after
// the last configure. Advisory only; the caller decides whether to act on it
func (d *Driver) CheckNeedsReconfigure() bool {
	d.mu.Lock()
	dirty := d.settingsDirty
	tracked := append([]string{}, d.trackedInputs...)
	last := d.lastConfigure
	d.mu.Unlock()

	if dirty {
		return true
	}

	if len(tracked) == 0 {
		return true
	}

	for _, path := range tracked {
		info, err := d.opts.FS.Stat(path)
		if err != nil {
			// A tracked input that disappeared needs a reconfigure to find out what
			// the tree looks like now
			return true
		}

		if info.ModTime().After(last) {
			return true
		}
	}

	return false
}

// MarkSettingsChanged records that a configure-affecting setting changed, so the next
// CheckNeedsReconfigure returns true
func (d *Driver) MarkSettingsChanged() {
	d.mu.Lock()
	d.settingsDirty = true
	d.mu.Unlock()
}

// SetKit selects a new kit. When the compiler identity changes against an already
// configured binary directory the stale cache is removed, since cmake cannot switch
// toolchains inside an existing cache. Never configures by itself
func (d *Driver) SetKit(kit *kits.Kit) error {
	d.mu.Lock()

	needsClean := d.configuredOnce &&
		d.inputs.Kit != nil && kit != nil &&
		d.inputs.Kit.CompilerIdentity() != kit.CompilerIdentity()

	d.inputs.Kit = kit
	d.generator = nil
	d.inputs.Generator = nil
	d.settingsDirty = true

	err := d.refreshExpansionLocked()
	binaryDir := d.binaryDir
	d.mu.Unlock()

	if needsClean {
		d.logger.Info("kit change invalidates the cache", "kit", kit.Name)
		d.removeCacheArtifacts(binaryDir)

		d.mu.Lock()
		d.configuredOnce = false
		d.mu.Unlock()
	}

	return err
}

// SetVariant selects a new variant combination. Never configures by itself
func (d *Driver) SetVariant(selection *variants.Selection) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.inputs.Variant = selection
	d.settingsDirty = true

	return d.refreshExpansionLocked()
}

// SetConfigurePreset selects the active configure preset (nil returns to legacy mode).
// Keeping the binary directory while changing generator forces a clean, matching cmake's
// refusal to regenerate an existing cache with a different generator
func (d *Driver) SetConfigurePreset(preset *presets.ConfigurePreset) error {
	d.mu.Lock()

	oldBinary := d.binaryDir

	var oldGenerator string
	if d.generator != nil {
		oldGenerator = d.generator.Name
	}

	d.inputs.ConfigurePreset = preset
	d.generator = nil
	d.inputs.Generator = nil
	d.settingsDirty = true

	err := d.refreshExpansionLocked()

	needsClean := err == nil && preset != nil &&
		d.configuredOnce &&
		d.binaryDir == oldBinary &&
		oldGenerator != "" && preset.Generator != "" && preset.Generator != oldGenerator

	binaryDir := d.binaryDir
	d.mu.Unlock()

	if needsClean {
		d.logger.Info("preset change invalidates the cache", "preset", preset.Name)
		d.removeCacheArtifacts(binaryDir)

		d.mu.Lock()
		d.configuredOnce = false
		d.mu.Unlock()
	}

	return err
}

// SetBuildPreset selects the active build preset. Never configures by itself
func (d *Driver) SetBuildPreset(preset *presets.BuildPreset) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.inputs.BuildPreset = preset
	d.settingsDirty = true

	return d.refreshExpansionLocked()
}

// SetTestPreset selects the active test preset
func (d *Driver) SetTestPreset(preset *presets.TestPreset) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.inputs.TestPreset = preset
	return nil
}

// SetPackagePreset selects the active package preset
func (d *Driver) SetPackagePreset(preset *presets.PackagePreset) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.inputs.PackagePreset = preset
	return nil
}

// StopCurrentProcess cancels whatever is in flight: the current build-like subprocess is
// killed and the strategy abandons its request. The awaited result resolves with a
// ForcedCancel result; termination is not synchronous
func (d *Driver) StopCurrentProcess() {
	d.mu.Lock()
	d.cancelRequested = true
	process := d.currentProcess
	d.mu.Unlock()

	if process != nil {
		_ = process.Kill()
	}

	d.opts.Strategy.Cancel()
}

// Dispose cancels in-flight work, waits for it to release, drops all subscriptions and
// shuts the strategy down. The driver is unusable afterwards
func (d *Driver) Dispose(ctx context.Context) error {
	d.mu.Lock()
	if d.disposed {
		d.mu.Unlock()
		return nil
	}
	d.disposed = true
	d.mu.Unlock()

	d.StopCurrentProcess()

	// In-flight operations observe the kill and release their guard slot; wait for
	// that instead of pulling resources out from under them
	for !d.guard.idle() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}

	d.cacheUpdated.clear()
	d.codeModelUpdated.clear()
	d.configureDone.clear()

	return d.opts.Strategy.Shutdown(ctx)
}

// OnCacheUpdated subscribes to cache snapshot replacements
func (d *Driver) OnCacheUpdated(handler func(*cache.Cache)) *Subscription {
	return d.cacheUpdated.subscribe(handler)
}

// OnCodeModelUpdated subscribes to code model replacements
func (d *Driver) OnCodeModelUpdated(handler func(*codemodel.CodeModel)) *Subscription {
	return d.codeModelUpdated.subscribe(handler)
}

// OnConfigureDone subscribes to configure results, successful or not
func (d *Driver) OnConfigureDone(handler func(Result)) *Subscription {
	return d.configureDone.subscribe(handler)
}

// Cache returns the current cache snapshot, nil before the first successful configure
func (d *Driver) Cache() *cache.Cache {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.cacheSnapshot
}

// CodeModel returns the current code model snapshot, nil before it exists
func (d *Driver) CodeModel() *codemodel.CodeModel {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.model
}

// SourceDir returns the resolved source directory
func (d *Driver) SourceDir() string {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.sourceDir
}

// BinaryDir returns the resolved binary directory
func (d *Driver) BinaryDir() string {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.binaryDir
}

// Generator returns a copy of the resolved generator, nil before resolution
func (d *Driver) Generator() *cmake.Generator {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.generator == nil {
		return nil
	}

	generator := *d.generator
	return &generator
}

// ConfiguredOnce reports whether this session configured successfully at least once
func (d *Driver) ConfiguredOnce() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.configuredOnce
}

// Diagnostics is an introspection snapshot for debugging tooling
type Diagnostics struct {
	WorkspaceFolder string            `json:"workspaceFolder"`
	Strategy        string            `json:"strategy"`
	CMakeVersion    string            `json:"cmakeVersion"`
	SourceDir       string            `json:"sourceDir"`
	BinaryDir       string            `json:"binaryDir"`
	InstallDir      string            `json:"installDir,omitempty"`
	Generator       string            `json:"generator,omitempty"`
	ConfiguredOnce  bool              `json:"configuredOnce"`
	PresetsActive   bool              `json:"presetsActive"`
	Kit             string            `json:"kit,omitempty"`
	ConfigurePreset string            `json:"configurePreset,omitempty"`
	BuildPreset     string            `json:"buildPreset,omitempty"`
	TestPreset      string            `json:"testPreset,omitempty"`
	PackagePreset   string            `json:"packagePreset,omitempty"`
	Compilers       map[string]string `json:"compilers,omitempty"`
	Configuring     bool              `json:"configuring"`
	Building        bool              `json:"building"`
}

// Diagnostics snapshots the driver state at one instant
func (d *Driver) Diagnostics() Diagnostics {
	configuring, building := d.guard.state()

	d.mu.Lock()
	defer d.mu.Unlock()

	diagnostics := Diagnostics{
		WorkspaceFolder: d.opts.WorkspaceFolder,
		Strategy:        d.opts.Strategy.Name(),
		CMakeVersion:    d.opts.CMake.Version(),
		SourceDir:       d.sourceDir,
		BinaryDir:       d.binaryDir,
		InstallDir:      d.installDir,
		ConfiguredOnce:  d.configuredOnce,
		PresetsActive:   d.inputs.PresetsActive(),
		Configuring:     configuring,
		Building:        building,
	}

	if d.generator != nil {
		diagnostics.Generator = d.generator.String()
	}

	if d.inputs.Kit != nil {
		diagnostics.Kit = d.inputs.Kit.Name
	}

	if d.inputs.ConfigurePreset != nil {
		diagnostics.ConfigurePreset = d.inputs.ConfigurePreset.Name
	}

	if d.inputs.BuildPreset != nil {
		diagnostics.BuildPreset = d.inputs.BuildPreset.Name
	}

	if d.inputs.TestPreset != nil {
		diagnostics.TestPreset = d.inputs.TestPreset.Name
	}

	if d.inputs.PackagePreset != nil {
		diagnostics.PackagePreset = d.inputs.PackagePreset.Name
	}

	if d.cacheSnapshot != nil {
		compilers := map[string]string{}

		for _, language := range []string{"C", "CXX"} {
			if value := d.cacheSnapshot.Value("CMAKE_" + language + "_COMPILER"); value != "" {
				compilers[language] = value
			}
		}

		if len(compilers) > 0 {
			diagnostics.Compilers = compilers
		}
	}

	return diagnostics
}
