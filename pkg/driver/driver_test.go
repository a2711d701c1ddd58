package driver

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cmakekit/cmakekit/pkg/cmake"
	"github.com/cmakekit/cmakekit/pkg/cmake/cache"
	"github.com/cmakekit/cmakekit/pkg/environment"
	"github.com/cmakekit/cmakekit/pkg/invocation"
	"github.com/cmakekit/cmakekit/pkg/kits"
	"github.com/cmakekit/cmakekit/pkg/proc"
	"github.com/cmakekit/cmakekit/pkg/settings"
)

type fakeProcess struct {
	code    int
	err     error
	release chan struct{}
	killed  chan struct{}

	// onWait fires once when Wait is entered, after the driver has registered the
	// process, so tests can synchronize with a safely cancellable operation
	onWait    func()
	killOnce  sync.Once
	startOnce sync.Once
}

func (p *fakeProcess) Wait(ctx context.Context) (int, error) {
	p.startOnce.Do(func() {
		if p.onWait != nil {
			p.onWait()
		}
	})

	if p.release != nil {
		select {
		case <-p.release:
		case <-p.killed:
			return 130, nil
		case <-ctx.Done():
			return -1, ctx.Err()
		}
	}

	return p.code, p.err
}

func (p *fakeProcess) Kill() error {
	p.killOnce.Do(func() { close(p.killed) })
	return nil
}

type fakeSpawner struct {
	mu        sync.Mutex
	requests  []proc.Request
	processes []*fakeProcess

	exitCode int
	spawnErr error
	blocking bool

	// started receives each request as its process starts, for synchronization
	started chan proc.Request

	// onSpawn runs before the process is handed out, e.g. to drop a cache file into
	// the build directory the way a real configure would
	onSpawn func(request proc.Request)
}

func (s *fakeSpawner) Spawn(ctx context.Context, request proc.Request, consumer proc.OutputConsumer) (proc.Process, error) {
	s.mu.Lock()
	s.requests = append(s.requests, request)
	s.mu.Unlock()

	if s.spawnErr != nil {
		return nil, s.spawnErr
	}

	if s.onSpawn != nil {
		s.onSpawn(request)
	}

	process := &fakeProcess{code: s.exitCode, killed: make(chan struct{})}

	if s.blocking {
		process.release = make(chan struct{})
	}

	if s.started != nil {
		process.onWait = func() { s.started <- request }
	}

	s.mu.Lock()
	s.processes = append(s.processes, process)
	s.mu.Unlock()

	return process, nil
}

func (s *fakeSpawner) spawnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.requests)
}

func (s *fakeSpawner) releaseAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, process := range s.processes {
		if process.release != nil {
			select {
			case <-process.release:
			default:
				close(process.release)
			}
		}
	}
}

type recordingProblems struct {
	mu       sync.Mutex
	problems []Problem
}

func (r *recordingProblems) HandleProblem(ctx context.Context, problem Problem, detail string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.problems = append(r.problems, problem)
	return false
}

func (r *recordingProblems) seen() []Problem {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]Problem{}, r.problems...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeFakeCache(t *testing.T, buildDir string) {
	t.Helper()

	require.NoError(t, os.MkdirAll(buildDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(buildDir, "CMakeCache.txt"), []byte(
		"CMAKE_PROJECT_NAME:STATIC=demo\n"+
			"CMAKE_GENERATOR:INTERNAL=Ninja\n"+
			"CMAKE_BUILD_TYPE:STRING=Debug\n"+
			"CMAKE_C_COMPILER:FILEPATH=/usr/bin/cc\n",
	), 0o644))
}

func testDriver(t *testing.T, spawner *fakeSpawner, mutate func(*Options)) (*Driver, string) {
	t.Helper()

	workspace := t.TempDir()

	require.NoError(t, os.WriteFile(
		filepath.Join(workspace, "CMakeLists.txt"),
		[]byte("cmake_minimum_required(VERSION 3.10)\nproject(demo)\n"),
		0o644,
	))

	testSettings := settings.Defaults()
	testSettings.Generator = "Ninja"

	options := Options{
		WorkspaceFolder: workspace,
		CMake:           cmake.New("/usr/bin/cmake", "3.21.3"),
		Settings:        testSettings,
		Spawner:         spawner,
		Logger:          discardLogger(),
		BaseEnv:         environment.FromSlice([]string{"PATH=/usr/bin"}, environment.KeyCasing_Sensitive),
	}

	if mutate != nil {
		mutate(&options)
	}

	driver, err := New(options)
	require.NoError(t, err)

	return driver, workspace
}

func TestDriverFirstConfigure(t *testing.T) {
	var spawner fakeSpawner
	driver, workspace := testDriver(t, &spawner, nil)
	spawner.onSpawn = func(proc.Request) {
		writeFakeCache(t, filepath.Join(workspace, "build"))
	}

	var cacheEvents int
	driver.OnCacheUpdated(func(*cache.Cache) { cacheEvents++ })

	result := driver.Configure(context.Background(), Trigger_Command, nil, nil)

	require.True(t, result.Success(), "configure result: %v", result)
	assert.Equal(t, ResultType_NormalOperation, result.Type)
	assert.Equal(t, 0, result.Code)

	require.Equal(t, 1, spawner.spawnCount())

	request := spawner.requests[0]
	assert.Equal(t, "/usr/bin/cmake", request.Program)
	assert.Contains(t, request.Args, "-S")
	assert.Contains(t, request.Args, workspace)
	assert.Contains(t, request.Args, "-G")
	assert.Contains(t, request.Args, "Ninja")

	assert.True(t, driver.ConfiguredOnce())
	assert.Equal(t, 1, cacheEvents)

	require.NotNil(t, driver.Cache())
	assert.Equal(t, "demo", driver.Cache().Value("CMAKE_PROJECT_NAME"))
}

func TestDriverReconfigureDetection(t *testing.T) {
	var spawner fakeSpawner
	driver, workspace := testDriver(t, &spawner, nil)
	spawner.onSpawn = func(proc.Request) {
		writeFakeCache(t, filepath.Join(workspace, "build"))
	}

	// Before any configure nothing is tracked yet
	assert.True(t, driver.CheckNeedsReconfigure())

	require.True(t, driver.Configure(context.Background(), Trigger_Command, nil, nil).Success())
	assert.False(t, driver.CheckNeedsReconfigure())

	// Touching a tracked input past the configure stamp flips the answer
	listsFile := filepath.Join(workspace, "CMakeLists.txt")
	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(listsFile, future, future))

	assert.True(t, driver.CheckNeedsReconfigure())

	// A reconfigure with the input back in the past settles it again
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(listsFile, past, past))
	require.True(t, driver.Configure(context.Background(), Trigger_InputChanged, nil, nil).Success())
	assert.False(t, driver.CheckNeedsReconfigure())

	// Settings changes flip it regardless of file times
	driver.MarkSettingsChanged()
	assert.True(t, driver.CheckNeedsReconfigure())
}

func TestDriverMissingCMakeLists(t *testing.T) {
	var spawner fakeSpawner
	problems := &recordingProblems{}

	driver, workspace := testDriver(t, &spawner, func(options *Options) {
		options.Problems = problems
	})

	require.NoError(t, os.Remove(filepath.Join(workspace, "CMakeLists.txt")))

	result := driver.Configure(context.Background(), Trigger_Command, nil, nil)

	assert.Equal(t, ResultType_Precondition, result.Type)
	assert.Equal(t, Code_Precondition, result.Code)
	assert.Contains(t, problems.seen(), Problem_MissingCMakeListsFile)

	// The precondition fails before anything is spawned
	assert.Equal(t, 0, spawner.spawnCount())
}

func TestDriverNoConfigurePreset(t *testing.T) {
	var spawner fakeSpawner

	driver, _ := testDriver(t, &spawner, func(options *Options) {
		options.Settings.PresetsFile = "CMakePresets.json"
	})

	result := driver.Configure(context.Background(), Trigger_Command, nil, nil)

	assert.Equal(t, ResultType_NoConfigurePreset, result.Type)
	assert.Equal(t, Code_NoConfigurePreset, result.Code)
	assert.Equal(t, 0, spawner.spawnCount())
}

func TestDriverNoBuildCommandInPresetMode(t *testing.T) {
	var spawner fakeSpawner

	driver, _ := testDriver(t, &spawner, func(options *Options) {
		options.Settings.PresetsFile = "CMakePresets.json"
	})

	result := driver.Build(context.Background(), nil, nil)

	assert.Equal(t, ResultType_NoBuildCommand, result.Type)
	assert.Equal(t, Code_NoBuildCommand, result.Code)
	assert.Equal(t, 0, spawner.spawnCount())
}

func TestDriverBuildWithoutPriorConfigure(t *testing.T) {
	var spawner fakeSpawner
	driver, _ := testDriver(t, &spawner, nil)

	// Settings mode can construct a build command without ever having configured
	result := driver.Build(context.Background(), []string{"app"}, nil)

	require.True(t, result.Success(), "build result: %v", result)
	require.Equal(t, 1, spawner.spawnCount())

	request := spawner.requests[0]
	assert.Equal(t, "/usr/bin/cmake", request.Program)
	assert.Equal(t, "--build", request.Args[0])
	assert.Contains(t, request.Args, "--target")
	assert.Contains(t, request.Args, "app")
}

func TestDriverMutualExclusion(t *testing.T) {
	spawner := fakeSpawner{
		blocking: true,
		started:  make(chan proc.Request, 1),
	}

	problems := &recordingProblems{}

	driver, workspace := testDriver(t, &spawner, func(options *Options) {
		options.Problems = problems
	})
	spawner.onSpawn = func(proc.Request) {
		writeFakeCache(t, filepath.Join(workspace, "build"))
	}

	results := make(chan Result, 1)

	go func() {
		results <- driver.Configure(context.Background(), Trigger_Command, nil, nil)
	}()

	<-spawner.started

	// A second configure and any build-like operation bounce while the first holds
	// its slot
	second := driver.Configure(context.Background(), Trigger_Command, nil, nil)
	assert.Equal(t, ResultType_ConfigureInProgress, second.Type)

	build := driver.Build(context.Background(), nil, nil)
	assert.Equal(t, ResultType_ConfigureInProgress, build.Type)

	assert.Contains(t, problems.seen(), Problem_ConfigureIsAlreadyRunning)

	spawner.releaseAll()
	require.True(t, (<-results).Success())

	// The slot is free again afterwards
	spawner.blocking = false
	spawner.started = nil

	assert.True(t, driver.Build(context.Background(), nil, nil).Success())
}

func TestDriverSelectionChangesDuringConfigure(t *testing.T) {
	spawner := fakeSpawner{
		blocking: true,
		started:  make(chan proc.Request, 1),
	}

	driver, workspace := testDriver(t, &spawner, nil)
	spawner.onSpawn = func(proc.Request) {
		writeFakeCache(t, filepath.Join(workspace, "build"))
	}

	results := make(chan Result, 1)

	go func() {
		results <- driver.Configure(context.Background(), Trigger_Command, nil, nil)
	}()

	<-spawner.started

	// Kit switches and state snapshots land while the configure holds its slot; the
	// running operation keeps the selection it observed at its start
	gcc := &kits.Kit{Name: "gcc", Compilers: map[string]string{"C": "/usr/bin/gcc"}}
	clang := &kits.Kit{Name: "clang", Compilers: map[string]string{"C": "/usr/bin/clang"}}

	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		kit := gcc
		if i%2 == 1 {
			kit = clang
		}

		wg.Add(1)

		go func(kit *kits.Kit) {
			defer wg.Done()

			assert.NoError(t, driver.SetKit(kit))
			_ = driver.Diagnostics()
			_ = driver.CheckNeedsReconfigure()
		}(kit)
	}

	wg.Wait()

	spawner.releaseAll()
	require.True(t, (<-results).Success())
	assert.Equal(t, 1, spawner.spawnCount())
}

type panickyStrategy struct{}

func (panickyStrategy) Name() string                  { return "panicky" }
func (panickyStrategy) SupportsCachedConfigure() bool { return false }
func (panickyStrategy) PreBuild(context.Context) error {
	return nil
}

func (panickyStrategy) OnSelectionChanged(context.Context, Selection) error {
	return nil
}

func (panickyStrategy) Configure(context.Context, *invocation.Invocation, proc.OutputConsumer) (int, error) {
	panic("boom")
}

func (panickyStrategy) Refresh(context.Context) (*Refresh, error) {
	return &Refresh{}, nil
}

func (panickyStrategy) Cancel() {}

func (panickyStrategy) Shutdown(context.Context) error {
	return nil
}

func TestDriverReleasesGuardAfterPanic(t *testing.T) {
	var spawner fakeSpawner

	driver, _ := testDriver(t, &spawner, func(options *Options) {
		options.Strategy = panickyStrategy{}
	})

	result := driver.Configure(context.Background(), Trigger_Command, nil, nil)
	assert.Equal(t, ResultType_InternalError, result.Type)

	// The guard slot was released despite the panic: the next attempt reaches the
	// strategy again instead of reporting a configure in progress
	result = driver.Configure(context.Background(), Trigger_Command, nil, nil)
	assert.Equal(t, ResultType_InternalError, result.Type)
}

func TestDriverCacheReuse(t *testing.T) {
	var spawner fakeSpawner
	driver, workspace := testDriver(t, &spawner, nil)

	writeFakeCache(t, filepath.Join(workspace, "build"))

	result := driver.Configure(context.Background(), Trigger_CacheReuse, nil, nil)

	require.True(t, result.Success(), "reuse result: %v", result)
	assert.Equal(t, 0, spawner.spawnCount(), "cache reuse must not run cmake")
	assert.True(t, driver.ConfiguredOnce())

	require.NotNil(t, driver.Cache())
	assert.Equal(t, "demo", driver.Cache().Value("CMAKE_PROJECT_NAME"))

	// After the session counts as configured, the same trigger goes through a full
	// configure again
	spawner.onSpawn = func(proc.Request) {
		writeFakeCache(t, filepath.Join(workspace, "build"))
	}

	require.True(t, driver.Configure(context.Background(), Trigger_CacheReuse, nil, nil).Success())
	assert.Equal(t, 1, spawner.spawnCount())
}

func TestDriverCacheReuseWithoutCache(t *testing.T) {
	var spawner fakeSpawner
	driver, _ := testDriver(t, &spawner, nil)

	result := driver.Configure(context.Background(), Trigger_CacheReuse, nil, nil)

	assert.Equal(t, ResultType_NoCache, result.Type)
	assert.Equal(t, 0, spawner.spawnCount())
}

func TestDriverCleanConfigure(t *testing.T) {
	var spawner fakeSpawner
	driver, workspace := testDriver(t, &spawner, nil)

	buildDir := filepath.Join(workspace, "build")
	writeFakeCache(t, buildDir)
	require.NoError(t, os.MkdirAll(filepath.Join(buildDir, "CMakeFiles"), 0o755))

	var cachePresent, cmakeFilesPresent bool

	spawner.onSpawn = func(proc.Request) {
		_, err := os.Stat(filepath.Join(buildDir, "CMakeCache.txt"))
		cachePresent = err == nil

		_, err = os.Stat(filepath.Join(buildDir, "CMakeFiles"))
		cmakeFilesPresent = err == nil

		writeFakeCache(t, buildDir)
	}

	result := driver.CleanConfigure(context.Background(), nil, nil)

	require.True(t, result.Success(), "clean configure result: %v", result)
	require.Equal(t, 1, spawner.spawnCount())

	assert.False(t, cachePresent, "stale cache must be gone before cmake runs")
	assert.False(t, cmakeFilesPresent, "stale CMakeFiles must be gone before cmake runs")
}

func TestDriverStopCurrentProcess(t *testing.T) {
	spawner := fakeSpawner{
		blocking: true,
		started:  make(chan proc.Request, 1),
	}

	driver, _ := testDriver(t, &spawner, nil)

	results := make(chan Result, 1)

	go func() {
		results <- driver.Build(context.Background(), nil, nil)
	}()

	<-spawner.started
	driver.StopCurrentProcess()

	result := <-results
	assert.Equal(t, ResultType_ForcedCancel, result.Type)
	assert.Equal(t, Code_Cancelled, result.Code)
}

func TestDriverKitChangeInvalidatesCache(t *testing.T) {
	var spawner fakeSpawner
	driver, workspace := testDriver(t, &spawner, nil)
	buildDir := filepath.Join(workspace, "build")
	spawner.onSpawn = func(proc.Request) {
		writeFakeCache(t, buildDir)
	}

	gcc := &kits.Kit{Name: "gcc", Compilers: map[string]string{"C": "/usr/bin/gcc"}}
	clang := &kits.Kit{Name: "clang", Compilers: map[string]string{"C": "/usr/bin/clang"}}

	require.NoError(t, driver.SetKit(gcc))
	require.True(t, driver.Configure(context.Background(), Trigger_Command, nil, nil).Success())
	require.True(t, driver.ConfiguredOnce())

	// Switching toolchains against an existing cache forces a clean
	require.NoError(t, driver.SetKit(clang))

	assert.False(t, driver.ConfiguredOnce())
	assert.NoFileExists(t, filepath.Join(buildDir, "CMakeCache.txt"))
	assert.True(t, driver.CheckNeedsReconfigure())
}

func TestDriverTestAndPackAndInstall(t *testing.T) {
	var spawner fakeSpawner
	driver, _ := testDriver(t, &spawner, nil)

	require.True(t, driver.Test(context.Background(), nil, nil).Success())
	require.True(t, driver.Pack(context.Background(), nil, nil).Success())
	require.True(t, driver.Install(context.Background(), nil).Success())

	require.Equal(t, 3, spawner.spawnCount())

	assert.Contains(t, spawner.requests[0].Program, "ctest")
	assert.Contains(t, spawner.requests[1].Program, "cpack")
	assert.Equal(t, "/usr/bin/cmake", spawner.requests[2].Program)
	assert.Contains(t, spawner.requests[2].Args, "--install")
}

func TestDriverDiagnostics(t *testing.T) {
	var spawner fakeSpawner
	driver, workspace := testDriver(t, &spawner, nil)
	spawner.onSpawn = func(proc.Request) {
		writeFakeCache(t, filepath.Join(workspace, "build"))
	}

	require.True(t, driver.Configure(context.Background(), Trigger_Command, nil, nil).Success())

	diagnostics := driver.Diagnostics()

	assert.Equal(t, workspace, diagnostics.WorkspaceFolder)
	assert.Equal(t, "command-line", diagnostics.Strategy)
	assert.Equal(t, "3.21.3", diagnostics.CMakeVersion)
	assert.Equal(t, filepath.Join(workspace, "build"), diagnostics.BinaryDir)
	assert.True(t, diagnostics.ConfiguredOnce)
	assert.False(t, diagnostics.Configuring)
	assert.Equal(t, "/usr/bin/cc", diagnostics.Compilers["C"])
}

func TestDriverDispose(t *testing.T) {
	var spawner fakeSpawner
	driver, _ := testDriver(t, &spawner, nil)

	require.NoError(t, driver.Dispose(context.Background()))

	result := driver.Configure(context.Background(), Trigger_Command, nil, nil)
	assert.Equal(t, ResultType_InternalError, result.Type)

	// Disposing twice is harmless
	require.NoError(t, driver.Dispose(context.Background()))
}
