package driver

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/cmakekit/cmakekit/pkg/cmake/cache"
	"github.com/cmakekit/cmakekit/pkg/codemodel"
	"github.com/cmakekit/cmakekit/pkg/invocation"
	"github.com/cmakekit/cmakekit/pkg/proc"
)

// CommandLineStrategy runs every operation as a fresh cmake subprocess and reconstructs
// the code model from the files a configure leaves behind: CMakeCache.txt and
// compile_commands.json
type CommandLineStrategy struct {
	spawner proc.Spawner
	fs      FileSystem
	logger  *slog.Logger

	mu        sync.Mutex
	selection Selection
	current   proc.Process
}

func NewCommandLineStrategy(spawner proc.Spawner, fs FileSystem, logger *slog.Logger) *CommandLineStrategy {
	if spawner == nil {
		spawner = proc.ExecSpawner{}
	}

	if fs == nil {
		fs = OSFileSystem{}
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &CommandLineStrategy{spawner: spawner, fs: fs, logger: logger}
}

func (s *CommandLineStrategy) Name() string {
	return "command-line"
}

// The cache and generated files on disk are all this strategy ever reads, so a previous
// run's output can be reused without reconfiguring
func (s *CommandLineStrategy) SupportsCachedConfigure() bool {
	return true
}

func (s *CommandLineStrategy) OnSelectionChanged(ctx context.Context, selection Selection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.selection = selection
	return nil
}

func (s *CommandLineStrategy) Configure(ctx context.Context, inv *invocation.Invocation, consumer proc.OutputConsumer) (int, error) {
	request := proc.Request{
		Program: inv.Program,
		Args:    inv.Args,
		Dir:     inv.Dir,
	}

	if inv.Env != nil {
		request.Env = inv.Env.Slice()
	}

	process, err := s.spawner.Spawn(ctx, request, consumer)
	if err != nil {
		return Code_GenericFailure, err
	}

	s.mu.Lock()
	s.current = process
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.current = nil
		s.mu.Unlock()
	}()

	return process.Wait(ctx)
}

func (s *CommandLineStrategy) PreBuild(ctx context.Context) error {
	return nil
}

func (s *CommandLineStrategy) Refresh(ctx context.Context) (*Refresh, error) {
	s.mu.Lock()
	selection := s.selection
	s.mu.Unlock()

	cachePath := filepath.Join(selection.BinaryDir, "CMakeCache.txt")

	data, err := s.fs.ReadFile(cachePath)
	if err != nil {
		return nil, err
	}

	parsed, err := cache.Parse(string(data))
	if err != nil {
		return nil, err
	}

	refresh := &Refresh{Cache: parsed}

	if selection.SourceDir != "" {
		refresh.InputFiles = append(refresh.InputFiles, filepath.Join(selection.SourceDir, "CMakeLists.txt"))
	}

	databasePath := filepath.Join(selection.BinaryDir, "compile_commands.json")

	if s.fs.Exists(databasePath) {
		commands, err := s.loadDatabase(databasePath)
		if err != nil {
			// A broken database degrades the code model, it does not fail the
			// configure that produced it
			s.logger.Warn("failed to load compilation database", "path", databasePath, "error", err)
		} else {
			project := parsed.Value("CMAKE_PROJECT_NAME")

			buildType := selection.BuildType
			if buildType == "" {
				buildType = parsed.Value("CMAKE_BUILD_TYPE")
			}

			refresh.CodeModel = codemodel.FromCompileCommands(project, buildType, commands)
		}
	}

	return refresh, nil
}

func (s *CommandLineStrategy) loadDatabase(path string) ([]codemodel.CompileCommand, error) {
	return codemodel.LoadCompileCommands(path)
}

func (s *CommandLineStrategy) Cancel() {
	s.mu.Lock()
	process := s.current
	s.mu.Unlock()

	if process != nil {
		_ = process.Kill()
	}
}

func (s *CommandLineStrategy) Shutdown(ctx context.Context) error {
	s.Cancel()
	return nil
}
