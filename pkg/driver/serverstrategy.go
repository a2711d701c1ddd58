package driver

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cmakekit/cmakekit/pkg/cmake"
	"github.com/cmakekit/cmakekit/pkg/cmake/cache"
	"github.com/cmakekit/cmakekit/pkg/cmake/server"
	"github.com/cmakekit/cmakekit/pkg/codemodel"
	"github.com/cmakekit/cmakekit/pkg/invocation"
	"github.com/cmakekit/cmakekit/pkg/proc"
	"github.com/cmakekit/cmakekit/pkg/utils"
)

// ErrServerUnavailable reports that the cmake version has no server mode
var ErrServerUnavailable = errors.New("cmake server mode not available")

// restartFuture serializes server restarts: concurrent triggers wait on the same one
// instead of racing their own shutdown/startup sequences
type restartFuture struct {
	done chan struct{}
	err  error
}

// ServerStrategy keeps a long-lived cmake server process and drives configure cycles
// through its request protocol. Changing the source/binary directory, generator or
// configure environment forces a serialized restart of the process
type ServerStrategy struct {
	cmake  *cmake.Executable
	fs     FileSystem
	logger *slog.Logger

	mu            sync.Mutex
	client        *server.Client
	selection     Selection
	haveSelection bool
	restart       *restartFuture
	consumer      proc.OutputConsumer
}

func NewServerStrategy(executable *cmake.Executable, fs FileSystem, logger *slog.Logger) (*ServerStrategy, error) {
	if !executable.Capabilities().ServerMode {
		return nil, utils.MakeError(ErrServerUnavailable, "cmake %v", executable.Version())
	}

	if fs == nil {
		fs = OSFileSystem{}
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &ServerStrategy{cmake: executable, fs: fs, logger: logger}, nil
}

func (s *ServerStrategy) Name() string {
	return "server"
}

// A server session configures in-process state the protocol cannot restore from disk
func (s *ServerStrategy) SupportsCachedConfigure() bool {
	return false
}

// OnSelectionChanged restarts the server when the selection actually changed. Concurrent
// callers collapse onto one in-flight restart and share its outcome
func (s *ServerStrategy) OnSelectionChanged(ctx context.Context, selection Selection) error {
	s.mu.Lock()

	if pending := s.restart; pending != nil {
		s.mu.Unlock()

		select {
		case <-pending.done:
			return pending.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if s.haveSelection && s.selection.equal(selection) && s.client != nil {
		s.mu.Unlock()
		return nil
	}

	pending := &restartFuture{done: make(chan struct{})}
	s.restart = pending

	old := s.client
	s.client = nil
	s.selection = selection
	s.haveSelection = true

	s.mu.Unlock()

	err := s.doRestart(ctx, old, selection)

	s.mu.Lock()
	s.restart = nil
	s.mu.Unlock()

	pending.err = err
	close(pending.done)

	return err
}

func (s *ServerStrategy) doRestart(ctx context.Context, old *server.Client, selection Selection) error {
	if old != nil {
		// The old process must acknowledge shutdown before a new one may own the
		// build directory
		if err := old.Shutdown(ctx); err != nil {
			s.logger.Warn("cmake server did not shut down cleanly", "error", err)
		}
	}

	options := server.Options{
		CMakePath: s.cmake.Path(),
		SourceDir: selection.SourceDir,
		BuildDir:  selection.BinaryDir,
		Env:       selection.Env,
		Listener:  s.forwardNotification,
	}

	if selection.Generator != nil {
		options.Generator = selection.Generator.Name
		options.Platform = selection.Generator.Platform
		options.Toolset = selection.Generator.Toolset
	}

	client, err := server.Connect(ctx, options)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.client = client
	s.mu.Unlock()

	s.logger.Debug("cmake server restarted",
		"source", selection.SourceDir,
		"binary", selection.BinaryDir,
	)

	return nil
}

func (s *ServerStrategy) forwardNotification(notification server.Notification) {
	s.mu.Lock()
	consumer := s.consumer
	s.mu.Unlock()

	if consumer != nil && notification.Message != "" {
		consumer.Output(notification.Message)
	}
}

func (s *ServerStrategy) currentClient() *server.Client {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.client
}

// Configure issues the configure and compute requests in sequence. A per-request error
// reply counts as a tool failure (the connection stays usable); losing the connection is
// a strategy failure requiring a restart
func (s *ServerStrategy) Configure(ctx context.Context, inv *invocation.Invocation, consumer proc.OutputConsumer) (int, error) {
	client := s.currentClient()
	if client == nil {
		return Code_GenericFailure, utils.MakeError(ErrServerUnavailable, "no server connection")
	}

	s.mu.Lock()
	s.consumer = consumer
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.consumer = nil
		s.mu.Unlock()
	}()

	// The server receives only the cache arguments: directories, generator and
	// environment were fixed at handshake time
	cacheArguments := utils.Filter(inv.Args, func(arg string) bool {
		return strings.HasPrefix(arg, "-D") || strings.HasPrefix(arg, "-W")
	})

	if err := client.Configure(ctx, cacheArguments); err != nil {
		return s.requestFailure("configure", err, consumer)
	}

	if err := client.Compute(ctx); err != nil {
		return s.requestFailure("compute", err, consumer)
	}

	return 0, nil
}

func (s *ServerStrategy) requestFailure(operation string, err error, consumer proc.OutputConsumer) (int, error) {
	var request *server.RequestError

	if errors.As(err, &request) {
		if consumer != nil {
			consumer.Error(request.Message)
		}

		s.logger.Warn("cmake server request failed", "operation", operation, "error", request.Message)
		return 1, nil
	}

	// The connection itself is gone; drop the client so the next selection change
	// reconnects
	s.mu.Lock()
	s.client = nil
	s.mu.Unlock()

	return Code_GenericFailure, err
}

func (s *ServerStrategy) PreBuild(ctx context.Context) error {
	return nil
}

// Refresh pulls the code model and tracked inputs straight from the server, reading only
// the cache file from disk
func (s *ServerStrategy) Refresh(ctx context.Context) (*Refresh, error) {
	client := s.currentClient()
	if client == nil {
		return nil, utils.MakeError(ErrServerUnavailable, "no server connection")
	}

	reply, err := client.CodeModel(ctx)
	if err != nil {
		return nil, err
	}

	model, err := codemodel.FromServerReply(reply)
	if err != nil {
		return nil, err
	}

	refresh := &Refresh{CodeModel: model}

	inputs, err := client.CMakeInputs(ctx)
	if err != nil {
		s.logger.Warn("failed to retrieve cmake inputs", "error", err)
	} else {
		for _, group := range inputs.BuildFiles {
			if group.IsTemporary {
				continue
			}

			for _, source := range group.Sources {
				if !filepath.IsAbs(source) {
					source = filepath.Join(inputs.SourceDirectory, source)
				}

				refresh.InputFiles = append(refresh.InputFiles, source)
			}
		}
	}

	s.mu.Lock()
	binaryDir := s.selection.BinaryDir
	s.mu.Unlock()

	if data, err := s.fs.ReadFile(filepath.Join(binaryDir, "CMakeCache.txt")); err == nil {
		if parsed, err := cache.Parse(string(data)); err == nil {
			refresh.Cache = parsed
		}
	}

	return refresh, nil
}

// Cancel abandons the in-flight request by killing the server process; the next
// operation reconnects
func (s *ServerStrategy) Cancel() {
	s.mu.Lock()
	client := s.client
	s.client = nil
	s.mu.Unlock()

	if client != nil {
		_ = client.Close()
	}
}

func (s *ServerStrategy) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	client := s.client
	s.client = nil
	s.mu.Unlock()

	if client == nil {
		return nil
	}

	return client.Shutdown(ctx)
}
