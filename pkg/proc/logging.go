package proc

import (
	"context"
	"log/slog"
	"time"
)

// LoggingSpawner decorates another Spawner with structured logs of every process start
// and exit. Wrap the real spawner with it to trace what the driver runs without touching
// the driver itself
type LoggingSpawner struct {
	Spawner Spawner
	Logger  *slog.Logger
}

func NewLoggingSpawner(spawner Spawner, logger *slog.Logger) *LoggingSpawner {
	return &LoggingSpawner{Spawner: spawner, Logger: logger}
}

func (s *LoggingSpawner) Spawn(ctx context.Context, request Request, consumer OutputConsumer) (Process, error) {
	s.Logger.Debug("spawning process",
		"program", request.Program,
		"args", request.Args,
		"dir", request.Dir,
	)

	started := time.Now()
	process, err := s.Spawner.Spawn(ctx, request, consumer)

	if err != nil {
		s.Logger.Error("failed to spawn process", "program", request.Program, "error", err)
		return nil, err
	}

	return &loggedProcess{
		Process: process,
		logger:  s.Logger,
		program: request.Program,
		started: started,
	}, nil
}

type loggedProcess struct {
	Process
	logger  *slog.Logger
	program string
	started time.Time
}

func (p *loggedProcess) Wait(ctx context.Context) (int, error) {
	code, err := p.Process.Wait(ctx)

	if err != nil {
		p.logger.Warn("process did not finish",
			"program", p.program,
			"error", err,
			"duration", time.Since(p.started),
		)

		return code, err
	}

	p.logger.Debug("process finished",
		"program", p.program,
		"code", code,
		"duration", time.Since(p.started),
	)

	return code, nil
}

func (p *loggedProcess) Kill() error {
	p.logger.Debug("killing process tree", "program", p.program)
	return p.Process.Kill()
}
