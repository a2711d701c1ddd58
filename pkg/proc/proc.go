// Package proc is the subprocess port the driver spawns build tools through: argv plus
// environment and working directory in, streamed output lines and an exit code out. The
// default implementation wraps os/exec; tests substitute fakes.
package proc

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os/exec"
	"sync"
)

// OutputConsumer receives the process output line by line as it is produced
type OutputConsumer interface {
	Output(line string)
	Error(line string)
}

// DiscardOutput drops all process output
type DiscardOutput struct{}

func (DiscardOutput) Output(line string) {}
func (DiscardOutput) Error(line string)  {}

// LineFunc adapts two functions into an OutputConsumer
type LineFunc struct {
	OnOutput func(line string)
	OnError  func(line string)
}

func (f LineFunc) Output(line string) {
	if f.OnOutput != nil {
		f.OnOutput(line)
	}
}

func (f LineFunc) Error(line string) {
	if f.OnError != nil {
		f.OnError(line)
	}
}

// Request describes one subprocess to run
type Request struct {
	Program string
	Args    []string

	// Env is the full environment for the child, nil meaning inherit
	Env []string

	// Dir is the working directory, empty meaning inherit
	Dir string
}

// Process is a running subprocess
type Process interface {
	// Wait blocks until the process exits and returns its exit code. Cancelling the
	// context terminates the process tree and still waits for it to be reaped
	Wait(ctx context.Context) (int, error)

	// Kill terminates the whole process tree. Wait still must be called afterwards
	Kill() error
}

// Spawner starts subprocesses
type Spawner interface {
	Spawn(ctx context.Context, request Request, consumer OutputConsumer) (Process, error)
}

// ExecSpawner runs real subprocesses through os/exec. Children are placed in their own
// process group so Kill can take down the whole tree
type ExecSpawner struct{}

func (ExecSpawner) Spawn(ctx context.Context, request Request, consumer OutputConsumer) (Process, error) {
	cmd := exec.Command(request.Program, request.Args...)
	cmd.Dir = request.Dir

	if request.Env != nil {
		cmd.Env = request.Env
	}

	configureProcessGroup(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	if consumer == nil {
		consumer = DiscardOutput{}
	}

	process := &execProcess{cmd: cmd}

	process.pumps.Add(2)
	go process.pump(stdout, consumer.Output)
	go process.pump(stderr, consumer.Error)

	return process, nil
}

type execProcess struct {
	cmd   *exec.Cmd
	pumps sync.WaitGroup
}

func (p *execProcess) pump(reader io.Reader, sink func(line string)) {
	defer p.pumps.Done()

	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		sink(scanner.Text())
	}
}

func (p *execProcess) Wait(ctx context.Context) (int, error) {
	done := make(chan error, 1)

	go func() {
		p.pumps.Wait()
		done <- p.cmd.Wait()
	}()

	select {
	case <-ctx.Done():
		_ = p.Kill()
		<-done
		return -1, ctx.Err()
	case err := <-done:
		var exit *exec.ExitError
		if errors.As(err, &exit) {
			return exit.ExitCode(), nil
		}

		if err != nil {
			return -1, err
		}

		return 0, nil
	}
}

func (p *execProcess) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}

	return killTree(p.cmd)
}
