package driver

import "context"

// Problem is a named, recoverable reason an operation cannot proceed right now. The
// driver reports it through the ProblemHandler and returns a typed failure; user-facing
// messaging is entirely the handler's business
type Problem int

const (
	Problem_ConfigureIsAlreadyRunning Problem = iota
	Problem_BuildIsAlreadyRunning
	Problem_NoSourceDirectoryFound
	Problem_MissingCMakeListsFile
)

func (p Problem) String() string {
	switch p {
	case Problem_ConfigureIsAlreadyRunning:
		return "configure is already running"
	case Problem_BuildIsAlreadyRunning:
		return "build is already running"
	case Problem_NoSourceDirectoryFound:
		return "no source directory found"
	case Problem_MissingCMakeListsFile:
		return "missing CMakeLists.txt"
	}

	return "unknown problem"
}

// ProblemHandler receives precondition problems. For MissingCMakeListsFile the handler
// may fix the situation (offer to create the file) and return true to make the driver
// re-check before giving up
type ProblemHandler interface {
	HandleProblem(ctx context.Context, problem Problem, detail string) bool
}

// NullProblemHandler ignores every problem
type NullProblemHandler struct{}

func (NullProblemHandler) HandleProblem(context.Context, Problem, string) bool {
	return false
}
