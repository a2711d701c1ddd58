package driver

import "fmt"

// ResultType classifies how an operation ended. Callers branch on it, not on the numeric
// code: the code only carries the tool's exit status on normal paths and a negative
// sentinel otherwise
type ResultType int

const (
	// The operation ran; Code is the tool's exit code (0 for success)
	ResultType_NormalOperation ResultType = iota
	// The operation was cancelled through StopCurrentProcess
	ResultType_ForcedCancel
	// A configure is already in flight on this driver
	ResultType_ConfigureInProgress
	// A build is already in flight on this driver
	ResultType_BuildInProgress
	// A cached-configure path was requested but no usable cache exists
	ResultType_NoCache
	// Presets are enabled but no configure preset is selected
	ResultType_NoConfigurePreset
	// No build command could be constructed from the active configuration
	ResultType_NoBuildCommand
	// No usable generator could be resolved
	ResultType_NoGenerator
	// A precondition failed: missing source directory or CMakeLists.txt
	ResultType_Precondition
	// An unexpected internal error, downgraded from an exception path
	ResultType_InternalError
)

func (t ResultType) String() string {
	switch t {
	case ResultType_NormalOperation:
		return "normal"
	case ResultType_ForcedCancel:
		return "cancelled"
	case ResultType_ConfigureInProgress:
		return "configure-in-progress"
	case ResultType_BuildInProgress:
		return "build-in-progress"
	case ResultType_NoCache:
		return "no-cache"
	case ResultType_NoConfigurePreset:
		return "no-configure-preset"
	case ResultType_NoBuildCommand:
		return "no-build-command"
	case ResultType_NoGenerator:
		return "no-generator"
	case ResultType_Precondition:
		return "precondition-failed"
	case ResultType_InternalError:
		return "internal-error"
	default:
		return "unknown"
	}
}

// Sentinel codes for results that never reached the tool. Tool exit codes are always
// non-negative, so these can never collide with one
const (
	Code_GenericFailure      = -1
	Code_Cancelled           = -2
	Code_ConfigureInProgress = -3
	Code_BuildInProgress     = -4
	Code_NoCache             = -5
	Code_NoConfigurePreset   = -6
	Code_NoBuildCommand      = -7
	Code_NoGenerator         = -8
	Code_Precondition        = -9
)

// Result is the typed outcome of a driver operation. Operations never return Go errors
// to their callers; failures of any kind are folded in here
type Result struct {
	Code int
	Type ResultType

	// Err carries detail on non-normal results, for logging and messages
	Err error
}

func (r Result) Success() bool {
	return r.Type == ResultType_NormalOperation && r.Code == 0
}

func (r Result) String() string {
	if r.Err != nil {
		return fmt.Sprintf("%v (code %v): %v", r.Type, r.Code, r.Err)
	}

	return fmt.Sprintf("%v (code %v)", r.Type, r.Code)
}

func normalResult(code int) Result {
	return Result{Code: code, Type: ResultType_NormalOperation}
}

func failedResult(resultType ResultType, code int, err error) Result {
	return Result{Code: code, Type: resultType, Err: err}
}
