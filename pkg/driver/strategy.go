package driver

import (
	"context"

	"github.com/cmakekit/cmakekit/pkg/cmake"
	"github.com/cmakekit/cmakekit/pkg/cmake/cache"
	"github.com/cmakekit/cmakekit/pkg/codemodel"
	"github.com/cmakekit/cmakekit/pkg/invocation"
	"github.com/cmakekit/cmakekit/pkg/proc"
)

// Selection is the part of the driver's state a strategy has to know to execute
// operations: where the tree lives and what environment the tool runs under
type Selection struct {
	SourceDir string
	BinaryDir string
	Generator *cmake.Generator

	// Env is the configure environment as NAME=value pairs
	Env []string

	// BuildType names the active configuration, for code model reconstruction
	BuildType string
}

func (s Selection) equal(other Selection) bool {
	if s.SourceDir != other.SourceDir || s.BinaryDir != other.BinaryDir {
		return false
	}

	if (s.Generator == nil) != (other.Generator == nil) {
		return false
	}

	if s.Generator != nil && *s.Generator != *other.Generator {
		return false
	}

	if len(s.Env) != len(other.Env) {
		return false
	}

	for i := range s.Env {
		if s.Env[i] != other.Env[i] {
			return false
		}
	}

	return true
}

// Refresh is what a strategy recovered after a successful configure
type Refresh struct {
	Cache     *cache.Cache
	CodeModel *codemodel.CodeModel

	// InputFiles are the files the configure step read; their mtimes drive
	// reconfigure detection
	InputFiles []string
}

// Strategy is the pluggable execution backend of the driver, chosen at construction.
// The driver decides when operations run and what their command lines are; the strategy
// decides how the configure step reaches cmake and where the code model comes from
type Strategy interface {
	Name() string

	// SupportsCachedConfigure reports whether the strategy can serve from an on-disk
	// cache without running a configure
	SupportsCachedConfigure() bool

	// OnSelectionChanged tells the strategy the directories, generator or configure
	// environment changed. Strategies holding long-lived state (the server process)
	// restart it here; concurrent calls collapse into a single restart
	OnSelectionChanged(ctx context.Context, selection Selection) error

	// Configure executes the resolved configure invocation and returns the tool-level
	// exit code. A non-zero code is a tool failure, an error is a strategy failure
	Configure(ctx context.Context, inv *invocation.Invocation, consumer proc.OutputConsumer) (int, error)

	// PreBuild runs before every build delegation
	PreBuild(ctx context.Context) error

	// Refresh retrieves the cache and code model after a successful configure
	Refresh(ctx context.Context) (*Refresh, error)

	// Cancel abandons whatever the strategy is doing right now
	Cancel()

	// Shutdown releases strategy resources. The strategy is unusable afterwards
	Shutdown(ctx context.Context) error
}
