// Package cmake models the cmake installation on the host: where the binary lives, which
// version it is and which command line features that version supports.
package cmake

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
)

// Executable represents a usable cmake binary with a known version.
type Executable struct {
	path         string
	version      string
	capabilities Capabilities
}

// New creates an Executable from a known path and version without probing the host.
func New(path string, version string) *Executable {
	return &Executable{
		path:         path,
		version:      version,
		capabilities: DetectCapabilities(version),
	}
}

// Find locates a cmake binary and probes its version.
// It searches PATH or uses the provided path.
func Find(cmakePath ...string) (*Executable, error) {
	var path string

	if len(cmakePath) > 0 && cmakePath[0] != "" {
		var err error
		path, err = exec.LookPath(cmakePath[0])
		if err != nil {
			return nil, fmt.Errorf("cmake not found at %s: %w", cmakePath[0], err)
		}
	} else {
		var err error
		path, err = exec.LookPath("cmake")
		if err != nil {
			return nil, fmt.Errorf("cmake not found in PATH: %w", err)
		}
	}

	output, err := exec.Command(path, "--version").Output()
	if err != nil {
		return nil, fmt.Errorf("cmake at %s is not functional: %w", path, err)
	}

	version, err := ParseVersionOutput(string(output))
	if err != nil {
		return nil, err
	}

	return New(path, version), nil
}

// Path returns the path to the cmake executable.
func (c *Executable) Path() string {
	return c.path
}

// Version returns the cmake version as "major.minor.patch".
func (c *Executable) Version() string {
	return c.version
}

// Capabilities returns the feature set of this cmake version.
func (c *Executable) Capabilities() Capabilities {
	return c.capabilities
}

// CTestPath returns the ctest binary installed next to cmake.
func (c *Executable) CTestPath() string {
	return c.siblingTool("ctest")
}

// CPackPath returns the cpack binary installed next to cmake.
func (c *Executable) CPackPath() string {
	return c.siblingTool("cpack")
}

func (c *Executable) siblingTool(tool string) string {
	dir := filepath.Dir(c.path)

	if runtime.GOOS == "windows" {
		tool += ".exe"
	}

	// A bare "cmake" path came from PATH lookup elsewhere; resolve the sibling the
	// same way
	if dir == "." {
		return tool
	}

	return filepath.Join(dir, tool)
}

var versionPattern = regexp.MustCompile(`cmake\s+version\s+(\d+\.\d+\.\d+)`)

// ParseVersionOutput extracts the version number from `cmake --version` output.
func ParseVersionOutput(output string) (string, error) {
	matches := versionPattern.FindStringSubmatch(output)
	if matches == nil {
		return "", fmt.Errorf("cannot parse cmake version from output %q", output)
	}

	return matches[1], nil
}

// BuildJobsArgs returns the arguments that request a parallel build from `cmake --build`.
// The returned slice must go at the end of the command line: on older cmake versions the
// flags are generator-native and follow a "--" separator.
func (c *Executable) BuildJobsArgs(generator string, jobs int) []string {
	if jobs <= 0 {
		return nil
	}

	if c.capabilities.ParallelJobs {
		return []string{"--parallel", strconv.Itoa(jobs)}
	}

	if native := NativeJobsArgs(generator, jobs); native != nil {
		return append([]string{"--"}, native...)
	}

	return nil
}

// NativeJobsArgs returns the build tool's own parallelism flags, without the "--"
// separator, for cmake versions predating --parallel. Callers merging them with other
// native tool arguments emit the separator once themselves.
func NativeJobsArgs(generator string, jobs int) []string {
	if jobs <= 0 {
		return nil
	}

	// Generators that already build in parallel by default still take an explicit job
	// count; single-job generators only need one when more than one job is wanted
	if jobs > 1 || !singleJobByDefault(generator) {
		if visualStudioPattern.MatchString(generator) {
			return []string{"/maxcpucount:" + strconv.Itoa(jobs)}
		}

		return []string{"-j", strconv.Itoa(jobs)}
	}

	return nil
}
