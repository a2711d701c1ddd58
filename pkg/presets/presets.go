// Package presets models CMakePresets.json files. The driver consumes flattened preset
// objects only; resolving an `inherits` chain is the job of whoever produced the file, and
// selecting a preset that still carries one is rejected here instead of half-resolved.
package presets

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/cmakekit/cmakekit/pkg/utils"
)

// File is the parsed contents of a CMakePresets.json or CMakeUserPresets.json file
type File struct {
	Version              any               `json:"version"`
	CMakeMinimumRequired *MinimumVersion   `json:"cmakeMinimumRequired,omitempty"`
	ConfigurePresets     []ConfigurePreset `json:"configurePresets,omitempty"`
	BuildPresets         []BuildPreset     `json:"buildPresets,omitempty"`
	TestPresets          []TestPreset      `json:"testPresets,omitempty"`
	PackagePresets       []PackagePreset   `json:"packagePresets,omitempty"`
	WorkflowPresets      []WorkflowPreset  `json:"workflowPresets,omitempty"`
}

// MinimumVersion is the cmakeMinimumRequired stanza
type MinimumVersion struct {
	Major int `json:"major"`
	Minor int `json:"minor"`
	Patch int `json:"patch"`
}

// Condition gates whether a preset applies on this host
type Condition struct {
	Type string `json:"type"`
	Lhs  string `json:"lhs,omitempty"`
	Rhs  string `json:"rhs,omitempty"`
}

// ConfigurePreset is a flattened configure preset
type ConfigurePreset struct {
	Name             string             `json:"name"`
	Inherits         []string           `json:"inherits,omitempty"`
	Hidden           bool               `json:"hidden,omitempty"`
	DisplayName      string             `json:"displayName,omitempty"`
	Description      string             `json:"description,omitempty"`
	Generator        string             `json:"generator,omitempty"`
	Architecture     string             `json:"architecture,omitempty"`
	Toolset          string             `json:"toolset,omitempty"`
	BinaryDir        string             `json:"binaryDir,omitempty"`
	InstallDir       string             `json:"installDir,omitempty"`
	ToolchainFile    string             `json:"toolchainFile,omitempty"`
	CacheVariables   map[string]any     `json:"cacheVariables,omitempty"`
	Environment      map[string]*string `json:"environment,omitempty"`
	Condition        *Condition         `json:"condition,omitempty"`
	WarningsAsErrors bool               `json:"warningsAsErrors,omitempty"`
	DebugOutput      bool               `json:"debugOutput,omitempty"`
	TraceOutput      bool               `json:"traceOutput,omitempty"`
}

// BuildPreset is a flattened build preset
type BuildPreset struct {
	Name              string             `json:"name"`
	Inherits          []string           `json:"inherits,omitempty"`
	Hidden            bool               `json:"hidden,omitempty"`
	DisplayName       string             `json:"displayName,omitempty"`
	ConfigurePreset   string             `json:"configurePreset,omitempty"`
	Configuration     string             `json:"configuration,omitempty"`
	Jobs              int                `json:"jobs,omitempty"`
	Targets           []string           `json:"targets,omitempty"`
	CleanFirst        bool               `json:"cleanFirst,omitempty"`
	Verbose           bool               `json:"verbose,omitempty"`
	NativeToolOptions []string           `json:"nativeToolOptions,omitempty"`
	Environment       map[string]*string `json:"environment,omitempty"`
	Condition         *Condition         `json:"condition,omitempty"`
}

// TestPreset is a flattened ctest preset
type TestPreset struct {
	Name            string             `json:"name"`
	Inherits        []string           `json:"inherits,omitempty"`
	Hidden          bool               `json:"hidden,omitempty"`
	DisplayName     string             `json:"displayName,omitempty"`
	ConfigurePreset string             `json:"configurePreset,omitempty"`
	Configuration   string             `json:"configuration,omitempty"`
	Jobs            int                `json:"jobs,omitempty"`
	OutputOnFailure bool               `json:"outputOnFailure,omitempty"`
	Args            []string           `json:"args,omitempty"`
	Environment     map[string]*string `json:"environment,omitempty"`
	Condition       *Condition         `json:"condition,omitempty"`
}

// PackagePreset is a flattened cpack preset
type PackagePreset struct {
	Name             string             `json:"name"`
	Inherits         []string           `json:"inherits,omitempty"`
	Hidden           bool               `json:"hidden,omitempty"`
	DisplayName      string             `json:"displayName,omitempty"`
	ConfigurePreset  string             `json:"configurePreset,omitempty"`
	Generators       []string           `json:"generators,omitempty"`
	Configurations   []string           `json:"configurations,omitempty"`
	PackageName      string             `json:"packageName,omitempty"`
	PackageDirectory string             `json:"packageDirectory,omitempty"`
	Environment      map[string]*string `json:"environment,omitempty"`
	Condition        *Condition         `json:"condition,omitempty"`
}

// Workflow step types as spelled in the presets schema
const (
	StepType_Configure = "configure"
	StepType_Build     = "build"
	StepType_Test      = "test"
	StepType_Package   = "package"
)

// WorkflowStep is one step of a workflow preset, naming a preset of another kind
type WorkflowStep struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

// WorkflowPreset is an ordered list of configure/build/test/package steps
type WorkflowPreset struct {
	Name        string         `json:"name"`
	DisplayName string         `json:"displayName,omitempty"`
	Steps       []WorkflowStep `json:"steps"`
}

var (
	ErrNotFound     = errors.New("no such preset")
	ErrNotFlattened = errors.New("preset still carries an inherits chain")
)

// Load parses a presets file from disk
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)

	if err != nil {
		return nil, fmt.Errorf("failed to read presets file: %w", err)
	}

	var file File

	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse presets file %v: %w", path, err)
	}

	return &file, nil
}

func checkFlat(kind, name string, inherits []string) error {
	if len(inherits) > 0 {
		return utils.MakeError(ErrNotFlattened, "%v preset %q inherits %v", kind, name, inherits)
	}

	return nil
}

// Configure returns the configure preset with the given name, rejecting hidden and
// unflattened entries
func (f *File) Configure(name string) (*ConfigurePreset, error) {
	preset := utils.Find(f.ConfigurePresets, func(p ConfigurePreset) bool { return p.Name == name })

	if preset == nil || preset.Hidden {
		return nil, utils.MakeError(ErrNotFound, "configure preset %q", name)
	}

	if err := checkFlat("configure", name, preset.Inherits); err != nil {
		return nil, err
	}

	return preset, nil
}

// Build returns the build preset with the given name
func (f *File) Build(name string) (*BuildPreset, error) {
	preset := utils.Find(f.BuildPresets, func(p BuildPreset) bool { return p.Name == name })

	if preset == nil || preset.Hidden {
		return nil, utils.MakeError(ErrNotFound, "build preset %q", name)
	}

	if err := checkFlat("build", name, preset.Inherits); err != nil {
		return nil, err
	}

	return preset, nil
}

// Test returns the test preset with the given name
func (f *File) Test(name string) (*TestPreset, error) {
	preset := utils.Find(f.TestPresets, func(p TestPreset) bool { return p.Name == name })

	if preset == nil || preset.Hidden {
		return nil, utils.MakeError(ErrNotFound, "test preset %q", name)
	}

	if err := checkFlat("test", name, preset.Inherits); err != nil {
		return nil, err
	}

	return preset, nil
}

// Package returns the package preset with the given name
func (f *File) Package(name string) (*PackagePreset, error) {
	preset := utils.Find(f.PackagePresets, func(p PackagePreset) bool { return p.Name == name })

	if preset == nil || preset.Hidden {
		return nil, utils.MakeError(ErrNotFound, "package preset %q", name)
	}

	if err := checkFlat("package", name, preset.Inherits); err != nil {
		return nil, err
	}

	return preset, nil
}

// Workflow returns the workflow preset with the given name
func (f *File) Workflow(name string) (*WorkflowPreset, error) {
	preset := utils.Find(f.WorkflowPresets, func(p WorkflowPreset) bool { return p.Name == name })

	if preset == nil {
		return nil, utils.MakeError(ErrNotFound, "workflow preset %q", name)
	}

	return preset, nil
}

// HostSystemName returns the value ${hostSystemName} expands to on this platform
func HostSystemName() string {
	switch runtime.GOOS {
	case "windows":
		return "Windows"
	case "darwin":
		return "Darwin"
	case "linux":
		return "Linux"
	default:
		return runtime.GOOS
	}
}

// Applies evaluates the condition on the given host system name. A nil condition or an
// unknown condition type applies everywhere
func (c *Condition) Applies(hostSystemName string) bool {
	if c == nil {
		return true
	}

	expand := func(s string) string {
		return strings.ReplaceAll(s, "${hostSystemName}", hostSystemName)
	}

	switch c.Type {
	case "const":
		// The schema stores the value in lhs when distilled to strings
		return constTruthy(c.Lhs)
	case "equals":
		return expand(c.Lhs) == expand(c.Rhs)
	case "notEquals":
		return expand(c.Lhs) != expand(c.Rhs)
	default:
		return true
	}
}

func constTruthy(value string) bool {
	switch strings.ToUpper(value) {
	case "", "0", "NO", "FALSE", "OFF", "N":
		return false
	}

	return true
}

// ApplicableConfigurePresets lists the visible configure presets whose condition holds on
// this host
func (f *File) ApplicableConfigurePresets() []ConfigurePreset {
	host := HostSystemName()

	return utils.Filter(f.ConfigurePresets, func(p ConfigurePreset) bool {
		return !p.Hidden && p.Condition.Applies(host)
	})
}

// ApplicableBuildPresets lists the visible build presets whose own condition and whose
// configure preset's condition both hold on this host
func (f *File) ApplicableBuildPresets() []BuildPreset {
	host := HostSystemName()

	return utils.Filter(f.BuildPresets, func(p BuildPreset) bool {
		if p.Hidden || !p.Condition.Applies(host) {
			return false
		}

		if p.ConfigurePreset != "" {
			configure := utils.Find(f.ConfigurePresets, func(c ConfigurePreset) bool {
				return c.Name == p.ConfigurePreset
			})

			if configure != nil && !configure.Condition.Applies(host) {
				return false
			}
		}

		return true
	})
}

// CacheVariableString renders a cacheVariables entry into the VALUE part of a -D argument.
// The schema allows plain strings, booleans and {type, value} objects
func CacheVariableString(value any) (tag string, rendered string) {
	switch v := value.(type) {
	case bool:
		if v {
			return "BOOL", "TRUE"
		}

		return "BOOL", "FALSE"
	case map[string]any:
		tag, _ := v["type"].(string)
		return tag, fmt.Sprint(v["value"])
	default:
		return "", fmt.Sprint(value)
	}
}
