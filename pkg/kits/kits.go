// Package kits models toolchain kits: named descriptors of compilers, toolchain files and
// preferred generators usable without presets. Kits live in a JSON file and can be
// produced by scanning the host for installed compilers.
package kits

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cmakekit/cmakekit/pkg/cmake"
	"github.com/cmakekit/cmakekit/pkg/utils"
)

// Kit is an immutable toolchain descriptor. The driver receives a copy on selection and
// never mutates it
type Kit struct {
	Name string `json:"name"`

	// Compilers maps CMake language names (C, CXX, ...) to compiler paths
	Compilers map[string]string `json:"compilers,omitempty"`

	// ToolchainFile is passed as CMAKE_TOOLCHAIN_FILE when set
	ToolchainFile string `json:"toolchainFile,omitempty"`

	// PreferredGenerator overrides the settings-level generator preference
	PreferredGenerator *cmake.Generator `json:"preferredGenerator,omitempty"`

	// CMakeSettings are extra cache variables the kit contributes
	CMakeSettings map[string]string `json:"cmakeSettings,omitempty"`

	// EnvironmentVariables overlay the process environment for every operation
	EnvironmentVariables map[string]string `json:"environmentVariables,omitempty"`

	// VisualStudio and VisualStudioArchitecture request the IDE environment of a
	// particular VS installation; opaque hints forwarded to the host
	VisualStudio             string `json:"visualStudio,omitempty"`
	VisualStudioArchitecture string `json:"visualStudioArchitecture,omitempty"`

	// Keep excludes the kit from being replaced by a rescan
	Keep bool `json:"keep,omitempty"`
}

var ErrNotFound = errors.New("no such kit")

// DefaultFile returns the conventional kits file location inside a workspace
func DefaultFile(workspace string) string {
	return filepath.Join(workspace, ".cmakekit", "kits.json")
}

// ConfigureArgs renders the kit's contribution to a configure command line
func (k *Kit) ConfigureArgs() []string {
	var args []string

	if k.ToolchainFile != "" {
		args = append(args, "-DCMAKE_TOOLCHAIN_FILE="+k.ToolchainFile)
	}

	for _, language := range utils.SortedKeys(k.Compilers) {
		args = append(args, fmt.Sprintf("-DCMAKE_%s_COMPILER:FILEPATH=%s", language, k.Compilers[language]))
	}

	for _, key := range utils.SortedKeys(k.CMakeSettings) {
		args = append(args, fmt.Sprintf("-D%s=%s", key, k.CMakeSettings[key]))
	}

	return args
}

// CompilerIdentity summarizes the kit's compilers for compatibility checks: replacing a
// kit whose identity differs forces a clean reconfigure
func (k *Kit) CompilerIdentity() string {
	identity := ""

	for _, language := range utils.SortedKeys(k.Compilers) {
		if identity != "" {
			identity += ";"
		}

		identity += language + "=" + k.Compilers[language]
	}

	if k.ToolchainFile != "" {
		if identity != "" {
			identity += ";"
		}

		identity += "toolchain=" + k.ToolchainFile
	}

	return identity
}

// Load reads a kits JSON file. A missing file is an empty kit list, matching a host that
// has never scanned
func Load(path string) ([]Kit, error) {
	data, err := os.ReadFile(path)

	if err != nil {
		if utils.IgnoreNotExist(err) == nil {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to read kits file: %w", err)
	}

	var kits []Kit

	if err := json.Unmarshal(data, &kits); err != nil {
		return nil, fmt.Errorf("failed to parse kits file %v: %w", path, err)
	}

	return kits, nil
}

// Save writes a kits JSON file, creating parent directories as needed
func Save(path string, kits []Kit) error {
	data, err := json.MarshalIndent(kits, "", "  ")

	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create kits directory: %w", err)
	}

	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write kits file: %w", err)
	}

	return nil
}

// Find returns the kit with the given name
func Find(kits []Kit, name string) (*Kit, error) {
	kit := utils.Find(kits, func(k Kit) bool { return k.Name == name })

	if kit == nil {
		return nil, utils.MakeError(ErrNotFound, "%q", name)
	}

	return kit, nil
}

// MergeScan folds freshly scanned kits into an existing list, keeping user kits marked
// Keep and replacing previously scanned kits of the same name
func MergeScan(existing, scanned []Kit) []Kit {
	merged := utils.Filter(existing, func(k Kit) bool { return k.Keep })

	kept := map[string]bool{}
	for _, kit := range merged {
		kept[kit.Name] = true
	}

	for _, kit := range scanned {
		if !kept[kit.Name] {
			merged = append(merged, kit)
		}
	}

	return merged
}
