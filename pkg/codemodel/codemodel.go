// Package codemodel holds the structured description of a configured project tree:
// configurations containing projects containing targets containing file groups. A
// snapshot is produced after every successful configure, either from a cmake server
// codemodel reply or reconstructed from the generated compile commands database.
package codemodel

import (
	"encoding/json"
	"fmt"

	"github.com/cmakekit/cmakekit/pkg/utils"
)

// TargetType tags what a target produces. The values are cmake's own type names, plus
// Meta for synthetic targets like "all" and "install" that exist only as build goals.
type TargetType string

const (
	TargetType_Executable       TargetType = "EXECUTABLE"
	TargetType_StaticLibrary    TargetType = "STATIC_LIBRARY"
	TargetType_SharedLibrary    TargetType = "SHARED_LIBRARY"
	TargetType_ModuleLibrary    TargetType = "MODULE_LIBRARY"
	TargetType_ObjectLibrary    TargetType = "OBJECT_LIBRARY"
	TargetType_InterfaceLibrary TargetType = "INTERFACE_LIBRARY"
	TargetType_Utility          TargetType = "UTILITY"
	TargetType_Meta             TargetType = "META"
)

// IncludePath is one include search directory of a file group.
type IncludePath struct {
	Path     string `json:"path"`
	IsSystem bool   `json:"isSystem,omitempty"`
}

// FileGroup is a set of sources compiled with the same language, flags, defines and
// include paths.
type FileGroup struct {
	Language     string        `json:"language,omitempty"`
	CompileFlags string        `json:"compileFlags,omitempty"`
	Defines      []string      `json:"defines,omitempty"`
	IncludePath  []IncludePath `json:"includePath,omitempty"`
	Sources      []string      `json:"sources"`
	IsGenerated  bool          `json:"isGenerated,omitempty"`
}

// Target is a named build product. Rich targets carry artifact paths and a type tag;
// named-only targets (synthetic goals) carry just the name.
type Target struct {
	Name            string      `json:"name"`
	Type            TargetType  `json:"type,omitempty"`
	FullName        string      `json:"fullName,omitempty"`
	SourceDirectory string      `json:"sourceDirectory,omitempty"`
	BuildDirectory  string      `json:"buildDirectory,omitempty"`
	Artifacts       []string    `json:"artifacts,omitempty"`
	FileGroups      []FileGroup `json:"fileGroups,omitempty"`
}

// Project groups the targets declared by one project() call.
type Project struct {
	Name            string   `json:"name"`
	SourceDirectory string   `json:"sourceDirectory,omitempty"`
	BuildDirectory  string   `json:"buildDirectory,omitempty"`
	Targets         []Target `json:"targets,omitempty"`
}

// Configuration is one build configuration (Debug, Release, ...) of the tree.
type Configuration struct {
	Name     string    `json:"name"`
	Projects []Project `json:"projects,omitempty"`
}

// CodeModel is the immutable snapshot handed to consumers after a successful configure.
type CodeModel struct {
	Configurations []Configuration `json:"configurations"`
}

// FromServerReply decodes a cmake server codemodel reply.
func FromServerReply(raw json.RawMessage) (*CodeModel, error) {
	var model CodeModel
	if err := json.Unmarshal(raw, &model); err != nil {
		return nil, fmt.Errorf("failed to parse codemodel reply: %w", err)
	}

	return &model, nil
}

// Configuration returns the configuration with the given name, or the first one when the
// name is empty.
func (m *CodeModel) Configuration(name string) *Configuration {
	if name == "" && len(m.Configurations) > 0 {
		return &m.Configurations[0]
	}

	return utils.Find(m.Configurations, func(c Configuration) bool {
		return c.Name == name
	})
}

// Targets flattens all targets of one configuration, or of the first configuration when
// the name is empty.
func (m *CodeModel) Targets(configuration string) []Target {
	config := m.Configuration(configuration)
	if config == nil {
		return nil
	}

	var targets []Target
	for _, project := range config.Projects {
		targets = append(targets, project.Targets...)
	}

	return targets
}

// FindTarget looks a target up by name across all configurations.
func (m *CodeModel) FindTarget(name string) *Target {
	for i := range m.Configurations {
		for j := range m.Configurations[i].Projects {
			project := &m.Configurations[i].Projects[j]

			if target := utils.Find(project.Targets, func(t Target) bool {
				return t.Name == name
			}); target != nil {
				return target
			}
		}
	}

	return nil
}
