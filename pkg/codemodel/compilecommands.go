package codemodel

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cmakekit/cmakekit/pkg/utils"
)

// CompileCommand is one entry of a compile_commands.json compilation database
type CompileCommand struct {
	Directory string   `json:"directory"`
	Command   string   `json:"command,omitempty"`
	Arguments []string `json:"arguments,omitempty"`
	File      string   `json:"file"`
	Output    string   `json:"output,omitempty"`
}

// Argv returns the command as an argument vector, whichever of the two schema spellings
// the generator used
func (c *CompileCommand) Argv() []string {
	if len(c.Arguments) > 0 {
		return c.Arguments
	}

	return strings.Fields(c.Command)
}

// LoadCompileCommands reads a compile_commands.json file
func LoadCompileCommands(path string) ([]CompileCommand, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read compilation database: %w", err)
	}

	var commands []CompileCommand
	if err := json.Unmarshal(data, &commands); err != nil {
		return nil, fmt.Errorf("failed to parse compilation database %v: %w", path, err)
	}

	return commands, nil
}

var languageByExtension = map[string]string{
	".c":   "C",
	".m":   "OBJC",
	".cc":  "CXX",
	".cp":  "CXX",
	".cxx": "CXX",
	".cpp": "CXX",
	".c++": "CXX",
	".mm":  "OBJCXX",
	".cu":  "CUDA",
	".f":   "Fortran",
	".f90": "Fortran",
}

func languageOf(file string) string {
	if language, ok := languageByExtension[strings.ToLower(filepath.Ext(file))]; ok {
		return language
	}

	return ""
}

// fileGroupKey buckets compile commands whose flags are interchangeable
type fileGroupKey struct {
	language string
	flags    string
}

// FromCompileCommands reconstructs a code model from a compilation database. The
// database carries no target structure, so everything lands in a single synthetic "all"
// target whose file groups bucket sources by language and identical flags
func FromCompileCommands(projectName, configurationName string, commands []CompileCommand) *CodeModel {
	groups := map[fileGroupKey]*FileGroup{}
	var order []fileGroupKey

	for _, command := range commands {
		argv := command.Argv()

		var defines []string
		var includes []IncludePath
		var flags []string

		// Skip the compiler itself and the source/output bookkeeping arguments
		for i := 1; i < len(argv); i++ {
			arg := argv[i]

			switch {
			case strings.HasPrefix(arg, "-D"):
				defines = append(defines, strings.TrimPrefix(arg, "-D"))
			case strings.HasPrefix(arg, "-I"):
				includes = append(includes, IncludePath{Path: strings.TrimPrefix(arg, "-I")})
			case arg == "-isystem" && i+1 < len(argv):
				includes = append(includes, IncludePath{Path: argv[i+1], IsSystem: true})
				i++
			case arg == "-o" || arg == "-c":
				if arg == "-o" {
					i++
				}
			case arg == command.File || arg == command.Output:
			default:
				flags = append(flags, arg)
			}
		}

		var canonical strings.Builder
		canonical.WriteString(strings.Join(defines, ";"))
		canonical.WriteString("|")
		for _, include := range includes {
			canonical.WriteString(include.Path)
			if include.IsSystem {
				canonical.WriteString("!")
			}
			canonical.WriteString(";")
		}
		canonical.WriteString("|")
		canonical.WriteString(strings.Join(flags, " "))

		key := fileGroupKey{
			language: languageOf(command.File),
			flags:    canonical.String(),
		}

		group, ok := groups[key]
		if !ok {
			group = &FileGroup{
				Language:     key.language,
				CompileFlags: strings.Join(flags, " "),
				Defines:      defines,
				IncludePath:  includes,
			}

			groups[key] = group
			order = append(order, key)
		}

		group.Sources = append(group.Sources, command.File)
	}

	target := Target{
		Name: "all",
		Type: TargetType_Meta,
		FileGroups: utils.Map(order, func(key fileGroupKey) FileGroup {
			return *groups[key]
		}),
	}

	return &CodeModel{
		Configurations: []Configuration{
			{
				Name: configurationName,
				Projects: []Project{
					{Name: projectName, Targets: []Target{target}},
				},
			},
		},
	}
}
