// Package variants models the legacy cmake-variants.yaml file: a set of named dimensions
// (buildType, linkage, ...) each offering named choices, combined into one selection when
// presets are not in use.
package variants

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cmakekit/cmakekit/pkg/utils"
)

// Choice is one selectable option within a dimension
type Choice struct {
	Short       string             `yaml:"short"`
	Long        string             `yaml:"long,omitempty"`
	BuildType   string             `yaml:"buildType,omitempty"`
	LinkageName string             `yaml:"linkage,omitempty"`
	Settings    map[string]string  `yaml:"settings,omitempty"`
	Env         map[string]*string `yaml:"env,omitempty"`
}

// Dimension is one axis of variation with a default choice
type Dimension struct {
	Default     string            `yaml:"default"`
	Description string            `yaml:"description,omitempty"`
	Choices     map[string]Choice `yaml:"choices"`
}

// File maps dimension names to dimensions, in the order they appear in the YAML document
type File struct {
	Dimensions map[string]Dimension
	order      []string
}

// UnmarshalYAML keeps the document order of dimensions, so combined selections resolve
// settings conflicts deterministically
func (f *File) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("cmake-variants root must be a mapping, got %v", node.Tag)
	}

	f.Dimensions = map[string]Dimension{}

	for i := 0; i < len(node.Content); i += 2 {
		var name string
		var dimension Dimension

		if err := node.Content[i].Decode(&name); err != nil {
			return err
		}

		if err := node.Content[i+1].Decode(&dimension); err != nil {
			return fmt.Errorf("dimension %q: %w", name, err)
		}

		f.Dimensions[name] = dimension
		f.order = append(f.order, name)
	}

	return nil
}

var (
	ErrUnknownDimension = errors.New("unknown variant dimension")
	ErrUnknownChoice    = errors.New("unknown variant choice")
)

// Load parses a cmake-variants.yaml file
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)

	if err != nil {
		return nil, fmt.Errorf("failed to read variants file: %w", err)
	}

	var file File

	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse variants file %v: %w", path, err)
	}

	return &file, nil
}

// Default returns the variants used when no cmake-variants.yaml exists: a single
// buildType dimension offering the standard CMake build types
func Default() *File {
	buildType := func(name string) Choice {
		return Choice{Short: name, BuildType: name}
	}

	return &File{
		Dimensions: map[string]Dimension{
			"buildType": {
				Default:     "debug",
				Description: "The build type",
				Choices: map[string]Choice{
					"debug":   buildType("Debug"),
					"release": buildType("Release"),
					"relWithDebInfo": {
						Short:     "RelWithDebInfo",
						BuildType: "RelWithDebInfo",
					},
					"minSizeRel": {
						Short:     "MinSizeRel",
						BuildType: "MinSizeRel",
					},
				},
			},
		},
		order: []string{"buildType"},
	}
}

// DimensionNames returns the dimensions in document order
func (f *File) DimensionNames() []string {
	return append([]string{}, f.order...)
}

// Selection is the combined result of picking one choice per dimension
type Selection struct {
	// Choices maps dimension name to the chosen choice key
	Choices map[string]string

	// BuildType is the last choice's buildType, empty when no chosen choice sets one
	BuildType string

	// Linkage is the last choice's linkage
	Linkage string

	// Settings merges the chosen choices' extra cache settings, later dimensions winning
	Settings map[string]string

	// Env merges the chosen choices' environment overlays, later dimensions winning
	Env map[string]*string
}

// Select combines one choice per dimension into a Selection. Missing dimensions fall back
// to their default choice; naming an unknown dimension or choice is an error
func (f *File) Select(choices map[string]string) (*Selection, error) {
	for name := range choices {
		if _, ok := f.Dimensions[name]; !ok {
			return nil, utils.MakeError(ErrUnknownDimension, "%v", name)
		}
	}

	selection := &Selection{
		Choices:  map[string]string{},
		Settings: map[string]string{},
		Env:      map[string]*string{},
	}

	for _, name := range f.order {
		dimension := f.Dimensions[name]

		key := choices[name]
		if key == "" {
			key = dimension.Default
		}

		choice, ok := dimension.Choices[key]
		if !ok {
			return nil, utils.MakeError(ErrUnknownChoice, "%v in dimension %v", key, name)
		}

		selection.Choices[name] = key

		if choice.BuildType != "" {
			selection.BuildType = choice.BuildType
		}

		if choice.LinkageName != "" {
			selection.Linkage = choice.LinkageName
		}

		for setting, value := range choice.Settings {
			selection.Settings[setting] = value
		}

		for variable, value := range choice.Env {
			selection.Env[variable] = value
		}
	}

	return selection, nil
}

// DefaultSelection picks every dimension's default choice
func (f *File) DefaultSelection() (*Selection, error) {
	return f.Select(nil)
}
