package cmake

import (
	"errors"
	"log/slog"
	"os/exec"
	"regexp"
	"runtime"
	"strings"

	"github.com/cmakekit/cmakekit/pkg/utils"
)

// ErrNoGenerator reports that no generator of a preference list is usable on this host
var ErrNoGenerator = errors.New("no usable cmake generator found")

// Generator identifies a CMake buildsystem generator, optionally pinned to a target
// platform and toolset for the IDE generators that take them.
type Generator struct {
	Name     string `json:"name"`
	Platform string `json:"platform,omitempty"`
	Toolset  string `json:"toolset,omitempty"`
}

// String returns the generator name with any platform and toolset annotations.
func (g Generator) String() string {
	name := g.Name

	if g.Platform != "" {
		name += " (" + g.Platform + ")"
	}

	if g.Toolset != "" {
		name += " [" + g.Toolset + "]"
	}

	return name
}

// IsMultiConfig reports whether the generator produces buildsystems holding several build
// configurations at once, so builds need an explicit --config argument.
func (g Generator) IsMultiConfig() bool {
	return visualStudioPattern.MatchString(g.Name) ||
		g.Name == "Xcode" ||
		g.Name == "Ninja Multi-Config"
}

// visualStudioPattern recognizes versioned Visual Studio generator names like
// "Visual Studio 17 2022".
var visualStudioPattern = regexp.MustCompile(`^Visual Studio (\d+)( \d{4})?`)

// generatorProbes maps generators to the build tool executable whose presence makes them
// usable.
var generatorProbes = map[string]string{
	"Ninja":              "ninja",
	"Ninja Multi-Config": "ninja",
	"Unix Makefiles":     "make",
	"MSYS Makefiles":     "make",
	"MinGW Makefiles":    "mingw32-make",
	"NMake Makefiles":    "nmake",
}

// knownGenerators lists generator names cmake ships that have no cheap host probe. They
// are accepted optimistically when explicitly asked for.
var knownGenerators = []string{
	"Borland Makefiles",
	"Watcom WMake",
	"NMake Makefiles JOM",
	"Green Hills MULTI",
}

func singleJobByDefault(generator string) bool {
	return strings.Contains(generator, "Makefiles") || generator == "Watcom WMake"
}

// Prober answers whether a build tool executable is present on the host.
type Prober interface {
	ToolPresent(tool string) bool
}

// ExecProber probes by searching PATH, the same check `cmake -G` will do later.
type ExecProber struct{}

func (ExecProber) ToolPresent(tool string) bool {
	_, err := exec.LookPath(tool)
	return err == nil
}

// Selector picks the first usable generator from a preference list. The zero value probes
// the running platform with ExecProber.
type Selector struct {
	// Prober used for command line build tools. Nil means ExecProber
	Prober Prober

	// Platform is a GOOS value. Empty means the running platform
	Platform string

	Logger *slog.Logger
}

func (s *Selector) platform() string {
	if s.Platform != "" {
		return s.Platform
	}

	return runtime.GOOS
}

func (s *Selector) prober() Prober {
	if s.Prober != nil {
		return s.Prober
	}

	return ExecProber{}
}

// FindBest returns the first generator of the preferred list that is available on this
// host, or nil when none is. Given fixed probe answers the result is deterministic.
func (s *Selector) FindBest(preferred []Generator) *Generator {
	for _, candidate := range preferred {
		if s.available(candidate) {
			if s.Logger != nil {
				s.Logger.Debug("selected generator", "generator", candidate.Name)
			}

			found := candidate
			return &found
		}

		if s.Logger != nil {
			s.Logger.Debug("generator not available", "generator", candidate.Name)
		}
	}

	return nil
}

func (s *Selector) available(g Generator) bool {
	// IDE-native generators are decided by platform alone, no process probe
	if visualStudioPattern.MatchString(g.Name) {
		return s.platform() == "windows"
	}

	if g.Name == "Xcode" {
		return s.platform() == "darwin"
	}

	if tool, ok := generatorProbes[g.Name]; ok {
		return s.prober().ToolPresent(tool)
	}

	return utils.Any(knownGenerators, func(name string) bool {
		return name == g.Name
	})
}

// DefaultPreference returns the generator preference used when neither the kit nor the
// settings state one.
func DefaultPreference(platform string) []Generator {
	switch platform {
	case "windows":
		return []Generator{
			{Name: "Ninja"},
			{Name: "Visual Studio 17 2022"},
			{Name: "Visual Studio 16 2019"},
			{Name: "NMake Makefiles"},
		}
	case "darwin":
		return []Generator{
			{Name: "Ninja"},
			{Name: "Unix Makefiles"},
			{Name: "Xcode"},
		}
	default:
		return []Generator{
			{Name: "Ninja"},
			{Name: "Unix Makefiles"},
		}
	}
}
