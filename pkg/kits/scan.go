package kits

import (
	"log/slog"
	"os/exec"
	"regexp"
	"strings"
)

// VersionRunner runs a compiler with --version and returns its output. Tests inject a
// fake to scan without spawning processes
type VersionRunner interface {
	VersionOutput(path string) (string, error)
}

// ExecVersionRunner probes real executables
type ExecVersionRunner struct{}

func (ExecVersionRunner) VersionOutput(path string) (string, error) {
	output, err := exec.Command(path, "--version").CombinedOutput()
	return string(output), err
}

// Scanner discovers compilers installed on the host and turns them into kits
type Scanner struct {
	// LookPath resolves a tool name against PATH. Nil means exec.LookPath
	LookPath func(tool string) (string, error)

	// Runner probes compiler versions. Nil means ExecVersionRunner
	Runner VersionRunner

	Logger *slog.Logger
}

func (s *Scanner) lookPath(tool string) (string, error) {
	if s.LookPath != nil {
		return s.LookPath(tool)
	}

	return exec.LookPath(tool)
}

func (s *Scanner) runner() VersionRunner {
	if s.Runner != nil {
		return s.Runner
	}

	return ExecVersionRunner{}
}

// compilerFamily describes one compiler family the scanner recognizes: the C front end,
// its C++ sibling and the pattern identifying its --version banner
type compilerFamily struct {
	name   string
	cc     string
	cxx    string
	banner *regexp.Regexp
}

var families = []compilerFamily{
	{
		name:   "GCC",
		cc:     "gcc",
		cxx:    "g++",
		banner: regexp.MustCompile(`\(GCC\)?\s*(\d+\.\d+(\.\d+)?)|gcc\s+[^\s]*\s+(\d+\.\d+\.\d+)`),
	},
	{
		name:   "Clang",
		cc:     "clang",
		cxx:    "clang++",
		banner: regexp.MustCompile(`clang version (\d+\.\d+(\.\d+)?)`),
	},
}

// Scan probes PATH for known compiler families and returns one kit per family found. The
// kit name carries the family and detected version, like "GCC 13.2.0"
func (s *Scanner) Scan() []Kit {
	var kits []Kit

	for _, family := range families {
		ccPath, err := s.lookPath(family.cc)
		if err != nil {
			continue
		}

		version := s.identify(family, ccPath)

		name := family.name
		if version != "" {
			name += " " + version
		}

		kit := Kit{
			Name:      name,
			Compilers: map[string]string{"C": ccPath},
		}

		if cxxPath, err := s.lookPath(family.cxx); err == nil {
			kit.Compilers["CXX"] = cxxPath
		}

		if s.Logger != nil {
			s.Logger.Info("found kit", "name", kit.Name, "cc", ccPath)
		}

		kits = append(kits, kit)
	}

	return kits
}

func (s *Scanner) identify(family compilerFamily, path string) string {
	output, err := s.runner().VersionOutput(path)
	if err != nil {
		if s.Logger != nil {
			s.Logger.Warn("compiler did not report a version", "path", path, "error", err)
		}

		return ""
	}

	match := family.banner.FindStringSubmatch(firstLine(output))
	if match == nil {
		return ""
	}

	for _, group := range match[1:] {
		if group != "" && strings.Count(group, ".") >= 1 {
			return group
		}
	}

	return ""
}

func firstLine(text string) string {
	line, _, _ := strings.Cut(text, "\n")
	return line
}
